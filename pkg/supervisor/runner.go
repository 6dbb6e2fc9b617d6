package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// CommandSpec describes a child process to launch. Env fully replaces the
// child environment; Stdout and Stderr receive the raw process output.
type CommandSpec struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Handle is a live child process. Signal and Kill address the whole process
// group so package runners cannot leave grandchildren behind.
type Handle interface {
	PID() int
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Runner launches child processes. The default runner shells out through
// os/exec; tests substitute their own.
type Runner interface {
	Start(spec CommandSpec) (Handle, error)
}

type execRunner struct{}

// NewExecRunner returns the os/exec-backed runner
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Start(spec CommandSpec) (Handle, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	// Own process group; stdin stays closed (nil reads as /dev/null)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHandle{cmd: cmd}, nil
}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return h.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-h.cmd.Process.Pid, s)
}

func (h *execHandle) Kill() error {
	return syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
}

// exitCode extracts the child exit code from a Wait error. -1 means the
// process did not exit normally (signal, or the error was not an exit).
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
