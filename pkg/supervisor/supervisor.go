package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/mcpden/mcpden/pkg/env"
	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/log"
	"github.com/mcpden/mcpden/pkg/metrics"
	"github.com/mcpden/mcpden/pkg/ports"
	"github.com/mcpden/mcpden/pkg/store"
	"github.com/mcpden/mcpden/pkg/types"
)

// logRingSize is the per-stream line retention for instance diagnostics
const logRingSize = 1024

// stderrTailLines is how much stderr context rides along on a crashed event
const stderrTailLines = 20

// tuning collects every timing knob of the lifecycle. Tests shrink these;
// production always runs the defaults.
type tuning struct {
	readinessBase     time.Duration
	readinessCap      time.Duration
	readinessDeadline time.Duration
	healthInterval    time.Duration
	healthTimeout     time.Duration
	healthStrikes     int
	retryBase         time.Duration
	retryCap          time.Duration
	retryBudget       int
	retryWindow       time.Duration
	stopGrace         time.Duration
	stopAllDeadline   time.Duration
}

func defaultTuning() tuning {
	return tuning{
		readinessBase:     250 * time.Millisecond,
		readinessCap:      2 * time.Second,
		readinessDeadline: 30 * time.Second,
		healthInterval:    15 * time.Second,
		healthTimeout:     5 * time.Second,
		healthStrikes:     3,
		retryBase:         time.Second,
		retryCap:          30 * time.Second,
		retryBudget:       5,
		retryWindow:       10 * time.Minute,
		stopGrace:         5 * time.Second,
		stopAllDeadline:   15 * time.Second,
	}
}

// Deps are the collaborators a Supervisor drives
type Deps struct {
	Servers     *store.ServerStore
	Workspaces  *store.WorkspaceStore
	Secrets     *store.SecretStore
	Permissions *store.PermissionStore
	Profile     *store.ProfileStore
	Composer    *env.Composer
	Ports       *ports.Allocator
	Bus         *events.Bus
}

// Config carries supervisor settings
type Config struct {
	// DataDir hosts the npm install root for installType npm
	DataDir string

	// Runner overrides the process launcher; nil means os/exec
	Runner Runner
}

// instance is the internal live-process record behind each types.Instance
// snapshot. snap and the bookkeeping fields are guarded by mu; handle,
// rings, gen and the exited channel are set once at spawn.
type instance struct {
	mu   sync.Mutex
	snap types.Instance

	gen    uint64
	handle Handle
	stdout *ring
	stderr *ring

	exited  chan struct{}
	exitErr error

	stopRequested bool
	strikes       int
	portReleased  bool
	watchCancel   context.CancelFunc
}

func (i *instance) status() types.InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snap.Status
}

func (i *instance) snapshot() *types.Instance {
	i.mu.Lock()
	defer i.mu.Unlock()
	copied := i.snap
	return &copied
}

func (i *instance) markStopRequested() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopRequested {
		return false
	}
	i.stopRequested = true
	return true
}

func (i *instance) isStopRequested() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stopRequested
}

func (i *instance) cancelWatch() {
	i.mu.Lock()
	cancel := i.watchCancel
	i.watchCancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// addStrike records one health failure and reports the running total
func (i *instance) addStrike() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.strikes++
	return i.strikes
}

func (i *instance) resetStrikes() {
	i.mu.Lock()
	i.strikes = 0
	i.snap.LastHealthy = time.Now()
	i.mu.Unlock()
}

// Supervisor owns the set of live MCP server instances and is the single
// source of truth for their status. All lifecycle operations on the same
// (server, workspace) key are serialized through a per-key lock.
type Supervisor struct {
	deps Deps
	tune tuning

	runner      Runner
	installRoot string

	probe healthProbeFunc
	meta  metadataFetchFunc

	mu        sync.RWMutex
	instances map[types.InstanceKey]*instance
	retries   map[types.InstanceKey][]time.Time
	timers    map[types.InstanceKey]*time.Timer
	nextGen   uint64

	locksMu sync.Mutex
	locks   map[types.InstanceKey]*sync.Mutex

	logger zerolog.Logger
}

// New creates a Supervisor
func New(deps Deps, cfg Config) *Supervisor {
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	client := &http.Client{}
	return &Supervisor{
		deps:        deps,
		tune:        defaultTuning(),
		runner:      runner,
		installRoot: filepath.Join(cfg.DataDir, "packages"),
		probe:       httpHealthProbe(client),
		meta:        httpMetadataFetch(client),
		instances:   make(map[types.InstanceKey]*instance),
		retries:     make(map[types.InstanceKey][]time.Time),
		timers:      make(map[types.InstanceKey]*time.Timer),
		locks:       make(map[types.InstanceKey]*sync.Mutex),
		logger:      log.WithComponent("supervisor"),
	}
}

// InstallRoot is the directory npm-type packages are installed under
func (s *Supervisor) InstallRoot() string {
	return s.installRoot
}

// keyLock returns the serialization lock for a key, creating it on first
// use. Locks are never removed; the set is bounded by the catalog.
func (s *Supervisor) keyLock(key types.InstanceKey) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	return lk
}

func (s *Supervisor) instance(key types.InstanceKey) *instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[key]
}

// Start launches (or returns) the instance for the key. Idempotent: an
// instance already starting or running is returned as is; stopped and error
// instances are recreated. A manual start resets the auto-retry budget.
func (s *Supervisor) Start(ctx context.Context, serverID, workspaceID string) (*types.Instance, error) {
	key := types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID}
	lk := s.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	s.clearRetryState(key)
	return s.startLocked(ctx, key)
}

// startLocked runs the spawn sequence. Caller holds the key lock.
func (s *Supervisor) startLocked(ctx context.Context, key types.InstanceKey) (*types.Instance, error) {
	if existing := s.instance(key); existing != nil {
		switch existing.status() {
		case types.InstanceStarting, types.InstanceRunning:
			return existing.snapshot(), nil
		}
	}

	server, err := s.deps.Servers.Get(key.ServerID)
	if err != nil {
		return nil, err
	}
	ws, err := s.deps.Workspaces.Get(key.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if !s.deps.Workspaces.Enabled(key.WorkspaceID, key.ServerID) {
		return nil, errdefs.New(errdefs.CodeServerDisabledForWorkspace,
			"server %s is disabled in workspace %s", key.ServerID, key.WorkspaceID)
	}

	port, err := s.deps.Ports.Reserve()
	if err != nil {
		return nil, err
	}
	metrics.PortsReserved.Inc()

	environ := s.deps.Composer.Compose(env.Input{
		Profile:   s.deps.Permissions.Effective(key.WorkspaceID, key.ServerID),
		Workspace: ws,
		User:      s.deps.Profile.Get(),
		Secrets:   s.deps.Secrets.Effective(key.WorkspaceID, key.ServerID),
		Port:      port,
	})

	spec, err := buildCommand(server, s.installRoot)
	if err != nil {
		s.deps.Ports.Release(port)
		metrics.PortsReserved.Dec()
		return nil, err
	}
	spec.Env = environ

	stdout := newRing(logRingSize)
	stderr := newRing(logRingSize)
	spec.Stdout = stdout
	spec.Stderr = stderr

	metrics.InstanceStartsTotal.Inc()
	handle, err := s.runner.Start(spec)
	if err != nil {
		s.deps.Ports.Release(port)
		metrics.PortsReserved.Dec()
		s.logger.Error().Err(err).Str("key", key.String()).Msg("spawn failed")
		return nil, errdefs.Wrap(errdefs.CodeSpawnFailed, err,
			"spawning %s for workspace %s", key.ServerID, key.WorkspaceID)
	}

	s.mu.Lock()
	s.nextGen++
	inst := &instance{
		snap: types.Instance{
			Key:       key,
			PID:       handle.PID(),
			Port:      port,
			Status:    types.InstanceStarting,
			StartedAt: time.Now(),
		},
		gen:    s.nextGen,
		handle: handle,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}
	prev := s.instances[key]
	s.instances[key] = inst
	s.mu.Unlock()

	if prev != nil {
		s.gauge(prev.status(), -1)
	}
	s.gauge(types.InstanceStarting, 1)
	s.emit(events.KindStarted, key, map[string]any{"port": port, "pid": inst.snap.PID})
	s.logger.Info().Str("key", key.String()).Int("port", port).Int("pid", inst.snap.PID).
		Msg("instance starting")

	go s.waitExit(key, inst)

	rctx, cancel := context.WithTimeout(ctx, s.tune.readinessDeadline)
	defer cancel()
	if err := s.waitReady(rctx, inst); err != nil {
		s.teardown(inst, types.InstanceError, err.Error())
		s.emitCrashed(key, inst, err.Error(), nil)
		s.scheduleRetry(key)
		return nil, errdefs.Wrap(errdefs.CodeReadinessTimeout, err,
			"instance %s never became ready", key)
	}

	// Metadata is best effort; a server without /metadata still runs
	if meta, err := s.meta(rctx, inst.snap.Port); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("metadata fetch failed")
	} else {
		inst.mu.Lock()
		inst.snap.Metadata = meta
		inst.mu.Unlock()
	}

	inst.mu.Lock()
	inst.snap.Status = types.InstanceRunning
	inst.snap.LastHealthy = time.Now()
	inst.snap.LastError = ""
	wctx, wcancel := context.WithCancel(context.Background())
	inst.watchCancel = wcancel
	inst.mu.Unlock()

	s.gauge(types.InstanceStarting, -1)
	s.gauge(types.InstanceRunning, 1)
	s.logger.Info().Str("key", key.String()).Msg("instance running")

	go s.watch(wctx, key, inst)
	return inst.snapshot(), nil
}

// waitReady polls the health endpoint with exponential backoff until it
// answers, the child exits, or the deadline passes
func (s *Supervisor) waitReady(ctx context.Context, inst *instance) error {
	interval := s.tune.readinessBase
	for {
		pctx, cancel := context.WithTimeout(ctx, s.tune.readinessCap)
		err := s.probe(pctx, inst.snap.Port)
		cancel()
		if err == nil {
			return nil
		}

		select {
		case <-inst.exited:
			return fmt.Errorf("exited with code %d before becoming ready", exitCode(inst.exitErr))
		case <-ctx.Done():
			return fmt.Errorf("no healthy answer within deadline: %w", err)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > s.tune.readinessCap {
			interval = s.tune.readinessCap
		}
	}
}

// watch polls the instance health until cancelled. Three consecutive
// failures hand the instance to the failure path.
func (s *Supervisor) watch(ctx context.Context, key types.InstanceKey, inst *instance) {
	ticker := time.NewTicker(s.tune.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, s.tune.healthTimeout)
		err := s.probe(pctx, inst.snap.Port)
		cancel()

		if err == nil {
			inst.resetStrikes()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		strikes := inst.addStrike()
		s.logger.Warn().Err(err).Str("key", key.String()).Int("strikes", strikes).
			Msg("health check failed")
		if strikes >= s.tune.healthStrikes {
			go s.handleFailure(key, inst.gen, "health checks failing", nil)
			return
		}
	}
}

// ReportUpstreamFailure lets the gateway count a failed proxy round trip as
// a health strike against the running instance
func (s *Supervisor) ReportUpstreamFailure(serverID, workspaceID string) {
	key := types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID}
	inst := s.instance(key)
	if inst == nil || inst.status() != types.InstanceRunning {
		return
	}
	if inst.addStrike() >= s.tune.healthStrikes {
		go s.handleFailure(key, inst.gen, "upstream requests failing", nil)
	}
}

// waitExit reaps the child. Exits the supervisor did not ask for are
// crashes and feed auto-retry.
func (s *Supervisor) waitExit(key types.InstanceKey, inst *instance) {
	err := inst.handle.Wait()
	inst.mu.Lock()
	inst.exitErr = err
	inst.mu.Unlock()
	close(inst.exited)

	if inst.isStopRequested() {
		return
	}
	code := exitCode(err)
	s.handleFailure(key, inst.gen, fmt.Sprintf("exited unexpectedly with code %d", code), &code)
}

// handleFailure moves a crashed or unhealthy instance to error and schedules
// an auto-retry. The generation check makes stale reports (from a watcher or
// reaper of a replaced instance) harmless.
func (s *Supervisor) handleFailure(key types.InstanceKey, gen uint64, reason string, code *int) {
	lk := s.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	inst := s.instance(key)
	if inst == nil || inst.gen != gen {
		return
	}
	switch inst.status() {
	case types.InstanceRunning, types.InstanceStarting:
	default:
		return
	}
	if !inst.markStopRequested() {
		return
	}

	inst.cancelWatch()
	inst.handle.Kill()
	select {
	case <-inst.exited:
	case <-time.After(s.tune.stopGrace):
	}

	from := inst.status()
	s.releasePort(inst)
	inst.mu.Lock()
	inst.snap.Status = types.InstanceError
	inst.snap.LastError = reason
	inst.mu.Unlock()

	s.gauge(from, -1)
	s.gauge(types.InstanceError, 1)
	s.emitCrashed(key, inst, reason, code)
	s.logger.Error().Str("key", key.String()).Str("reason", reason).Msg("instance failed")

	s.scheduleRetry(key)
}

// Stop terminates the instance for the key. Idempotent; a missing or
// already stopped instance is a no-op. A manual stop also cancels any
// pending auto-retry.
func (s *Supervisor) Stop(serverID, workspaceID string) error {
	key := types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID}
	lk := s.keyLock(key)
	lk.Lock()
	defer lk.Unlock()
	return s.stopLocked(key)
}

func (s *Supervisor) stopLocked(key types.InstanceKey) error {
	s.clearRetryState(key)

	inst := s.instance(key)
	if inst == nil {
		return nil
	}

	switch inst.status() {
	case types.InstanceStopped:
		return nil

	case types.InstanceError:
		// Already dead; just settle the record so auto-retry stays off
		inst.mu.Lock()
		inst.snap.Status = types.InstanceStopped
		inst.mu.Unlock()
		s.gauge(types.InstanceError, -1)
		s.gauge(types.InstanceStopped, 1)
		s.emit(events.KindStopped, key, nil)
		return nil
	}

	inst.markStopRequested()
	inst.cancelWatch()

	if err := inst.handle.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug().Err(err).Str("key", key.String()).Msg("signal failed")
	}
	select {
	case <-inst.exited:
	case <-time.After(s.tune.stopGrace):
		inst.handle.Kill()
		select {
		case <-inst.exited:
		case <-time.After(s.tune.stopGrace):
			s.logger.Error().Str("key", key.String()).Msg("child ignored SIGKILL")
		}
	}

	from := inst.status()
	s.releasePort(inst)
	inst.mu.Lock()
	inst.snap.Status = types.InstanceStopped
	inst.mu.Unlock()

	s.gauge(from, -1)
	s.gauge(types.InstanceStopped, 1)
	s.emit(events.KindStopped, key, nil)
	s.logger.Info().Str("key", key.String()).Msg("instance stopped")
	return nil
}

// Restart stops then starts the instance without releasing the key lock in
// between, so no other operation can interleave
func (s *Supervisor) Restart(ctx context.Context, serverID, workspaceID string) (*types.Instance, error) {
	key := types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID}
	lk := s.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	if err := s.stopLocked(key); err != nil {
		return nil, err
	}
	s.clearRetryState(key)
	return s.startLocked(ctx, key)
}

// StopAll stops every instance in parallel. Instances that have not exited
// when the deadline elapses are force-killed and reported.
func (s *Supervisor) StopAll() error {
	s.mu.RLock()
	keys := make([]types.InstanceKey, 0, len(s.instances))
	for key := range s.instances {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	var (
		errMu  sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	for _, key := range keys {
		wg.Add(1)
		go func(key types.InstanceKey) {
			defer wg.Done()
			if err := s.Stop(key.ServerID, key.WorkspaceID); err != nil {
				errMu.Lock()
				result = multierror.Append(result, fmt.Errorf("stop %s: %w", key, err))
				errMu.Unlock()
			}
		}(key)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.tune.stopAllDeadline):
		errMu.Lock()
		for _, key := range keys {
			if inst := s.instance(key); inst != nil {
				switch inst.status() {
				case types.InstanceRunning, types.InstanceStarting:
					inst.handle.Kill()
					result = multierror.Append(result, errdefs.New(errdefs.CodeInstanceBusy,
						"stop %s: deadline elapsed, force-killed", key))
				}
			}
		}
		errMu.Unlock()
	}

	return result.ErrorOrNil()
}

// RestartFailure records one key a RestartAll could not bring back
type RestartFailure struct {
	Key   types.InstanceKey `json:"key"`
	Error string            `json:"error"`
}

// RestartAll restarts every running instance, continuing past individual
// failures
func (s *Supervisor) RestartAll(ctx context.Context) (restarted []types.InstanceKey, failed []RestartFailure) {
	for _, inst := range s.List() {
		if inst.Status != types.InstanceRunning {
			continue
		}
		if _, err := s.Restart(ctx, inst.Key.ServerID, inst.Key.WorkspaceID); err != nil {
			failed = append(failed, RestartFailure{Key: inst.Key, Error: err.Error()})
			continue
		}
		restarted = append(restarted, inst.Key)
	}
	return restarted, failed
}

// RestartForServer restarts every running instance of one server template.
// Used after a package update so instances pick up the new version.
func (s *Supervisor) RestartForServer(ctx context.Context, serverID string) (restarted []types.InstanceKey, failed []RestartFailure) {
	for _, inst := range s.List() {
		if inst.Key.ServerID != serverID || inst.Status != types.InstanceRunning {
			continue
		}
		if _, err := s.Restart(ctx, inst.Key.ServerID, inst.Key.WorkspaceID); err != nil {
			failed = append(failed, RestartFailure{Key: inst.Key, Error: err.Error()})
			continue
		}
		restarted = append(restarted, inst.Key)
	}
	return restarted, failed
}

// StopForWorkspace stops every instance of a workspace. Used by the
// workspace-delete cascade and session auto-cleanup.
func (s *Supervisor) StopForWorkspace(workspaceID string) error {
	var result *multierror.Error
	for _, inst := range s.List() {
		if inst.Key.WorkspaceID != workspaceID {
			continue
		}
		if err := s.Stop(inst.Key.ServerID, inst.Key.WorkspaceID); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop %s: %w", inst.Key, err))
		}
	}
	return result.ErrorOrNil()
}

// StopForServer stops every instance of a server template. Used by the
// server-delete cascade.
func (s *Supervisor) StopForServer(serverID string) error {
	var result *multierror.Error
	for _, inst := range s.List() {
		if inst.Key.ServerID != serverID {
			continue
		}
		if err := s.Stop(inst.Key.ServerID, inst.Key.WorkspaceID); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop %s: %w", inst.Key, err))
		}
	}
	return result.ErrorOrNil()
}

// Get returns a snapshot of the instance for the key
func (s *Supervisor) Get(serverID, workspaceID string) (*types.Instance, error) {
	inst := s.instance(types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID})
	if inst == nil {
		return nil, errdefs.NotFound("no instance for server %s in workspace %s", serverID, workspaceID)
	}
	return inst.snapshot(), nil
}

// List returns a snapshot of all instances, sorted by key
func (s *Supervisor) List() []*types.Instance {
	s.mu.RLock()
	instances := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.RUnlock()

	out := make([]*types.Instance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Logs returns snapshots of the instance's stdout and stderr ring buffers
func (s *Supervisor) Logs(serverID, workspaceID string) (stdout, stderr []string, err error) {
	inst := s.instance(types.InstanceKey{ServerID: serverID, WorkspaceID: workspaceID})
	if inst == nil {
		return nil, nil, errdefs.NotFound("no instance for server %s in workspace %s", serverID, workspaceID)
	}
	return inst.stdout.Lines(), inst.stderr.Lines(), nil
}

// scheduleRetry arms one bounded auto-retry for a failed key. Silently
// gives up once the rolling-window budget is spent; the instance then stays
// in error until a manual start or restart.
func (s *Supervisor) scheduleRetry(key types.InstanceKey) {
	s.mu.Lock()
	now := time.Now()
	window := s.retries[key]
	kept := window[:0]
	for _, at := range window {
		if now.Sub(at) < s.tune.retryWindow {
			kept = append(kept, at)
		}
	}
	if len(kept) >= s.tune.retryBudget {
		s.retries[key] = kept
		s.mu.Unlock()
		s.logger.Warn().Str("key", key.String()).Msg("auto-retry budget exhausted")
		return
	}

	attempt := len(kept)
	s.retries[key] = append(kept, now)

	delay := s.tune.retryBase << attempt
	if delay > s.tune.retryCap {
		delay = s.tune.retryCap
	}
	if prev := s.timers[key]; prev != nil {
		prev.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() { s.autoRetry(key) })
	s.mu.Unlock()

	metrics.InstanceRetriesTotal.Inc()
	s.logger.Info().Str("key", key.String()).Dur("delay", delay).Int("attempt", attempt+1).
		Msg("auto-retry scheduled")
}

// autoRetry re-runs the spawn sequence for an instance still in error
func (s *Supervisor) autoRetry(key types.InstanceKey) {
	lk := s.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	inst := s.instance(key)
	if inst == nil || inst.status() != types.InstanceError {
		return
	}
	if _, err := s.startLocked(context.Background(), key); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("auto-retry failed")
	}
}

// clearRetryState cancels any pending auto-retry and resets the budget
func (s *Supervisor) clearRetryState(key types.InstanceKey) {
	s.mu.Lock()
	if timer := s.timers[key]; timer != nil {
		timer.Stop()
		delete(s.timers, key)
	}
	delete(s.retries, key)
	s.mu.Unlock()
}

// releasePort gives the instance port back to the allocator exactly once
func (s *Supervisor) releasePort(inst *instance) {
	inst.mu.Lock()
	released := inst.portReleased
	inst.portReleased = true
	port := inst.snap.Port
	inst.mu.Unlock()

	if !released && port != 0 {
		s.deps.Ports.Release(port)
		metrics.PortsReserved.Dec()
	}
}

func (s *Supervisor) gauge(status types.InstanceStatus, delta float64) {
	metrics.InstancesTotal.WithLabelValues(string(status)).Add(delta)
}

func (s *Supervisor) emit(kind events.Kind, key types.InstanceKey, data map[string]any) {
	s.deps.Bus.Publish(&events.Event{
		Topic:       events.TopicServer,
		Type:        kind,
		ServerID:    key.ServerID,
		WorkspaceID: key.WorkspaceID,
		Data:        data,
	})
	metrics.EventsPublishedTotal.WithLabelValues(string(events.TopicServer)).Inc()
}

func (s *Supervisor) emitCrashed(key types.InstanceKey, inst *instance, reason string, code *int) {
	data := map[string]any{
		"reason":     reason,
		"stderrTail": inst.stderr.Tail(stderrTailLines),
	}
	if code != nil {
		data["exitCode"] = *code
	}
	s.emit(events.KindCrashed, key, data)
	metrics.InstanceCrashesTotal.Inc()
}

// teardown kills a child that never became ready and records the error
// state. Caller holds the key lock.
func (s *Supervisor) teardown(inst *instance, status types.InstanceStatus, reason string) {
	inst.markStopRequested()
	inst.cancelWatch()
	inst.handle.Kill()
	select {
	case <-inst.exited:
	case <-time.After(s.tune.stopGrace):
	}

	from := inst.status()
	s.releasePort(inst)
	inst.mu.Lock()
	inst.snap.Status = status
	inst.snap.LastError = reason
	inst.mu.Unlock()

	s.gauge(from, -1)
	s.gauge(status, 1)
}
