package ports

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_SmallestFree(t *testing.T) {
	a := New(41000, 41010)

	p1, err := a.Reserve()
	require.NoError(t, err)
	p2, err := a.Reserve()
	require.NoError(t, err)

	assert.Equal(t, 41000, p1)
	assert.Equal(t, 41001, p2)
}

func TestReserve_SkipsExternallyBoundPorts(t *testing.T) {
	// Pre-bind the first port of the range externally
	l, err := net.Listen("tcp", "127.0.0.1:41020")
	require.NoError(t, err)
	defer l.Close()

	a := New(41020, 41030)
	p, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 41021, p)
}

func TestReserve_Exhausted(t *testing.T) {
	a := New(41040, 41041)
	_, err := a.Reserve()
	require.NoError(t, err)
	_, err = a.Reserve()
	require.NoError(t, err)

	_, err = a.Reserve()
	require.Error(t, err)
	assert.Equal(t, errdefs.CodePortExhausted, errdefs.GetCode(err))
}

func TestRelease_Idempotent(t *testing.T) {
	a := New(41050, 41055)
	p, err := a.Reserve()
	require.NoError(t, err)

	a.Release(p)
	a.Release(p)
	a.Release(99999) // never reserved

	assert.Empty(t, a.Reserved())
}

func TestRelease_GraceBeforeReuse(t *testing.T) {
	a := New(41060, 41060)

	p, err := a.Reserve()
	require.NoError(t, err)
	a.Release(p)

	// Inside the grace window the range looks exhausted
	_, err = a.Reserve()
	assert.Equal(t, errdefs.CodePortExhausted, errdefs.GetCode(err))

	time.Sleep(600 * time.Millisecond)

	p2, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestReserve_ConcurrentNoDuplicates(t *testing.T) {
	a := New(41100, 41199)

	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Reserve()
			if err != nil {
				return
			}
			mu.Lock()
			seen[p]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for p, n := range seen {
		assert.Equal(t, 1, n, fmt.Sprintf("port %d handed out %d times", p, n))
	}
	assert.Len(t, a.Reserved(), len(seen))
}

func TestReserved_MatchesLiveReservations(t *testing.T) {
	a := New(41200, 41210)
	p1, _ := a.Reserve()
	p2, _ := a.Reserve()
	p3, _ := a.Reserve()
	a.Release(p2)

	got := a.Reserved()
	assert.ElementsMatch(t, []int{p1, p3}, got)
}
