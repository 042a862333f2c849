package worksource

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
)

// Invariant 3: fetchersRunning + fetchersPending never exceeds
// getworkConnections, and each demand token is claimed exactly once.
func TestCoordinator_DemandInvariant(t *testing.T) {
	c := newCoordinator()
	const connections = 2

	started, jobs := c.startFetcher(1, connections, 4)
	assert.Equal(t, 1, started)
	assert.Equal(t, 4, jobs)

	started, jobs = c.startFetcher(1, connections, 4)
	assert.Equal(t, 1, started)
	assert.Equal(t, 4, jobs)

	// both slots now reserved; a third demand signal is refused.
	started, jobs = c.startFetcher(1, connections, 4)
	assert.Equal(t, 0, started)
	assert.Equal(t, 0, jobs)

	ok1, claimed1 := c.claimDemand()
	assert.True(t, ok1)
	assert.Equal(t, 4, claimed1)
	running, _ := c.runningFetcherCount()
	assert.LessOrEqual(t, running, connections)

	ok2, claimed2 := c.claimDemand()
	assert.True(t, ok2)
	assert.Equal(t, 4, claimed2)

	c.finishFetch(claimed1)
	c.finishFetch(claimed2)
	running, _ = c.runningFetcherCount()
	assert.Equal(t, 0, running)
}

// startFetcher with zero fetcher threads returns the failure sentinel.
func TestCoordinator_StartFetcherNoThreads(t *testing.T) {
	c := newCoordinator()
	started, jobs := c.startFetcher(0, 1, 1)
	assert.Equal(t, startFetcherFailureSentinel, started)
	assert.Equal(t, 0, jobs)
}

// Shutdown unblocks every waiter on the demand monitor.
func TestCoordinator_ShutdownUnblocksWaiters(t *testing.T) {
	c := newCoordinator()
	done := make(chan bool, 1)
	go func() {
		ok, _ := c.claimDemand()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	c.beginShutdown()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("claimDemand did not return after shutdown")
	}
}

// Invariant 2: lpEpoch only ever moves forward, and a stale candidate
// (captured before a newer one was already applied) is rejected rather than
// regressing it.
func TestCoordinator_LPEpochStrictlyIncreasing(t *testing.T) {
	c := newCoordinator()

	c.lock()
	first := c.captureLPCandidateLocked()
	second := c.captureLPCandidateLocked() // two listeners racing to apply
	applied1 := c.applyLongPollLocked(second)
	applied2 := c.applyLongPollLocked(first) // arrives after, but was captured first
	lp := c.lpEpochLocked()
	c.unlock()

	assert.True(t, applied1)
	assert.False(t, applied2)
	assert.Equal(t, second, lp)
}

// Invariant 5: jobEpoch never decreases, whether bumped by an applied
// long-poll response or by an uploader's reject-bump path.
func TestCoordinator_JobEpochMonotonic(t *testing.T) {
	c := newCoordinator()

	c.lock()
	before := c.jobEpochLocked()
	candidate := c.captureLPCandidateLocked()
	applied := c.applyLongPollLocked(candidate)
	afterLongPoll := c.jobEpochLocked()
	c.unlock()

	assert.True(t, applied)
	assert.Greater(t, afterLongPoll, before)

	c.lock()
	afterBump := c.bumpJobEpochLocked()
	c.unlock()
	assert.Greater(t, afterBump, afterLongPoll)
}

// S6: a fetch response carrying X-Long-Polling discovers the long-poll URL
// and spawns the configured number of listener tasks.
func TestSource_LongPollDiscovery(t *testing.T) {
	settings := DefaultSettings()
	settings.Host = "127.0.0.1"
	settings.Port = 1 // nothing listens here; listener dials will fail fast.
	settings.LongPollConnections = 1
	settings.LongPollConnectTimeout = 20 * time.Millisecond
	settings.LongPollResponseTimeout = 20 * time.Millisecond

	fw := corefw.NewFramework(nil, 10)
	src := NewSource(settings, fw, nil)
	src.Start()
	defer src.Stop()

	src.handleLongPollHeader(http.Header{"X-Long-Polling": {"/lp"}})

	src.coord.lock()
	url := src.coord.longPollURLLocked()
	signals := src.coord.signalsNewBlockLocked()
	cycle := src.coord.runCycleLocked()
	src.coord.unlock()

	assert.Equal(t, "http://127.0.0.1:1/lp", url)
	assert.True(t, signals)
	assert.Equal(t, uint64(1), cycle)
}
