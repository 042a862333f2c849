package worksource

import (
	"sync"

	"github.com/chimera-pool/getwork-worksource/internal/jobbuilder"
)

// coordinator holds the two monitors of spec.md §5: the demand monitor,
// guarding fetcher scheduling, and the state monitor, guarding the
// long-poll handshake and the epoch/identifier vocabulary. They are kept
// as two separate locks deliberately (the demand monitor a sync.Mutex with
// a sync.Cond, the state monitor a plain sync.Mutex) — collapsing
// them into one lock would let a long-poll handshake block fetcher
// wake-ups and reintroduce the ordering race the epoch counters exist to
// avoid (spec.md §9).
type coordinator struct {
	demandMu   sync.Mutex
	demandCond *sync.Cond

	fetchersRunning    int
	fetcherJobsRunning int
	fetcherJobsPending int
	pendingTokens      []int
	shutdown           bool

	stateMu sync.Mutex

	longPollURL     string
	signalsNewBlock bool
	runCycle        uint64
	lpEpoch         uint64
	jobEpoch        uint64
	identifier      jobbuilder.State
}

func newCoordinator() *coordinator {
	c := &coordinator{}
	c.demandCond = sync.NewCond(&c.demandMu)
	return c
}

// --- demand monitor ---

// runningFetcherCount implements spec.md §4.C.
func (c *coordinator) runningFetcherCount() (running, estimatedJobs int) {
	c.demandMu.Lock()
	defer c.demandMu.Unlock()
	return c.fetchersRunning, c.fetcherJobsRunning + c.fetcherJobsPending
}

// startFetcherFailureSentinel mirrors the Python original's special return
// value signalling "no fetcher threads exist at all".
const startFetcherFailureSentinel = -1

// startFetcher implements spec.md §4.C. fetcherThreadCount is the number of
// fetcher goroutines actually spawned by the Source.
func (c *coordinator) startFetcher(fetcherThreadCount, getworkConnections, estimatedJobs int) (started, jobs int) {
	if fetcherThreadCount == 0 {
		return startFetcherFailureSentinel, 0
	}

	c.demandMu.Lock()
	defer c.demandMu.Unlock()

	pending := len(c.pendingTokens)
	if c.fetchersRunning+pending >= getworkConnections {
		return 0, 0
	}

	c.pendingTokens = append(c.pendingTokens, estimatedJobs)
	c.fetcherJobsPending += estimatedJobs
	c.demandCond.Signal()
	return 1, estimatedJobs
}

// claimDemand blocks until a demand token is available or shutdown fires.
// It is the fetcher worker loop's single suspension point on the demand
// monitor. The claimed token's estimatedJobs moves from "pending" to
// "running" accounting, and fetchersRunning is bumped to reserve the
// fetchersRunning+fetchersPending ≤ getworkConnections invariant across the
// claim (spec.md §3 invariant 1).
func (c *coordinator) claimDemand() (ok bool, estimatedJobs int) {
	c.demandMu.Lock()
	defer c.demandMu.Unlock()

	for len(c.pendingTokens) == 0 {
		if c.shutdown {
			return false, 0
		}
		c.demandCond.Wait()
	}

	myJobs := c.pendingTokens[0]
	c.pendingTokens = c.pendingTokens[1:]

	c.fetcherJobsRunning += myJobs
	c.fetcherJobsPending -= myJobs
	if len(c.pendingTokens) == 0 || c.fetcherJobsPending < 0 {
		c.fetcherJobsPending = 0
	}
	c.fetchersRunning++

	return true, myJobs
}

// finishFetch releases the accounting claimed by claimDemand once a fetch
// transaction (success or failure) has completed.
func (c *coordinator) finishFetch(myJobs int) {
	c.demandMu.Lock()
	c.fetchersRunning--
	c.fetcherJobsRunning -= myJobs
	c.demandMu.Unlock()
}

func (c *coordinator) beginShutdown() {
	c.demandMu.Lock()
	c.shutdown = true
	c.demandMu.Unlock()
	c.demandCond.Broadcast()
}

// pendingCount reports the current number of queued demand tokens, for
// the worksource_fetchers_pending gauge.
func (c *coordinator) pendingCount() int {
	c.demandMu.Lock()
	defer c.demandMu.Unlock()
	return len(c.pendingTokens)
}

func (c *coordinator) isShutdown() bool {
	c.demandMu.Lock()
	defer c.demandMu.Unlock()
	return c.shutdown
}

// --- state monitor ---

// lock/unlock expose the state monitor for composite read-modify-write
// sequences (the long-poll handshake of spec.md §4.C, the long-poll
// listener loop of §4.E) that must observe and update several fields
// atomically.
func (c *coordinator) lock()   { c.stateMu.Lock() }
func (c *coordinator) unlock() { c.stateMu.Unlock() }

func (c *coordinator) jobEpochLocked() uint64 { return c.jobEpoch }

func (c *coordinator) bumpJobEpochLocked() uint64 {
	c.jobEpoch++
	return c.jobEpoch
}

func (c *coordinator) jobEpoch_() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.jobEpoch
}

func (c *coordinator) lpEpochLocked() uint64 { return c.lpEpoch }

// captureLPCandidateLocked implements spec.md §4.E step 3: the candidate
// epoch is reserved before the request is even issued, so a response that
// arrives after a later listener's response can never supplant it.
func (c *coordinator) captureLPCandidateLocked() uint64 {
	return c.lpEpoch + 1
}

// applyLongPollLocked implements spec.md §4.E step 6.
func (c *coordinator) applyLongPollLocked(candidate uint64) bool {
	if candidate <= c.lpEpoch {
		return false
	}
	c.lpEpoch = candidate
	c.jobEpoch++
	return true
}

func (c *coordinator) runCycleLocked() uint64 { return c.runCycle }

func (c *coordinator) bumpRunCycleLocked() uint64 {
	c.runCycle++
	return c.runCycle
}

func (c *coordinator) runCycle_() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.runCycle
}

func (c *coordinator) longPollURLLocked() string          { return c.longPollURL }
func (c *coordinator) setLongPollURLLocked(url string)     { c.longPollURL = url }
func (c *coordinator) signalsNewBlockLocked() bool         { return c.signalsNewBlock }
func (c *coordinator) setSignalsNewBlockLocked(b bool)     { c.signalsNewBlock = b }
func (c *coordinator) identifierStateLocked() *jobbuilder.State { return &c.identifier }
