// Package corefw is a minimal stand-in for the enclosing mining framework
// that a getwork work source plugs into: the shared work queue, the
// blockchain validator, the logger, and the Job entity. A real deployment
// replaces this package with the actual framework; everything in
// internal/worksource talks to the framework exclusively through the Hooks
// interface defined here.
package corefw

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Job is a candidate block header ready for hashing. It is intentionally a
// flat, immutable-after-construction struct: the work source never mutates
// a Job once it has been pushed to the framework.
type Job struct {
	Source       string
	Header       [80]byte
	Target       [32]byte
	Midstate     [32]byte
	Identifier   *int
	Expiry       time.Time
	RollNTime    bool
	Epoch        uint64
	NonceHandled func(nonce []byte, difficulty float64, result interface{})
}

// WorkQueueSnapshot reports the framework work queue's current depth and
// target depth, used by the job builder for back-pressure (spec.md §4.B
// step 8).
type WorkQueueSnapshot struct {
	Count  int
	Target int
}

// Hooks is the contract the work source core requires of its enclosing
// framework. Every method here corresponds to a callback named in spec.md
// §6 ("Callbacks consumed from the framework").
type Hooks interface {
	// Log reports a message at the given verbosity level (lower is more
	// severe, mirroring the Python original's numeric log levels).
	Log(source, message string, level int)

	// WorkQueue reports the shared work queue's current depth and target.
	WorkQueue() WorkQueueSnapshot

	// CheckJob submits a reference job to the blockchain validator. The
	// work source does not use any return value; validation is a side
	// effect (spec.md §4.B step 4).
	CheckJob(job *Job)

	// CancelJobs invalidates all jobs currently held by the framework. The
	// force flag mirrors the Python original's _cancel_jobs(force) — a
	// forced cancel also interrupts jobs already dispatched to hardware.
	CancelJobs(force bool)

	// PushJobs delivers newly built jobs to the framework work queue,
	// labelled with the source that produced them ("getwork response" or
	// "long poll response").
	PushJobs(jobs []*Job, label string)

	// HandleSuccess records that some unit of work (a fetch, an upload)
	// completed without error.
	HandleSuccess()

	// HandleError records a failure. onSubmit distinguishes a failure
	// while submitting a share from a failure while fetching work, since
	// the framework's error accounting separates the two.
	HandleError(onSubmit bool)

	// AsyncRestart requests that the work source be restarted out-of-band,
	// e.g. because a re-configuration changed host/port/connection counts.
	AsyncRestart()
}

// Framework is a self-contained implementation of Hooks suitable for the
// demo binary and for tests: an in-memory work queue, a no-op blockchain
// checker, and a standard-library logger.
type Framework struct {
	logger *log.Logger

	mu           sync.Mutex
	queueCount   int
	queueTarget  int
	cancelCalls  int
	restartCalls int

	// CheckJobFunc, when set, is invoked by CheckJob instead of the no-op
	// default. Tests use this to observe the reference job submitted in
	// spec.md §4.B step 4.
	CheckJobFunc func(job *Job)
}

// NewFramework creates a Framework with the given work queue target depth.
func NewFramework(logger *log.Logger, queueTarget int) *Framework {
	if logger == nil {
		logger = log.Default()
	}
	return &Framework{logger: logger, queueTarget: queueTarget}
}

func (f *Framework) Log(source, message string, level int) {
	f.logger.Printf("[%s] (level %d) %s", source, level, message)
}

func (f *Framework) WorkQueue() WorkQueueSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WorkQueueSnapshot{Count: f.queueCount, Target: f.queueTarget}
}

// SetQueueCount lets the demo binary / tests simulate the framework's work
// queue draining or filling.
func (f *Framework) SetQueueCount(n int) {
	f.mu.Lock()
	f.queueCount = n
	f.mu.Unlock()
}

func (f *Framework) CheckJob(job *Job) {
	if f.CheckJobFunc != nil {
		f.CheckJobFunc(job)
	}
}

func (f *Framework) CancelJobs(force bool) {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
}

// CancelCount reports how many times CancelJobs has been invoked; used by
// tests asserting the "exactly one intermediate cancel" property.
func (f *Framework) CancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

func (f *Framework) PushJobs(jobs []*Job, label string) {
	f.mu.Lock()
	f.queueCount += len(jobs)
	f.mu.Unlock()
	f.Log("worksource", fmt.Sprintf("pushed %d job(s) from %s", len(jobs), label), 500)
}

func (f *Framework) HandleSuccess() {}

func (f *Framework) HandleError(onSubmit bool) {}

func (f *Framework) AsyncRestart() {
	f.mu.Lock()
	f.restartCalls++
	f.mu.Unlock()
}
