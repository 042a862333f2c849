// Package worksource implements the concurrency core of a getwork + long-poll
// mining work source: a demand-driven fetcher pool, a retrying uploader
// pool, long-poll listeners, and the epoch/demand coordinator that keeps
// all three consistent with each other and with the enclosing framework.
package worksource

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
)

// MetricsSink is the observability seam internal/metrics plugs into. A nil
// MetricsSink (the zero value of Source, or an explicit nil passed to
// NewSource) is valid; every call site nil-checks before using it.
type MetricsSink interface {
	JobsReceived(delta int)
	JobsPushed(source string, n int)
	FetchersRunning(n int)
	FetchersPending(n int)
	Share(result string)
	JobEpoch(n uint64)
	LPEpoch(n uint64)
	SupportsRollNtime(supported bool)
}

// uploadSubmission is one entry in the uploader queue (spec.md §3). A nil
// *uploadSubmission pushed onto the channel is the shutdown sentinel. id is
// a per-submission correlation ID (grounded on pool_coordinator.go's
// uuid.New().String() per-connection IDs) so retry log lines for the same
// share can be tied together.
type uploadSubmission struct {
	id              string
	job             *corefw.Job
	headerBytes     [80]byte
	nonce           []byte
	nonceDifficulty float64
}

// Source is the top-level getwork work source: it owns the coordinator,
// the fetcher/uploader/long-poll worker pools, and the lifecycle that
// starts and stops them. Shape grounded on chimera-pool-core's
// PoolCoordinator (Start spawns N goroutines tracked by a WaitGroup, Stop
// signals them and joins); there is no context, Stop signals workers
// through runCycle, the shutdown flag and uploader sentinels.
type Source struct {
	settings Settings
	hooks    corefw.Hooks
	metrics  MetricsSink

	coord *coordinator

	mu       sync.Mutex
	started  bool
	uploadCh chan *uploadSubmission
	wg       sync.WaitGroup

	fetcherThreadCount int
}

// NewSource constructs a Source. hooks must not be nil; metrics may be nil
// to disable Prometheus instrumentation.
func NewSource(settings Settings, hooks corefw.Hooks, metrics MetricsSink) *Source {
	return &Source{
		settings: settings.WithDefaults(),
		hooks:    hooks,
		metrics:  metrics,
		coord:    newCoordinator(),
	}
}

// Start spawns the fetcher and uploader worker pools. Long-poll listeners
// are spawned lazily, on the first handshake discovered by a fetcher
// (spec.md §4.C).
func (s *Source) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.uploadCh = make(chan *uploadSubmission, 256)
	s.fetcherThreadCount = s.settings.GetworkConnections

	for i := 0; i < s.fetcherThreadCount; i++ {
		s.wg.Add(1)
		go s.runFetcher()
	}
	for i := 0; i < s.settings.UploadConnections; i++ {
		s.wg.Add(1)
		go s.runUploader()
	}

	s.hooks.Log("worksource", fmt.Sprintf("started: %d fetcher(s), %d uploader(s)",
		s.fetcherThreadCount, s.settings.UploadConnections), 400)
}

// Stop implements the shutdown sequence of spec.md §5: bump runCycle
// (poisoning long-poll listeners), broadcast the demand monitor, push one
// sentinel per uploader, then join with a bounded wait. Workers stuck in
// blocking I/O (most likely a long-poll GET) are abandoned, per spec.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	uploadCh := s.uploadCh
	uploaders := s.settings.UploadConnections
	s.mu.Unlock()

	s.coord.lock()
	s.coord.bumpRunCycleLocked()
	s.coord.unlock()

	s.coord.beginShutdown()

	for i := 0; i < uploaders; i++ {
		uploadCh <- nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(uploaders+s.fetcherThreadCount+1) * time.Second):
		s.hooks.Log("worksource", "stop: some workers did not join within the bounded wait, abandoning", 200)
	}
}

// RunningFetcherCount implements spec.md §4.C, exposed to the framework.
func (s *Source) RunningFetcherCount() (running, estimatedJobs int) {
	return s.coord.runningFetcherCount()
}

// StartFetcher implements spec.md §4.C, the framework's demand signal.
func (s *Source) StartFetcher(estimatedJobs int) (started, jobs int) {
	s.mu.Lock()
	threadCount := s.fetcherThreadCount
	s.mu.Unlock()

	started, jobs = s.coord.startFetcher(threadCount, s.settings.GetworkConnections, estimatedJobs)
	s.reportDemandGauges()
	return started, jobs
}

// reportDemandGauges pushes the demand monitor's current counters to the
// metrics sink; called after any operation that changes them.
func (s *Source) reportDemandGauges() {
	if s.metrics == nil {
		return
	}
	running, _ := s.coord.runningFetcherCount()
	s.metrics.FetchersRunning(running)
	s.metrics.FetchersPending(s.coord.pendingCount())
}

// NonceFound implements spec.md §6's exposed nonceFound operation: it
// enqueues a share for the uploader pool. The queue is a channel buffered
// to 256 submissions; NonceFound returns at once while there is room and
// blocks while the buffer is full.
func (s *Source) NonceFound(job *corefw.Job, headerBytes [80]byte, nonce []byte, nonceDifficulty float64) {
	s.mu.Lock()
	ch := s.uploadCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- &uploadSubmission{id: uuid.New().String(), job: job, headerBytes: headerBytes, nonce: nonce, nonceDifficulty: nonceDifficulty}
}

// Reconfigure applies settings that only take effect after a restart
// (spec.md §3 "A re-configuration whose effect changes host/port/connection
// counts triggers an asynchronous restart").
func (s *Source) Reconfigure(next Settings) {
	next = next.WithDefaults()
	s.mu.Lock()
	changed := next.Host != s.settings.Host ||
		next.Port != s.settings.Port ||
		next.GetworkConnections != s.settings.GetworkConnections ||
		next.UploadConnections != s.settings.UploadConnections ||
		next.LongPollConnections != s.settings.LongPollConnections
	s.settings = next
	s.mu.Unlock()

	if changed {
		s.hooks.AsyncRestart()
	}
}
