package worksource

import (
	"net/http"
	"time"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
	"github.com/chimera-pool/getwork-worksource/internal/jobbuilder"
)

// build invokes the job builder under the state monitor, reading the
// *current* jobEpoch atomically with the identifier-state mutation the
// builder performs (spec.md §4.B step 3, §5 state monitor).
func (s *Source) build(body []byte, headers http.Header, capturedEpoch uint64, now time.Time, source string, ignoreEmpty, discardIfFull bool) (jobbuilder.Result, error) {
	queue := s.hooks.WorkQueue()

	s.coord.lock()
	defer s.coord.unlock()

	currentEpoch := s.coord.jobEpochLocked()
	return jobbuilder.Build(
		body, headers, capturedEpoch, currentEpoch, now, source, ignoreEmpty, discardIfFull,
		s.coord.identifierStateLocked(), queue, s.settings.ExpiryMargin,
		func(j *corefw.Job) { s.hooks.CheckJob(j) },
		func(force bool) { s.hooks.CancelJobs(force) },
	)
}

func (s *Source) recordBuildResult(res jobbuilder.Result) {
	if s.metrics == nil {
		return
	}
	if res.JobsReceivedDelta != 0 {
		s.metrics.JobsReceived(res.JobsReceivedDelta)
	}
	s.metrics.SupportsRollNtime(res.SupportsRollNtime)
}
