package worksource

import (
	"net/http"
	"time"

	"github.com/chimera-pool/getwork-worksource/internal/httpclient"
)

// runLongPollListener implements spec.md §4.E. host/port/path and
// birthRunCycle are captured once at spawn time; the listener self-retires
// once a later runCycle increment poisons it (Open Question 1: no explicit
// join, the loop simply exits at its next safe point).
func (s *Source) runLongPollListener(host string, port int, path string, birthRunCycle uint64) {
	defer s.wg.Done()

	client := httpclient.New()
	defer client.Close()

	tries := 0
	windowStart := time.Now()

	for {
		s.coord.lock()
		current := s.coord.runCycleLocked()
		if current > birthRunCycle {
			s.coord.unlock()
			return
		}
		candidate := s.coord.captureLPCandidateLocked()
		s.coord.unlock()

		headers := http.Header{}
		headers.Set("Connection", "Keep-Alive")
		headers.Set("User-Agent", s.settings.UserAgent)
		if auth := s.settings.AuthorizationHeader(); auth != "" {
			headers.Set("Authorization", auth)
		}

		respHeaders, body, err := client.Get(host, port, path, headers,
			s.settings.LongPollConnectTimeout, s.settings.LongPollResponseTimeout)

		if err != nil {
			s.hooks.Log("worksource", "long poll failed: "+err.Error(), 300)
			s.hooks.HandleError(false)

			tries++
			if time.Since(windowStart) >= 60*time.Second {
				tries = 0
			}
			sleep := time.Second
			if tries > 5 {
				sleep = 30 * time.Second
			}
			windowStart = time.Now()
			time.Sleep(sleep)
			continue
		}

		s.coord.lock()
		if s.coord.runCycleLocked() > birthRunCycle {
			s.coord.unlock()
			return
		}
		applied := s.coord.applyLongPollLocked(candidate)
		s.coord.unlock()

		if !applied {
			continue
		}
		s.hooks.CancelJobs(true)
		if s.metrics != nil {
			s.metrics.LPEpoch(candidate)
		}

		// now is deliberately back-dated by 1s: a long-poll response is
		// applied right as fresh fetcher responses may have captured the
		// pre-bump epoch microseconds earlier, and without this guard their
		// jobs could be computed an absolute expiry that looks already
		// elapsed relative to this batch's clock read.
		now := time.Now().Add(-time.Second)
		epoch := s.coord.jobEpoch_()
		if s.metrics != nil {
			s.metrics.JobEpoch(epoch)
		}

		res, buildErr := s.build(body, respHeaders, epoch, now, "long poll response", true, true)
		if buildErr != nil {
			s.hooks.Log("worksource", "long poll job builder: "+buildErr.Error(), 300)
			s.hooks.HandleError(false)
			continue
		}
		s.recordBuildResult(res)
		if len(res.Jobs) > 0 {
			s.hooks.PushJobs(res.Jobs, "long poll response")
			if s.metrics != nil {
				s.metrics.JobsPushed("long poll response", len(res.Jobs))
			}
		}
		s.hooks.HandleSuccess()
		tries = 0
	}
}
