package worksource

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chimera-pool/getwork-worksource/internal/httpclient"
)

// runUploader is one uploader worker: spec.md §4.D's worker loop. Shape
// grounded on chimera-pool-core's batch_processor.go shareWorker.run
// channel-draining loop, reduced to a range over the channel with a nil
// sentinel for shutdown and adapted to per-submission retry rather than
// batching (this spec has no batching requirement).
func (s *Source) runUploader() {
	defer s.wg.Done()

	client := httpclient.New()
	defer client.Close()

	for sub := range s.uploadCh {
		if sub == nil {
			if s.coord.isShutdown() {
				return
			}
			continue
		}
		s.uploadOne(client, sub)
	}
}

func (s *Source) uploadOne(client *httpclient.Client, sub *uploadSubmission) {
	tries := 0
	for {
		accepted, reason, err := s.submitOnce(client, sub)
		if err == nil {
			if !accepted {
				s.coord.lock()
				newEpoch := s.coord.bumpJobEpochLocked()
				s.coord.unlock()
				s.hooks.CancelJobs(true)
				if s.metrics != nil {
					s.metrics.JobEpoch(newEpoch)
				}
			}
			if s.metrics != nil {
				if accepted {
					s.metrics.Share("accepted")
				} else {
					s.metrics.Share("rejected")
				}
			}
			s.hooks.HandleSuccess()
			if sub.job != nil && sub.job.NonceHandled != nil {
				sub.job.NonceHandled(sub.nonce, sub.nonceDifficulty, reason)
			}
			return
		}

		tries++
		s.hooks.Log("worksource", fmt.Sprintf("share %s submission failed (try %d): %s", sub.id, tries, err), 300)
		s.hooks.HandleError(true)
		if s.metrics != nil {
			s.metrics.Share("error")
		}
		sleepSeconds := tries
		if sleepSeconds > 30 {
			sleepSeconds = 30
		}
		time.Sleep(time.Duration(sleepSeconds) * time.Second)
	}
}

// submitOnce performs the POST and classifies the result. A connection
// failure gets one immediate redial attempt before being propagated to the
// caller's retry/back-off logic, per spec.md §4.D step 2.
func (s *Source) submitOnce(client *httpclient.Client, sub *uploadSubmission) (accepted bool, reason interface{}, err error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Connection", "Keep-Alive")
	headers.Set("User-Agent", s.settings.UserAgent)
	if auth := s.settings.AuthorizationHeader(); auth != "" {
		headers.Set("Authorization", auth)
	}

	body := fmt.Sprintf(`{"method":"getwork","params":["%s"],"id":0}`, hex.EncodeToString(sub.headerBytes[:]))

	respHeaders, respBody, postErr := client.Post(s.settings.Host, s.settings.Port, s.settings.Path,
		[]byte(body), headers, s.settings.SendShareTimeout)
	if postErr != nil {
		// one extra attempt before this counts as a failed try.
		respHeaders, respBody, postErr = client.Post(s.settings.Host, s.settings.Port, s.settings.Path,
			[]byte(body), headers, s.settings.SendShareTimeout)
		if postErr != nil {
			return false, nil, postErr
		}
	}

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return false, nil, fmt.Errorf("decode share response: %w", err)
	}

	if string(decoded.Result) == "true" {
		return true, true, nil
	}
	if len(decoded.Error) > 0 && string(decoded.Error) != "null" {
		var errVal interface{}
		_ = json.Unmarshal(decoded.Error, &errVal)
		return false, errVal, nil
	}
	if rr := respHeaders.Get("X-Reject-Reason"); rr != "" {
		return false, rr, nil
	}
	return false, false, nil
}
