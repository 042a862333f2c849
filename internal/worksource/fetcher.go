package worksource

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chimera-pool/getwork-worksource/internal/httpclient"
)

const getworkRequestBody = `{"method":"getwork","params":[],"id":0}`

// runFetcher is one fetcher worker: spec.md §4.C's worker loop.
func (s *Source) runFetcher() {
	defer s.wg.Done()

	client := httpclient.New()
	defer client.Close()

	for {
		ok, myJobs := s.coord.claimDemand()
		if !ok {
			return
		}

		epoch := s.coord.jobEpoch_()
		now := time.Now()

		headers, body, err := s.fetch(client)
		if err != nil {
			s.hooks.Log("worksource", "fetch failed: "+err.Error(), 300)
			s.hooks.HandleError(false)
			s.coord.finishFetch(myJobs)
			s.reportDemandGauges()
			continue
		}

		s.handleLongPollHeader(headers)

		res, err := s.build(body, headers, epoch, now, "getwork response", false, false)
		s.coord.finishFetch(myJobs)
		s.reportDemandGauges()
		if err != nil {
			s.hooks.Log("worksource", "job builder: "+err.Error(), 300)
			s.hooks.HandleError(false)
			continue
		}

		s.recordBuildResult(res)
		if len(res.Jobs) > 0 {
			s.hooks.PushJobs(res.Jobs, "getwork response")
			if s.metrics != nil {
				s.metrics.JobsPushed("getwork response", len(res.Jobs))
			}
		}
		s.hooks.HandleSuccess()
	}
}

func (s *Source) fetch(client *httpclient.Client) (http.Header, []byte, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Connection", "Keep-Alive")
	headers.Set("User-Agent", s.settings.UserAgent)
	headers.Set("X-Mining-Extensions", "longpoll midstate rollntime")
	if auth := s.settings.AuthorizationHeader(); auth != "" {
		headers.Set("Authorization", auth)
	}

	return client.Post(s.settings.Host, s.settings.Port, s.settings.Path,
		[]byte(getworkRequestBody), headers, s.settings.GetworkTimeout)
}

// handleLongPollHeader implements the long-poll handshake of spec.md §4.C,
// carried inline in the fetch response rather than in the listener itself.
func (s *Source) handleLongPollHeader(headers http.Header) {
	if s.settings.LongPollConnections == 0 {
		s.coord.lock()
		s.coord.setSignalsNewBlockLocked(false)
		s.coord.unlock()
		return
	}

	raw := headers.Get("X-Long-Polling")

	s.coord.lock()
	prevURL := s.coord.longPollURLLocked()
	hadSignal := s.coord.signalsNewBlockLocked()

	if raw == "" {
		if hadSignal {
			s.coord.bumpRunCycleLocked()
			s.coord.setSignalsNewBlockLocked(false)
		}
		s.coord.unlock()
		return
	}

	resolved, err := s.resolveLongPollURL(raw)
	if err != nil {
		s.coord.unlock()
		s.hooks.Log("worksource", "malformed long-poll URL: "+err.Error(), 200)
		return
	}
	if resolved == prevURL {
		s.coord.unlock()
		return
	}

	s.coord.setLongPollURLLocked(resolved)
	s.coord.setSignalsNewBlockLocked(true)
	cycle := s.coord.bumpRunCycleLocked()
	s.coord.unlock()

	lpHost, lpPort, lpPath, err := splitLongPollURL(resolved)
	if err != nil {
		s.hooks.Log("worksource", "malformed long-poll URL: "+err.Error(), 200)
		return
	}
	for i := 0; i < s.settings.LongPollConnections; i++ {
		s.wg.Add(1)
		go s.runLongPollListener(lpHost, lpPort, lpPath, cycle)
	}
}

// resolveLongPollURL implements the "http://host:port/path, or /path
// relative to the fetch target" rule of spec.md §4.C.
func (s *Source) resolveLongPollURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		return fmt.Sprintf("http://%s%s", hostPort(s.settings.Host, s.settings.Port), raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		u.Host = hostPort(s.settings.Host, s.settings.Port)
	}
	return u.String(), nil
}

func splitLongPollURL(full string) (host string, port int, path string, err error) {
	u, err := url.Parse(full)
	if err != nil {
		return "", 0, "", err
	}
	h := u.Hostname()
	p := u.Port()
	portNum := 80
	if p != "" {
		if n, convErr := strconv.Atoi(p); convErr == nil {
			portNum = n
		}
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return h, portNum, path, nil
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
