// Package jobbuilder turns a single getwork JSON-RPC reply into zero or
// more corefw.Job values, expanding roll-ntime, checking the response
// against the coordinator's current epoch, and applying the framework's
// work-queue back-pressure policy.
//
// Build is a pure function over its arguments plus the CheckJob/CancelJobs
// callbacks: it owns no state of its own. The caller (internal/worksource)
// is responsible for holding the state monitor for the duration of the
// call, since Build both reads and updates State.LastIdentifier.
package jobbuilder

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
)

// State is the subset of coordinator state the builder reads and mutates.
// The caller owns the backing value and must serialize access to it (the
// "state monitor" of spec.md §5).
type State struct {
	LastIdentifier *int
}

// Result is everything a Build call produces: the jobs to push (if any),
// the jobs-received delta and roll-ntime capability for the framework's
// statistics, and whether the batch was dropped.
type Result struct {
	Jobs              []*corefw.Job
	JobsReceivedDelta int
	SupportsRollNtime bool
	// Dropped is true when the batch was discarded by the epoch check or
	// the back-pressure check (step 7/8); Jobs is always empty in that case.
	Dropped bool
}

type getworkResult struct {
	Data       string          `json:"data"`
	Target     string          `json:"target"`
	Identifier json.RawMessage `json:"identifier"`
}

type getworkReply struct {
	Result *getworkResult `json:"result"`
}

// Build implements spec.md §4.B steps 1-10.
//
//   - body/headers: the raw HTTP response.
//   - capturedEpoch: jobEpoch read by the caller before issuing the request.
//   - currentEpoch: jobEpoch read live, right before the epoch check (step 7).
//   - now: capture-time wall clock (long-poll callers back-date this by 1s).
//   - source: "getwork response" or "long poll response", stored in the
//     Source field of the reference job and of every built job.
//   - ignoreEmpty: long-poll passes true (an empty body means "no change").
//   - discardIfFull: long-poll passes true for the stricter back-pressure bound.
func Build(
	body []byte,
	headers map[string][]string,
	capturedEpoch, currentEpoch uint64,
	now time.Time,
	source string,
	ignoreEmpty, discardIfFull bool,
	state *State,
	queue corefw.WorkQueueSnapshot,
	expiryMargin time.Duration,
	checkJob func(job *corefw.Job),
	cancelJobs func(force bool),
) (Result, error) {
	if len(body) == 0 && ignoreEmpty {
		return Result{}, nil
	}

	var reply getworkReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Result{}, fmt.Errorf("jobbuilder: decode response: %w", err)
	}
	if reply.Result == nil {
		return Result{}, fmt.Errorf("jobbuilder: response has no result")
	}

	header, err := decodeFixed(reply.Result.Data, 80)
	if err != nil {
		return Result{}, fmt.Errorf("jobbuilder: result.data: %w", err)
	}
	target, err := decodeFixed(reply.Result.Target, 32)
	if err != nil {
		return Result{}, fmt.Errorf("jobbuilder: result.target: %w", err)
	}
	identifier := parseIdentifier(reply.Result.Identifier)

	if !identicalIdentifier(identifier, state.LastIdentifier) {
		cancelJobs(false)
		state.LastIdentifier = identifier
	}

	var targetArr [32]byte
	copy(targetArr[:], target)
	var headerArr [80]byte
	copy(headerArr[:], header)
	checkJob(&corefw.Job{
		Source:     source,
		Header:     headerArr,
		Target:     targetArr,
		Identifier: identifier,
		RollNTime:  true,
	})

	rollNTime, expirySeconds := parseRollNTime(get(headers, "X-Roll-NTime"))
	supportsRollNTime := rollNTime > 1
	if isP2Pool(get(headers, "X-Is-P2Pool")) {
		expirySeconds = 60
	}

	if capturedEpoch != currentEpoch {
		return Result{JobsReceivedDelta: rollNTime, SupportsRollNtime: supportsRollNTime, Dropped: true}, nil
	}

	limit := queue.Target * 5
	if discardIfFull {
		limit = queue.Target
	}
	if queue.Count > limit {
		return Result{JobsReceivedDelta: rollNTime, SupportsRollNtime: supportsRollNTime, Dropped: true}, nil
	}

	expiry := now.Add(time.Duration(expirySeconds)*time.Second - expiryMargin)
	var block [64]byte
	copy(block[:], header[:64])
	midstate := sha256Midstate(block)

	var prefix [68]byte
	copy(prefix[:], header[:68])
	var suffix [8]byte
	copy(suffix[:], header[72:80])
	timebase := uint32(header[68])<<24 | uint32(header[69])<<16 | uint32(header[70])<<8 | uint32(header[71])

	jobs := make([]*corefw.Job, 0, rollNTime)
	for i := 0; i < rollNTime; i++ {
		var h [80]byte
		copy(h[0:68], prefix[:])
		t := timebase + uint32(i)
		h[68] = byte(t >> 24)
		h[69] = byte(t >> 16)
		h[70] = byte(t >> 8)
		h[71] = byte(t)
		copy(h[72:80], suffix[:])

		jobs = append(jobs, &corefw.Job{
			Source:     source,
			Header:     h,
			Target:     targetArr,
			Midstate:   midstate,
			Identifier: identifier,
			Expiry:     expiry,
			RollNTime:  rollNTime > 1,
			Epoch:      currentEpoch,
		})
	}

	return Result{Jobs: jobs, JobsReceivedDelta: rollNTime, SupportsRollNtime: supportsRollNTime}, nil
}

func decodeFixed(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// parseIdentifier tolerates a missing or ill-typed identifier by returning
// nil, per spec.md §9 "Dynamic JSON".
func parseIdentifier(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	return &n
}

func identicalIdentifier(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func get(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// parseRollNTime implements spec.md §4.B step 5.
func parseRollNTime(value string) (rollNTime int, expirySeconds int) {
	if value == "" || strings.EqualFold(value, "N") {
		return 1, 60
	}
	rollNTime, expirySeconds = 60, 60
	if strings.HasPrefix(strings.ToLower(value), "expire=") {
		if n, err := strconv.Atoi(value[len("expire="):]); err == nil {
			rollNTime, expirySeconds = n, n
		}
	}
	return rollNTime, expirySeconds
}

func isP2Pool(value string) bool {
	return strings.EqualFold(value, "true")
}
