package jobbuilder

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
)

const expiryMargin = 5 * time.Second

func plentifulQueue() corefw.WorkQueueSnapshot {
	return corefw.WorkQueueSnapshot{Count: 0, Target: 10}
}

func body(data, target string) []byte {
	return []byte(`{"result":{"data":"` + data + `","target":"` + target + `"}}`)
}

func zeros(n int) string  { return strings.Repeat("00", n) }
func ffs(n int) string    { return strings.Repeat("ff", n) }
func noopCancel(bool)     {}
func noopCheck(*corefw.Job) {}

// S1: happy fetch, no headers.
func TestBuild_HappyFetch(t *testing.T) {
	st := &State{}
	now := time.Now()
	res, err := Build(body(zeros(80), ffs(32)), http.Header{}, 1, 1, now, "getwork response",
		false, false, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.False(t, res.SupportsRollNtime)
	assert.WithinDuration(t, now.Add(55*time.Second), res.Jobs[0].Expiry, time.Second)
	assert.Equal(t, uint64(1), res.Jobs[0].Epoch)
}

// S2: roll-ntime expire=5.
func TestBuild_RollNTime(t *testing.T) {
	st := &State{}
	headers := http.Header{"X-Roll-Ntime": []string{"expire=5"}}
	res, err := Build(body(zeros(80), ffs(32)), headers, 1, 1, time.Now(), "getwork response",
		false, false, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 5)
	assert.True(t, res.SupportsRollNtime)
	for i := 1; i < len(res.Jobs); i++ {
		prevT := timebaseOf(res.Jobs[i-1].Header)
		curT := timebaseOf(res.Jobs[i].Header)
		assert.Equal(t, prevT+1, curT)
		assert.Equal(t, res.Jobs[i-1].Header[:68], res.Jobs[i].Header[:68])
		assert.Equal(t, res.Jobs[i-1].Header[72:], res.Jobs[i].Header[72:])
	}
}

// S3: p2pool forces expiry to 60 regardless of roll-ntime value.
func TestBuild_P2Pool(t *testing.T) {
	st := &State{}
	now := time.Now()
	headers := http.Header{
		"X-Roll-Ntime": []string{"Y"},
		"X-Is-P2Pool":  []string{"true"},
	}
	res, err := Build(body(zeros(80), ffs(32)), headers, 1, 1, now, "getwork response",
		false, false, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 60)
	assert.WithinDuration(t, now.Add(55*time.Second), res.Jobs[0].Expiry, time.Second)
}

// S4: epoch race - captured epoch stale by the time the builder runs.
func TestBuild_EpochRace(t *testing.T) {
	st := &State{}
	res, err := Build(body(zeros(80), ffs(32)), http.Header{}, 3, 4, time.Now(), "getwork response",
		false, false, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.True(t, res.Dropped)
	assert.Equal(t, 1, res.JobsReceivedDelta)
}

// Invariant 6: empty long-poll body is idempotent.
func TestBuild_EmptyBodyIdempotent(t *testing.T) {
	st := &State{}
	res, err := Build(nil, http.Header{}, 1, 1, time.Now(), "long poll response",
		true, true, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.False(t, res.Dropped)
}

// Invariant 4: an identifier change triggers exactly one intermediate cancel.
func TestBuild_IdentifierChangeCancelsOnce(t *testing.T) {
	st := &State{}
	cancelCalls := 0
	cancel := func(bool) { cancelCalls++ }

	_, err := Build([]byte(`{"result":{"data":"`+zeros(80)+`","target":"`+ffs(32)+`","identifier":1}}`),
		http.Header{}, 1, 1, time.Now(), "getwork response", false, false, st, plentifulQueue(),
		expiryMargin, noopCheck, cancel)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelCalls)

	_, err = Build([]byte(`{"result":{"data":"`+zeros(80)+`","target":"`+ffs(32)+`","identifier":1}}`),
		http.Header{}, 1, 1, time.Now(), "getwork response", false, false, st, plentifulQueue(),
		expiryMargin, noopCheck, cancel)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelCalls, "same identifier must not cancel again")

	_, err = Build([]byte(`{"result":{"data":"`+zeros(80)+`","target":"`+ffs(32)+`","identifier":2}}`),
		http.Header{}, 1, 1, time.Now(), "getwork response", false, false, st, plentifulQueue(),
		expiryMargin, noopCheck, cancel)
	require.NoError(t, err)
	assert.Equal(t, 2, cancelCalls, "identifier change must cancel exactly once more")
}

// Back-pressure: a full queue drops the batch when discardIfFull is set.
func TestBuild_BackPressureDiscardIfFull(t *testing.T) {
	st := &State{}
	queue := corefw.WorkQueueSnapshot{Count: 11, Target: 10}
	res, err := Build(body(zeros(80), ffs(32)), http.Header{}, 1, 1, time.Now(), "long poll response",
		true, true, st, queue, expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.True(t, res.Dropped)
}

// Invariant 1: every pushed job's capture epoch equals jobEpoch at push time.
func TestBuild_PushedJobsCarryCurrentEpoch(t *testing.T) {
	st := &State{}
	res, err := Build(body(zeros(80), ffs(32)), http.Header{}, 7, 7, time.Now(), "getwork response",
		false, false, st, plentifulQueue(), expiryMargin, noopCheck, noopCancel)
	require.NoError(t, err)
	for _, j := range res.Jobs {
		assert.Equal(t, uint64(7), j.Epoch)
	}
}

func timebaseOf(header [80]byte) uint32 {
	return uint32(header[68])<<24 | uint32(header[69])<<16 | uint32(header[70])<<8 | uint32(header[71])
}
