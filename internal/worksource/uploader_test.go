package worksource

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimera-pool/getwork-worksource/internal/corefw"
	"github.com/chimera-pool/getwork-worksource/internal/httpclient"
)

func serverSettings(t *testing.T, handler http.HandlerFunc) Settings {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	s := DefaultSettings()
	s.Host = u.Hostname()
	s.Port = port
	s.Path = "/"
	s.SendShareTimeout = 2 * time.Second
	return s
}

// S5: reject with reason bumps jobEpoch, cancels outstanding jobs, and
// invokes nonceHandled with the X-Reject-Reason value.
func TestUploader_RejectWithReason(t *testing.T) {
	settings := serverSettings(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reject-Reason", "stale")
		w.Write([]byte(`{"result":false,"error":null}`))
	})

	fw := corefw.NewFramework(nil, 10)
	src := NewSource(settings, fw, nil)

	var gotReason interface{}
	job := &corefw.Job{
		NonceHandled: func(nonce []byte, difficulty float64, result interface{}) {
			gotReason = result
		},
	}
	sub := &uploadSubmission{job: job, nonce: []byte{1, 2, 3}, nonceDifficulty: 1.0}

	client := httpclient.New()
	defer client.Close()
	src.uploadOne(client, sub)

	assert.Equal(t, "stale", gotReason)
	assert.Equal(t, 1, fw.CancelCount())
	assert.Equal(t, uint64(1), src.coord.jobEpoch_())
}

// Accepted shares do not bump jobEpoch or cancel jobs.
func TestUploader_Accepted(t *testing.T) {
	settings := serverSettings(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":true,"error":null}`))
	})

	fw := corefw.NewFramework(nil, 10)
	src := NewSource(settings, fw, nil)

	var gotReason interface{}
	called := false
	job := &corefw.Job{
		NonceHandled: func(nonce []byte, difficulty float64, result interface{}) {
			called = true
			gotReason = result
		},
	}
	sub := &uploadSubmission{job: job, nonce: []byte{1}, nonceDifficulty: 1.0}

	client := httpclient.New()
	defer client.Close()
	src.uploadOne(client, sub)

	assert.True(t, called)
	assert.Equal(t, true, gotReason)
	assert.Equal(t, 0, fw.CancelCount())
	assert.Equal(t, uint64(0), src.coord.jobEpoch_())
}
