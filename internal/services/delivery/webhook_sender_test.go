package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestSender() *Sender {
	return NewSender(5*time.Second, 3, time.Millisecond, arbor.NewLogger())
}

func TestSendSuccess(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	result, err := newTestSender().Send(context.Background(), &WebhookRequest{
		URL:  srv.URL,
		Body: []byte(`{"job_id":"job_1"}`),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.JSONEq(t, `{"job_id":"job_1"}`, string(gotBody))
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := newTestSender().Send(context.Background(), &WebhookRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendClientErrorIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	result, err := newTestSender().Send(context.Background(), &WebhookRequest{URL: srv.URL})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestSendExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestSender().Send(context.Background(), &WebhookRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestSender().Send(context.Background(), &WebhookRequest{
		URL:         srv.URL + "?existing=1",
		QueryParams: map[string]string{"token": "abc"},
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "existing=1")
	assert.Contains(t, gotQuery, "token=abc")
}

func TestResolveAdapter(t *testing.T) {
	tests := []struct {
		name string
		req  WebhookRequest
		want string
	}{
		{"explicit type wins", WebhookRequest{URL: "https://example.com/hook", WebhookType: "slack"}, "slack"},
		{"slack host heuristic", WebhookRequest{URL: "https://hooks.slack.com/services/T0/B0/xyz"}, "slack"},
		{"generic default", WebhookRequest{URL: "https://example.com/hook"}, "generic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAdapter(&tt.req))
		})
	}
}

func TestAdaptSlackPayload(t *testing.T) {
	// JSON payloads without a text field get wrapped.
	wrapped := AdaptSlackPayload([]byte(`{"job_id":"job_1"}`))
	var msg map[string]string
	require.NoError(t, json.Unmarshal(wrapped, &msg))
	assert.Contains(t, msg["text"], "job_1")

	// Payloads already shaped for Slack pass through.
	passthrough := AdaptSlackPayload([]byte(`{"text":"done"}`))
	assert.JSONEq(t, `{"text":"done"}`, string(passthrough))

	// Non-JSON bodies become the message text.
	plain := AdaptSlackPayload([]byte("job finished"))
	require.NoError(t, json.Unmarshal(plain, &msg))
	assert.Equal(t, "job finished", msg["text"])
}
