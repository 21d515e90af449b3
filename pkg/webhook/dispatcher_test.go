package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

func TestDispatcher_Dispatch_DeliversPayload(t *testing.T) {
	var received atomic.Int32
	var gotBody []byte
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		gotBody = body
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	d := New(1)
	m := &models.Meeting{
		MeetingID: "m1",
		Platform:  models.PlatformGoogleMeet,
		Status:    models.StatusCompleted,
		Envelope:  models.Envelope{CompletionReason: "stopped"},
	}

	d.Dispatch(context.Background(), srv.URL, m)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered in time")
	}
	require.Equal(t, int32(1), received.Load())
	require.Contains(t, string(gotBody), "m1")
}

func TestDispatcher_BreakerFor_SharesBreakerPerHost(t *testing.T) {
	d := New(1)
	b1 := d.breakerFor("https://example.com/hook/a")
	b2 := d.breakerFor("https://example.com/hook/b")
	b3 := d.breakerFor("https://other.example.com/hook")

	require.Same(t, b1, b2)
	require.NotSame(t, b1, b3)
}
