package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vaxhunterbot/internal/domain"
)

// streamBody writes the given lines followed by a terminating blank line,
// flushing after each so the scanner sees them as they arrive.
func streamBody(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("follow") == "" {
			t.Error("follow param missing")
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
}

func TestStream_DispatchesPosts(t *testing.T) {
	server := streamBody(t, []string{
		`{"id_str":"900","text":"Pfizer at M5V today","user":{"id_str":"watched-1","screen_name":"VaxHuntersCan"}}`,
		``, // keep-alive
		`{"limit":{"track":5}}`, // control message, no id
		`not json at all`,
		`{"id_str":"901","text":"more M4C doses","user":{"id_str":"watched-1","screen_name":"VaxHuntersCan"}}`,
	})
	defer server.Close()

	var mu sync.Mutex
	var got []domain.Post
	done := make(chan struct{})

	handler := func(ctx context.Context, post domain.Post) error {
		mu.Lock()
		got = append(got, post)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
		return nil
	}

	stream := NewStream(server.Client(), server.URL, "watched-1", handler, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- stream.consume(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for posts")
	}

	// The connection ends when the server handler returns; consume reports
	// that as an error so Run reconnects.
	if err := <-errCh; err == nil {
		t.Error("expected error when the remote closes the stream")
	}

	mu.Lock()
	defer mu.Unlock()
	ids := map[string]bool{}
	for _, p := range got {
		ids[p.ID] = true
	}
	if !ids["900"] || !ids["901"] {
		t.Errorf("got posts %v, want 900 and 901", ids)
	}
}

func TestStream_RunStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
				w.Write([]byte("\n"))
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	handler := func(ctx context.Context, post domain.Post) error { return nil }
	stream := NewStream(server.Client(), server.URL, "watched-1", handler, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- stream.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
