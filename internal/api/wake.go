package api

import (
	"context"
	"net/http"
	"time"
)

// Waker triggers an immediate export worker cycle after an enqueue so a new
// job does not wait for the next poll tick. Wakes are advisory; a missed
// wake only delays the job by one poll interval.
type Waker interface {
	Wake(ctx context.Context)
}

// NoopWaker ignores wake requests. Used when the API and worker run in the
// same process and the worker is woken directly.
type NoopWaker struct{}

// Wake does nothing.
func (NoopWaker) Wake(ctx context.Context) {}

// HTTPWaker pokes a remote worker's wake endpoint. Failures are swallowed:
// the worker's poll loop picks the job up regardless.
type HTTPWaker struct {
	URL    string
	Client *http.Client
}

// NewHTTPWaker creates an HTTPWaker for the worker's wake URL.
func NewHTTPWaker(url string) *HTTPWaker {
	return &HTTPWaker{
		URL:    url,
		Client: &http.Client{Timeout: 2 * time.Second},
	}
}

// Wake sends the wake request.
func (w *HTTPWaker) Wake(ctx context.Context) {
	if w.URL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, nil)
	if err != nil {
		return
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// WakeHandler serves the worker-side wake endpoint.
func WakeHandler(wake func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		wake()
		w.WriteHeader(http.StatusNoContent)
	}
}
