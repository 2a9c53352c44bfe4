package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRecovered(h http.HandlerFunc) *httptest.ResponseRecorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	Recover(logger)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/1/signal", nil))
	return rec
}

func TestRecoverPanicBecomes500(t *testing.T) {
	rec := serveRecovered(func(http.ResponseWriter, *http.Request) {
		panic("nil metrics")
	})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal server error"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRecoverPassesThrough(t *testing.T) {
	rec := serveRecovered(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
}

func TestRecoverRepanicsAbortHandler(t *testing.T) {
	defer func() {
		if got := recover(); got != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler re-raised", got)
		}
	}()

	serveRecovered(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	t.Error("ErrAbortHandler was swallowed")
}
