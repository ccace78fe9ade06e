package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestSpanStatus(t *testing.T) {
	tests := []struct {
		code int
		want sentry.SpanStatus
	}{
		{http.StatusOK, sentry.SpanStatusOK},
		{http.StatusNoContent, sentry.SpanStatusOK},
		{http.StatusBadRequest, sentry.SpanStatusInvalidArgument},
		{http.StatusUnauthorized, sentry.SpanStatusUnauthenticated},
		{http.StatusNotFound, sentry.SpanStatusNotFound},
		{http.StatusRequestEntityTooLarge, sentry.SpanStatusOutOfRange},
		{http.StatusConflict, sentry.SpanStatusInvalidArgument},
		{http.StatusServiceUnavailable, sentry.SpanStatusUnavailable},
		{http.StatusBadGateway, sentry.SpanStatusInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, spanStatus(tt.code), "status %d", tt.code)
	}
}

func TestSentry_PassesThroughWithoutClient(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Sentry("/health"))
	r.Get("/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r.Context()))
		assert.NotNil(t, sentry.GetHubFromContext(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, sentry.GetHubFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSentry_RepanicsForRecoverer(t *testing.T) {
	h := Sentry()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
