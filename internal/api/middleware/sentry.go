package middleware

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// Sentry opens one transaction per request, named after the matched chi
// route so /v1/runs/{id} groups together. Requests to skipPaths (probes,
// scrapes) pass through untraced. Panics are reported and re-raised for the
// recoverer; 5xx responses become events.
func Sentry(skipPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(skipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}

			opts := []sentry.SpanOption{
				sentry.WithOpName("http.server"),
				sentry.WithTransactionSource(sentry.SourceURL),
			}
			if trace := r.Header.Get("sentry-trace"); trace != "" {
				opts = append(opts, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
			}
			tx := sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, opts...)
			defer tx.Finish()

			r = r.WithContext(sentry.SetHubOnContext(tx.Context(), hub))
			r, _ = withIdentity(r)

			hub.Scope().SetRequest(r)
			if id := GetRequestID(r.Context()); id != "" {
				hub.Scope().SetTag("request_id", id)
				tx.SetTag("request_id", id)
			}

			defer func() {
				if err := recover(); err != nil {
					tx.Status = sentry.SpanStatusInternalError
					hub.RecoverWithContext(r.Context(), err)
					panic(err)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					tx.Name = r.Method + " " + pattern
					tx.Source = sentry.SourceRoute
				}
			}

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			tx.Status = spanStatus(status)
			tx.SetData("http.response.status_code", status)

			if client := GetClientID(r.Context()); client != "" {
				hub.Scope().SetTag("client_id", client)
				tx.SetTag("client_id", client)
			}
			if status >= http.StatusInternalServerError {
				hub.CaptureMessage(fmt.Sprintf("%s returned %d", tx.Name, status))
			}
		})
	}
}

var spanStatusByCode = map[int]sentry.SpanStatus{
	http.StatusBadRequest:            sentry.SpanStatusInvalidArgument,
	http.StatusUnauthorized:          sentry.SpanStatusUnauthenticated,
	http.StatusNotFound:              sentry.SpanStatusNotFound,
	http.StatusRequestEntityTooLarge: sentry.SpanStatusOutOfRange,
	http.StatusUnprocessableEntity:   sentry.SpanStatusUnimplemented,
	http.StatusTooManyRequests:       sentry.SpanStatusResourceExhausted,
	499:                              sentry.SpanStatusCanceled,
	http.StatusServiceUnavailable:    sentry.SpanStatusUnavailable,
	http.StatusGatewayTimeout:        sentry.SpanStatusDeadlineExceeded,
}

func spanStatus(code int) sentry.SpanStatus {
	if s, ok := spanStatusByCode[code]; ok {
		return s
	}
	switch {
	case code < 400:
		return sentry.SpanStatusOK
	case code < 500:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}
