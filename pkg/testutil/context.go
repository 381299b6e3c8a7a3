package testutil

import (
	"net/http"
	"time"

	"accord/pkg/requestcontext"
)

// WithRequestID attaches a request ID to the request context, simulating the
// request ID middleware.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithClientMetadata attaches client IP and user agent to the request
// context, simulating the client metadata middleware.
func WithClientMetadata(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// WithTime pins the request-scoped clock, simulating the middleware's
// timestamping for tests that need a deterministic now.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
