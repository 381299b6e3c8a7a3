package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"accord/pkg/requestcontext"
	"accord/pkg/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRequestID(t *testing.T) {
	testutil.Given(t, "a request without an inbound id", func(t *testing.T) {
		var captured string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = requestcontext.RequestID(r.Context())
		}))

		rr := testutil.DoRequest(handler, testutil.NewRequest(t, http.MethodGet, "/"))

		assert.NotEmpty(t, captured, "a fresh id is assigned")
		assert.Equal(t, captured, rr.Header().Get("X-Request-ID"))
	})

	testutil.Given(t, "a gateway-supplied X-Request-ID", func(t *testing.T) {
		var captured string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = requestcontext.RequestID(r.Context())
		}))

		req := testutil.NewRequest(t, http.MethodGet, "/")
		req.Header.Set("X-Request-ID", "gw-777")
		rr := testutil.DoRequest(handler, req)

		assert.Equal(t, "gw-777", captured)
		assert.Equal(t, "gw-777", rr.Header().Get("X-Request-ID"))
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := testutil.DoRequest(handler, testutil.NewRequest(t, http.MethodGet, "/"))

	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
}

func TestContentTypeJSON(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects non-json post", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/")
		req.Header.Set("Content-Type", "text/plain")
		rr := testutil.DoRequest(ContentTypeJSON(ok), req)
		testutil.AssertStatus(t, rr, http.StatusUnsupportedMediaType)
	})

	t.Run("accepts json post", func(t *testing.T) {
		rr := testutil.DoRequest(ContentTypeJSON(ok), testutil.NewJSONRequest(t, http.MethodPost, "/", map[string]string{}))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("ignores get", func(t *testing.T) {
		rr := testutil.DoRequest(ContentTypeJSON(ok), testutil.NewRequest(t, http.MethodGet, "/"))
		testutil.AssertStatusOK(t, rr)
	})
}

func TestClientMetadata(t *testing.T) {
	var ip, ua string
	handler := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))

	req := testutil.NewRequest(t, http.MethodGet, "/")
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:142.0) Gecko/20100101 Firefox/142.0")
	testutil.DoRequest(handler, req)

	assert.Equal(t, "198.51.100.7", ip, "first hop of X-Forwarded-For wins")
	assert.Equal(t, "Firefox/142.0", ua, "only the parsed family and version survive")
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	var ip string
	handler := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
	}))

	req := testutil.NewRequest(t, http.MethodGet, "/")
	req.RemoteAddr = "192.0.2.9:51234"
	testutil.DoRequest(handler, req)

	assert.Equal(t, "192.0.2.9", ip)
}
