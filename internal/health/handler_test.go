package health

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"accord/pkg/testutil"
)

func TestHandleHealthz(t *testing.T) {
	r := chi.NewRouter()
	New("accord", "1.2.3").Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/healthz"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "service", "accord")
	testutil.AssertJSONContains(t, rr, "version", "1.2.3")
	testutil.AssertJSONContains(t, rr, "status", "ok")
}
