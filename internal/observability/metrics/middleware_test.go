package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddlewareRecordsStatusAndPath(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/codes", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	recorder.mu.RLock()
	defer recorder.mu.RUnlock()
	label := requestLabel{method: "GET", path: "/admin/codes", status: "418"}
	if recorder.requestCount[label] != 1 {
		t.Fatalf("request count = %v", recorder.requestCount)
	}
}

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if rr.Status() != http.StatusOK {
		t.Fatalf("default status = %d", rr.Status())
	}
	rr.WriteHeader(http.StatusNotFound)
	if rr.Status() != http.StatusNotFound {
		t.Fatalf("status after WriteHeader = %d", rr.Status())
	}
}
