package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// diagnosticsMux mirrors the routes of the CLI's diagnostics server.
func diagnosticsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return mux
}

func serve(h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func spanAttr(s tracetest.SpanStub, key string) (string, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestMiddleware_NamesSpanAfterRoute(t *testing.T) {
	exp := useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(diagnosticsMux())

	rec := serve(h, "/status", nil)

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q", cid)
	}
	if got := rec.Header().Get("X-Seen-Correlation"); got != cid {
		t.Errorf("handler saw correlation %q, response carries %q", got, cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /status" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, _ := spanAttr(spans[0], "http.route"); v != "GET /status" {
		t.Errorf("http.route = %q", v)
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v != "200" {
		t.Errorf("status code attribute = %q", v)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	exp := useTracerProvider(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(diagnosticsMux())

	if rec := serve(h, "/does-not-exist", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	if name := exp.GetSpans()[0].Name; name != "HTTP "+unmatchedRoute {
		t.Errorf("span name = %q", name)
	}

	met := findMetric(collect(t, reader), "voicesim.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	if v, _ := dp.Attributes.Value("route"); v.AsString() != unmatchedRoute {
		t.Errorf("route attribute = %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value("status"); v.AsString() != "404" {
		t.Errorf("status attribute = %q", v.AsString())
	}
}

func TestMiddleware_RecordsDurationPerRoute(t *testing.T) {
	useTracerProvider(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(diagnosticsMux())

	serve(h, "/status", nil)
	serve(h, "/status", nil)
	serve(h, "/healthz", nil)

	met := findMetric(collect(t, reader), "voicesim.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	counts := map[string]uint64{}
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		route, _ := dp.Attributes.Value("route")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != http.MethodGet {
			t.Errorf("method attribute = %q", method.AsString())
		}
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /status"] != 2 || counts["GET /healthz"] != 1 {
		t.Errorf("samples per route = %v", counts)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	exp := useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(diagnosticsMux())

	serve(h, "/broken", nil)

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", s.Status.Code)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(diagnosticsMux())

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, "/status", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_ProbePathsLogAtDebug(t *testing.T) {
	useTracerProvider(t)
	m, _ := newTestMetrics(t)
	buf := captureDefaultLogger(t)
	h := Middleware(m)(diagnosticsMux())

	serve(h, "/healthz", nil)
	probe := buf.String()
	buf.Reset()
	serve(h, "/status", nil)
	status := buf.String()

	if !strings.Contains(probe, "level=DEBUG") || !strings.Contains(probe, `route="GET /healthz"`) {
		t.Errorf("probe log line = %q", probe)
	}
	if !strings.Contains(status, "level=INFO") || !strings.Contains(status, `route="GET /status"`) {
		t.Errorf("status log line = %q", status)
	}
}

func TestMiddleware_ContextCarriesSpan(t *testing.T) {
	useTracerProvider(t)
	m, _ := newTestMetrics(t)

	var got context.Context
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Context()
	}))
	serve(h, "/anything", nil)

	if CorrelationID(got) == "" {
		t.Error("handler context carries no span")
	}
}
