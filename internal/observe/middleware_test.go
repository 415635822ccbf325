package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup returns metrics over a ManualReader and a tracer provider that
// records spans synchronously. Nothing global is touched.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return m, reader, tp, exp
}

// traced wraps h the way the API server does.
func traced(m *Metrics, tp *sdktrace.TracerProvider, h http.Handler) http.Handler {
	return otelhttp.NewHandler(Middleware(m)(h), "test",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(propagation.TraceContext{}),
	)
}

func TestMiddleware_GeneratesCorrelationID(t *testing.T) {
	t.Parallel()
	m, _, _, _ := testSetup(t)

	var got string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/streak", nil))

	// No span and no caller ID: a UUID is minted.
	if len(got) != 36 {
		t.Errorf("correlation ID = %q, want a UUID", got)
	}
	if h := rec.Header().Get(CorrelationHeader); h != got {
		t.Errorf("response %s = %q, want %q", CorrelationHeader, h, got)
	}
}

func TestMiddleware_AdoptsCallerCorrelationID(t *testing.T) {
	t.Parallel()
	m, _, tp, _ := testSetup(t)

	var got string
	h := traced(m, tp, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/api/streak", nil)
	req.Header.Set(CorrelationHeader, "kid-tablet-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "kid-tablet-42" {
		t.Errorf("correlation ID = %q, want kid-tablet-42", got)
	}
	if h := rec.Header().Get(CorrelationHeader); h != "kid-tablet-42" {
		t.Errorf("response %s = %q, want kid-tablet-42", CorrelationHeader, h)
	}
}

func TestMiddleware_UsesIncomingTraceID(t *testing.T) {
	t.Parallel()
	m, _, tp, _ := testSetup(t)

	var got string
	h := traced(m, tp, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/api/progress", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if got != want {
		t.Errorf("correlation ID = %q, want %q", got, want)
	}
	if h := rec.Header().Get(CorrelationHeader); h != want {
		t.Errorf("response %s = %q, want %q", CorrelationHeader, h, want)
	}
}

func TestMiddleware_AnnotatesSpan(t *testing.T) {
	t.Parallel()
	m, _, tp, exp := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/collections/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := traced(m, tp, mux)

	req := httptest.NewRequest("GET", "/api/collections/999", nil)
	req.Header.Set(CorrelationHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want exactly the otelhttp server span", len(spans))
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["http.route"] != "GET /api/collections/{id}" {
		t.Errorf("http.route = %q", attrs["http.route"])
	}
	if attrs["hafiz.correlation_id"] != "abc" {
		t.Errorf("hafiz.correlation_id = %q", attrs["hafiz.correlation_id"])
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	t.Parallel()
	m, reader, _, _ := testSetup(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics-test", nil))

	rm := collect(t, reader)
	met := findMetric(rm, "hafiz.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v, want one sample", hist.DataPoints)
	}
	attrs := map[string]string{}
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["method"] != "GET" || attrs["path"] != "/metrics-test" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	t.Parallel()
	m, reader, _, _ := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/collections/{id}", func(http.ResponseWriter, *http.Request) {})
	h := Middleware(m)(mux)

	for _, id := range []string{"112", "113"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/collections/"+id, nil))
	}

	met := findMetric(collect(t, reader), "hafiz.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one route)", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 2 {
		t.Errorf("sample count = %d, want 2", hist.DataPoints[0].Count)
	}
}

func TestMiddleware_AllowsHijack(t *testing.T) {
	t.Parallel()
	m, _, tp, _ := testSetup(t)

	srv := httptest.NewServer(traced(m, tp, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, buf, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
		_ = buf.Flush()
	})))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/ws/changes")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 from the hijacked connection", resp.StatusCode)
	}
}
