package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// opsHandler builds an instrumented handler around fn, with isolated metric
// and trace providers so tests don't pollute each other.
func opsHandler(t *testing.T, fn http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m)(fn), reader, exp
}

func TestMiddleware(t *testing.T) {
	t.Run("CorrelationIDReachesHandlerAndResponse", func(t *testing.T) {
		var seen string
		h, _, _ := opsHandler(t, func(w http.ResponseWriter, r *http.Request) {
			seen = CorrelationID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

		if len(seen) != 32 {
			t.Fatalf("correlation ID in handler context = %q, want a 32-char trace ID", seen)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != seen {
			t.Errorf("X-Correlation-ID header = %q, want %q", got, seen)
		}
	})

	t.Run("SpanCoversRequest", func(t *testing.T) {
		h, _, exp := opsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("recorded %d spans, want 1", len(spans))
		}
		if spans[0].Name != "HTTP GET /readyz" {
			t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /readyz")
		}
	})

	t.Run("RecordsRequestDuration", func(t *testing.T) {
		h, reader, _ := opsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}

		met := findMetric(rm, "sona.http.request.duration")
		if met == nil {
			t.Fatal("sona.http.request.duration not recorded")
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric data is %T, want histogram", met.Data)
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Fatalf("want exactly one sample, got %+v", hist.DataPoints)
		}

		var haveMethod, havePath bool
		for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
			switch {
			case string(kv.Key) == "method" && kv.Value.AsString() == "GET":
				haveMethod = true
			case string(kv.Key) == "path" && kv.Value.AsString() == "/metrics":
				havePath = true
			}
		}
		if !haveMethod || !havePath {
			t.Errorf("sample missing method/path attributes: method=%v path=%v", haveMethod, havePath)
		}
	})

	t.Run("DownstreamStatusLandsOnSpan", func(t *testing.T) {
		h, _, exp := opsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("response status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("recorded %d spans, want 1", len(spans))
		}
		var found bool
		for _, a := range spans[0].Attributes {
			if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
				found = true
			}
		}
		if !found {
			t.Error("span is missing http.response.status_code=503")
		}
	})

	t.Run("ContinuesIncomingTraceContext", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

		var seen string
		h, _, _ := opsHandler(t, func(w http.ResponseWriter, r *http.Request) {
			seen = CorrelationID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest("GET", "/healthz", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen != traceID {
			t.Errorf("handler saw trace ID %q, want the incoming %q", seen, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
	})
}
