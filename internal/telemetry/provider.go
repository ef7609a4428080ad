package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MimeLyc/tune-ripper/pkg/log"
)

const serviceName = "tune-ripper"

// Providers owns the SDK meter and tracer providers of the process. Metrics
// are pulled on demand through Snapshot; finished spans go to the log.
type Providers struct {
	reader *sdkmetric.ManualReader
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

func NewProviders() *Providers {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	reader := sdkmetric.NewManualReader()
	return &Providers{
		reader: reader,
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		),
		traces: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(logSpanProcessor{}),
		),
	}
}

// Recorder builds a Recorder on these providers.
func (p *Providers) Recorder() *Recorder {
	return New(p.meters, p.traces)
}

func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.traces.Shutdown(ctx), p.meters.Shutdown(ctx))
}

// Point is one metric data point in a Snapshot. Histograms fill Count and
// Sum, counters fill Value.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Snapshot collects the current value of every instrument, sorted by name.
func (p *Providers) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	points := make([]Point, 0)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return attrKey(points[i].Attributes) < attrKey(points[j].Attributes)
	})
	return points, nil
}

// Handler serves the Snapshot as JSON.
func (p *Providers) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points, err := p.Snapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"metrics": points})
	})
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func attrKey(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// logSpanProcessor writes every finished span as a debug line, failed spans
// as warnings.
type logSpanProcessor struct{}

func (logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := make([]string, 0, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key)+"="+kv.Value.Emit())
	}
	took := s.EndTime().Sub(s.StartTime())
	if s.Status().Code == codes.Error {
		log.Warn("span %s failed after %s [%s]: %s", s.Name(), took, strings.Join(attrs, " "), s.Status().Description)
		return
	}
	log.Debug("span %s took %s [%s]", s.Name(), took, strings.Join(attrs, " "))
}

func (logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (logSpanProcessor) ForceFlush(context.Context) error { return nil }
