// Package tracing records each kernel run as an OpenTelemetry span. Every
// dispatch, suspension and exit becomes a span event, so an exported trace
// replays the schedule.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/me/os3/internal/scheduler"
)

const instrumentationName = "github.com/me/os3/internal/kernel"

// Tracer owns a tracer provider. A nil *Tracer is valid and records nothing.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	out      io.Closer
}

// New configures the stdout exporter. output "-" writes to os.Stdout, any
// other value names a file that is created or truncated. An empty output
// disables tracing and returns a nil *Tracer.
func New(serviceName, serviceVersion, output string) (*Tracer, error) {
	if output == "" {
		return nil, nil
	}

	var (
		w   io.Writer = os.Stdout
		out io.Closer
	)
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return nil, err
		}
		w, out = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if out != nil {
			out.Close()
		}
		return nil, err
	}
	t, err := NewWithExporter(serviceName, serviceVersion, exporter)
	if err != nil {
		if out != nil {
			out.Close()
		}
		return nil, err
	}
	t.out = out
	return t, nil
}

// NewWithExporter configures tracing with any SDK span exporter.
func NewWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*Tracer, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	return &Tracer{provider: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

// Shutdown flushes pending spans and closes the output file.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	err := t.provider.Shutdown(ctx)
	if t.out != nil {
		err = errors.Join(err, t.out.Close())
	}
	return err
}

// StartRun opens the span of one kernel run.
func (t *Tracer) StartRun(ctx context.Context, runID string, apps []string) *RunSpan {
	if t == nil {
		return nil
	}
	_, span := t.tracer.Start(ctx, "kernel.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.num_app", len(apps)),
			attribute.StringSlice("run.apps", apps),
		),
	)
	return &RunSpan{span: span}
}

// RunSpan is the span of a single run. It observes the scheduler; a nil
// *RunSpan ignores every call.
type RunSpan struct {
	span trace.Span
}

func (s *RunSpan) TaskDispatched(from, to int, timeUS uint64) {
	if s == nil {
		return
	}
	s.span.AddEvent("dispatch", trace.WithAttributes(
		attribute.Int("task.from", from),
		attribute.Int("task.to", to),
		attribute.Int64("time_us", int64(timeUS)),
	))
}

func (s *RunSpan) TaskSuspended(id int, timeUS uint64) {
	if s == nil {
		return
	}
	s.span.AddEvent("suspend", trace.WithAttributes(
		attribute.Int("task.id", id),
		attribute.Int64("time_us", int64(timeUS)),
	))
}

func (s *RunSpan) TaskExited(id, code int, timeUS uint64) {
	if s == nil {
		return
	}
	s.span.AddEvent("exit", trace.WithAttributes(
		attribute.Int("task.id", id),
		attribute.Int("task.exit_code", code),
		attribute.Int64("time_us", int64(timeUS)),
	))
}

func (s *RunSpan) Halted(err error, timeUS uint64) {
	if s == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int64("time_us", int64(timeUS))}
	if err != nil {
		attrs = append(attrs, attribute.String("halt.reason", err.Error()))
	}
	s.span.AddEvent("halt", trace.WithAttributes(attrs...))
}

// End closes the span. A nil err or scheduler.ErrAllTasksCompleted is a
// clean finish; anything else marks the span as failed.
func (s *RunSpan) End(err error, switches uint64) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64("run.switches", int64(switches)))
	if err == nil || errors.Is(err, scheduler.ErrAllTasksCompleted) {
		s.span.SetStatus(codes.Ok, "")
	} else {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

var _ scheduler.Observer = (*RunSpan)(nil)
