package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syncline-dev/syncline/pkg/server"
)

const defaultTracerName = "syncline"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "syncline").
	TracerName string

	// Filter determines which dispatches to trace. Return false to skip.
	// If nil, everything is traced.
	Filter func(c *server.Ctx) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(c *server.Ctx) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithDispatchFilter sets a filter function for dispatches.
func WithDispatchFilter(filter func(c *server.Ctx) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *server.Ctx) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates middleware that opens a span per dispatched event.
//
// Each span carries the handler path, session token, and background flag,
// plus the number of deltas the dispatch emitted. Errors are recorded and
// set the span status. The tracer uses the global provider; configure it
// in main() before starting the server.
func OpenTelemetry(opts ...OTelOption) server.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return func(next server.HandlerFunc) server.HandlerFunc {
		return func(c *server.Ctx) error {
			if config.Filter != nil && !config.Filter(c) {
				return next(c)
			}

			attrs := []attribute.KeyValue{
				attribute.String("syncline.handler", c.HandlerPath()),
				attribute.String("syncline.session_token", c.SessionToken()),
				attribute.Bool("syncline.background", c.Background()),
			}
			if c.Background() {
				attrs = append(attrs, attribute.String("syncline.task_id", c.TaskID()))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(c)...)
			}

			_, span := config.tracer.Start(
				c.Context(),
				"syncline.dispatch "+c.HandlerPath(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := next(c)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.SetAttributes(attribute.Int("syncline.delta_count", c.DeltaCount()))

			return err
		}
	}
}
