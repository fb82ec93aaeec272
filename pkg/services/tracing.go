package services

import (
	"context"

	"github.com/dukex/nodebase/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// nolint:spancheck // the span is ended by finish
func startSpan(ctx context.Context, tracer trace.Tracer, name string, organizationID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64(otelhelper.OrganizationIDKey, organizationID))

	return otelhelper.StartSpan(ctx, tracer, name, attrs...)
}

func finish(span trace.Span, err error) {
	otelhelper.End(span, err)
}
