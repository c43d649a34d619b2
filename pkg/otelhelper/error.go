package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span as failed and records the error alongside any
// extra attributes.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// SetStepError records a step execution failure with the step identity
// attached, so traces can be filtered by the step that failed.
func SetStepError(span trace.Span, err error, stepID, stepType string) {
	SetError(span, err,
		attribute.String(StepIDKey, stepID),
		attribute.String(StepTypeKey, stepType),
	)
}

// SetTransactionError records a transaction submission failure with the
// transaction reference attached.
func SetTransactionError(span trace.Span, err error, transactionID, reference string) {
	SetError(span, err,
		attribute.String(TransactionIDKey, transactionID),
		attribute.String(ReferenceKey, reference),
	)
}
