package server

import (
	"context"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fior4neee/Message-Broadcasting/pkg/server"

// tracer resolves against the global provider, so spans are no-ops unless
// the embedding program calls otel.SetTracerProvider.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startDispatchSpan opens a span around handling one inbound frame
func startDispatchSpan(ctx context.Context, sess *Session, frame *protocol.Frame) (context.Context, trace.Span) {
	return tracer().Start(ctx, "chat.dispatch "+protocol.TypeName(frame.Type),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("chat.session_id", sess.ID),
			attribute.String("chat.message_type", protocol.TypeName(frame.Type)),
			attribute.Int("chat.payload_len", len(frame.Payload)),
		),
	)
}

// startBroadcastSpan opens a span around one fan-out
func startBroadcastSpan(ctx context.Context, msgType uint8, recipients int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "chat.broadcast "+protocol.TypeName(msgType),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("chat.message_type", protocol.TypeName(msgType)),
			attribute.Int("chat.recipients", recipients),
		),
	)
}

// endSpan records err on the span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
