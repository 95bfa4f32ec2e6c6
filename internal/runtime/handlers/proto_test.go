package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

func TestBuildProtoHandlerProcessesPayload(t *testing.T) {
	handler, err := BuildProtoHandler(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		assert.Equal(t, "value", evt.Payload.GetFields()["key"].GetStringValue())
		reply, err := structpb.NewStruct(map[string]any{"status": "ok"})
		require.NoError(t, err)
		return &ProtoMessageOutput{Message: reply, Metadata: evt.CloneMetadata().With("handled", "yes")}, nil
	}, nil, loggingpkg.Nop())
	require.NoError(t, err)

	msg := inbound(`{"key":"value"}`, metadatapkg.New("source", "test"))
	require.NoError(t, handler.Handle(context.Background(), msg))

	out := msg.Exchange().Out()
	require.NotNil(t, out)
	assert.Equal(t, "yes", out.Header("handled"))
	assert.Equal(t, "test", out.Header("source"))
	assert.Equal(t, "google.protobuf.Struct", out.Header(metadatapkg.KeyEventSchema))

	decoded := &structpb.Struct{}
	require.NoError(t, protojson.Unmarshal(out.Payload(), decoded))
	assert.Equal(t, "ok", decoded.GetFields()["status"].GetStringValue())
}

func TestBuildProtoHandlerUnmarshalError(t *testing.T) {
	handler, err := BuildProtoHandler(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		return nil, nil
	}, nil, loggingpkg.Nop())
	require.NoError(t, err)

	err = handler.Handle(context.Background(), inbound(`not-json`, nil))
	require.Error(t, err)
	assert.Equal(t, exchange.CodeClient, exchange.AsFault(err).Code)
}

func TestBuildProtoHandlerHandlerError(t *testing.T) {
	declared := exchange.ApplicationFault("rejected", errors.New("nope"))
	handler, err := BuildProtoHandler(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		return nil, declared
	}, nil, loggingpkg.Nop())
	require.NoError(t, err)

	err = handler.Handle(context.Background(), inbound(`{}`, nil))
	assert.Same(t, declared, exchange.AsFault(err))
}

func TestBuildProtoHandlerValidationFailure(t *testing.T) {
	validationErr := errors.New("invalid reply")
	handler, err := BuildProtoHandler(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		return &ProtoMessageOutput{Message: &structpb.Struct{}}, nil
	}, func(proto.Message) error { return validationErr }, loggingpkg.Nop())
	require.NoError(t, err)

	msg := inbound(`{}`, nil)
	assert.ErrorIs(t, handler.Handle(context.Background(), msg), validationErr)
	assert.Nil(t, msg.Exchange().Out())
}

func TestBuildProtoHandlerNilReplyMessage(t *testing.T) {
	handler, err := BuildProtoHandler(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		return &ProtoMessageOutput{}, nil
	}, nil, loggingpkg.Nop())
	require.NoError(t, err)

	assert.ErrorContains(t, handler.Handle(context.Background(), inbound(`{}`, nil)), "nil message")
}

func TestBuildProtoHandlerValidations(t *testing.T) {
	_, err := BuildProtoHandler[*structpb.Struct](&structpb.Struct{}, nil, nil, loggingpkg.Nop())
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	var nilStruct *structpb.Struct
	_, err = BuildProtoHandler(nilStruct, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (*ProtoMessageOutput, error) {
		return nil, nil
	}, nil, loggingpkg.Nop())
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessageTypeRequired)
}

func TestClonePrototypeResetsContent(t *testing.T) {
	original, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)

	cloned, err := clonePrototype(original)
	require.NoError(t, err)
	assert.Empty(t, cloned.GetFields())
	assert.NotSame(t, original, cloned)

	var nilStruct *structpb.Struct
	_, err = clonePrototype(nilStruct)
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessageTypeRequired)
}

func TestEnsureProtoPrototype(t *testing.T) {
	var nilStruct *structpb.Struct
	got, err := EnsureProtoPrototype(nilStruct)
	require.NoError(t, err)
	assert.NotNil(t, got)

	existing := &structpb.Struct{}
	got, err = EnsureProtoPrototype(existing)
	require.NoError(t, err)
	assert.Same(t, existing, got)

	var iface proto.Message
	_, err = EnsureProtoPrototype(iface)
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessageTypeRequired)
}

func TestIsNilProto(t *testing.T) {
	var nilStruct *structpb.Struct
	assert.True(t, isNilProto(nilStruct))
	assert.False(t, isNilProto(&structpb.Struct{}))
}
