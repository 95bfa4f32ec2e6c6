package runtime

import (
	"google.golang.org/protobuf/proto"

	handlerpkg "github.com/drblury/phaseflow/internal/runtime/handlers"
)

// NewProtoMessage instantiates a zero-value protobuf message for T.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage is NewProtoMessage that panics when T cannot be created.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
