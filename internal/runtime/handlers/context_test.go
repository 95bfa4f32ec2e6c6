package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/phaseflow/internal/runtime/exchange"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

func TestMessageContextBase_Get(t *testing.T) {
	base := MessageContextBase{Metadata: metadatapkg.New("key", "value")}

	assert.Equal(t, "value", base.Get("key"))
	assert.Equal(t, "", base.Get("missing"))
}

func TestMessageContextBase_CorrelationID(t *testing.T) {
	tests := []struct {
		name string
		base MessageContextBase
		want string
	}{
		{
			name: "from metadata",
			base: MessageContextBase{Metadata: metadatapkg.New(metadatapkg.KeyCorrelationID, "corr-1")},
			want: "corr-1",
		},
		{
			name: "empty without exchange",
			base: MessageContextBase{Metadata: metadatapkg.Metadata{}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.base.CorrelationID())
		})
	}

	t.Run("falls back to exchange", func(t *testing.T) {
		ex := exchange.New("orders", nil)
		ex.SetCorrelationID("from-exchange")
		base := MessageContextBase{Metadata: metadatapkg.Metadata{}, Exchange: ex}
		assert.Equal(t, "from-exchange", base.CorrelationID())
	})
}

func TestMessageContextBase_CloneMetadata(t *testing.T) {
	original := metadatapkg.New("key", "value")
	base := MessageContextBase{Metadata: original}

	cloned := base.CloneMetadata()
	cloned["key"] = "changed"
	cloned["new"] = "entry"

	assert.Equal(t, "value", original["key"])
	_, ok := original["new"]
	assert.False(t, ok)
}

func TestHandlerFaultKeepsDeclaredFaults(t *testing.T) {
	declared := exchange.ApplicationFault("out-of-stock", assert.AnError)
	assert.Same(t, declared, exchange.AsFault(handlerFault(declared)))

	f := exchange.AsFault(handlerFault(assert.AnError))
	assert.Equal(t, exchange.UncheckedApplicationFault, f.Mode)
	assert.Equal(t, exchange.CodeServer, f.Code)
	assert.ErrorIs(t, f, assert.AnError)
}

func TestWriteReplyRequiresExchange(t *testing.T) {
	err := writeReply(exchange.NewMessage(nil), []byte("{}"), nil, "")
	assert.Error(t, err)
}
