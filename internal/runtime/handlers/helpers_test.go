package handlers

import (
	"time"

	"github.com/drblury/phaseflow/internal/runtime/exchange"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

type jsonIncoming struct {
	ID int `json:"id"`
}

type jsonOutgoing struct {
	ID        int       `json:"id"`
	Processed time.Time `json:"processed"`
}

func inbound(payload string, md metadatapkg.Metadata) *exchange.Message {
	ex := exchange.New("orders", nil)
	msg := exchange.NewMessage([]byte(payload))
	if md != nil {
		msg.SetHeaders(md)
	}
	ex.SetIn(msg)
	return msg
}
