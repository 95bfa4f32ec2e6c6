package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/unit"
)

func TestMarshalFaultRoundTripsThroughCheckFault(t *testing.T) {
	ex := exchange.New("orders", nil)
	ex.SetCorrelationID("corr-1")
	msg := exchange.NewMessage(nil)
	ex.SetIn(msg)
	msg.SetFault((&exchange.Fault{
		Code:   "out_of_stock",
		Reason: "no stock left",
		Mode:   exchange.CheckedApplicationFault,
		UnitID: UnitInvoke,
		Phase:  "invoke",
	}).WithDetail("sku", "A-1"))

	require.NoError(t, marshalFault(context.Background(), msg))
	fm := ex.OutFault()
	require.NotNil(t, fm)
	assert.Equal(t, "true", fm.Header(metadatapkg.KeyFault))
	assert.Equal(t, "corr-1", fm.Header(metadatapkg.KeyRelatesTo))

	received := exchange.NewMessage(fm.Payload())
	received.SetHeaders(fm.Headers())
	err := checkFault(context.Background(), received)
	require.Error(t, err)
	f := exchange.AsFault(err)
	assert.Equal(t, "out_of_stock", f.Code)
	assert.Equal(t, "no stock left", f.Reason)
	assert.Equal(t, exchange.CheckedApplicationFault, f.Mode)
	assert.Equal(t, UnitInvoke, f.UnitID)
	assert.Equal(t, map[string]string{"sku": "A-1"}, f.Details)
}

func TestMarshalFaultFallsBackToExchangeFault(t *testing.T) {
	ex := exchange.New("orders", nil)
	msg := exchange.NewMessage(nil)
	ex.SetIn(msg)

	require.NoError(t, marshalFault(context.Background(), msg))
	assert.Nil(t, ex.OutFault(), "nothing to marshal without a fault")

	ex.SetFault(exchange.NewFault(exchange.CodeServer, "boom"))
	require.NoError(t, marshalFault(context.Background(), msg))
	require.NotNil(t, ex.OutFault())
	assert.Equal(t, "boom", ex.OutFault().Fault().Reason)
}

func TestCheckFaultIgnoresRegularResponses(t *testing.T) {
	assert.NoError(t, checkFault(context.Background(), exchange.NewMessage([]byte("{}"))))
}

func TestCheckFaultRejectsUnreadablePayload(t *testing.T) {
	msg := exchange.NewMessage([]byte("not json"))
	msg.SetHeader(metadatapkg.KeyFault, "true")

	f := exchange.AsFault(checkFault(context.Background(), msg))
	require.NotNil(t, f)
	assert.Equal(t, exchange.CodeClient, f.Code)
	assert.Equal(t, exchange.RuntimeFault, f.Mode)
	assert.Contains(t, f.Reason, "unreadable fault payload")
}

func TestParseFaultMode(t *testing.T) {
	for _, m := range []exchange.FaultMode{
		exchange.RuntimeFault,
		exchange.LogicalRuntimeFault,
		exchange.CheckedApplicationFault,
		exchange.UncheckedApplicationFault,
	} {
		assert.Equal(t, m, parseFaultMode(m.String()))
	}
	assert.Equal(t, exchange.RuntimeFault, parseFaultMode("made-up"))
}

func TestReplyTopicPrefersReplyTo(t *testing.T) {
	ep := &endpoint{reg: EndpointRegistration{PublishQueue: "orders.out"}}

	ex := exchange.New("orders", nil)
	assert.Equal(t, "orders.out", replyTopic(ep, ex))

	in := exchange.NewMessage(nil)
	ex.SetIn(in)
	assert.Equal(t, "orders.out", replyTopic(ep, ex))

	in.SetHeader(metadatapkg.KeyReplyTo, "caller.replies")
	assert.Equal(t, "caller.replies", replyTopic(ep, ex))
}

func TestCaptureFaultKeepsFirstFaultMessage(t *testing.T) {
	ex := exchange.New("orders-client", nil)
	first := exchange.NewMessage([]byte("first"))
	first.SetFault(exchange.NewFault(exchange.CodeServer, "first"))
	ex.SetIn(first)

	require.NoError(t, captureFault(context.Background(), first))
	assert.Same(t, first, ex.InFault())

	second := exchange.NewMessage([]byte("second"))
	ex.SetIn(second)
	require.NoError(t, captureFault(context.Background(), second))
	assert.Same(t, first, ex.InFault())

	assert.NoError(t, captureFault(context.Background(), exchange.NewMessage(nil)))
}

func TestInvokeUnitClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantMode exchange.FaultMode
		wantCode string
	}{
		{"plain error", errors.New("boom"), exchange.UncheckedApplicationFault, exchange.CodeServer},
		{"declared fault", exchange.ApplicationFault("declined", errors.New("card declined")), exchange.CheckedApplicationFault, "declined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := invokeUnit(unit.HandlerFunc(func(context.Context, *exchange.Message) error { return tt.err }))
			f := exchange.AsFault(u.Handle(context.Background(), exchange.NewMessage(nil)))
			require.NotNil(t, f)
			assert.Equal(t, tt.wantMode, f.Mode)
			assert.Equal(t, tt.wantCode, f.Code)
		})
	}

	suspend := invokeUnit(unit.HandlerFunc(func(context.Context, *exchange.Message) error { return errspkg.Suspend() }))
	assert.True(t, errspkg.IsSuspend(suspend.Handle(context.Background(), exchange.NewMessage(nil))))

	ok := invokeUnit(unit.HandlerFunc(func(context.Context, *exchange.Message) error { return nil }))
	assert.NoError(t, ok.Handle(context.Background(), exchange.NewMessage(nil)))
}

func TestReleaseHandlerDropsStaleParkedEntry(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	ex := exchange.New("orders-client", nil)
	ex.SetCorrelationID("stale")
	ex.Put(exchange.PropRequestor, true)
	msg := exchange.NewMessage(nil)
	ex.SetOut(msg)
	svc.parked.put("stale", parkedExchange{exchange: ex})

	require.NoError(t, svc.releaseHandler().Handle(context.Background(), msg))
	assert.Empty(t, svc.Parked())
}
