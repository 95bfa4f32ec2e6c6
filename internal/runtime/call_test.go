package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	handlerpkg "github.com/drblury/phaseflow/internal/runtime/handlers"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/unit"
	channeltransport "github.com/drblury/phaseflow/transport/channel"
)

func TestDispatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, ServiceDependencies{})
	registerUpperServer(t, svc, "orders")
	registerClient(t, svc, "orders-client", "orders.requests")

	call, err := svc.Dispatch(ctx, "orders-client", []byte("ping"), metadatapkg.New("tenant", "acme"))
	require.NoError(t, err)
	assert.Equal(t, chain.Paused, call.Chain().State())
	assert.Equal(t, []string{call.CorrelationID()}, svc.Parked())
	select {
	case <-call.Done():
		t.Fatal("call finished before the response arrived")
	default:
	}

	requests := pub.Messages("orders.requests")
	require.Len(t, requests, 1)
	assert.Equal(t, "orders-client.replies", requests[0].Metadata.Get(metadatapkg.KeyReplyTo))
	assert.Equal(t, call.CorrelationID(), requests[0].Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, "acme", requests[0].Metadata.Get("tenant"))

	_, err = svc.ObserveNewMessage(ctx, deliver(requests[0], "orders"))
	require.NoError(t, err)

	replies := pub.Messages("orders-client.replies")
	require.Len(t, replies, 1)
	resumed, err := svc.ObserveNewMessage(ctx, deliver(replies[0], "orders-client"))
	require.NoError(t, err)
	assert.Same(t, call.Chain(), resumed)

	resp, err := call.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "PING", string(resp.Payload()))
	assert.Equal(t, chain.Completed, call.Chain().State())
	assert.Empty(t, svc.Parked())
}

func TestDispatchPropagatesServerFault(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, ServiceDependencies{})
	require.NoError(t, RegisterEndpoint(svc, EndpointRegistration{
		Name:         "orders",
		ConsumeQueue: "orders.requests",
		Handler: unit.HandlerFunc(func(context.Context, *exchange.Message) error {
			return exchange.ApplicationFault("out_of_stock", errors.New("no stock left"))
		}),
	}))
	registerClient(t, svc, "orders-client", "orders.requests")

	call, err := svc.Dispatch(ctx, "orders-client", []byte("{}"), nil)
	require.NoError(t, err)

	_, err = svc.ObserveNewMessage(ctx, deliver(pub.Messages("orders.requests")[0], "orders"))
	require.NoError(t, err)
	faults := pub.Messages("orders-client.replies")
	require.Len(t, faults, 1)
	_, err = svc.ObserveNewMessage(ctx, deliver(faults[0], "orders-client"))
	require.NoError(t, err)

	_, err = call.Wait(ctx)
	require.Error(t, err)
	f := exchange.AsFault(err)
	assert.Equal(t, "out_of_stock", f.Code)
	assert.Equal(t, exchange.CheckedApplicationFault, f.Mode)
	assert.Equal(t, UnitInvoke, f.UnitID)
	assert.NotNil(t, call.Exchange().InFault())
	assert.Equal(t, chain.Completed, call.Chain().State())
}

func TestDispatchOneWayCompletesImmediately(t *testing.T) {
	svc, pub := newTestService(t, ServiceDependencies{})
	require.NoError(t, RegisterEndpoint(svc, EndpointRegistration{
		Name:         "notify",
		Role:         RoleClient,
		PublishQueue: "notifications",
		OneWay:       true,
	}))

	call, err := svc.Dispatch(context.Background(), "notify", []byte("hi"), nil)
	require.NoError(t, err)

	resp, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Empty(t, svc.Parked())
	published := pub.Messages("notifications")
	require.Len(t, published, 1)
	assert.Empty(t, published[0].Metadata.Get(metadatapkg.KeyReplyTo))
}

func TestDispatchPublishFailureFaultsTheCall(t *testing.T) {
	svc, pub := newTestService(t, ServiceDependencies{})
	registerClient(t, svc, "orders-client", "orders.requests")
	pub.Err = errors.New("connection refused")

	call, err := svc.Dispatch(context.Background(), "orders-client", []byte("x"), nil)
	require.NoError(t, err)

	_, err = call.Wait(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "orders.requests", transportErr.Topic)
	assert.Empty(t, svc.Parked())
}

func TestCallWaitTimeoutAbortsParkedExchange(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	registerClient(t, svc, "orders-client", "orders.requests")

	call, err := svc.Dispatch(context.Background(), "orders-client", []byte("x"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = call.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-call.Done()
	assert.Equal(t, chain.Aborted, call.Chain().State())
	assert.Empty(t, svc.Parked())
	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrAborted)
}

func TestResumeAttachesResponse(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	registerClient(t, svc, "orders-client", "orders.requests")

	call, err := svc.Dispatch(context.Background(), "orders-client", []byte("x"), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Resume(context.Background(), call.CorrelationID(), nil), errspkg.ErrPayloadRequired)
	require.NoError(t, svc.Resume(context.Background(), call.CorrelationID(), exchange.NewMessage([]byte("direct"))))

	resp, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "direct", string(resp.Payload()))

	err = svc.Resume(context.Background(), call.CorrelationID(), exchange.NewMessage(nil))
	assert.ErrorIs(t, err, errspkg.ErrNotPaused, "a parked exchange resumes once")
}

func TestAbortUnknownCorrelation(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	assert.ErrorIs(t, svc.Abort(context.Background(), "nope"), errspkg.ErrNotPaused)
}

func TestDispatchRequiresClientEndpoint(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	registerUpperServer(t, svc, "orders")

	_, err := svc.Dispatch(context.Background(), "orders", []byte("x"), nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownEndpoint)

	_, err = svc.Dispatch(context.Background(), "missing", []byte("x"), nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownEndpoint)
}

type quoteRequest struct {
	Symbol string `json:"symbol"`
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestDispatchJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, ServiceDependencies{})
	require.NoError(t, RegisterJSONEndpoint(svc, JSONEndpointRegistration[*quoteRequest, *quoteResponse]{
		EndpointOptions: EndpointOptions{Name: "quotes", ConsumeQueue: "quotes.requests"},
		Handler: func(_ context.Context, evt handlerpkg.JSONMessageContext[*quoteRequest]) (*handlerpkg.JSONMessageOutput[*quoteResponse], error) {
			return &handlerpkg.JSONMessageOutput[*quoteResponse]{
				Message: &quoteResponse{Symbol: evt.Payload.Symbol, Price: 42.5},
			}, nil
		},
	}))
	registerClient(t, svc, "quotes-client", "quotes.requests")

	call, err := svc.DispatchJSON(ctx, "quotes-client", quoteRequest{Symbol: "ACME"}, nil)
	require.NoError(t, err)
	request := pub.Messages("quotes.requests")[0]
	assert.Equal(t, "runtime.quoteRequest", request.Metadata.Get(metadatapkg.KeyEventSchema))

	_, err = svc.ObserveNewMessage(ctx, deliver(request, "quotes"))
	require.NoError(t, err)
	_, err = svc.ObserveNewMessage(ctx, deliver(pub.Messages("quotes-client.replies")[0], "quotes-client"))
	require.NoError(t, err)

	resp, err := call.Wait(ctx)
	require.NoError(t, err)
	var quote quoteResponse
	require.NoError(t, DecodeJSON(resp, &quote))
	assert.Equal(t, quoteResponse{Symbol: "ACME", Price: 42.5}, quote)
}

func TestDispatchOverChannelTransport(t *testing.T) {
	channeltransport.Register()
	svc := NewService(&configpkg.Config{PubSubSystem: channeltransport.TransportName}, newTestLogger(), context.Background(), ServiceDependencies{})
	registerUpperServer(t, svc, "orders")
	registerClient(t, svc, "orders-client", "orders.requests")

	runCtx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(runCtx) }()
	t.Cleanup(func() {
		stop()
		<-errCh
		_ = svc.Close()
	})
	<-svc.Running()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	call, err := svc.Dispatch(ctx, "orders-client", []byte("over the wire"), nil)
	require.NoError(t, err)
	resp, err := call.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OVER THE WIRE", string(resp.Payload()))
	assert.Empty(t, svc.Parked())
}
