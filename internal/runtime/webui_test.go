package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
)

type snapshotDoc struct {
	Endpoints []struct {
		Name     string         `json:"name"`
		Role     string         `json:"role"`
		OneWay   bool           `json:"one_way"`
		Inbound  []string       `json:"inbound"`
		Outbound []string       `json:"outbound"`
		Faults   []string       `json:"faults"`
		Error    string         `json:"error"`
		Stats    map[string]any `json:"stats"`
	} `json:"endpoints"`
	Templates struct {
		Size int `json:"size"`
	} `json:"templates"`
	Parked []string `json:"parked"`
}

func getEndpoints(t *testing.T, svc *Service, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/endpoints", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	svc.handleGetEndpoints(rec, req)
	return rec
}

func TestHandleGetEndpointsDescribesTraversals(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	registerUpperServer(t, svc, "orders")
	registerClient(t, svc, "orders-client", "orders.requests")

	call, err := svc.Dispatch(context.Background(), "orders-client", []byte("x"), nil)
	require.NoError(t, err)

	rec := getEndpoints(t, svc, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc snapshotDoc
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Endpoints, 2)
	assert.Equal(t, []string{call.CorrelationID()}, doc.Parked)
	assert.Positive(t, doc.Templates.Size)

	server := doc.Endpoints[0]
	assert.Equal(t, "orders", server.Name)
	assert.Equal(t, "server", server.Role)
	assert.Contains(t, server.Inbound, UnitInvoke)
	assert.Contains(t, server.Outbound, UnitSend)
	assert.Equal(t, []string{UnitLogFault, UnitFaultMarshal, UnitFaultSend}, server.Faults)
	assert.Empty(t, server.Error)

	client := doc.Endpoints[1]
	assert.Equal(t, "orders-client", client.Name)
	assert.Equal(t, "client", client.Role)
	assert.Contains(t, client.Inbound, UnitFaultCheck)
	assert.EqualValues(t, 1, client.Stats["suspensions"])
}

func TestHandleGetEndpointsCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"disabled", nil, "https://ui.example.com", ""},
		{"exact match", []string{"https://ui.example.com"}, "https://UI.example.com", "https://UI.example.com"},
		{"wildcard", []string{"*"}, "https://any.example.com", "*"},
		{"denied", []string{"https://ui.example.com"}, "https://evil.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestServiceWithConfig(t, &configpkg.Config{WebUICORSAllowedOrigins: tt.allowed}, ServiceDependencies{})
			rec := getEndpoints(t, svc, http.MethodGet, tt.origin)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestHandleGetEndpointsPreflight(t *testing.T) {
	svc, _ := newTestServiceWithConfig(t, &configpkg.Config{WebUICORSAllowedOrigins: []string{"*"}}, ServiceDependencies{})
	rec := getEndpoints(t, svc, http.MethodOptions, "https://ui.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestStartWebUIServerRegistersHandler(t *testing.T) {
	svc, _ := newTestService(t, ServiceDependencies{})
	svc.StartWebUIServer()
	assert.Empty(t, svc.httpServers, "disabled web UI registers nothing")

	svc, _ = newTestServiceWithConfig(t, &configpkg.Config{WebUIEnabled: true}, ServiceDependencies{})
	svc.StartWebUIServer()
	mux, ok := svc.httpServers[8081]
	require.True(t, ok)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/endpoints", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
