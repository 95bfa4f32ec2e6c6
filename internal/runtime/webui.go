package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	transportpkg "github.com/drblury/phaseflow/transport"
)

// EndpointView is the introspection form of a registered endpoint.
type EndpointView struct {
	Name         string         `json:"name"`
	Role         string         `json:"role"`
	ConsumeQueue string         `json:"consume_queue,omitempty"`
	PublishQueue string         `json:"publish_queue,omitempty"`
	OneWay       bool           `json:"one_way"`
	Inbound      []string       `json:"inbound"`
	Outbound     []string       `json:"outbound"`
	Faults       []string       `json:"faults"`
	Error        string         `json:"error,omitempty"`
	Stats        *EndpointStats `json:"stats"`
}

// Snapshot is the document served by the introspection API.
type Snapshot struct {
	Endpoints []EndpointView            `json:"endpoints"`
	Templates chain.CacheStats          `json:"templates"`
	Transport transportpkg.Capabilities `json:"transport"`
	Parked    []string                  `json:"parked"`
}

// Snapshot describes the endpoints, their assembled traversals and the
// exchanges waiting for a response.
func (s *Service) Snapshot() Snapshot {
	names := s.EndpointNames()
	views := make([]EndpointView, 0, len(names))
	for _, name := range names {
		ep, ok := s.endpoint(name)
		if !ok {
			continue
		}
		views = append(views, s.describeEndpoint(ep))
	}
	return Snapshot{
		Endpoints: views,
		Templates: s.templates.Stats(),
		Transport: s.capabilities,
		Parked:    s.parked.ids(),
	}
}

func (s *Service) describeEndpoint(ep *endpoint) EndpointView {
	view := EndpointView{
		Name:         ep.reg.Name,
		Role:         ep.reg.Role.String(),
		ConsumeQueue: ep.reg.ConsumeQueue,
		PublishQueue: ep.reg.PublishQueue,
		OneWay:       ep.reg.OneWay,
		Stats:        ep.stats,
	}
	in, err := s.template(ep, phase.Inbound)
	if err != nil {
		view.Error = err.Error()
		return view
	}
	out, err := s.template(ep, phase.Outbound)
	if err != nil {
		view.Error = err.Error()
		return view
	}
	view.Inbound = in.IDs()
	view.Outbound = out.IDs()
	for _, u := range in.Faults() {
		view.Faults = append(view.Faults, u.ID())
	}
	return view
}

// StartWebUIServer exposes the introspection API when the web UI is enabled.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/endpoints", http.HandlerFunc(s.handleGetEndpoints))
}

func (s *Service) handleGetEndpoints(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body, err := jsoncodec.Marshal(s.Snapshot())
	if err != nil {
		s.Logger.Error("Failed to encode endpoints", err, loggingpkg.LogFields{"path": r.URL.Path})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
