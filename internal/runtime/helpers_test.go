package runtime

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/internal/runtime/unit"
	transportpkg "github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/transporttest"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type testValidator struct{ err error }

func (v *testValidator) Validate(_ any) error { return v.err }

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// recordingLogger keeps every entry, including those of derived loggers.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	base    loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: l.mu, entries: l.entries, base: merged}
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.mu.Lock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) Entries(msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range *l.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// newTestService builds a service over a transport that records every
// publish instead of sending it.
func newTestService(t *testing.T, deps ServiceDependencies) (*Service, *transporttest.Publisher) {
	t.Helper()
	return newTestServiceWithConfig(t, &configpkg.Config{PubSubSystem: "test"}, deps)
}

func newTestServiceWithConfig(t *testing.T, cfg *configpkg.Config, deps ServiceDependencies) (*Service, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	deps.TransportBuilder = func(context.Context, transportpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{Publisher: pub, Subscriber: sub}, nil
	}
	if cfg.PubSubSystem == "" {
		cfg.PubSubSystem = "test"
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), deps)
	require.NotNil(t, svc)
	return svc, pub
}

func newRequest(endpoint, payload string, pairs ...string) *exchange.Message {
	msg := exchange.NewMessage([]byte(payload))
	msg.SetHeaders(metadatapkg.New(pairs...))
	msg.SetHeader(metadatapkg.KeyEndpoint, endpoint)
	return msg
}

// deliver turns a published message back into transport input for
// endpoint, the way the router binding does.
func deliver(wm *message.Message, endpoint string) *exchange.Message {
	msg := fromWatermill(wm)
	msg.SetHeader(metadatapkg.KeyEndpoint, endpoint)
	return msg
}

// upperHandler replies with the upper-cased request payload.
func upperHandler(_ context.Context, msg *exchange.Message) error {
	out := msg.Exchange().EnsureOut()
	out.SetPayload([]byte(strings.ToUpper(string(msg.Payload()))))
	return nil
}

func registerUpperServer(t *testing.T, svc *Service, name string) {
	t.Helper()
	require.NoError(t, RegisterEndpoint(svc, EndpointRegistration{
		Name:         name,
		ConsumeQueue: name + ".requests",
		PublishQueue: name + ".responses",
		Handler:      unit.HandlerFunc(upperHandler),
	}))
}

func registerClient(t *testing.T, svc *Service, name, requests string) {
	t.Helper()
	require.NoError(t, RegisterEndpoint(svc, EndpointRegistration{
		Name:         name,
		Role:         RoleClient,
		ConsumeQueue: name + ".replies",
		PublishQueue: requests,
	}))
}
