package runtime

import (
	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
)

// LoggingHooks returns pre-built hooks that log traversal lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) chain.Hooks {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return chain.Hooks{
		OnStart: func(ev chain.Event) {
			logger.Info("Traversal started", eventFields(ev))
		},
		OnPause: func(ev chain.Event) {
			logger.Info("Traversal parked", eventFields(ev))
		},
		OnResume: func(ev chain.Event) {
			logger.Info("Traversal resumed", eventFields(ev))
		},
		OnFault: func(ev chain.Event, f *exchange.Fault) {
			fields := eventFields(ev)
			fields["fault_code"] = f.Code
			fields["fault_mode"] = f.Mode.String()
			logger.Error("Traversal faulted", f, fields)
		},
		OnFinish: func(ev chain.Event) {
			fields := eventFields(ev)
			fields["state"] = ev.State.String()
			fields["duration_ms"] = ev.Duration.Milliseconds()
			logger.Info("Traversal finished", fields)
		},
	}
}

// MetricsHooks returns pre-built hooks that report traversal outcomes to
// caller supplied counters. Each callback receives the endpoint and the
// traversal label.
func MetricsHooks(onStart, onDone, onFault func(endpoint, label string)) chain.Hooks {
	call := func(fn func(string, string), ev chain.Event) {
		if fn != nil {
			fn(splitTraversalName(ev.Name))
		}
	}
	return chain.Hooks{
		OnStart:  func(ev chain.Event) { call(onStart, ev) },
		OnFinish: func(ev chain.Event) { call(onDone, ev) },
		OnFault:  func(ev chain.Event, _ *exchange.Fault) { call(onFault, ev) },
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on faults.
func AlertingHooks(alertFunc func(ev chain.Event, fault *exchange.Fault)) chain.Hooks {
	return chain.Hooks{
		OnFault: alertFunc,
	}
}

func eventFields(ev chain.Event) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"chain_id": ev.ChainID,
		"chain":    ev.Name,
		"cursor":   ev.Cursor,
	}
	if ev.Message != nil {
		fields["message_id"] = ev.Message.ID()
		if ex := ev.Message.Exchange(); ex != nil {
			fields["correlation_id"] = ex.CorrelationID()
		}
	}
	return fields
}
