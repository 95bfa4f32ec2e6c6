package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// UnprocessableEventError wraps payloads that failed validation or unmarshalling.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

// TransportError reports a publish that the transport refused or failed.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return "publish to " + e.Topic + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// EndpointStats aggregates the traversals of one endpoint. It is fed by
// traversal hooks and read by the introspection API.
type EndpointStats struct {
	mu sync.Mutex `json:"-"`

	Traversals     uint64    `json:"traversals"`
	Completed      uint64    `json:"completed"`
	Aborted        uint64    `json:"aborted"`
	Suspensions    uint64    `json:"suspensions"`
	Faults         uint64    `json:"faults"`
	LastFinishedAt time.Time `json:"last_finished_at"`
	LastFault      string    `json:"last_fault,omitempty"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Backlog    BacklogMetrics    `json:"backlog"`

	totalTime        int64
	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	classifier       ErrorClassifier
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation  uint64 `json:"validation"`
	Transport   uint64 `json:"transport"`
	Downstream  uint64 `json:"downstream"`
	Application uint64 `json:"application"`
	Other       uint64 `json:"other"`
	LastError   string `json:"last_error,omitempty"`
}

// BacklogMetrics counts traversals that started but have not finished,
// parked ones included.
type BacklogMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
}

type ErrorCategory string

const (
	ErrorCategoryNone        ErrorCategory = "none"
	ErrorCategoryValidation  ErrorCategory = "validation"
	ErrorCategoryTransport   ErrorCategory = "transport"
	ErrorCategoryDownstream  ErrorCategory = "downstream"
	ErrorCategoryApplication ErrorCategory = "application"
	ErrorCategoryOther       ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newEndpointStats(classifier ErrorClassifier) *EndpointStats {
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	return &EndpointStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		classifier:       classifier,
	}
}

// Hooks feeds the stats from traversal lifecycle events.
func (h *EndpointStats) Hooks() chain.Hooks {
	return chain.Hooks{
		OnStart: func(chain.Event) { h.onStart() },
		OnPause: func(chain.Event) {
			h.mu.Lock()
			h.Suspensions++
			h.mu.Unlock()
		},
		OnFault:  func(_ chain.Event, f *exchange.Fault) { h.onFault(f) },
		OnFinish: h.onFinish,
	}
}

func (h *EndpointStats) onStart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Traversals++
	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}
}

func (h *EndpointStats) onFault(f *exchange.Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Faults++
	h.Errors.Record(h.classifier(f), f)
	if f != nil {
		h.LastFault = f.Error()
	}
}

func (h *EndpointStats) onFinish(ev chain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if ev.State == chain.Aborted {
		h.Aborted++
	} else {
		h.Completed++
	}
	h.LastFinishedAt = time.Now().UTC()

	finished := h.Completed + h.Aborted
	h.totalTime += int64(ev.Duration)
	if h.latencyWindow != nil {
		h.latencyWindow.Add(ev.Duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.AverageNs = h.totalTime / int64(finished)
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalMessages = finished
}

func (h *EndpointStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias EndpointStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	case ErrorCategoryApplication:
		e.Application++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unprocessable *UnprocessableEventError
	if errors.As(err, &unprocessable) {
		return ErrorCategoryValidation
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ErrorCategoryTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	var f *exchange.Fault
	if errors.As(err, &f) && (f.Mode == exchange.CheckedApplicationFault || f.Mode == exchange.UncheckedApplicationFault) {
		return ErrorCategoryApplication
	}
	return ErrorCategoryOther
}
