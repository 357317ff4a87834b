// Package telemetry provides in-process metrics for the intake server:
// counters, gauges, and histograms, exposed through a Prometheus text
// exposition endpoint.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
	Environment    string `json:"environment"`
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "intake-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

// BoolPtr returns a pointer to b. Convenience for building configs.
func BoolPtr(b bool) *bool { return &b }

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a fixed-bucket histogram safe for concurrent use. Bucket
// counts are cumulative only at exposition time; internally each bucket
// holds the count of observations that fell into it.
type histogram struct {
	bounds []float64 // upper bounds, ascending

	mu           sync.Mutex
	bucketCounts []uint64

	count uint64 // atomic
	sum   uint64 // atomic, math.Float64bits encoded
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{
		bounds:       bounds,
		bucketCounts: make([]uint64, len(bounds)+1),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddUint64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}
	idx := len(h.bounds)
	for i, b := range h.bounds {
		if v <= b {
			idx = i
			break
		}
	}
	h.mu.Lock()
	h.bucketCounts[idx]++
	h.mu.Unlock()
}

func (h *histogram) Count() uint64 { return atomic.LoadUint64(&h.count) }

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns Prometheus-style cumulative counts per bound,
// plus the +Inf bucket as the final element.
func (h *histogram) cumulativeBuckets() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.bucketCounts))
	var running uint64
	for i, c := range h.bucketCounts {
		running += c
		out[i] = running
	}
	return out
}

var (
	// defaultDurationBuckets suit HTTP handler latencies in seconds.
	defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// turnDurationBuckets suit full chat turns, which include one or two
	// upstream model calls and routinely take whole seconds.
	turnDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// defaultSizeBuckets suit request/response body sizes in bytes.
	defaultSizeBuckets = []float64{100, 1000, 10000, 100000, 1000000}
)

// ---------------------------------------------------------------------------
// Labeled metric stores
// ---------------------------------------------------------------------------

// LabelsKey builds a stable map key from label values.
func LabelsKey(parts ...string) string {
	return strings.Join(parts, "|")
}

type labeledHistogramStore struct {
	mu     sync.RWMutex
	store  map[string]*histogram
	bounds []float64
}

func newLabeledHistogramStore(bounds []float64) *labeledHistogramStore {
	return &labeledHistogramStore{
		store:  make(map[string]*histogram),
		bounds: bounds,
	}
}

func (s *labeledHistogramStore) get(key string) *histogram {
	s.mu.RLock()
	h, ok := s.store[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.store[key]; ok {
		return h
	}
	h = newHistogram(s.bounds)
	s.store[key] = h
	return h
}

func (s *labeledHistogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*histogram, len(s.store))
	for k, v := range s.store {
		out[k] = v
	}
	return out
}

type counterStore struct {
	mu    sync.RWMutex
	store map[string]*uint64
}

func newCounterStore() *counterStore {
	return &counterStore{store: make(map[string]*uint64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	c, ok := s.store[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddUint64(c, 1)
		return
	}
	s.mu.Lock()
	if c, ok = s.store[key]; !ok {
		c = new(uint64)
		s.store[key] = c
	}
	s.mu.Unlock()
	atomic.AddUint64(c, 1)
}

func (s *counterStore) value(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.store[key]; ok {
		return atomic.LoadUint64(c)
	}
	return 0
}

func (s *counterStore) snapshot() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.store))
	for k, c := range s.store {
		out[k] = atomic.LoadUint64(c)
	}
	return out
}

type gaugeStore struct {
	mu    sync.RWMutex
	store map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{store: make(map[string]*int64)}
}

func (s *gaugeStore) cell(key string) *int64 {
	s.mu.RLock()
	g, ok := s.store[key]
	s.mu.RUnlock()
	if ok {
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok = s.store[key]; ok {
		return g
	}
	g = new(int64)
	s.store[key] = g
	return g
}

func (s *gaugeStore) add(key string, delta int64) {
	atomic.AddInt64(s.cell(key), delta)
}

func (s *gaugeStore) set(key string, v int64) {
	atomic.StoreInt64(s.cell(key), v)
}

func (s *gaugeStore) value(key string) int64 {
	return atomic.LoadInt64(s.cell(key))
}

func (s *gaugeStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.store))
	for k, g := range s.store {
		out[k] = atomic.LoadInt64(g)
	}
	return out
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// TelemetryProvider owns all metric instruments for the process.
type TelemetryProvider struct {
	cfg TelemetryConfig

	httpDuration        *histogram
	httpDurationLabeled *labeledHistogramStore
	requestSize         *histogram
	responseSize        *histogram
	turnDuration        *labeledHistogramStore

	counters *counterStore
	gauges   *gaugeStore

	shutdownOnce sync.Once
}

// NewTelemetryProvider builds a provider. It never fails; a disabled
// provider still accepts writes so callers need no nil checks.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	return &TelemetryProvider{
		cfg:                 cfg,
		httpDuration:        newHistogram(defaultDurationBuckets),
		httpDurationLabeled: newLabeledHistogramStore(defaultDurationBuckets),
		requestSize:         newHistogram(defaultSizeBuckets),
		responseSize:        newHistogram(defaultSizeBuckets),
		turnDuration:        newLabeledHistogramStore(turnDurationBuckets),
		counters:            newCounterStore(),
		gauges:              newGaugeStore(),
	}
}

// Shutdown releases provider resources. Safe to call more than once.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	tp.shutdownOnce.Do(func() {})
	return ctx.Err()
}

// ---------------------------------------------------------------------------
// Domain instruments
// ---------------------------------------------------------------------------

// RecordTurn counts one processed chat turn for a section with the given
// outcome ("updated", "clarification", "generator_error", "rejected").
func (tp *TelemetryProvider) RecordTurn(section, outcome string) {
	tp.counters.inc(LabelsKey("intake_turns_total", section, outcome))
}

// RecordTurnDuration records the wall time of one full chat turn.
func (tp *TelemetryProvider) RecordTurnDuration(section string, d time.Duration) {
	tp.turnDuration.get(section).Observe(d.Seconds())
}

// RecordLLMCall counts one upstream model call by kind ("extract",
// "reply", "embed") and outcome ("ok", "error").
func (tp *TelemetryProvider) RecordLLMCall(kind, outcome string) {
	tp.counters.inc(LabelsKey("intake_llm_calls_total", kind, outcome))
}

// RecordExtractionFailure counts one locally recovered extraction failure
// by reason ("malformed", "schema", "validation").
func (tp *TelemetryProvider) RecordExtractionFailure(reason string) {
	tp.counters.inc(LabelsKey("intake_extraction_failures_total", reason))
}

// RecordSectionCompleted counts one section transition to complete.
func (tp *TelemetryProvider) RecordSectionCompleted(section string) {
	tp.counters.inc(LabelsKey("intake_sections_completed_total", section))
}

// SetDBPoolStats publishes connection pool gauges for /metrics.
func (tp *TelemetryProvider) SetDBPoolStats(total, idle, inUse int64) {
	tp.gauges.set("db_pool_connections_total", total)
	tp.gauges.set("db_pool_connections_idle", idle)
	tp.gauges.set("db_pool_connections_in_use", inUse)
}

// CounterValue returns a counter's current value. Intended for tests and
// health summaries, not hot paths.
func (tp *TelemetryProvider) CounterValue(key string) uint64 {
	return tp.counters.value(key)
}

// GaugeValue returns a gauge's current value.
func (tp *TelemetryProvider) GaugeValue(key string) int64 {
	return tp.gauges.value(key)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records request duration, active request count, and
// request/response sizes for every HTTP request.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			start := time.Now()
			tp.gauges.add("http_server_active_requests", 1)

			if c.Request().ContentLength > 0 {
				tp.requestSize.Observe(float64(c.Request().ContentLength))
			}

			err := next(c)

			tp.gauges.add("http_server_active_requests", -1)

			elapsed := time.Since(start).Seconds()
			tp.httpDuration.Observe(elapsed)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			key := LabelsKey(c.Request().Method, c.Path(), fmt.Sprintf("%d", status))
			tp.httpDurationLabeled.get(key).Observe(elapsed)

			if size := c.Response().Size; size > 0 {
				tp.responseSize.Observe(float64(size))
			}

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves all registered metrics in the Prometheus text
// exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds HTTP request duration\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		writeSimpleHistogram(&b, "http_server_request_duration_seconds", tp.httpDuration, "")
		for _, kh := range sortedHistograms(tp.httpDurationLabeled) {
			parts := strings.SplitN(kh.key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf(`method=%q,route=%q,status=%q`, parts[0], parts[1], parts[2])
			writeSimpleHistogram(&b, "http_server_request_duration_seconds", kh.h, labels)
		}

		b.WriteString("# HELP http_server_request_size_bytes HTTP request body size\n")
		b.WriteString("# TYPE http_server_request_size_bytes histogram\n")
		writeSimpleHistogram(&b, "http_server_request_size_bytes", tp.requestSize, "")

		b.WriteString("# HELP http_server_response_size_bytes HTTP response body size\n")
		b.WriteString("# TYPE http_server_response_size_bytes histogram\n")
		writeSimpleHistogram(&b, "http_server_response_size_bytes", tp.responseSize, "")

		b.WriteString("# HELP intake_turn_duration_seconds Full chat turn duration\n")
		b.WriteString("# TYPE intake_turn_duration_seconds histogram\n")
		for _, kh := range sortedHistograms(tp.turnDuration) {
			labels := fmt.Sprintf(`section=%q`, kh.key)
			writeSimpleHistogram(&b, "intake_turn_duration_seconds", kh.h, labels)
		}

		writeCounters(&b, tp.counters.snapshot())
		writeGauges(&b, tp.gauges.snapshot())

		return c.Blob(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

type keyedHistogram struct {
	key string
	h   *histogram
}

// sortedHistograms returns the store contents in sorted key order so
// exposition output is deterministic.
func sortedHistograms(s *labeledHistogramStore) []keyedHistogram {
	snap := s.snapshot()
	out := make([]keyedHistogram, 0, len(snap))
	for k, h := range snap {
		out = append(out, keyedHistogram{key: k, h: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func writeSimpleHistogram(b *strings.Builder, name string, h *histogram, labels string) {
	cum := h.cumulativeBuckets()
	for i, bound := range h.bounds {
		le := fmt.Sprintf("%g", bound)
		if labels != "" {
			fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", name, labels, le, cum[i])
		} else {
			fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, le, cum[i])
		}
	}
	if labels != "" {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, cum[len(cum)-1])
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
	} else {
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, cum[len(cum)-1])
		fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
		fmt.Fprintf(b, "%s_count %d\n", name, h.Count())
	}
}

// counterLabelNames maps a counter family to its label names, in the
// order RecordTurn/RecordLLMCall/etc. append values to the key.
var counterLabelNames = map[string][]string{
	"intake_turns_total":               {"section", "outcome"},
	"intake_llm_calls_total":           {"kind", "outcome"},
	"intake_extraction_failures_total": {"reason"},
	"intake_sections_completed_total":  {"section"},
}

func writeCounters(b *strings.Builder, snap map[string]uint64) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	for _, k := range keys {
		parts := strings.Split(k, "|")
		family := parts[0]
		if !seen[family] {
			fmt.Fprintf(b, "# TYPE %s counter\n", family)
			seen[family] = true
		}
		names := counterLabelNames[family]
		if len(names) == len(parts)-1 && len(names) > 0 {
			pairs := make([]string, len(names))
			for i, n := range names {
				pairs[i] = fmt.Sprintf("%s=%q", n, parts[i+1])
			}
			fmt.Fprintf(b, "%s{%s} %d\n", family, strings.Join(pairs, ","), snap[k])
		} else {
			fmt.Fprintf(b, "%s %d\n", family, snap[k])
		}
	}
}

func writeGauges(b *strings.Builder, snap map[string]int64) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "# TYPE %s gauge\n", k)
		fmt.Fprintf(b, "%s %d\n", k, snap[k])
	}
}
