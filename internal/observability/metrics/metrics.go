package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Outcome labels for model attempts and tool executions.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
	OutcomeError     = "error"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type modelKey struct {
	model   string
	outcome string
}

type toolKey struct {
	tool    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	latency  map[latencyKey]*histogram
	models   map[modelKey]uint64
	tools    map[toolKey]uint64
}

var defaultCollector = newCollector()

func newCollector() *collector {
	return &collector{
		requests: make(map[requestKey]uint64),
		latency:  make(map[latencyKey]*histogram),
		models:   make(map[modelKey]uint64),
		tools:    make(map[toolKey]uint64),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := latencyKey{handler: handler, method: method}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveModelAttempt counts one chat-completion attempt against a model.
func ObserveModelAttempt(model, outcome string) {
	c := defaultCollector
	c.mu.Lock()
	c.models[modelKey{model: model, outcome: outcome}]++
	c.mu.Unlock()
}

// ObserveToolExecution counts one tool execution.
func ObserveToolExecution(tool, outcome string) {
	c := defaultCollector
	c.mu.Lock()
	c.tools[toolKey{tool: tool, outcome: outcome}]++
	c.mu.Unlock()
}

// ModelAttempts returns the current counter for a model/outcome pair.
func ModelAttempts(model, outcome string) uint64 {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models[modelKey{model: model, outcome: outcome}]
}

func newHistogram() *histogram {
	buckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe keeps cumulative bucket counts; values above the last bound only
// show up in the +Inf bucket (count).
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP taskpilot_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE taskpilot_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		x, y := reqKeys[i], reqKeys[j]
		if x.handler != y.handler {
			return x.handler < y.handler
		}
		if x.method != y.method {
			return x.method < y.method
		}
		return x.code < y.code
	})
	for _, key := range reqKeys {
		fmt.Fprintf(&b, "taskpilot_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), key.code, c.requests[key])
	}

	b.WriteString("# HELP taskpilot_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE taskpilot_http_request_duration_seconds histogram\n")
	latKeys := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].handler != latKeys[j].handler {
			return latKeys[i].handler < latKeys[j].handler
		}
		return latKeys[i].method < latKeys[j].method
	})
	for _, key := range latKeys {
		hist := c.latency[key]
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&b, "taskpilot_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&b, "taskpilot_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, hist.count)
		fmt.Fprintf(&b, "taskpilot_http_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(hist.sum))
		fmt.Fprintf(&b, "taskpilot_http_request_duration_seconds_count{%s} %d\n", labels, hist.count)
	}

	b.WriteString("# HELP taskpilot_model_attempts_total Chat-completion attempts per candidate model.\n")
	b.WriteString("# TYPE taskpilot_model_attempts_total counter\n")
	modelKeys := make([]modelKey, 0, len(c.models))
	for key := range c.models {
		modelKeys = append(modelKeys, key)
	}
	sort.Slice(modelKeys, func(i, j int) bool {
		if modelKeys[i].model != modelKeys[j].model {
			return modelKeys[i].model < modelKeys[j].model
		}
		return modelKeys[i].outcome < modelKeys[j].outcome
	})
	for _, key := range modelKeys {
		fmt.Fprintf(&b, "taskpilot_model_attempts_total{model=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.model), escape(key.outcome), c.models[key])
	}

	b.WriteString("# HELP taskpilot_tool_executions_total Tool executions by tool name and outcome.\n")
	b.WriteString("# TYPE taskpilot_tool_executions_total counter\n")
	toolKeys := make([]toolKey, 0, len(c.tools))
	for key := range c.tools {
		toolKeys = append(toolKeys, key)
	}
	sort.Slice(toolKeys, func(i, j int) bool {
		if toolKeys[i].tool != toolKeys[j].tool {
			return toolKeys[i].tool < toolKeys[j].tool
		}
		return toolKeys[i].outcome < toolKeys[j].outcome
	})
	for _, key := range toolKeys {
		fmt.Fprintf(&b, "taskpilot_tool_executions_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.tool), escape(key.outcome), c.tools[key])
	}

	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
