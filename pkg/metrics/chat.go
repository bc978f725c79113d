package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "chatbetween"
	subsystemChat    = "chat"
)

// ChatCollector tracks frame and transfer statistics for the broadcast
// engine and exposes them via Prometheus compatible collectors. All
// observation happens on the single cooperative loop, but the snapshot
// path can be hit from elsewhere, so the counters stay behind a mutex.
type ChatCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime time.Time

	bytesSent     uint64
	bytesReceived uint64
	framesSent    uint64
	framesRecv    uint64

	textSent uint64
	textRecv uint64

	transfersStarted   uint64
	transfersCompleted uint64
	transfersAborted   uint64
	transfersTimedOut  uint64
	transfersDropped   uint64
	truncatedWrites    uint64
}

// ChatSnapshot is a point-in-time view of the collected statistics.
type ChatSnapshot struct {
	Elapsed            time.Duration
	BytesSent          uint64
	BytesReceived      uint64
	FramesSent         uint64
	FramesReceived     uint64
	TextSent           uint64
	TextReceived       uint64
	TransfersStarted   uint64
	TransfersCompleted uint64
	TransfersAborted   uint64
	TransfersTimedOut  uint64
	TransfersDropped   uint64
	TruncatedWrites    uint64
}

// NewChatCollector creates a collector and wires up its prometheus
// collectors on a private registry.
func NewChatCollector(namespace string) *ChatCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	c := &ChatCollector{
		namespace: namespace,
		registry:  reg,
	}
	c.registerMetrics()
	return c
}

// Registry returns the prometheus registry managed by this collector.
func (c *ChatCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *ChatCollector) ObserveSend(bytes int) {
	if bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureStartTimeLocked()
	c.bytesSent += uint64(bytes)
	c.framesSent++
}

func (c *ChatCollector) ObserveReceive(bytes int) {
	if bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureStartTimeLocked()
	c.bytesReceived += uint64(bytes)
	c.framesRecv++
}

func (c *ChatCollector) ObserveTextSent() {
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.textSent++
	c.mu.Unlock()
}

func (c *ChatCollector) ObserveTextReceived() {
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.textRecv++
	c.mu.Unlock()
}

func (c *ChatCollector) ObserveTransferStarted() {
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.transfersStarted++
	c.mu.Unlock()
}

func (c *ChatCollector) ObserveTransferCompleted() {
	c.mu.Lock()
	c.transfersCompleted++
	c.mu.Unlock()
}

// ObserveTransferAborted counts a partial inbound transfer superseded by a
// fresh header from the same peer.
func (c *ChatCollector) ObserveTransferAborted() {
	c.mu.Lock()
	c.transfersAborted++
	c.mu.Unlock()
}

func (c *ChatCollector) ObserveTransferTimedOut() {
	c.mu.Lock()
	c.transfersTimedOut++
	c.mu.Unlock()
}

// ObserveTransferDropped counts a transfer discarded because no collision
// free destination name could be found.
func (c *ChatCollector) ObserveTransferDropped() {
	c.mu.Lock()
	c.transfersDropped++
	c.mu.Unlock()
}

// ObserveTruncatedWrite counts an exhausted file write retry budget.
func (c *ChatCollector) ObserveTruncatedWrite() {
	c.mu.Lock()
	c.truncatedWrites++
	c.mu.Unlock()
}

// Snapshot creates a read-only view of the collected statistics.
func (c *ChatCollector) Snapshot() ChatSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = time.Since(c.startTime)
	}
	return ChatSnapshot{
		Elapsed:            elapsed,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesReceived,
		FramesSent:         c.framesSent,
		FramesReceived:     c.framesRecv,
		TextSent:           c.textSent,
		TextReceived:       c.textRecv,
		TransfersStarted:   c.transfersStarted,
		TransfersCompleted: c.transfersCompleted,
		TransfersAborted:   c.transfersAborted,
		TransfersTimedOut:  c.transfersTimedOut,
		TransfersDropped:   c.transfersDropped,
		TruncatedWrites:    c.truncatedWrites,
	}
}

func (c *ChatCollector) registerMetrics() {
	makeCounter := func(name, help string, valueFn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemChat,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn()
		})
	}

	c.registry.MustRegister(makeCounter(
		"bytes_sent_total",
		"Total payload bytes broadcast on the transmit socket.",
		func() float64 { return float64(c.bytesSent) },
	))
	c.registry.MustRegister(makeCounter(
		"bytes_received_total",
		"Total payload bytes taken off the receive socket.",
		func() float64 { return float64(c.bytesReceived) },
	))
	c.registry.MustRegister(makeCounter(
		"frames_sent_total",
		"Datagrams transmitted.",
		func() float64 { return float64(c.framesSent) },
	))
	c.registry.MustRegister(makeCounter(
		"frames_received_total",
		"Datagrams received.",
		func() float64 { return float64(c.framesRecv) },
	))
	c.registry.MustRegister(makeCounter(
		"text_messages_sent_total",
		"Chat text frames transmitted.",
		func() float64 { return float64(c.textSent) },
	))
	c.registry.MustRegister(makeCounter(
		"text_messages_received_total",
		"Chat text frames handed back to the console.",
		func() float64 { return float64(c.textRecv) },
	))
	c.registry.MustRegister(makeCounter(
		"transfers_started_total",
		"Inbound file transfers for which a control block was created.",
		func() float64 { return float64(c.transfersStarted) },
	))
	c.registry.MustRegister(makeCounter(
		"transfers_completed_total",
		"Inbound file transfers that reached zero remaining bytes.",
		func() float64 { return float64(c.transfersCompleted) },
	))
	c.registry.MustRegister(makeCounter(
		"transfers_aborted_total",
		"Partial transfers superseded by a fresh header from the same peer.",
		func() float64 { return float64(c.transfersAborted) },
	))
	c.registry.MustRegister(makeCounter(
		"transfers_timed_out_total",
		"Transfers reclaimed by the timeout sweep.",
		func() float64 { return float64(c.transfersTimedOut) },
	))
	c.registry.MustRegister(makeCounter(
		"transfers_dropped_total",
		"Transfers discarded for lack of a collision free destination name.",
		func() float64 { return float64(c.transfersDropped) },
	))
	c.registry.MustRegister(makeCounter(
		"truncated_writes_total",
		"File writes abandoned after the bounded retry budget.",
		func() float64 { return float64(c.truncatedWrites) },
	))
}

func (c *ChatCollector) ensureStartTimeLocked() {
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}
