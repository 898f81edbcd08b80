// Package events decouples the research core from presentation.
//
// Information Hiding:
// - Delivery mechanism (log, async bus, fan-out) hidden behind Publisher
// - Publishers never block the caller
package events

import (
	"time"

	"go.uber.org/zap"
)

// Name identifies an event kind.
type Name string

const (
	ImageGenerated Name = "image-generated"
	FileGenerated  Name = "file-generated"
	ThinkingUpdate Name = "thinking-update"
	ToolExecuted   Name = "tool-executed"
	ReportAttempt  Name = "report-attempt"
	ReportReady    Name = "report-ready"
)

// Payload carries the run id and event data.
type Payload struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event is a published name/payload pair.
type Event struct {
	Name    Name    `json:"name"`
	Payload Payload `json:"payload"`
}

// Publisher receives fire-and-forget notifications.
// Implementations must return promptly and never block on delivery.
type Publisher interface {
	Publish(name Name, payload Payload)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Name, Payload) {}

// LogPublisher writes events to a zap logger at debug level.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a publisher that logs events.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(name Name, payload Payload) {
	p.log.Debug("event",
		zap.String("name", string(name)),
		zap.String("run", payload.RunID),
		zap.Any("data", payload.Data))
}

// Fanout forwards each event to every wrapped publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(name Name, payload Payload) {
	for _, p := range f {
		if p != nil {
			p.Publish(name, payload)
		}
	}
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = Fanout(nil)
)
