// Package events publishes analytics notifications to observers.
//
// Publishing is fire-and-forget: a publisher that cannot deliver logs the
// failure and drops the event. Nothing a publisher does can fail the
// operation that produced the event.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/tos-network/kale-analytics/internal/util"
)

// Topic tags
const (
	TopicFarming  = "farming"
	TopicSession  = "session"
	TopicInit     = "init"
	TopicEmission = "emission"
)

// Event is one notification emitted by a mutating operation
type Event struct {
	Topic     []string    `json:"topic"`
	Sequence  uint64      `json:"sequence"`
	Timestamp uint64      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Name joins the topic tags, e.g. "farming.session"
func (e Event) Name() string {
	return strings.Join(e.Topic, ".")
}

// SessionPayload is emitted for every recorded session
type SessionPayload struct {
	Farmer  string      `json:"farmer"`
	Success bool        `json:"success"`
	Reward  util.Amount `json:"reward"`
}

// InitPayload is emitted once when the network state is created
type InitPayload struct {
	Admin        string `json:"admin"`
	EmissionRate uint32 `json:"emission_rate"`
	Difficulty   uint32 `json:"difficulty"`
}

// EmissionPayload is emitted when the admin changes the emission rate
type EmissionPayload struct {
	Admin string `json:"admin"`
	Rate  uint32 `json:"rate"`
}

// Publisher delivers events. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout publishes each event to every publisher in order
type Fanout []Publisher

// Publish forwards ev to every publisher
func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Nop discards events
type Nop struct{}

// Publish does nothing
func (Nop) Publish(ctx context.Context, ev Event) {}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends ev
func (r *Recorder) Publish(ctx context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
