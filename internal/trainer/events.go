package trainer

import "sync"

// Event is a training lifecycle notification: a name, the epoch it belongs
// to and optional fields.
type Event struct {
	Name   string
	Epoch  int
	Fields map[string]any
}

// Event names.
const (
	EventTrainStart         = "train_start"
	EventEpochEnd           = "epoch_end"
	EventLRReduced          = "lr_reduced"
	EventEarlyStop          = "early_stop"
	EventCheckpointSaved    = "checkpoint_saved"
	EventCheckpointUploaded = "checkpoint_uploaded"
	EventTrainEnd           = "train_end"
)

// EventPublisher receives events from the trainer. Publish must not block
// or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Name
	}
	return out
}
