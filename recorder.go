package x402

import "sync"

// PaymentRecorder captures payment events for inspection in tests and audits.
type PaymentRecorder struct {
	mu     sync.Mutex
	events []PaymentEvent
}

// NewPaymentRecorder creates an empty recorder.
func NewPaymentRecorder() *PaymentRecorder {
	return &PaymentRecorder{}
}

// Record appends an event.
func (r *PaymentRecorder) Record(event PaymentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *PaymentRecorder) Events() []PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PaymentEvent, len(r.events))
	copy(out, r.events)
	return out
}

// EventsOfType returns recorded events matching the given type.
func (r *PaymentRecorder) EventsOfType(eventType PaymentEventType) []PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events.
func (r *PaymentRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
