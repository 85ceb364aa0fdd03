package conversation

import (
	"sync"
	"time"

	"muni-chatbot-be/pkg/navigator"
)

// Event kinds recorded by the Recorder.
const (
	EventMessage             = "message"
	EventOptions             = "options"
	EventClearOptions        = "clear_options"
	EventSessionId           = "session_id"
	EventFileTransfer        = "file_transfer"
	EventRequestRegistration = "request_registration"
)

// Event is one emitted conversation output.
type Event struct {
	Kind      string
	Role      string
	Text      string
	Options   []navigator.Option
	SessionId string
	Enabled   bool
	Timestamp time.Time
}

// Recorder implements Emitter by accumulating events until drained. An
// optional OnEvent hook observes every event as it happens, which lets a
// live transport stream them while request/response callers drain batches.
type Recorder struct {
	mu      sync.Mutex
	pending []Event

	// OnEvent, when set, is invoked synchronously for each event.
	OnEvent func(Event)
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) add(e Event) {
	e.Timestamp = time.Now()
	r.mu.Lock()
	r.pending = append(r.pending, e)
	hook := r.OnEvent
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *Recorder) Message(role, text string) {
	r.add(Event{Kind: EventMessage, Role: role, Text: text})
}

func (r *Recorder) Options(options []navigator.Option) {
	r.add(Event{Kind: EventOptions, Options: options})
}

func (r *Recorder) ClearOptions() {
	r.add(Event{Kind: EventClearOptions})
}

func (r *Recorder) SessionId(sessionId string) {
	r.add(Event{Kind: EventSessionId, SessionId: sessionId})
}

func (r *Recorder) FileTransfer(enabled bool) {
	r.add(Event{Kind: EventFileTransfer, Enabled: enabled})
}

func (r *Recorder) RequestRegistration() {
	r.add(Event{Kind: EventRequestRegistration})
}

// Drain returns and clears everything accumulated so far.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}
