package contextmgr

import "time"

// EventType labels state transitions the orchestrator announces.
type EventType string

const (
	EventInitialized  EventType = "initialized"
	EventMessageAdded EventType = "message_added"
	EventArchived     EventType = "archived"
	EventRetrieved    EventType = "retrieved"
	EventSummarized   EventType = "summarized"
	EventRemoved      EventType = "removed"
)

// Event is a notification about one conversation, fanned out to observers
// (the HTTP layer streams them over websocket).
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// EventSink receives orchestrator events. Sinks must not block.
type EventSink func(Event)

// SetEventSink installs the sink; pass nil to disable.
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.eventMu.Lock()
	defer o.eventMu.Unlock()
	o.events = sink
}

func (o *Orchestrator) emit(t EventType, conversationID, detail string) {
	o.eventMu.RLock()
	sink := o.events
	o.eventMu.RUnlock()
	if sink == nil {
		return
	}
	sink(Event{
		Type:           t,
		ConversationID: conversationID,
		Detail:         detail,
		At:             time.Now().UTC(),
	})
}
