package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of real-time event sent over WebSocket.
type EventType string

const (
	EventClientCreated EventType = "client:created"
	EventClientUpdated EventType = "client:updated"
	EventClientDeleted EventType = "client:deleted"
	EventClientStats   EventType = "client:stats"
	EventTaskCreated   EventType = "task:created"
	EventTaskUpdated   EventType = "task:updated"
	EventTaskDeleted   EventType = "task:deleted"
	EventTaskAssigned  EventType = "task:assigned"
	EventTaskStats     EventType = "task:stats"
	EventPing          EventType = "ping"
	EventPong          EventType = "pong"
)

// Event is the wire envelope for every frame pushed to a client.
// Timestamp is RFC 3339 UTC; AgencyID is present on tenant-scoped events.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp string    `json:"timestamp"`
	AgencyID  string    `json:"agencyId,omitempty"`
}

// NewEvent builds an envelope stamped with the current time.
func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewTenantEvent builds an envelope scoped to one agency.
func NewTenantEvent(eventType EventType, data any, agencyID string) Event {
	e := NewEvent(eventType, data)
	e.AgencyID = agencyID
	return e
}

// ClientUpdatedPayload carries the full updated entity plus an optional
// pre-image of the changed fields.
type ClientUpdatedPayload struct {
	Client   Client  `json:"client"`
	Previous *Client `json:"previous,omitempty"`
}

// ClientDeletedPayload carries only the id and display name; the entity no
// longer exists by the time the event is published.
type ClientDeletedPayload struct {
	ClientID int64  `json:"clientId"`
	Name     string `json:"name"`
}

// TaskUpdatedPayload mirrors ClientUpdatedPayload for tasks.
type TaskUpdatedPayload struct {
	Task     Task  `json:"task"`
	Previous *Task `json:"previous,omitempty"`
}

// TaskDeletedPayload carries only the id and title of the removed task.
type TaskDeletedPayload struct {
	TaskID int64  `json:"taskId"`
	Title  string `json:"title"`
}

// TaskAssignedPayload carries the task plus who assigned it to whom.
type TaskAssignedPayload struct {
	Task       Task   `json:"task"`
	AssignedTo string `json:"assignedTo"`
	AssignedBy string `json:"assignedBy"`
}

// InboundMessage is the structure of frames received from clients. Only ping
// and pong are acted on; unknown types are ignored for forward compatibility.
type InboundMessage struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
