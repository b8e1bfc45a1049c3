package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventCreate       EventType = "CREATE"
	EventComment      EventType = "COMMENT"
	EventStatusChange EventType = "STATUS_CHANGE"
	EventAssign       EventType = "ASSIGN"
	EventEdit         EventType = "EDIT"
	EventClose        EventType = "CLOSE"
)

// TicketUpdate is one immutable history entry. Seq orders entries of a ticket.
type TicketUpdate struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	TicketID    string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_ticket_updates_ticket_seq,priority:1" json:"ticket_id"`
	Seq         int64          `gorm:"not null;uniqueIndex:idx_ticket_updates_ticket_seq,priority:2" json:"seq"`
	CreatedByID string         `gorm:"type:varchar(36);not null" json:"created_by_id"`
	CreatedAt   time.Time      `json:"created_at"`
	EventType   EventType      `gorm:"type:varchar(32);not null" json:"event_type"`
	Note        *string        `gorm:"type:text" json:"note,omitempty"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
}

// Payload is the typed body of a history entry; each variant belongs to one event type.
type Payload interface {
	EventType() EventType
}

type CreatePayload struct {
	Status   TicketStatus   `json:"status"`
	StoreID  string         `json:"store_id"`
	Type     TicketType     `json:"type"`
	Priority TicketPriority `json:"priority"`
}

type AssignPayload struct {
	TechID         string  `json:"tech_id"`
	PreviousTechID *string `json:"previous_tech_id,omitempty"`
}

type StatusChangePayload struct {
	From TicketStatus `json:"from"`
	To   TicketStatus `json:"to"`
}

// EditPayload carries only the fields that changed.
type EditPayload struct {
	Changed []string          `json:"changed"`
	Before  map[string]string `json:"before"`
	After   map[string]string `json:"after"`
}

type ClosePayload struct {
	ResolutionLength int `json:"resolution_length"`
}

type CommentPayload struct{}

func (CreatePayload) EventType() EventType       { return EventCreate }
func (AssignPayload) EventType() EventType       { return EventAssign }
func (StatusChangePayload) EventType() EventType { return EventStatusChange }
func (EditPayload) EventType() EventType         { return EventEdit }
func (ClosePayload) EventType() EventType        { return EventClose }
func (CommentPayload) EventType() EventType      { return EventComment }

// NewTicketUpdate builds an entry whose event type is taken from the payload.
func NewTicketUpdate(id, ticketID, actorID string, note *string, p Payload) (*TicketUpdate, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	return &TicketUpdate{
		ID:          id,
		TicketID:    ticketID,
		CreatedByID: actorID,
		EventType:   p.EventType(),
		Note:        note,
		Payload:     datatypes.JSON(raw),
	}, nil
}

// DecodePayload returns the typed payload for the entry's event type.
func (u *TicketUpdate) DecodePayload() (Payload, error) {
	var p Payload
	switch u.EventType {
	case EventCreate:
		p = &CreatePayload{}
	case EventAssign:
		p = &AssignPayload{}
	case EventStatusChange:
		p = &StatusChangePayload{}
	case EventEdit:
		p = &EditPayload{}
	case EventClose:
		p = &ClosePayload{}
	case EventComment:
		p = &CommentPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", u.EventType)
	}
	if len(u.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(u.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", u.EventType, err)
	}
	return p, nil
}
