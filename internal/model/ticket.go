package model

import (
	"strings"
	"time"
)

type TicketStatus string

const (
	StatusAberto        TicketStatus = "ABERTO"
	StatusAtribuido     TicketStatus = "ATRIBUIDO"
	StatusEmAtendimento TicketStatus = "EM_ATENDIMENTO"
	StatusPendente      TicketStatus = "PENDENTE"
	StatusConcluido     TicketStatus = "CONCLUIDO"
	// StatusCancelado is reserved; no operation transitions into it.
	StatusCancelado TicketStatus = "CANCELADO"
)

func ParseTicketStatus(s string) (TicketStatus, bool) {
	st := TicketStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusAberto, StatusAtribuido, StatusEmAtendimento, StatusPendente, StatusConcluido, StatusCancelado:
		return st, true
	}
	return "", false
}

func (s TicketStatus) IsTerminal() bool {
	switch s {
	case StatusConcluido, StatusCancelado:
		return true
	case StatusAberto, StatusAtribuido, StatusEmAtendimento, StatusPendente:
		return false
	}
	return false
}

// CanTransitionTo is the lifecycle graph:
// ABERTO -> ATRIBUIDO -> EM_ATENDIMENTO <-> PENDENTE, and
// ATRIBUIDO|EM_ATENDIMENTO|PENDENTE -> CONCLUIDO.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case StatusAberto:
		return next == StatusAtribuido
	case StatusAtribuido:
		return next == StatusEmAtendimento || next == StatusConcluido
	case StatusEmAtendimento:
		return next == StatusPendente || next == StatusConcluido
	case StatusPendente:
		return next == StatusEmAtendimento || next == StatusConcluido
	case StatusConcluido, StatusCancelado:
		return false
	}
	return false
}

type TicketType string

const (
	TypeReparo        TicketType = "REPARO"
	TypeInstalacao    TicketType = "INSTALACAO"
	TypeServico       TicketType = "SERVICO"
	TypeVisitaTecnica TicketType = "VISITA_TECNICA"
)

// ticketTypeLabels also accepts the display labels used by the store front-end.
var ticketTypeLabels = map[string]TicketType{
	"REPARO":         TypeReparo,
	"INSTALACAO":     TypeInstalacao,
	"INSTALAÇÃO":     TypeInstalacao,
	"SERVICO":        TypeServico,
	"SERVIÇO":        TypeServico,
	"VISITA_TECNICA": TypeVisitaTecnica,
	"VISITA TÉCNICA": TypeVisitaTecnica,
	"VISITA TECNICA": TypeVisitaTecnica,
}

func ParseTicketType(s string) (TicketType, bool) {
	t, ok := ticketTypeLabels[strings.ToUpper(strings.TrimSpace(s))]
	return t, ok
}

type TicketPriority string

const (
	PriorityNormal  TicketPriority = "NORMAL"
	PriorityUrgente TicketPriority = "URGENTE"
)

func ParseTicketPriority(s string) (TicketPriority, bool) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PriorityNormal, PriorityUrgente:
		return p, true
	}
	return "", false
}

type Ticket struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	StoreID        string         `gorm:"type:varchar(36);index;not null" json:"store_id"`
	RequesterName  *string        `gorm:"type:varchar(255)" json:"requester_name,omitempty"`
	Location       *string        `gorm:"type:varchar(255)" json:"location,omitempty"`
	Problem        string         `gorm:"type:text;not null" json:"problem"`
	Type           TicketType     `gorm:"type:varchar(32);not null" json:"type"`
	Priority       TicketPriority `gorm:"type:varchar(16);index;not null" json:"priority"`
	Status         TicketStatus   `gorm:"type:varchar(32);index;not null" json:"status"`
	AssignedTechID *string        `gorm:"type:varchar(36);index" json:"assigned_tech_id,omitempty"`
	OpenedByID     string         `gorm:"type:varchar(36);not null" json:"opened_by_id"`
	Version        int64          `gorm:"not null" json:"version"`

	OpenedAt   time.Time  `gorm:"index" json:"opened_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (t *Ticket) IsAssignedTo(userID string) bool {
	return t.AssignedTechID != nil && *t.AssignedTechID == userID
}

type TicketClosure struct {
	TicketID       string    `gorm:"type:varchar(36);primaryKey" json:"ticket_id"`
	ResolutionText string    `gorm:"type:text;not null" json:"resolution_text"`
	ClosedByID     string    `gorm:"type:varchar(36);not null" json:"closed_by_id"`
	ClosedAt       time.Time `json:"closed_at"`
}
