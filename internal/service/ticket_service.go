package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/access"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/observability"
	"github.com/psds-microservice/helpdesk-service/internal/searchindex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("service")

const (
	MinResolutionLength = 15
	DefaultListLimit    = 200
	MaxListLimit        = 500

	publishTimeout = 5 * time.Second
)

// TicketDeps are the optional collaborators of TicketService. Nil fields fall back to no-ops.
type TicketDeps struct {
	Events  kafka.TicketEventPublisher
	Search  searchindex.Indexer
	Log     *zap.Logger
	Metrics *observability.Metrics
}

// TicketService is the ticket lifecycle engine. Every mutation runs in one
// transaction: lock the ticket row, check, write with a version guard, append history.
type TicketService struct {
	db      *gorm.DB
	checker access.Checker
	events  kafka.TicketEventPublisher
	search  searchindex.Indexer
	log     *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

func NewTicketService(db *gorm.DB, deps TicketDeps) *TicketService {
	s := &TicketService{
		db:      db,
		events:  deps.Events,
		search:  deps.Search,
		log:     deps.Log,
		metrics: deps.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	if s.events == nil {
		s.events = kafka.NopPublisher{}
	}
	if s.search == nil {
		s.search = searchindex.NopIndexer{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

type CreateTicketInput struct {
	StoreID       string
	RequesterName *string
	Location      *string
	Problem       string
	Type          string
	Priority      string
}

// EditTicketInput: nil means "leave as is".
type EditTicketInput struct {
	RequesterName *string
	Location      *string
	Problem       *string
	Type          *string
	Priority      *string
}

type ListTicketsFilter struct {
	Status    string
	StoreID   string
	NetworkID string
	Scope     access.TechScope
	Limit     int
	Offset    int
}

type TicketPage struct {
	Items  []model.Ticket `json:"items"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TicketDetail is a ticket with its closure, when closed.
type TicketDetail struct {
	model.Ticket
	Closure *model.TicketClosure `json:"closure,omitempty"`
}

// entry is a history entry waiting for its seq.
type entry struct {
	note    *string
	payload model.Payload
}

func strPtr(s string) *string { return &s }

// trimOptional trims s and turns blank into nil.
func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *TicketService) span(ctx context.Context, op, ticketID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "TicketService."+op)
	if ticketID != "" {
		span.SetAttributes(attribute.String("ticket.id", ticketID))
	}
	return ctx, span
}

// done records the outcome of op on the span and the rejection counter.
func (s *TicketService) done(span trace.Span, op string, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.IncrRejected(op, errKind(err))
	return err
}

func errKind(err error) string {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		return "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrConflict):
		return "conflict"
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	}
	return "internal"
}

// lockTicket reads the ticket row FOR UPDATE (ignored by SQLite, where the
// single connection already serializes transactions).
func lockTicket(tx *gorm.DB, id string) (*model.Ticket, error) {
	var t model.Ticket
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return &t, nil
}

// lockActiveTech reads the technician row FOR SHARE, so a concurrent
// deactivation waits for this transaction and then sees the assignment.
func lockActiveTech(tx *gorm.DB, id string) (*model.User, error) {
	var u model.User
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !u.IsActiveTech()) {
		return nil, errs.NotFound("technician not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load technician: %w", err)
	}
	return &u, nil
}

func ticketColumns(t *model.Ticket) map[string]any {
	return map[string]any{
		"requester_name":   t.RequesterName,
		"location":         t.Location,
		"problem":          t.Problem,
		"type":             t.Type,
		"priority":         t.Priority,
		"status":           t.Status,
		"assigned_tech_id": t.AssignedTechID,
		"assigned_at":      t.AssignedAt,
		"started_at":       t.StartedAt,
		"closed_at":        t.ClosedAt,
	}
}

// persist writes t guarded by its version; a lost race is a Conflict.
func (s *TicketService) persist(tx *gorm.DB, t *model.Ticket) error {
	now := s.now()
	cols := ticketColumns(t)
	cols["version"] = t.Version + 1
	cols["updated_at"] = now
	res := tx.Model(&model.Ticket{}).Where("id = ? AND version = ?", t.ID, t.Version).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update ticket: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Conflict("ticket was modified concurrently, retry")
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// appendHistory inserts entries with consecutive seq values after the current maximum.
func (s *TicketService) appendHistory(tx *gorm.DB, ticketID, actorID string, entries ...entry) ([]model.TicketUpdate, error) {
	var maxSeq int64
	if err := tx.Model(&model.TicketUpdate{}).Where("ticket_id = ?", ticketID).
		Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, fmt.Errorf("read history seq: %w", err)
	}
	now := s.now()
	out := make([]model.TicketUpdate, 0, len(entries))
	for i, e := range entries {
		u, err := model.NewTicketUpdate(s.newID(), ticketID, actorID, e.note, e.payload)
		if err != nil {
			return nil, err
		}
		u.Seq = maxSeq + int64(i) + 1
		u.CreatedAt = now
		out = append(out, *u)
	}
	if err := tx.Create(&out).Error; err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return out, nil
}

// committed runs the after-commit side effects. Both are best-effort.
func (s *TicketService) committed(ctx context.Context, event string, t *model.Ticket, actorID string, appended []model.TicketUpdate) {
	for _, u := range appended {
		s.metrics.IncrTicketEvent(string(u.EventType))
	}
	if event == "" {
		return
	}
	e := kafka.NewTicketEvent(event, t, actorID, s.now())
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		s.events.PublishTicketEvent(pctx, e)
	}()
	s.search.IndexTicketAsync(t)
}

// Create opens a ticket for an active store.
func (s *TicketService) Create(ctx context.Context, actor *model.User, in CreateTicketInput) (_ *model.Ticket, err error) {
	ctx, span := s.span(ctx, "create", "")
	defer func() { err = s.done(span, "create", err) }()

	if err := access.Authorize(actor, access.ActionCreate, nil, false); err != nil {
		return nil, err
	}

	var (
		t        *model.Ticket
		appended []model.TicketUpdate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var store model.Store
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			First(&store, "id = ? AND active = ?", in.StoreID, true).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrStoreNotFound
		}
		if err != nil {
			return fmt.Errorf("load store: %w", err)
		}

		problem := strings.TrimSpace(in.Problem)
		if problem == "" {
			return errs.Validation("problem is required")
		}
		typ, ok := model.ParseTicketType(in.Type)
		if !ok {
			return errs.Validation("invalid ticket type %q", in.Type)
		}
		prio, ok := model.ParseTicketPriority(in.Priority)
		if !ok {
			return errs.Validation("invalid priority %q", in.Priority)
		}

		now := s.now()
		t = &model.Ticket{
			ID:            s.newID(),
			StoreID:       store.ID,
			RequesterName: trimOptional(in.RequesterName),
			Location:      trimOptional(in.Location),
			Problem:       problem,
			Type:          typ,
			Priority:      prio,
			Status:        model.StatusAberto,
			OpenedByID:    actor.ID,
			Version:       1,
			OpenedAt:      now,
			UpdatedAt:     now,
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID, entry{
			note: strPtr("ticket created"),
			payload: model.CreatePayload{
				Status: t.Status, StoreID: t.StoreID, Type: t.Type, Priority: t.Priority,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("ticket.id", t.ID))
	s.log.Info("ticket created",
		zap.String("ticket_id", t.ID), zap.String("store_id", t.StoreID), zap.String("actor_id", actor.ID))
	s.committed(ctx, kafka.EventTicketCreated, t, actor.ID, appended)
	return t, nil
}

// Assign sets the technician. An ADMIN names techID; a TECH claims the ticket
// for themselves (techID empty or their own id).
func (s *TicketService) Assign(ctx context.Context, actor *model.User, ticketID, techID string) (_ *model.Ticket, err error) {
	ctx, span := s.span(ctx, "assign", ticketID)
	defer func() { err = s.done(span, "assign", err) }()

	if err := access.Authorize(actor, access.ActionAssign, nil, false); err != nil {
		return nil, err
	}
	techID = strings.TrimSpace(techID)
	if actor.Role == model.RoleTech && techID != "" && techID != actor.ID {
		return nil, errs.Forbidden("technicians can only assign tickets to themselves")
	}

	var (
		t        *model.Ticket
		appended []model.TicketUpdate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, ticketID); err != nil {
			return err
		}
		if err := access.Authorize(actor, access.ActionAssign, t, false); err != nil {
			return err
		}

		target := actor.ID
		if actor.Role == model.RoleAdmin {
			if techID == "" {
				return errs.Validation("tech_id is required")
			}
			target = techID
		}
		tech, err := lockActiveTech(tx, target)
		if err != nil {
			return err
		}
		target = tech.ID

		if t.Status.IsTerminal() {
			return errs.Conflict("ticket is %s", t.Status)
		}
		if actor.Role == model.RoleTech && t.AssignedTechID != nil && *t.AssignedTechID != target {
			return errs.Conflict("ticket already assigned to another technician")
		}

		prev := t.AssignedTechID
		now := s.now()
		if prev == nil || *prev != target {
			t.AssignedTechID = &target
			t.AssignedAt = &now
		}
		entries := []entry{{payload: model.AssignPayload{TechID: target, PreviousTechID: prev}}}
		if t.Status == model.StatusAberto {
			t.Status = model.StatusAtribuido
			entries = append(entries, entry{payload: model.StatusChangePayload{From: model.StatusAberto, To: model.StatusAtribuido}})
		}
		if err := s.persist(tx, t); err != nil {
			return err
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID, entries...)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket assigned",
		zap.String("ticket_id", t.ID), zap.String("tech_id", *t.AssignedTechID), zap.String("actor_id", actor.ID))
	s.committed(ctx, kafka.EventTicketAssigned, t, actor.ID, appended)
	return t, nil
}

// Start moves an ATRIBUIDO or PENDENTE ticket to EM_ATENDIMENTO.
func (s *TicketService) Start(ctx context.Context, actor *model.User, ticketID string, note *string) (*model.Ticket, error) {
	return s.transition(ctx, "start", access.ActionStart, actor, ticketID, note, model.StatusEmAtendimento,
		model.StatusAtribuido, model.StatusPendente)
}

// Pend moves an EM_ATENDIMENTO ticket to PENDENTE.
func (s *TicketService) Pend(ctx context.Context, actor *model.User, ticketID string, note *string) (*model.Ticket, error) {
	return s.transition(ctx, "pend", access.ActionPend, actor, ticketID, note, model.StatusPendente,
		model.StatusEmAtendimento)
}

func (s *TicketService) transition(ctx context.Context, op string, action access.Action, actor *model.User,
	ticketID string, note *string, to model.TicketStatus, from ...model.TicketStatus) (_ *model.Ticket, err error) {
	ctx, span := s.span(ctx, op, ticketID)
	defer func() { err = s.done(span, op, err) }()

	if err := access.Authorize(actor, action, nil, false); err != nil {
		return nil, err
	}

	var (
		t        *model.Ticket
		appended []model.TicketUpdate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, ticketID); err != nil {
			return err
		}
		if err := access.Authorize(actor, action, t, false); err != nil {
			return err
		}
		legal := false
		for _, f := range from {
			if t.Status == f {
				legal = true
				break
			}
		}
		if !legal || !t.Status.CanTransitionTo(to) {
			return errs.Conflict("cannot %s a ticket in status %s", op, t.Status)
		}

		old := t.Status
		t.Status = to
		if to == model.StatusEmAtendimento {
			now := s.now()
			t.StartedAt = &now
		}
		if err := s.persist(tx, t); err != nil {
			return err
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID, entry{
			note:    trimOptional(note),
			payload: model.StatusChangePayload{From: old, To: to},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket status changed", zap.String("ticket_id", t.ID), zap.String("status", string(t.Status)))
	s.committed(ctx, kafka.EventTicketUpdated, t, actor.ID, appended)
	return t, nil
}

// Comment appends a note. Allowed for anyone who can see the ticket, in any status.
func (s *TicketService) Comment(ctx context.Context, actor *model.User, ticketID, note string) (_ *model.TicketUpdate, err error) {
	ctx, span := s.span(ctx, "comment", ticketID)
	defer func() { err = s.done(span, "comment", err) }()

	if err := access.Authorize(actor, access.ActionComment, nil, false); err != nil {
		return nil, err
	}

	var appended []model.TicketUpdate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTicket(tx, ticketID)
		if err != nil {
			return err
		}
		visible, err := s.checker.CanViewTicket(ctx, tx, actor, t)
		if err != nil {
			return err
		}
		if err := access.Authorize(actor, access.ActionComment, t, visible); err != nil {
			return err
		}
		text := trimOptional(&note)
		if text == nil {
			return errs.Validation("note is required")
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID, entry{note: text, payload: model.CommentPayload{}})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, "", nil, actor.ID, appended)
	return &appended[0], nil
}

// Edit changes descriptive fields of a non-terminal ticket.
func (s *TicketService) Edit(ctx context.Context, actor *model.User, ticketID string, in EditTicketInput) (_ *model.Ticket, err error) {
	ctx, span := s.span(ctx, "edit", ticketID)
	defer func() { err = s.done(span, "edit", err) }()

	if err := access.Authorize(actor, access.ActionEdit, nil, false); err != nil {
		return nil, err
	}

	var (
		t        *model.Ticket
		changed  []string
		appended []model.TicketUpdate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, ticketID); err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return errs.Conflict("ticket is %s and can no longer be edited", t.Status)
		}

		diff, err := applyEdit(t, in)
		if err != nil {
			return err
		}
		if len(diff.Changed) == 0 {
			return errs.Validation("no changes")
		}
		changed = diff.Changed
		if err := s.persist(tx, t); err != nil {
			return err
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID, entry{payload: diff})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket edited", zap.String("ticket_id", t.ID), zap.Strings("changed", changed))
	s.committed(ctx, kafka.EventTicketUpdated, t, actor.ID, appended)
	return t, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// applyEdit validates in, applies it to t and returns what actually changed.
func applyEdit(t *model.Ticket, in EditTicketInput) (model.EditPayload, error) {
	diff := model.EditPayload{Before: map[string]string{}, After: map[string]string{}}
	record := func(field, before, after string) {
		diff.Changed = append(diff.Changed, field)
		diff.Before[field] = before
		diff.After[field] = after
	}
	nonEmpty := func(field string, p *string) (string, error) {
		v := strings.TrimSpace(*p)
		if v == "" {
			return "", errs.Validation("%s must not be empty", field)
		}
		return v, nil
	}

	if in.RequesterName != nil {
		v, err := nonEmpty("requester_name", in.RequesterName)
		if err != nil {
			return diff, err
		}
		if v != deref(t.RequesterName) {
			record("requester_name", deref(t.RequesterName), v)
			t.RequesterName = &v
		}
	}
	if in.Location != nil {
		v, err := nonEmpty("location", in.Location)
		if err != nil {
			return diff, err
		}
		if v != deref(t.Location) {
			record("location", deref(t.Location), v)
			t.Location = &v
		}
	}
	if in.Problem != nil {
		v, err := nonEmpty("problem", in.Problem)
		if err != nil {
			return diff, err
		}
		if v != t.Problem {
			record("problem", t.Problem, v)
			t.Problem = v
		}
	}
	if in.Type != nil {
		typ, ok := model.ParseTicketType(*in.Type)
		if !ok {
			return diff, errs.Validation("invalid ticket type %q", *in.Type)
		}
		if typ != t.Type {
			record("type", string(t.Type), string(typ))
			t.Type = typ
		}
	}
	if in.Priority != nil {
		prio, ok := model.ParseTicketPriority(*in.Priority)
		if !ok {
			return diff, errs.Validation("invalid priority %q", *in.Priority)
		}
		if prio != t.Priority {
			record("priority", string(t.Priority), string(prio))
			t.Priority = prio
		}
	}
	return diff, nil
}

// Close records the resolution and concludes the ticket.
func (s *TicketService) Close(ctx context.Context, actor *model.User, ticketID, resolution string) (_ *TicketDetail, err error) {
	ctx, span := s.span(ctx, "close", ticketID)
	defer func() { err = s.done(span, "close", err) }()

	if err := access.Authorize(actor, access.ActionClose, nil, false); err != nil {
		return nil, err
	}

	var (
		t        *model.Ticket
		closure  *model.TicketClosure
		appended []model.TicketUpdate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, ticketID); err != nil {
			return err
		}
		if err := access.Authorize(actor, access.ActionClose, t, false); err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&model.TicketClosure{}).Where("ticket_id = ?", t.ID).Count(&existing).Error; err != nil {
			return fmt.Errorf("check closure: %w", err)
		}
		if existing > 0 || t.Status == model.StatusConcluido {
			return errs.Conflict("ticket already closed")
		}
		if !t.Status.CanTransitionTo(model.StatusConcluido) {
			return errs.Conflict("cannot close a ticket in status %s", t.Status)
		}

		text := strings.TrimSpace(resolution)
		if utf8.RuneCountInString(text) < MinResolutionLength {
			return errs.Validation("resolution_text must have at least %d characters", MinResolutionLength)
		}

		now := s.now()
		closure = &model.TicketClosure{TicketID: t.ID, ResolutionText: text, ClosedByID: actor.ID, ClosedAt: now}
		if err := tx.Create(closure).Error; err != nil {
			return fmt.Errorf("create closure: %w", err)
		}
		old := t.Status
		t.Status = model.StatusConcluido
		t.ClosedAt = &now
		if err := s.persist(tx, t); err != nil {
			return err
		}
		appended, err = s.appendHistory(tx, t.ID, actor.ID,
			entry{note: strPtr("closed with resolution"), payload: model.ClosePayload{ResolutionLength: utf8.RuneCountInString(text)}},
			entry{payload: model.StatusChangePayload{From: old, To: model.StatusConcluido}},
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket closed", zap.String("ticket_id", t.ID), zap.String("actor_id", actor.ID))
	s.committed(ctx, kafka.EventTicketClosed, t, actor.ID, appended)
	return &TicketDetail{Ticket: *t, Closure: closure}, nil
}

// viewable loads a ticket and checks that actor may see it.
func (s *TicketService) viewable(ctx context.Context, actor *model.User, ticketID string) (*model.Ticket, error) {
	if err := access.Authorize(actor, access.ActionView, nil, false); err != nil {
		return nil, err
	}
	var t model.Ticket
	err := s.db.WithContext(ctx).First(&t, "id = ?", ticketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	visible, err := s.checker.CanViewTicket(ctx, s.db, actor, &t)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionView, &t, visible); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) Get(ctx context.Context, actor *model.User, ticketID string) (_ *TicketDetail, err error) {
	ctx, span := s.span(ctx, "get", ticketID)
	defer func() { err = s.done(span, "get", err) }()

	t, err := s.viewable(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	detail := &TicketDetail{Ticket: *t}
	var closures []model.TicketClosure
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", t.ID).Limit(1).Find(&closures).Error; err != nil {
		return nil, fmt.Errorf("load closure: %w", err)
	}
	if len(closures) > 0 {
		detail.Closure = &closures[0]
	}
	return detail, nil
}

// History returns the ticket's entries in seq order.
func (s *TicketService) History(ctx context.Context, actor *model.User, ticketID string) (_ []model.TicketUpdate, err error) {
	ctx, span := s.span(ctx, "history", ticketID)
	defer func() { err = s.done(span, "history", err) }()

	if _, err := s.viewable(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	items := []model.TicketUpdate{}
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("seq ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for i := range items {
		if _, err := items[i].DecodePayload(); err != nil {
			s.log.Warn("unreadable history entry",
				zap.String("ticket_id", ticketID), zap.Int64("seq", items[i].Seq), zap.Error(err))
		}
	}
	return items, nil
}

// List returns tickets visible to actor, newest first.
func (s *TicketService) List(ctx context.Context, actor *model.User, f ListTicketsFilter) (_ *TicketPage, err error) {
	ctx, span := s.span(ctx, "list", "")
	defer func() { err = s.done(span, "list", err) }()

	if err := access.Authorize(actor, access.ActionList, nil, false); err != nil {
		return nil, err
	}
	var status model.TicketStatus
	if f.Status != "" {
		st, ok := model.ParseTicketStatus(f.Status)
		if !ok {
			return nil, errs.Validation("invalid status %q", f.Status)
		}
		status = st
	}
	if f.Offset < 0 {
		return nil, errs.Validation("offset must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	scope := f.Scope
	if actor.Role != model.RoleTech {
		scope = access.ScopeDefault
	}

	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Ticket{}).Scopes(access.ScopeTickets(actor, scope))
		if status != "" {
			q = q.Where("tickets.status = ?", status)
		}
		if f.StoreID != "" {
			q = q.Where("tickets.store_id = ?", f.StoreID)
		}
		if f.NetworkID != "" {
			q = q.Where("tickets.store_id IN (SELECT id FROM stores WHERE network_id = ?)", f.NetworkID)
		}
		return q
	}

	page := &TicketPage{Items: []model.Ticket{}, Limit: f.Limit, Offset: f.Offset}
	if err := query().Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	if err := query().Order("tickets.opened_at DESC").Order("tickets.id").
		Limit(f.Limit).Offset(f.Offset).Find(&page.Items).Error; err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return page, nil
}
