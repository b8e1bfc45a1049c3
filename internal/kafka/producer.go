package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Имена событий тикета в топике.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketUpdated  = "ticket.updated"
	EventTicketAssigned = "ticket.assigned"
	EventTicketClosed   = "ticket.closed"
)

// TicketEvent — тело сообщения в топике тикетов.
type TicketEvent struct {
	Event          string    `json:"event"`
	TicketID       string    `json:"ticket_id"`
	StoreID        string    `json:"store_id"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	Type           string    `json:"type"`
	Problem        string    `json:"problem"`
	AssignedTechID string    `json:"assigned_tech_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	Version        int64     `json:"version"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewTicketEvent собирает событие из состояния тикета после коммита.
func NewTicketEvent(event string, t *model.Ticket, actorID string, at time.Time) TicketEvent {
	e := TicketEvent{
		Event:      event,
		TicketID:   t.ID,
		StoreID:    t.StoreID,
		Status:     string(t.Status),
		Priority:   string(t.Priority),
		Type:       string(t.Type),
		Problem:    t.Problem,
		ActorID:    actorID,
		Version:    t.Version,
		OccurredAt: at.UTC(),
	}
	if t.AssignedTechID != nil {
		e.AssignedTechID = *t.AssignedTechID
	}
	return e
}

// TicketEventPublisher — интерфейс для отправки событий тикета (для подмены в тестах).
type TicketEventPublisher interface {
	PublishTicketEvent(ctx context.Context, e TicketEvent)
}

// NopPublisher ничего не отправляет.
type NopPublisher struct{}

func (NopPublisher) PublishTicketEvent(context.Context, TicketEvent) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrorCounter считает сбои внешних вызовов (observability.Metrics).
type ErrorCounter interface {
	IncrExternalError(service string)
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer  messageWriter
	topic   string
	log     *zap.Logger
	metrics ErrorCounter
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, log *zap.Logger, metrics ErrorCounter) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{topic: topic, log: log.Named("kafka"), metrics: metrics}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

// Enabled сообщает, настроен ли брокер.
func (p *Producer) Enabled() bool { return p.writer != nil }

// PublishTicketEvent отправляет событие; ключ — ticket_id, чтобы события тикета шли в одну партицию.
func (p *Producer) PublishTicketEvent(ctx context.Context, e TicketEvent) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal ticket event", zap.String("event", e.Event), zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.TicketID), Value: body}); err != nil {
		p.log.Warn("write ticket event",
			zap.String("event", e.Event), zap.String("ticket_id", e.TicketID), zap.Error(err))
		if p.metrics != nil {
			p.metrics.IncrExternalError("kafka")
		}
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
