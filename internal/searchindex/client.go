package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrorCounter считает сбои внешних вызовов (observability.Metrics).
type ErrorCounter interface {
	IncrExternalError(service string)
}

// Indexer — то, что нужно сервису тикетов (для подмены в тестах).
type Indexer interface {
	IndexTicketAsync(t *model.Ticket)
}

// Client отправляет тикеты в search-service для индексации (best-effort, не блокирует API).
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
	metrics    ErrorCounter
}

// NewClient возвращает клиент. Если baseURL пустой, вызовы IndexTicket — no-op.
func NewClient(baseURL string, log *zap.Logger, metrics ErrorCounter) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cb:      newBreaker("search-service"),
		log:     log.Named("searchindex"),
		metrics: metrics,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// IndexTicketPayload — тело POST /search/index/ticket.
type IndexTicketPayload struct {
	TicketID       string `json:"ticket_id"`
	StoreID        string `json:"store_id"`
	Problem        string `json:"problem"`
	RequesterName  string `json:"requester_name,omitempty"`
	Location       string `json:"location,omitempty"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
	AssignedTechID string `json:"assigned_tech_id,omitempty"`
}

func payloadFor(t *model.Ticket) IndexTicketPayload {
	p := IndexTicketPayload{
		TicketID: t.ID,
		StoreID:  t.StoreID,
		Problem:  t.Problem,
		Type:     string(t.Type),
		Priority: string(t.Priority),
		Status:   string(t.Status),
	}
	if t.RequesterName != nil {
		p.RequesterName = *t.RequesterName
	}
	if t.Location != nil {
		p.Location = *t.Location
	}
	if t.AssignedTechID != nil {
		p.AssignedTechID = *t.AssignedTechID
	}
	return p
}

// IndexTicket отправляет тикет в search-service через circuit breaker.
func (c *Client) IndexTicket(ctx context.Context, t *model.Ticket) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(payloadFor(t))
	if err != nil {
		return fmt.Errorf("searchindex: marshal: %w", err)
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/index/ticket", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrExternalError("search")
		}
		return fmt.Errorf("searchindex: ticket %s: %w", t.ID, err)
	}
	return nil
}

// IndexTicketAsync вызывает IndexTicket в отдельной горутине (не блокирует ответ API).
func (c *Client) IndexTicketAsync(t *model.Ticket) {
	if c.baseURL == "" {
		return
	}
	snapshot := *t
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.IndexTicket(ctx, &snapshot); err != nil {
			c.log.Warn("index ticket", zap.String("ticket_id", snapshot.ID), zap.Error(err))
		}
	}()
}

// NopIndexer не индексирует.
type NopIndexer struct{}

func (NopIndexer) IndexTicketAsync(*model.Ticket) {}
