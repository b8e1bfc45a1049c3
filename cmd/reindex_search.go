package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/searchindex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reindexSearchCmd = &cobra.Command{
	Use:   "reindex-search",
	Short: "Reindex all tickets into search. Prefers Kafka; falls back to HTTP if SEARCH_SERVICE_URL set.",
	RunE:  runReindexSearch,
}

func init() {
	rootCmd.AddCommand(reindexSearchCmd)
}

func runReindexSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	conn, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer database.Close(conn)

	var tickets []model.Ticket
	if err := conn.Order("opened_at").Find(&tickets).Error; err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	log.Info("reindex-search: found tickets", zap.Int("count", len(tickets)))

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	// Сначала Kafka, затем HTTP
	if producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log, nil); producer.Enabled() {
		defer producer.Close()
		log.Info("reindex-search: using Kafka for reindexing", zap.String("topic", cfg.KafkaTopicTicket))
		now := time.Now().UTC()
		for i := range tickets {
			producer.PublishTicketEvent(ctx, kafka.NewTicketEvent(kafka.EventTicketUpdated, &tickets[i], "", now))
			if (i+1)%50 == 0 || i == len(tickets)-1 {
				log.Info("reindex-search: sent events", zap.Int("sent", i+1), zap.Int("total", len(tickets)))
			}
		}
		log.Info("reindex-search: done via Kafka (search-service worker will index them)", zap.Int("count", len(tickets)))
		return nil
	}
	if cfg.SearchServiceURL != "" {
		log.Info("reindex-search: using HTTP for reindexing", zap.String("url", cfg.SearchServiceURL))
		client := searchindex.NewClient(cfg.SearchServiceURL, log, nil)
		failed := 0
		for i := range tickets {
			if err := client.IndexTicket(ctx, &tickets[i]); err != nil {
				failed++
				log.Warn("reindex-search: index ticket", zap.String("ticket_id", tickets[i].ID), zap.Error(err))
			}
			if (i+1)%50 == 0 || i == len(tickets)-1 {
				log.Info("reindex-search: indexed", zap.Int("done", i+1), zap.Int("total", len(tickets)))
			}
		}
		log.Info("reindex-search: done via HTTP", zap.Int("count", len(tickets)), zap.Int("failed", failed))
		return nil
	}
	log.Warn("reindex-search: neither KAFKA_BROKERS nor SEARCH_SERVICE_URL set, nothing reindexed",
		zap.Int("count", len(tickets)))
	return nil
}
