package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/news-rag/internal/config"
	"github.com/DeafMist/news-rag/internal/dedupe"
	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/processing"
	"github.com/DeafMist/news-rag/internal/store"
)

// rawNews is one crawled article as published by the fetcher.
type rawNews struct {
	URL        string `json:"url"`
	Topic      string `json:"topic"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Content    string `json:"content"`
	Summary    string `json:"summary"`
	Press      string `json:"press"`
	Journalist string `json:"journalist"`
	Date       string `json:"date"`
}

type newsStore interface {
	UpsertNews(ctx context.Context, doc models.NewsDocument, resetIndexed bool) (models.NewsDocument, error)
}

func main() {
	config.LoadDotEnv()
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("database", cfg.DatabasePath),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, st, cache, cfg, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Commits are per-partition offsets: the next commit on this
				// partition moves past this message.
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

func sendToDLQ(ctx context.Context, log *slog.Logger, w *kafka.Writer, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range 5 {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

// processMessage normalises one crawled article and upserts it. Articles
// whose extraction failed are still stored, with empty content, so the URL
// is known and a later crawl can fill it in.
func processMessage(ctx context.Context, log *slog.Logger, st newsStore, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var payload rawNews
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return err
	}

	doc, err := buildDocument(payload, cfg.DefaultTopic)
	if err != nil {
		return err
	}

	key := processing.ContentKey(doc.URL, doc.Title, doc.Content, doc.Date)
	if !cfg.ResetIndexed && cache.Unchanged(doc.URL, key) {
		log.Debug("unchanged news", slog.String("url", doc.URL))
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()

	stored, err := st.UpsertNews(writeCtx, doc, cfg.ResetIndexed)
	if err != nil {
		cache.Forget(doc.URL)
		return err
	}

	cache.Remember(doc.URL, key)
	log.Info("stored news",
		slog.Int64("id", stored.ID),
		slog.String("url", stored.URL),
		slog.String("status", stored.Status),
		slog.Bool("indexed", stored.IsIndexed),
	)
	return nil
}

func buildDocument(payload rawNews, defaultTopic string) (models.NewsDocument, error) {
	url := strings.TrimSpace(payload.URL)
	if url == "" {
		return models.NewsDocument{}, errors.New("article without url")
	}

	content := processing.SqueezeSpace(payload.Content)
	status := strings.TrimSpace(payload.Status)
	switch {
	case strings.EqualFold(status, models.StatusFailure):
		status = models.StatusFailure
	case status == "" && content == "":
		status = models.StatusFailure
	default:
		status = models.StatusSuccess
	}

	doc := models.NewsDocument{
		URL:        url,
		Topic:      strings.TrimSpace(payload.Topic),
		Title:      processing.SqueezeSpace(payload.Title),
		Status:     status,
		Press:      processing.CleanText(payload.Press),
		Journalist: processing.CleanText(payload.Journalist),
		Date:       processing.ParseTimestamp(payload.Date),
	}
	if doc.Topic == "" {
		doc.Topic = defaultTopic
	}
	if doc.Date.IsZero() {
		doc.Date = time.Now().UTC()
	}
	if status == models.StatusSuccess {
		doc.Content = content
		doc.Summary = processing.SqueezeSpace(payload.Summary)
		if doc.Title == "" {
			doc.Title = processing.GenerateTitleFromText(content, 10)
		}
	}
	return doc, nil
}
