// Package handler adapts the ingest queue's Kafka messages into calls
// against the primary shard.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/distshard/shardcore/internal/ingestion"
	"github.com/distshard/shardcore/internal/ingestion/publisher"
	"github.com/distshard/shardcore/internal/ingestion/validator"
)

// Handler decodes and forwards one Kafka message at a time.
type Handler struct {
	publisher *publisher.Publisher
	logger    *slog.Logger
}

// New creates a Handler that forwards validated batches through pub.
func New(pub *publisher.Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Handle is a pkg/kafka.MessageHandler: it decodes value as an IngestBatch,
// resolves and validates every document's id, and forwards the batch to the
// primary shard. A malformed batch, or one that fails validation, is logged
// and dropped — redelivering it cannot fix it. A forwarding error is
// returned; the consumer logs it and leaves the message uncommitted.
func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	var batch ingestion.IngestBatch
	if err := json.Unmarshal(value, &batch); err != nil {
		h.logger.Error("dropping malformed ingest batch", "error", err)
		return nil
	}

	docs, err := validator.ValidateBatch(batch.Documents)
	if err != nil {
		h.logger.Error("dropping batch that failed validation", "error", err)
		return nil
	}

	accepted, err := h.publisher.Publish(ctx, docs)
	if err != nil {
		return fmt.Errorf("forwarding batch of %d documents: %w", len(docs), err)
	}
	h.logger.Info("batch forwarded to primary shard", "accepted", accepted)
	return nil
}
