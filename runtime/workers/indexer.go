package workers

import (
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"
	"log/slog"
)

// IndexerWorker feeds stored messages into the full-text index off the
// send path, so a slow index merge never delays message delivery.
// Indexing is best effort: a failed document is logged and dropped.
type IndexerWorker struct {
	log      *slog.Logger
	messages <-chan domain.Message
	search   repositories.ISearchRepository
}

func NewIndexerWorker(log *slog.Logger, messages <-chan domain.Message, search repositories.ISearchRepository) *IndexerWorker {
	return &IndexerWorker{log: log, messages: messages, search: search}
}

func (w *IndexerWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping message indexing")
			return nil
		case message := <-w.messages:
			if err := w.search.Index(message); err != nil {
				w.log.Warn("Failed to index message", "message_id", message.ID, "err", err)
			}
		}
	}
}
