//go:generate go run go.uber.org/mock/mockgen -source=search.go -destination=../mocks/mock_search_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

// ISearchRepository is the full-text index over message content. It is
// fed asynchronously by the indexer worker, so a freshly sent message
// may take a moment to become searchable.
type ISearchRepository interface {
	Index(message domain.Message) error
	Search(ctx context.Context, roomID domain.RoomID, terms string, limit int) ([]uuid.UUID, error)
}

type SearchRepository struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchRepository(writer *bluge.Writer, log *slog.Logger) *SearchRepository {
	return &SearchRepository{writer: writer, log: log}
}

// Index upserts the message document keyed by its id. The room is a
// keyword field so searches never leak across rooms.
func (s *SearchRepository) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID.String())
	doc.AddField(bluge.NewTextField("content", message.Content))
	doc.AddField(bluge.NewKeywordField("room", string(message.RoomID)))
	return s.writer.Update(doc.ID(), doc)
}

// Search returns the ids of the best-matching messages in a room.
func (s *SearchRepository) Search(ctx context.Context, roomID domain.RoomID, terms string, limit int) ([]uuid.UUID, error) {
	reader, err := s.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.log.Warn("Failed to close index reader", "err", err)
		}
	}()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(terms).SetField("content")).
		AddMust(bluge.NewTermQuery(string(roomID)).SetField("room"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				if id, parseErr := uuid.Parse(string(value)); parseErr == nil {
					ids = append(ids, id)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
