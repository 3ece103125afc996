package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Archiver keeps expired envelopes after the ledger purges them.
type Archiver interface {
	Archive(ctx context.Context, records []Record) error
}

type archivedEnvelope struct {
	CorrelationID string    `bson:"_id"`
	Recipient     string    `bson:"recipient"`
	MessageID     int64     `bson:"message_id"`
	From          string    `bson:"from"`
	Content       string    `bson:"content"`
	IsPrivate     bool      `bson:"is_private"`
	Attempts      int       `bson:"attempts"`
	LastError     string    `bson:"last_error,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	ExpiresAt     time.Time `bson:"expires_at"`
	ArchivedAt    time.Time `bson:"archived_at"`
}

type MongoArchive struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoArchive(db *mongo.Database, collection string) *MongoArchive {
	return &MongoArchive{collection: db.Collection(collection), now: time.Now}
}

// Archive is idempotent: envelopes already archived are skipped.
func (a *MongoArchive) Archive(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	now := a.now().UTC()
	docs := make([]interface{}, 0, len(records))
	for _, rec := range records {
		docs = append(docs, archivedEnvelope{
			CorrelationID: rec.CorrelationID,
			Recipient:     rec.Recipient,
			MessageID:     rec.Envelope.MessageID,
			From:          rec.Envelope.From,
			Content:       rec.Envelope.Content,
			IsPrivate:     rec.Envelope.IsPrivate,
			Attempts:      rec.Attempts,
			LastError:     rec.LastError,
			CreatedAt:     rec.CreatedAt,
			ExpiresAt:     rec.ExpiresAt,
			ArchivedAt:    now,
		})
	}

	_, err := a.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return fmt.Errorf("failed to archive envelopes: %w", err)
	}
	return nil
}

// Count reports how many archived envelopes belong to recipient.
func (a *MongoArchive) Count(ctx context.Context, recipient string) (int64, error) {
	return a.collection.CountDocuments(ctx, map[string]interface{}{"recipient": recipient})
}

func onlyDuplicates(err error) bool {
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return false
	}
	if bulkErr.WriteConcernError != nil {
		return false
	}
	for _, we := range bulkErr.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}
