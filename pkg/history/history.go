// Package history keeps one MongoDB document per mirror run
package history

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/releases"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

const connectTimeout = 10 * time.Second

// RunRecord is the document stored for a run
type RunRecord struct {
	RunID      string    `bson:"_id" json:"run_id"`
	Dataset    string    `bson:"dataset" json:"dataset"`
	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	FinishedAt time.Time `bson:"finished_at" json:"finished_at"`
	Outcome    string    `bson:"outcome" json:"outcome"`

	Stats    *stats.DatasetStatistics `bson:"stats,omitempty" json:"stats,omitempty"`
	Previous *releases.Lookup         `bson:"previous,omitempty" json:"previous,omitempty"`
	IsUpdate bool                     `bson:"is_update" json:"is_update"`
	Status   string                   `bson:"status,omitempty" json:"status,omitempty"`
	Mirrored []string                 `bson:"mirrored,omitempty" json:"mirrored,omitempty"`
	Error    string                   `bson:"error,omitempty" json:"error,omitempty"`
}

// Recorder writes and reads run records
type Recorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// Connect opens the history collection described by cfg
func Connect(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (*Recorder, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	r := NewRecorder(client.Database(cfg.Database).Collection(cfg.Collection), logger)
	r.client = client
	r.createIndexes(ctx)
	return r, nil
}

// NewRecorder wraps an already opened collection
func NewRecorder(collection *mongo.Collection, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		collection: collection,
		logger:     logger.With(zap.String("component", "history")),
	}
}

// createIndexes adds the index Recent relies on. Failure only slows queries.
func (r *Recorder) createIndexes(ctx context.Context) {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "dataset", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		r.logger.Warn("failed to create history index", zap.Error(err))
	}
}

// Record inserts rec
func (r *Recorder) Record(ctx context.Context, rec *RunRecord) error {
	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to record run").
			WithDetail("run_id", rec.RunID)
	}
	r.logger.Debug("run recorded", zap.String("run_id", rec.RunID), zap.String("outcome", rec.Outcome))
	return nil
}

// Recent returns up to limit runs of dataset, newest first
func (r *Recorder) Recent(ctx context.Context, dataset string, limit int64) ([]RunRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"dataset": dataset}, opts)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to query run history")
	}
	defer cursor.Close(ctx)

	var records []RunRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeData, "failed to decode run history")
	}
	return records, nil
}

// Close disconnects the client opened by Connect
func (r *Recorder) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}
