package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fba-sync-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDBRunRepository implements RunRepository using MongoDB.
type MongoDBRunRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBRunRepository connects to MongoDB and ensures the region index exists.
func NewMongoDBRunRepository(uri, database, collection string, logger *slog.Logger) (*MongoDBRunRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "region", Value: 1}, {Key: "started_at", Value: -1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		logger.Warn("failed to create run index", "error", err)
	}

	logger.Info("run history initialized", "backend", "mongodb", "database", database, "collection", collection)
	return &MongoDBRunRepository{client: client, collection: coll}, nil
}

// runDocument represents a run in MongoDB.
type runDocument struct {
	ID             string    `bson:"_id"`
	Region         string    `bson:"region"`
	Trigger        string    `bson:"trigger"`
	Outcome        string    `bson:"outcome"`
	ReportID       string    `bson:"report_id,omitempty"`
	Records        int       `bson:"records"`
	AgingRiskTotal float64   `bson:"aging_risk_total"`
	Error          string    `bson:"error,omitempty"`
	StartedAt      time.Time `bson:"started_at"`
	FinishedAt     time.Time `bson:"finished_at"`
}

func (d runDocument) toModel() model.RefreshRun {
	return model.RefreshRun{
		ID:             d.ID,
		Region:         model.Region(d.Region),
		Trigger:        model.Trigger(d.Trigger),
		Outcome:        model.Outcome(d.Outcome),
		ReportID:       d.ReportID,
		Records:        d.Records,
		AgingRiskTotal: d.AgingRiskTotal,
		Error:          d.Error,
		StartedAt:      d.StartedAt.UTC(),
		FinishedAt:     d.FinishedAt.UTC(),
	}
}

// Record inserts a finished run.
func (r *MongoDBRunRepository) Record(ctx context.Context, run *model.RefreshRun) error {
	doc := runDocument{
		ID:             run.ID,
		Region:         string(run.Region),
		Trigger:        string(run.Trigger),
		Outcome:        string(run.Outcome),
		ReportID:       run.ReportID,
		Records:        run.Records,
		AgingRiskTotal: run.AgingRiskTotal,
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LatestByRegion returns the most recent run per region.
func (r *MongoDBRunRepository) LatestByRegion(ctx context.Context) (map[model.Region]*model.RefreshRun, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "started_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$region"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[model.Region]*model.RefreshRun)
	for cursor.Next(ctx) {
		var row struct {
			Latest runDocument `bson:"latest"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		run := row.Latest.toModel()
		out[run.Region] = &run
	}
	return out, cursor.Err()
}

// List returns up to limit runs for a region, newest first.
func (r *MongoDBRunRepository) List(ctx context.Context, region model.Region, limit int) ([]model.RefreshRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cursor, err := r.collection.Find(ctx, bson.M{"region": string(region)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctx)

	runs := []model.RefreshRun{}
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		runs = append(runs, doc.toModel())
	}
	return runs, cursor.Err()
}

// Prune deletes runs that started before cutoff.
func (r *MongoDBRunRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"started_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.DeletedCount, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRunRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ RunRepository = (*MongoDBRunRepository)(nil)

// Ping verifies the connection to the primary.
func (r *MongoDBRunRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}
