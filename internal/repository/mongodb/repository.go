package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
)

const syncReportsCollection = "sync_reports"

// Repository defines the interface for sync report storage.
type Repository interface {
	SaveSyncReport(ctx context.Context, report models.SyncReport) error
	RecentSyncReports(ctx context.Context, userID string, limit int64) ([]models.SyncReport, error)
}

// MongoDBRepository implements the Repository interface for MongoDB.
type MongoDBRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// NewMongoDBRepository creates a new MongoDB repository.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return NewWithClient(client, dbName), nil
}

// NewWithClient wraps an already connected client.
func NewWithClient(client *mongo.Client, dbName string) *MongoDBRepository {
	return &MongoDBRepository{
		client:   client,
		dbName:   dbName,
		collName: syncReportsCollection,
	}
}

func (r *MongoDBRepository) collection() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(r.collName)
}

// SaveSyncReport archives one sync run.
func (r *MongoDBRepository) SaveSyncReport(ctx context.Context, report models.SyncReport) error {
	if _, err := r.collection().InsertOne(ctx, report); err != nil {
		return fmt.Errorf("failed to insert sync report: %w", err)
	}
	return nil
}

// RecentSyncReports returns the latest runs, newest first. An empty userID
// returns the global runs.
func (r *MongoDBRepository) RecentSyncReports(ctx context.Context, userID string, limit int64) ([]models.SyncReport, error) {
	if limit <= 0 {
		limit = 10
	}

	filter := bson.D{{Key: "user_id", Value: userID}}
	if userID == "" {
		filter = bson.D{{Key: "user_id", Value: bson.D{{Key: "$exists", Value: false}}}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "run_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync reports: %w", err)
	}
	defer cursor.Close(ctx)

	reports := []models.SyncReport{}
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode sync reports: %w", err)
	}
	return reports, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
