package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/outpost/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names used by the MongoDB backend.
const (
	CollectionServerMetrics      = "serverMetrics"
	CollectionImportantLocations = "importantLocations"
	CollectionBackupTasks        = "backupTasks"
)

// MongoStore is the MongoDB backed Store.
type MongoStore struct {
	client    *mongo.Client
	state     *mongo.Collection
	locations *mongo.Collection
	tasks     *mongo.Collection
}

// stateDocument stores the metrics under the fixed StateKey id.
type stateDocument struct {
	ID                   string `bson:"_id"`
	models.ServerMetrics `bson:",inline"`
}

// NewMongo connects to uri, verifies the connection and ensures indexes.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		state:     db.Collection(CollectionServerMetrics),
		locations: db.Collection(CollectionImportantLocations),
		tasks:     db.Collection(CollectionBackupTasks),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.locations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create locations index: %w", err)
	}

	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "completedAt", Value: 1}, {Key: "dueAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create tasks index: %w", err)
	}

	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureMetrics inserts m unless the state document exists. The fixed _id
// makes a concurrent second insert fail with a duplicate key error.
func (s *MongoStore) EnsureMetrics(ctx context.Context, m models.ServerMetrics) (bool, error) {
	_, err := s.state.InsertOne(ctx, stateDocument{ID: StateKey, ServerMetrics: m})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// GetMetrics returns the state document or nil if it was never written.
func (s *MongoStore) GetMetrics(ctx context.Context) (*models.ServerMetrics, error) {
	var doc stateDocument
	err := s.state.FindOne(ctx, bson.M{"_id": StateKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &doc.ServerMetrics, nil
}

// PatchMetrics applies the patch as dotted $set paths with upsert.
func (s *MongoStore) PatchMetrics(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error) {
	set := bson.D{}
	for _, f := range patch.Fields() {
		set = append(set, bson.E{Key: f.Key, Value: f.Value})
	}
	if len(set) == 0 {
		return s.GetMetrics(ctx)
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc stateDocument
	if err := s.state.FindOneAndUpdate(ctx, bson.M{"_id": StateKey}, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc); err != nil {
		return nil, err
	}

	return &doc.ServerMetrics, nil
}

// ReplaceMetrics overwrites the whole state document.
func (s *MongoStore) ReplaceMetrics(ctx context.Context, m models.ServerMetrics) error {
	_, err := s.state.ReplaceOne(ctx, bson.M{"_id": StateKey}, stateDocument{ID: StateKey, ServerMetrics: m},
		options.Replace().SetUpsert(true))
	return err
}

// RaiseBackupFlag raises backup_in_progress unless it is already "yes". The
// filter and update run as one atomic document operation.
func (s *MongoStore) RaiseBackupFlag(ctx context.Context, at time.Time) (*models.ServerMetrics, error) {
	filter := bson.M{
		"_id":                StateKey,
		"backup_in_progress": bson.M{"$ne": models.FlagYes},
	}
	update := bson.M{"$set": bson.M{
		"backup_in_progress": models.FlagYes,
		"lastUpdated":        at,
	}}

	var doc stateDocument
	err := s.state.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &doc.ServerMetrics, nil
}

// InsertLocation appends a location record.
func (s *MongoStore) InsertLocation(ctx context.Context, loc models.ImportantLocation) error {
	_, err := s.locations.InsertOne(ctx, loc)
	return err
}

// ListLocations returns every location, newest first.
func (s *MongoStore) ListLocations(ctx context.Context) ([]models.ImportantLocation, error) {
	cursor, err := s.locations.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}

	locations := []models.ImportantLocation{}
	if err := cursor.All(ctx, &locations); err != nil {
		return nil, err
	}

	return locations, nil
}

// CountLocations returns the number of stored locations.
func (s *MongoStore) CountLocations(ctx context.Context) (int64, error) {
	return s.locations.CountDocuments(ctx, bson.D{})
}

// InsertBackupTask persists a pending backup task.
func (s *MongoStore) InsertBackupTask(ctx context.Context, task models.BackupTask) error {
	_, err := s.tasks.InsertOne(ctx, task)
	return err
}

// DueBackupTasks returns uncompleted tasks whose due time is not after now, oldest first.
func (s *MongoStore) DueBackupTasks(ctx context.Context, now time.Time) ([]models.BackupTask, error) {
	filter := bson.M{
		"completedAt": bson.M{"$exists": false},
		"dueAt":       bson.M{"$lte": now},
	}

	cursor, err := s.tasks.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "dueAt", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var tasks []models.BackupTask
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// CompleteBackupTask marks the task done. Completing an already completed
// task is a no-op.
func (s *MongoStore) CompleteBackupTask(ctx context.Context, id string, at time.Time) error {
	_, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": id, "completedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"completedAt": at}},
	)
	return err
}
