package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

const runsCollection = "runs"

type MongoRunRepo struct {
	runsCol *mongo.Collection
	logger  *slog.Logger
}

func NewMongoRunRepo(db *mongo.Database, logger *slog.Logger) repository.RunRepository {
	col := db.Collection(runsCollection)

	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{bson.E{Key: "status", Value: 1}}},
	})

	return &MongoRunRepo{
		runsCol: col,
		logger:  logger,
	}
}

func (r *MongoRunRepo) Create(ctx context.Context, run *entity.Run) error {
	metrics.IncStoreOp("mongo", "create")

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	_, err := r.runsCol.InsertOne(ctx, run)
	if err != nil {
		metrics.IncError("mongo_run_repo", "create_error")
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (r *MongoRunRepo) GetByID(ctx context.Context, id string) (*entity.Run, error) {
	metrics.IncStoreOp("mongo", "get")

	var run entity.Run
	err := r.runsCol.FindOne(ctx, bson.M{"id": id}).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
		}
		metrics.IncError("mongo_run_repo", "get_error")
		return nil, fmt.Errorf("find run %s: %w", id, err)
	}
	return &run, nil
}

func (r *MongoRunRepo) List(ctx context.Context) ([]*entity.Run, error) {
	metrics.IncStoreOp("mongo", "list")
	return r.find(ctx, bson.D{}, "list")
}

func (r *MongoRunRepo) ListByStatus(ctx context.Context, status entity.RunStatus) ([]*entity.Run, error) {
	metrics.IncStoreOp("mongo", "list")
	return r.find(ctx, bson.M{"status": status}, "list_by_status")
}

func (r *MongoRunRepo) find(ctx context.Context, filter any, op string) ([]*entity.Run, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: -1}})
	cur, err := r.runsCol.Find(ctx, filter, opts)
	if err != nil {
		metrics.IncError("mongo_run_repo", op+"_error")
		return nil, fmt.Errorf("find runs: %w", err)
	}
	defer func() {
		if err := cur.Close(ctx); err != nil {
			r.logger.Warn("close cursor", "err", err)
		}
	}()

	var runs []*entity.Run
	for cur.Next(ctx) {
		var run entity.Run
		if err := cur.Decode(&run); err != nil {
			metrics.IncError("mongo_run_repo", op+"_decode_error")
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := cur.Err(); err != nil {
		metrics.IncError("mongo_run_repo", op+"_cursor_error")
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (r *MongoRunRepo) Update(ctx context.Context, run *entity.Run) error {
	metrics.IncStoreOp("mongo", "put")

	run.UpdatedAt = time.Now().UTC()
	res, err := r.runsCol.ReplaceOne(ctx, bson.M{"id": run.ID}, run)
	if err != nil {
		metrics.IncError("mongo_run_repo", "update_error")
		return fmt.Errorf("replace run %s: %w", run.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", repository.ErrRunNotFound, run.ID)
	}
	return nil
}

func (r *MongoRunRepo) UpdateStatus(ctx context.Context, id string, status entity.RunStatus) error {
	metrics.IncStoreOp("mongo", "put")

	filter := bson.M{"id": id}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		},
	}
	res, err := r.runsCol.UpdateOne(ctx, filter, update)
	if err != nil {
		metrics.IncError("mongo_run_repo", "update_status_error")
		return fmt.Errorf("update run %s status: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
	}
	return nil
}

func (r *MongoRunRepo) TransitionStatus(ctx context.Context, id string, from, to entity.RunStatus) (bool, error) {
	metrics.IncStoreOp("mongo", "transition")

	filter := bson.M{"id": id, "status": from}
	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"updated_at": time.Now().UTC(),
		},
	}
	res, err := r.runsCol.UpdateOne(ctx, filter, update)
	if err != nil {
		metrics.IncError("mongo_run_repo", "transition_error")
		return false, fmt.Errorf("transition run %s %s->%s: %w", id, from, to, err)
	}
	if res.MatchedCount == 0 {
		// either gone or already claimed
		count, err := r.runsCol.CountDocuments(ctx, bson.M{"id": id})
		if err != nil {
			return false, fmt.Errorf("count run %s: %w", id, err)
		}
		if count == 0 {
			return false, fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
		}
		return false, nil
	}
	return true, nil
}

func (r *MongoRunRepo) Delete(ctx context.Context, id string) error {
	metrics.IncStoreOp("mongo", "delete")

	res, err := r.runsCol.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		metrics.IncError("mongo_run_repo", "delete_error")
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
	}
	return nil
}
