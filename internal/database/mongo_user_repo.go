package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"stockinfo-bot/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const userCollectionName = "users"

// recordRequestMaxAttempts bounds the retry loop in RecordRequest when a
// concurrent writer interleaves between the increment and rollover updates.
const recordRequestMaxAttempts = 3

// MongoUserRepository implements UserRepository for MongoDB.
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository creates a new MongoDB user repository and ensures
// the unique index on user_id exists.
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	repo := &MongoUserRepository{
		collection: db.Collection(userCollectionName),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Printf("Warning: failed to ensure unique index on %s.user_id: %v", userCollectionName, err)
	}

	return repo
}

// FindUser retrieves a user record by Telegram user ID.
func (r *MongoUserRepository) FindUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user %d: %w", userID, err)
	}
	return &user, nil
}

// CreateUser inserts a new user record. The unique index on user_id turns
// duplicate registrations into ErrUserAlreadyExists.
func (r *MongoUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.FirstSeen.IsZero() {
		user.FirstSeen = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}

	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user %d: %w", user.UserID, err)
	}
	return nil
}

// SetAuthorized updates the is_authorized flag for a user.
func (r *MongoUserRepository) SetAuthorized(ctx context.Context, userID int64, authorized bool) error {
	return r.setFlag(ctx, userID, "is_authorized", authorized)
}

// SetAdmin updates the is_admin flag for a user.
func (r *MongoUserRepository) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	return r.setFlag(ctx, userID, "is_admin", admin)
}

func (r *MongoUserRepository) setFlag(ctx context.Context, userID int64, field string, value bool) error {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{field: value, "last_seen": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update %s for user %d: %w", field, userID, err)
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordRequest counts one request for the given date. The check and the
// increment are expressed as filtered single-document updates, which MongoDB
// applies atomically, so concurrent calls for the same user cannot exceed
// the limit.
func (r *MongoUserRepository) RecordRequest(ctx context.Context, userID int64, date string, limit int) error {
	for attempt := 0; attempt < recordRequestMaxAttempts; attempt++ {
		// Same-day increment, only while the counter is below the limit.
		result, err := r.collection.UpdateOne(
			ctx,
			bson.M{
				"user_id":           userID,
				"last_request_date": date,
				"requests_today":    bson.M{"$lt": limit},
			},
			bson.M{
				"$inc": bson.M{"requests_today": 1},
				"$set": bson.M{"last_seen": time.Now()},
			},
		)
		if err != nil {
			return fmt.Errorf("failed to increment request counter for user %d: %w", userID, err)
		}
		if result.ModifiedCount == 1 {
			return nil
		}

		// Day rollover: the stored date differs, start today's counter at 1.
		result, err = r.collection.UpdateOne(
			ctx,
			bson.M{
				"user_id":           userID,
				"last_request_date": bson.M{"$ne": date},
			},
			bson.M{
				"$set": bson.M{
					"requests_today":    1,
					"last_request_date": date,
					"last_seen":         time.Now(),
				},
			},
		)
		if err != nil {
			return fmt.Errorf("failed to roll over request counter for user %d: %w", userID, err)
		}
		if result.ModifiedCount == 1 {
			return nil
		}

		// Neither update matched: the user is unknown, the quota is spent,
		// or a concurrent writer rolled the date over between the two
		// updates. Classify and retry the last case.
		user, err := r.FindUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.LastRequestDate == date && user.RequestsToday >= limit {
			return ErrQuotaExceeded
		}
	}
	return fmt.Errorf("failed to record request for user %d after %d attempts", userID, recordRequestMaxAttempts)
}
