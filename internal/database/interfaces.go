package database

import (
	"context"
	"errors"

	"stockinfo-bot/internal/database/models"
)

// ErrUserNotFound is returned when no user record matches the given ID.
var ErrUserNotFound = errors.New("user not found")

// ErrUserAlreadyExists is returned when creating a user whose ID is already registered.
var ErrUserAlreadyExists = errors.New("user already exists")

// ErrQuotaExceeded is returned by RecordRequest when the user has spent
// their daily request allowance.
var ErrQuotaExceeded = errors.New("daily request quota exceeded")

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	// FindUser returns the user record for the given ID, or ErrUserNotFound.
	FindUser(ctx context.Context, userID int64) (*models.User, error)

	// CreateUser inserts a new user record. It returns ErrUserAlreadyExists
	// if a record with the same user ID is already present.
	CreateUser(ctx context.Context, user *models.User) error

	// SetAuthorized updates the authorization flag. Idempotent.
	// Returns ErrUserNotFound if the user does not exist.
	SetAuthorized(ctx context.Context, userID int64, authorized bool) error

	// SetAdmin updates the admin flag. Idempotent.
	// Returns ErrUserNotFound if the user does not exist.
	SetAdmin(ctx context.Context, userID int64, admin bool) error

	// RecordRequest counts one request for the given calendar date,
	// resetting the counter when the stored date differs from date.
	// The read-check-increment is a single atomic unit per user: two
	// concurrent calls can never both pass a check that only one should pass.
	// Returns ErrQuotaExceeded when the counter has reached limit for
	// the given date, or ErrUserNotFound for an unknown user.
	RecordRequest(ctx context.Context, userID int64, date string, limit int) error
}

// UserActionLogger defines the interface for logging user actions.
type UserActionLogger interface {
	// LogUserAction logs an action performed by a user.
	LogUserAction(userID int64, action string, details interface{}) error
}
