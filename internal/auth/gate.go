package auth

import (
	"context"
	"errors"
	"fmt"
	"log"

	"stockinfo-bot/internal/database"
	"stockinfo-bot/internal/database/models"

	"github.com/benbjohnson/clock"
)

// Disposition is the gate's decision for a single incoming request.
type Disposition int

const (
	// DispositionAllow lets the gated action run.
	DispositionAllow Disposition = iota
	// DispositionPending means the user is unknown: a record was created
	// and the admins were asked to approve it. The action does not run.
	DispositionPending
	// DispositionUnauthorized means the user exists but was never approved.
	DispositionUnauthorized
	// DispositionQuotaExceeded means the user spent today's request allowance.
	DispositionQuotaExceeded
)

// String returns a short name for the disposition, used in logs.
func (d Disposition) String() string {
	switch d {
	case DispositionAllow:
		return "allow"
	case DispositionPending:
		return "pending"
	case DispositionUnauthorized:
		return "unauthorized"
	case DispositionQuotaExceeded:
		return "quota_exceeded"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Requester identifies the user asking to run a gated action.
type Requester struct {
	ID        int64
	Username  string
	FirstName string
}

// ApprovalNotifier asks the configured admins to approve a newly
// registered user.
type ApprovalNotifier interface {
	RequestApproval(ctx context.Context, user *models.User) error
}

// Gate decides, per incoming request, whether the requesting user may run
// a gated action. Handlers consult it before dispatch, so the gated
// actions themselves stay ignorant of authorization.
type Gate struct {
	repo              database.UserRepository
	notifier          ApprovalNotifier
	adminIDs          map[int64]struct{}
	maxRequestsPerDay int
	clock             clock.Clock
}

// NewGate creates a new access gate. The admin set and quota are read-only
// after construction. The clock is injectable for tests; pass clock.New()
// in production.
func NewGate(
	repo database.UserRepository,
	notifier ApprovalNotifier,
	adminIDs []int64,
	maxRequestsPerDay int,
	clk clock.Clock,
) (*Gate, error) {
	if repo == nil {
		return nil, fmt.Errorf("user repository cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("approval notifier cannot be nil")
	}
	if maxRequestsPerDay <= 0 {
		return nil, fmt.Errorf("max requests per day must be positive, got %d", maxRequestsPerDay)
	}
	if clk == nil {
		clk = clock.New()
	}
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{
		repo:              repo,
		notifier:          notifier,
		adminIDs:          admins,
		maxRequestsPerDay: maxRequestsPerDay,
		clock:             clk,
	}, nil
}

// IsConfiguredAdmin reports whether the ID belongs to the admin set the
// gate was constructed with.
func (g *Gate) IsConfiguredAdmin(userID int64) bool {
	_, ok := g.adminIDs[userID]
	return ok
}

// CurrentDate returns the gate's notion of today. Day boundaries are UTC.
func (g *Gate) CurrentDate() string {
	return g.clock.Now().UTC().Format(models.DateLayout)
}

// Check evaluates the access policy for one request. An error return means
// the store was unavailable; callers must fail closed and not run the
// gated action.
func (g *Gate) Check(ctx context.Context, req Requester) (Disposition, error) {
	user, err := g.repo.FindUser(ctx, req.ID)
	if errors.Is(err, database.ErrUserNotFound) {
		return g.registerPending(ctx, req)
	}
	if err != nil {
		return DispositionUnauthorized, fmt.Errorf("access check for user %d: %w", req.ID, err)
	}
	return g.evaluate(ctx, user)
}

// registerPending creates the default unauthorized record for a first
// contact and notifies the admins. A concurrent create by a double-send is
// tolerated by re-reading the record and evaluating it normally.
func (g *Gate) registerPending(ctx context.Context, req Requester) (Disposition, error) {
	user := &models.User{
		UserID:          req.ID,
		Username:        req.Username,
		FirstName:       req.FirstName,
		RequestsToday:   0,
		LastRequestDate: g.CurrentDate(),
		IsAuthorized:    false,
		IsAdmin:         false,
	}

	err := g.repo.CreateUser(ctx, user)
	if errors.Is(err, database.ErrUserAlreadyExists) {
		existing, findErr := g.repo.FindUser(ctx, req.ID)
		if findErr != nil {
			return DispositionUnauthorized, fmt.Errorf("re-reading user %d after create race: %w", req.ID, findErr)
		}
		return g.evaluate(ctx, existing)
	}
	if err != nil {
		return DispositionUnauthorized, fmt.Errorf("registering user %d: %w", req.ID, err)
	}

	if notifyErr := g.notifier.RequestApproval(ctx, user); notifyErr != nil {
		// The record is already durable; the admins can still approve via
		// /authorize, so a notification failure does not fail the request.
		log.Printf("[Gate User:%d] Failed to request approval: %v", req.ID, notifyErr)
	}
	return DispositionPending, nil
}

func (g *Gate) evaluate(ctx context.Context, user *models.User) (Disposition, error) {
	isAdmin := user.IsAdmin || g.IsConfiguredAdmin(user.UserID)

	if !user.IsAuthorized && !isAdmin {
		return DispositionUnauthorized, nil
	}

	// Admins bypass the quota entirely; their counter is never touched.
	if isAdmin {
		return DispositionAllow, nil
	}

	err := g.repo.RecordRequest(ctx, user.UserID, g.CurrentDate(), g.maxRequestsPerDay)
	switch {
	case errors.Is(err, database.ErrQuotaExceeded):
		return DispositionQuotaExceeded, nil
	case err != nil:
		return DispositionUnauthorized, fmt.Errorf("recording request for user %d: %w", user.UserID, err)
	}
	return DispositionAllow, nil
}
