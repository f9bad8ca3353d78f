package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockinfo-bot/internal/database"
	"stockinfo-bot/internal/database/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

// MockUserRepository is a mock for database.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindUser(ctx context.Context, userID int64) (*models.User, error) {
	args := m.Called(ctx, userID)
	if user, ok := args.Get(0).(*models.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) SetAuthorized(ctx context.Context, userID int64, authorized bool) error {
	args := m.Called(ctx, userID, authorized)
	return args.Error(0)
}

func (m *MockUserRepository) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	args := m.Called(ctx, userID, admin)
	return args.Error(0)
}

func (m *MockUserRepository) RecordRequest(ctx context.Context, userID int64, date string, limit int) error {
	args := m.Called(ctx, userID, date, limit)
	return args.Error(0)
}

// MockNotifier is a mock for ApprovalNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) RequestApproval(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// memoryUserRepo is an in-memory UserRepository with the same atomicity
// guarantees as the Mongo implementation, used for concurrency and
// rollover tests.
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]*models.User)}
}

func (r *memoryUserRepo) FindUser(_ context.Context, userID int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memoryUserRepo) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.UserID]; ok {
		return database.ErrUserAlreadyExists
	}
	copied := *user
	r.users[user.UserID] = &copied
	return nil
}

func (r *memoryUserRepo) SetAuthorized(_ context.Context, userID int64, authorized bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	user.IsAuthorized = authorized
	return nil
}

func (r *memoryUserRepo) SetAdmin(_ context.Context, userID int64, admin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	user.IsAdmin = admin
	return nil
}

func (r *memoryUserRepo) RecordRequest(_ context.Context, userID int64, date string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	if user.LastRequestDate != date {
		user.RequestsToday = 0
		user.LastRequestDate = date
	}
	if user.RequestsToday >= limit {
		return database.ErrQuotaExceeded
	}
	user.RequestsToday++
	return nil
}

// --- Helpers ---

func mockClockAt(t time.Time) clock.Clock {
	mocked := clock.NewMock()
	mocked.Set(t)
	return mocked
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const testToday = "2025-03-10"

// --- Tests ---

func TestCheckUnknownUserCreatesPendingRecord(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(nil, database.ErrUserNotFound)
	repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return u.UserID == 42 &&
			!u.IsAuthorized &&
			!u.IsAdmin &&
			u.RequestsToday == 0 &&
			u.LastRequestDate == testToday
	})).Return(nil)
	notifier.On("RequestApproval", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return u.UserID == 42
	})).Return(nil)

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42, Username: "newuser"})
	assert.NoError(t, err)
	assert.Equal(t, DispositionPending, disposition)

	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "RequestApproval", 1)
	repo.AssertNotCalled(t, "RecordRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckUnknownUserNotifyFailureStillPending(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(nil, database.ErrUserNotFound)
	repo.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
	notifier.On("RequestApproval", mock.Anything, mock.Anything).Return(errors.New("telegram down"))

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	assert.NoError(t, err)
	assert.Equal(t, DispositionPending, disposition)
}

func TestCheckUnauthorizedUserIsDenied(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(&models.User{
		UserID: 42, IsAuthorized: false, IsAdmin: false,
	}, nil)

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	assert.NoError(t, err)
	assert.Equal(t, DispositionUnauthorized, disposition)

	repo.AssertNotCalled(t, "RecordRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything)
}

func TestCheckAdminBypassesQuota(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	// Way over the limit and not even authorized: the admin flag wins.
	repo.On("FindUser", mock.Anything, int64(7)).Return(&models.User{
		UserID: 7, IsAuthorized: false, IsAdmin: true, RequestsToday: 999, LastRequestDate: testToday,
	}, nil)

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 7})
	assert.NoError(t, err)
	assert.Equal(t, DispositionAllow, disposition)

	// The counter is never touched for admins.
	repo.AssertNotCalled(t, "RecordRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckConfiguredAdminBypassesQuota(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(9)).Return(&models.User{
		UserID: 9, IsAuthorized: false, IsAdmin: false,
	}, nil)

	gate, err := NewGate(repo, notifier, []int64{9}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 9})
	assert.NoError(t, err)
	assert.Equal(t, DispositionAllow, disposition)
	repo.AssertNotCalled(t, "RecordRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckAuthorizedUserWithinQuota(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(&models.User{
		UserID: 42, IsAuthorized: true,
	}, nil)
	repo.On("RecordRequest", mock.Anything, int64(42), testToday, 5).Return(nil)

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	assert.NoError(t, err)
	assert.Equal(t, DispositionAllow, disposition)
	repo.AssertExpectations(t)
}

func TestCheckAuthorizedUserOverQuota(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(&models.User{
		UserID: 42, IsAuthorized: true,
	}, nil)
	repo.On("RecordRequest", mock.Anything, int64(42), testToday, 5).Return(database.ErrQuotaExceeded)

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	assert.NoError(t, err)
	assert.Equal(t, DispositionQuotaExceeded, disposition)
}

func TestCheckStoreUnavailableFailsClosed(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	repo.On("FindUser", mock.Anything, int64(42)).Return(nil, errors.New("connection refused"))

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	_, err = gate.Check(context.Background(), Requester{ID: 42})
	assert.Error(t, err)
	notifier.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything)
}

func TestCheckCreateRaceFallsBackToEvaluation(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	// First read misses, the create loses a race with a concurrent
	// request, the re-read sees the record.
	repo.On("FindUser", mock.Anything, int64(42)).Return(nil, database.ErrUserNotFound).Once()
	repo.On("CreateUser", mock.Anything, mock.Anything).Return(database.ErrUserAlreadyExists)
	repo.On("FindUser", mock.Anything, int64(42)).Return(&models.User{
		UserID: 42, IsAuthorized: false,
	}, nil).Once()

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	assert.NoError(t, err)
	assert.Equal(t, DispositionUnauthorized, disposition)
	notifier.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything)
}

func TestQuotaBoundary(t *testing.T) {
	repo := newMemoryUserRepo()
	notifier := new(MockNotifier)
	require.NoError(t, repo.CreateUser(context.Background(), &models.User{
		UserID: 42, IsAuthorized: true, LastRequestDate: testToday,
	}))

	gate, err := NewGate(repo, notifier, []int64{1}, 3, mockClockAt(testNow))
	require.NoError(t, err)

	// Calls 1..3 pass, call 4 is rejected.
	for i := 1; i <= 3; i++ {
		disposition, err := gate.Check(context.Background(), Requester{ID: 42})
		require.NoError(t, err)
		assert.Equal(t, DispositionAllow, disposition, "call %d should pass", i)
	}
	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, DispositionQuotaExceeded, disposition)

	user, err := repo.FindUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 3, user.RequestsToday)
}

func TestDayRolloverResetsCounter(t *testing.T) {
	repo := newMemoryUserRepo()
	notifier := new(MockNotifier)
	require.NoError(t, repo.CreateUser(context.Background(), &models.User{
		UserID:          42,
		IsAuthorized:    true,
		RequestsToday:   5,
		LastRequestDate: "2025-03-09", // yesterday, quota fully spent
	}))

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	disposition, err := gate.Check(context.Background(), Requester{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, DispositionAllow, disposition)

	user, err := repo.FindUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, user.RequestsToday, "counter restarts at 1, not limit+1")
	assert.Equal(t, testToday, user.LastRequestDate)
}

func TestConcurrentRequestsCannotExceedQuota(t *testing.T) {
	repo := newMemoryUserRepo()
	notifier := new(MockNotifier)
	require.NoError(t, repo.CreateUser(context.Background(), &models.User{
		UserID: 42, IsAuthorized: true, LastRequestDate: testToday,
	}))

	gate, err := NewGate(repo, notifier, []int64{1}, 5, mockClockAt(testNow))
	require.NoError(t, err)

	const callers = 10
	results := make(chan Disposition, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			disposition, err := gate.Check(context.Background(), Requester{ID: 42})
			assert.NoError(t, err)
			results <- disposition
		}()
	}
	wg.Wait()
	close(results)

	allowed, rejected := 0, 0
	for disposition := range results {
		switch disposition {
		case DispositionAllow:
			allowed++
		case DispositionQuotaExceeded:
			rejected++
		default:
			t.Fatalf("unexpected disposition %v", disposition)
		}
	}
	assert.Equal(t, 5, allowed)
	assert.Equal(t, 5, rejected)

	user, err := repo.FindUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 5, user.RequestsToday)
}

func TestNewGateValidation(t *testing.T) {
	repo := new(MockUserRepository)
	notifier := new(MockNotifier)

	_, err := NewGate(nil, notifier, []int64{1}, 5, nil)
	assert.Error(t, err)

	_, err = NewGate(repo, nil, []int64{1}, 5, nil)
	assert.Error(t, err)

	_, err = NewGate(repo, notifier, []int64{1}, 0, nil)
	assert.Error(t, err)
}
