package auth

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cms-auth/internal/observability"
)

const testSecret = "test-signing-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	service *Service
	store   *MemoryStore
	clock   *fakeClock
	tokens  *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	store := NewMemoryStore()
	tokens, err := NewTokenService(testSecret, 24*time.Hour, clock.Now)
	require.NoError(t, err)

	service := NewService(store, NewHasher(bcrypt.MinCost), tokens, WithClock(clock.Now))
	return &testEnv{service: service, store: store, clock: clock, tokens: tokens}
}

func (e *testEnv) register(t *testing.T, username, email, password string, role Role) *Account {
	t.Helper()

	account, err := e.service.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
		Profile:  Profile{FirstName: "Test", LastName: "User"},
		Role:     role,
	})
	require.NoError(t, err)
	return account
}

func discardLogger() *observability.Logger {
	return observability.NewLoggerTo(io.Discard, "error")
}
