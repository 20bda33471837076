package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the durable credential store. Implementations must enforce
// username and email uniqueness and apply ApplyLoginOutcome as a single
// conditional write guarded by the account version.
type Store interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error)
	ApplyLoginOutcome(ctx context.Context, id string, expectedVersion int64, outcome LoginOutcome) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (*Account, error)
	UpdateGrants(ctx context.Context, id string, grants []Grant, at time.Time) (*Account, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate, at time.Time) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	// ClearExpiredLocks resets up to limit accounts whose lock has elapsed
	// at now and reports how many changed.
	ClearExpiredLocks(ctx context.Context, now time.Time, limit int) (int, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps accounts in process memory. It backs tests and the
// STORE_DRIVER=memory development mode.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Account
	username map[string]string
	email    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Account),
		username: make(map[string]string),
		email:    make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	username := strings.ToLower(account.Username)
	email := strings.ToLower(account.Email)
	if _, ok := m.email[email]; ok {
		return &DuplicateIdentityError{Field: "email"}
	}
	if _, ok := m.username[username]; ok {
		return &DuplicateIdentityError{Field: "username"}
	}

	stored := cloneAccount(account)
	stored.Version = 1
	m.byID[stored.ID] = stored
	m.username[username] = stored.ID
	m.email[email] = stored.ID
	account.Version = stored.Version
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (m *MemoryStore) FindByUsernameOrEmail(_ context.Context, identifier string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(identifier))
	id, ok := m.email[key]
	if !ok {
		id, ok = m.username[key]
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(m.byID[id]), nil
}

func (m *MemoryStore) ApplyLoginOutcome(_ context.Context, id string, expectedVersion int64, outcome LoginOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Version != expectedVersion {
		return ErrVersionConflict
	}

	next := cloneAccount(&Account{
		LockedUntil:  outcome.Lockout.LockedUntil,
		LastLoginAt:  outcome.LastLoginAt,
		LoginHistory: outcome.History,
	})
	account.FailedAttempts = outcome.Lockout.FailedAttempts
	account.LockedUntil = next.LockedUntil
	if next.LastLoginAt != nil {
		account.LastLoginAt = next.LastLoginAt
	}
	account.LoginHistory = next.LoginHistory
	account.UpdatedAt = outcome.At
	account.Version++
	return nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = at
	account.Version++
	return nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, id string, update ProfileUpdate, at time.Time) (*Account, error) {
	return m.mutate(id, at, func(a *Account) {
		a.Profile, a.Preferences = update.apply(a.Profile, a.Preferences)
	})
}

func (m *MemoryStore) UpdateGrants(_ context.Context, id string, grants []Grant, at time.Time) (*Account, error) {
	return m.mutate(id, at, func(a *Account) {
		a.Grants = cloneAccount(&Account{Grants: grants}).Grants
	})
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, update StatusUpdate, at time.Time) (*Account, error) {
	return m.mutate(id, at, func(a *Account) {
		if update.Active != nil {
			a.Active = *update.Active
		}
		if update.Role != nil {
			a.Role = *update.Role
		}
	})
}

func (m *MemoryStore) List(_ context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]Account, 0, len(m.byID))
	for _, a := range m.byID {
		accounts = append(accounts, *cloneAccount(a))
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (m *MemoryStore) ClearExpiredLocks(_ context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for _, account := range m.byID {
		if cleared >= limit {
			break
		}
		if account.LockedUntil == nil || account.LockedUntil.After(now) {
			continue
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
		account.UpdatedAt = now
		account.Version++
		cleared++
	}
	return cleared, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) mutate(id string, at time.Time, fn func(*Account)) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	fn(account)
	account.UpdatedAt = at
	account.Version++
	return cloneAccount(account), nil
}
