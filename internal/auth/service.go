package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxOutcomeRetries bounds the reload-and-retry loop when a concurrent login
// bumps the account version between our read and our write.
const maxOutcomeRetries = 8

type Service struct {
	store  Store
	hasher *Hasher
	tokens *TokenService
	policy LockoutPolicy
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLockoutPolicy(maxAttempts int, lockDuration time.Duration) ServiceOption {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.policy.MaxAttempts = maxAttempts
		}
		if lockDuration > 0 {
			s.policy.LockDuration = lockDuration
		}
	}
}

func NewService(store Store, hasher *Hasher, tokens *TokenService, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		policy: DefaultLockoutPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() LockoutPolicy {
	return s.policy
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Profile  Profile
	Role     Role
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*Account, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Profile = trimProfile(input.Profile)
	if input.Role == "" {
		input.Role = RoleViewer
	}

	if err := validateRegistration(input); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate uuid v7: %w", err)
	}
	verificationToken, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now().UTC()
	account := &Account{
		ID:                     id.String(),
		Username:               input.Username,
		Email:                  input.Email,
		PasswordHash:           hash,
		Role:                   input.Role,
		Grants:                 []Grant{},
		Profile:                input.Profile,
		Preferences:            DefaultPreferences(),
		Active:                 true,
		EmailVerificationToken: verificationToken,
		LoginHistory:           []LoginRecord{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.store.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Login verifies credentials and issues a token. Unknown identities and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string, client ClientContext) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.store.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.Burn(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if s.policy.State(account.lockoutFields(), s.now()) == LockLocked {
		return LoginResult{}, &LockedError{Until: *account.LockedUntil}
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		// A deactivated account keeps its counters so reactivation does not
		// surface a lock earned while it was switched off.
		if !account.Active {
			return LoginResult{}, ErrInvalidCredentials
		}
		if err := s.recordFailure(ctx, account, client); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if !account.Active {
		return LoginResult{}, ErrDeactivated
	}

	account, err = s.recordSuccess(ctx, account, client)
	if err != nil {
		return LoginResult{}, err
	}

	token, expiresAt, err := s.tokens.Issue(account)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

func (s *Service) recordFailure(ctx context.Context, account *Account, client ClientContext) error {
	return s.applyOutcome(ctx, account, func(current *Account, now time.Time) (LoginOutcome, error) {
		return LoginOutcome{
			Lockout: s.policy.OnFailure(current.lockoutFields(), now),
			History: appendHistory(current.LoginHistory, LoginRecord{
				Timestamp: now,
				Address:   client.Address,
				UserAgent: client.UserAgent,
				Success:   false,
			}),
			At: now,
		}, nil
	})
}

func (s *Service) recordSuccess(ctx context.Context, account *Account, client ClientContext) (*Account, error) {
	var applied LoginOutcome
	err := s.applyOutcome(ctx, account, func(current *Account, now time.Time) (LoginOutcome, error) {
		// A concurrent failure may have locked the account after our read.
		if s.policy.State(current.lockoutFields(), now) == LockLocked {
			return LoginOutcome{}, &LockedError{Until: *current.LockedUntil}
		}
		if !current.Active {
			return LoginOutcome{}, ErrDeactivated
		}
		applied = LoginOutcome{
			Lockout:     s.policy.OnSuccess(current.lockoutFields(), now),
			LastLoginAt: &now,
			History: appendHistory(current.LoginHistory, LoginRecord{
				Timestamp: now,
				Address:   client.Address,
				UserAgent: client.UserAgent,
				Success:   true,
			}),
			At: now,
		}
		return applied, nil
	})
	if err != nil {
		return nil, err
	}

	updated := cloneAccount(account)
	updated.FailedAttempts = applied.Lockout.FailedAttempts
	updated.LockedUntil = applied.Lockout.LockedUntil
	updated.LastLoginAt = applied.LastLoginAt
	updated.LoginHistory = applied.History
	updated.UpdatedAt = applied.At
	return updated, nil
}

// applyOutcome computes an outcome from the freshest copy of the account and
// writes it conditionally on the version it was computed from.
func (s *Service) applyOutcome(ctx context.Context, account *Account, compute func(*Account, time.Time) (LoginOutcome, error)) error {
	current := account
	for attempt := 0; attempt < maxOutcomeRetries; attempt++ {
		now := s.now().UTC()
		outcome, err := compute(current, now)
		if err != nil {
			return err
		}

		err = s.store.ApplyLoginOutcome(ctx, current.ID, current.Version, outcome)
		if err == nil {
			account.Version = current.Version + 1
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}

		current, err = s.store.FindByID(ctx, account.ID)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("apply login outcome: %w", ErrVersionConflict)
}

// Authenticate resolves a bearer token to the live account behind it.
func (s *Service) Authenticate(ctx context.Context, token string) (*Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, unauthenticated(ReasonMissingCredential, nil)
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, unauthenticated(ReasonExpiredCredential, err)
		}
		return nil, unauthenticated(ReasonInvalidCredential, err)
	}

	account, err := s.store.FindByID(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, unauthenticated(ReasonAccountNotFound, err)
		}
		return nil, err
	}

	if !account.Active {
		return nil, unauthenticated(ReasonDeactivated, ErrDeactivated)
	}
	if s.policy.State(account.lockoutFields(), s.now()) == LockLocked {
		return nil, unauthenticated(ReasonLocked, &LockedError{Until: *account.LockedUntil})
	}
	return account, nil
}

func (s *Service) Authorize(account *Account, resource Resource, action Action) bool {
	return Allows(account, resource, action)
}

func (s *Service) ChangePassword(ctx context.Context, account *Account, currentPassword, newPassword string) error {
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}

	fresh, err := s.store.FindByID(ctx, account.ID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(currentPassword, fresh.PasswordHash) {
		return ErrIncorrectCurrentPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, account.ID, hash, s.now().UTC())
}

func (s *Service) UpdateProfile(ctx context.Context, account *Account, update ProfileUpdate) (*Account, error) {
	update = trimProfileUpdate(update)
	if err := validateProfileUpdate(update); err != nil {
		return nil, err
	}
	return s.store.UpdateProfile(ctx, account.ID, update, s.now().UTC())
}

func (s *Service) SetGrants(ctx context.Context, accountID string, grants []Grant) (*Account, error) {
	return s.store.UpdateGrants(ctx, accountID, normalizeGrants(grants), s.now().UTC())
}

func (s *Service) SetStatus(ctx context.Context, accountID string, update StatusUpdate) (*Account, error) {
	return s.store.UpdateStatus(ctx, accountID, update, s.now().UTC())
}

func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

func (s *Service) SweepExpiredLocks(ctx context.Context, limit int) (int, error) {
	return s.store.ClearExpiredLocks(ctx, s.now().UTC(), limit)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// BootstrapAdmin makes sure an admin account with the given credentials
// exists. It is a no-op when both username and password are empty.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}
	if email == "" {
		email = username + "@localhost.localdomain"
	}

	existing, err := s.store.FindByUsernameOrEmail(ctx, username)
	if err == nil {
		if existing.Role == RoleAdmin {
			return nil
		}
		role := RoleAdmin
		_, err = s.store.UpdateStatus(ctx, existing.ID, StatusUpdate{Role: &role}, s.now().UTC())
		return err
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	_, err = s.Register(ctx, RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
		Profile:  Profile{FirstName: "System", LastName: "Administrator"},
		Role:     RoleAdmin,
	})
	return err
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
