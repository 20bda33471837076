package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `id, username, email, password_hash, role, grants, profile, preferences,
		is_active, email_verified, email_verification_token, failed_attempts, locked_until,
		login_history, last_login_at, version, created_at, updated_at`

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) Create(ctx context.Context, account *Account) error {
	grants, profile, prefs, history, err := encodeDocuments(account)
	if err != nil {
		return err
	}

	var verificationToken any
	if account.EmailVerificationToken != "" {
		verificationToken = account.EmailVerificationToken
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, role, grants, profile, preferences,
			is_active, email_verified, email_verification_token, failed_attempts, login_history,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, 1, $13, $13)
		RETURNING version
	`, account.ID, account.Username, account.Email, account.PasswordHash, string(account.Role),
		grants, profile, prefs, account.Active, account.EmailVerified, verificationToken,
		history, account.CreatedAt.UTC()).Scan(&account.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return &DuplicateIdentityError{Field: "email"}
			}
			return &DuplicateIdentityError{Field: "username"}
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account by id: %w", err)
	}
	return account, nil
}

func (r *Repository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lower(email) = $1 OR lower(username) = $1
		ORDER BY (lower(email) = $1) DESC
		LIMIT 1
	`, key)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account by identifier: %w", err)
	}
	return account, nil
}

// ApplyLoginOutcome writes lockout counters, history and last login in one
// statement that only matches the row at expectedVersion.
func (r *Repository) ApplyLoginOutcome(ctx context.Context, id string, expectedVersion int64, outcome LoginOutcome) error {
	history, err := json.Marshal(outcome.History)
	if err != nil {
		return fmt.Errorf("encode login history: %w", err)
	}

	var lockedUntil, lastLogin any
	if outcome.Lockout.LockedUntil != nil {
		lockedUntil = outcome.Lockout.LockedUntil.UTC()
	}
	if outcome.LastLoginAt != nil {
		lastLogin = outcome.LastLoginAt.UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = $3,
			locked_until = $4,
			last_login_at = COALESCE($5, last_login_at),
			login_history = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, id, expectedVersion, outcome.Lockout.FailedAttempts, lockedUntil, lastLogin, history, outcome.At.UTC())
	if err != nil {
		return fmt.Errorf("apply login outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("login outcome rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3, version = version + 1
		WHERE id = $1
	`, id, passwordHash, at.UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate, at time.Time) (*Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin profile tx: %w", err)
	}
	defer tx.Rollback()

	var rawProfile, rawPrefs []byte
	err = tx.QueryRowContext(ctx, `
		SELECT profile, preferences
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&rawProfile, &rawPrefs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account profile: %w", err)
	}

	var profile Profile
	var prefs Preferences
	if err := json.Unmarshal(rawProfile, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(rawPrefs, &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}

	profile, prefs = update.apply(profile, prefs)
	encodedProfile, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	encodedPrefs, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET profile = $2, preferences = $3, updated_at = $4, version = version + 1
		WHERE id = $1
		RETURNING `+accountColumns, id, encodedProfile, encodedPrefs, at.UTC())
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile tx: %w", err)
	}
	return account, nil
}

func (r *Repository) UpdateGrants(ctx context.Context, id string, grants []Grant, at time.Time) (*Account, error) {
	if grants == nil {
		grants = []Grant{}
	}
	encoded, err := json.Marshal(grants)
	if err != nil {
		return nil, fmt.Errorf("encode grants: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET grants = $2, updated_at = $3, version = version + 1
		WHERE id = $1
		RETURNING `+accountColumns, id, encoded, at.UTC())
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("update grants: %w", err)
	}
	return account, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, update StatusUpdate, at time.Time) (*Account, error) {
	var active, role any
	if update.Active != nil {
		active = *update.Active
	}
	if update.Role != nil {
		role = string(*update.Role)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_active = COALESCE($2, is_active),
			role = COALESCE($3, role),
			updated_at = $4,
			version = version + 1
		WHERE id = $1
		RETURNING `+accountColumns, id, active, role, at.UTC())
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return account, nil
}

func (r *Repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *Repository) ClearExpiredLocks(ctx context.Context, now time.Time, limit int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = $1, version = version + 1
		WHERE id IN (
			SELECT id FROM accounts
			WHERE locked_until IS NOT NULL AND locked_until <= $1
			ORDER BY locked_until
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("clear expired locks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear expired locks rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check account exists: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrVersionConflict
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                               Account
		role                            string
		grants, profile, prefs, history []byte
		verificationToken               sql.NullString
		lockedUntil, lastLogin          sql.NullTime
	)

	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &grants, &profile, &prefs,
		&a.Active, &a.EmailVerified, &verificationToken, &a.FailedAttempts, &lockedUntil,
		&history, &lastLogin, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Role = Role(role)
	a.EmailVerificationToken = verificationToken.String
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		a.LockedUntil = &value
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		a.LastLoginAt = &value
	}

	if err := json.Unmarshal(grants, &a.Grants); err != nil {
		return nil, fmt.Errorf("decode grants: %w", err)
	}
	if err := json.Unmarshal(profile, &a.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(prefs, &a.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal(history, &a.LoginHistory); err != nil {
		return nil, fmt.Errorf("decode login history: %w", err)
	}
	return &a, nil
}

func encodeDocuments(a *Account) (grants, profile, prefs, history []byte, err error) {
	g := a.Grants
	if g == nil {
		g = []Grant{}
	}
	h := a.LoginHistory
	if h == nil {
		h = []LoginRecord{}
	}
	if grants, err = json.Marshal(g); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode grants: %w", err)
	}
	if profile, err = json.Marshal(a.Profile); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode profile: %w", err)
	}
	if prefs, err = json.Marshal(a.Preferences); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode preferences: %w", err)
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode login history: %w", err)
	}
	return grants, profile, prefs, history, nil
}
