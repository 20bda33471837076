package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"cms-auth/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type registerRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Profile  Profile `json:"profile"`
	Role     string  `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileRequest struct {
	Profile *struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Avatar    *string `json:"avatar"`
		Bio       *string `json:"bio"`
		Phone     *string `json:"phone"`
	} `json:"profile"`
	Preferences *struct {
		Language           *string `json:"language"`
		Timezone           *string `json:"timezone"`
		EmailNotifications *bool   `json:"emailNotifications"`
	} `json:"preferences"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authData struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	User      UserView  `json:"user"`
}

// Register runs behind the optional guard: only an authenticated admin may
// create accounts with a role other than viewer.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	role := RoleViewer
	if value := strings.TrimSpace(body.Role); value != "" {
		parsed, err := ParseRole(value)
		if err != nil {
			writeValidation(w, &ValidationError{Fields: []FieldError{{Field: "role", Message: "must be one of admin, editor, author, viewer"}}})
			return
		}
		if parsed != RoleViewer && !HasRole(AccountFromContext(r.Context()), RoleAdmin) {
			writeError(w, http.StatusForbidden, "only administrators may assign elevated roles")
			return
		}
		role = parsed
	}

	account, err := h.service.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
		Profile:  body.Profile,
		Role:     role,
	})
	if err != nil {
		h.writeServiceError(w, err, "registration failed")
		return
	}

	token, expiresAt, err := h.service.tokens.Issue(account)
	if err != nil {
		h.writeServiceError(w, err, "registration failed")
		return
	}

	h.logger.Info("account_registered", map[string]any{"account_id": account.ID, "role": string(account.Role)})
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Registration successful",
		Data:    authData{Token: token, ExpiresAt: expiresAt, User: account.View()},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	identifier := strings.TrimSpace(body.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(body.Username)
	}

	result, err := h.service.Login(r.Context(), identifier, body.Password, ClientContext{
		Address:   observability.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var lockedErr *LockedError
		if errors.As(err, &lockedErr) {
			h.logger.Warn("login_rejected_locked", map[string]any{"ip": observability.ClientIP(r)})
		} else if errors.Is(err, ErrInvalidCredentials) {
			h.logger.Info("login_failed", map[string]any{"ip": observability.ClientIP(r)})
		}
		h.writeServiceError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Login successful",
		Data:    authData{Token: result.Token, ExpiresAt: result.ExpiresAt, User: result.Account.View()},
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: authData{User: account.View()}})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body profileRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var update ProfileUpdate
	if p := body.Profile; p != nil {
		update.FirstName, update.LastName, update.Avatar, update.Bio, update.Phone = p.FirstName, p.LastName, p.Avatar, p.Bio, p.Phone
	}
	if p := body.Preferences; p != nil {
		update.Language, update.Timezone, update.EmailNotifications = p.Language, p.Timezone, p.EmailNotifications
	}

	updated, err := h.service.UpdateProfile(r.Context(), account, update)
	if err != nil {
		h.writeServiceError(w, err, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Profile updated successfully",
		Data:    authData{User: updated.View()},
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body passwordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), account, body.CurrentPassword, body.NewPassword); err != nil {
		h.writeServiceError(w, err, "failed to change password")
		return
	}

	h.logger.Info("password_changed", map[string]any{"account_id": account.ID})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Password changed successfully"})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Anything it
// does not recognise is reported and answered with a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		validationErr *ValidationError
		duplicateErr  *DuplicateIdentityError
		lockedErr     *LockedError
		unauthErr     *UnauthenticatedError
	)

	switch {
	case errors.As(err, &validationErr):
		writeValidation(w, validationErr)
	case errors.As(err, &duplicateErr):
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: duplicateErr.Error(),
			Errors:  []FieldError{{Field: duplicateErr.Field, Message: duplicateErr.Field + " already exists"}},
		})
	case errors.As(err, &lockedErr):
		retryAfter := int(lockedErr.Until.Sub(h.service.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusLocked, lockedErr.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrDeactivated):
		writeError(w, http.StatusUnauthorized, "Account has been deactivated")
	case errors.As(err, &unauthErr):
		writeError(w, http.StatusUnauthorized, unauthenticatedMessage(unauthErr.Reason))
	case errors.Is(err, ErrIncorrectCurrentPassword):
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		sentry.CaptureException(err)
		h.logger.Error("auth_request_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeValidation(w http.ResponseWriter, err *ValidationError) {
	writeJSON(w, http.StatusBadRequest, envelope{Message: "Validation Error", Errors: err.Fields})
}
