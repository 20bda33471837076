package auth

import (
	"fmt"
	"time"
)

const loginHistoryCapacity = 10

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

func ParseRole(value string) (Role, error) {
	switch r := Role(value); r {
	case RoleAdmin, RoleEditor, RoleAuthor, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Resource is a manageable content kind. The set is closed.
type Resource string

const (
	ResourceEvents      Resource = "events"
	ResourceArticles    Resource = "articles"
	ResourceAssociation Resource = "association"
	ResourceBanners     Resource = "banners"
	ResourcePartners    Resource = "partners"
	ResourceUsers       Resource = "users"
)

var Resources = []Resource{
	ResourceEvents,
	ResourceArticles,
	ResourceAssociation,
	ResourceBanners,
	ResourcePartners,
	ResourceUsers,
}

func ParseResource(value string) (Resource, error) {
	for _, r := range Resources {
		if string(r) == value {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", value)
}

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

func ParseAction(value string) (Action, error) {
	for _, a := range Actions {
		if string(a) == value {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", value)
}

// Grant is an explicit permission entry: every action listed is allowed on Resource.
type Grant struct {
	Resource Resource `json:"resource"`
	Actions  []Action `json:"actions"`
}

type Profile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Preferences struct {
	Language           string `json:"language"`
	Timezone           string `json:"timezone"`
	EmailNotifications bool   `json:"emailNotifications"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Language:           "zh",
		Timezone:           "Asia/Taipei",
		EmailNotifications: true,
	}
}

type LoginRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Success   bool      `json:"success"`
}

type Account struct {
	ID                     string
	Username               string
	Email                  string
	PasswordHash           string
	Role                   Role
	Grants                 []Grant
	Profile                Profile
	Preferences            Preferences
	Active                 bool
	EmailVerified          bool
	EmailVerificationToken string
	FailedAttempts         int
	LockedUntil            *time.Time
	LoginHistory           []LoginRecord
	LastLoginAt            *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (a *Account) lockoutFields() LockoutFields {
	return LockoutFields{FailedAttempts: a.FailedAttempts, LockedUntil: a.LockedUntil}
}

// UserView is the outward projection of an Account. It never carries the
// password hash, lockout counters or verification tokens.
type UserView struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	Profile       Profile     `json:"profile"`
	Role          Role        `json:"role"`
	Permissions   []Grant     `json:"permissions"`
	Preferences   Preferences `json:"preferences"`
	Active        bool        `json:"isActive"`
	EmailVerified bool        `json:"emailVerified"`
	LastLoginAt   *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (a *Account) View() UserView {
	grants := a.Grants
	if grants == nil {
		grants = []Grant{}
	}
	return UserView{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		Profile:       a.Profile,
		Role:          a.Role,
		Permissions:   grants,
		Preferences:   a.Preferences,
		Active:        a.Active,
		EmailVerified: a.EmailVerified,
		LastLoginAt:   a.LastLoginAt,
		CreatedAt:     a.CreatedAt,
	}
}

type ClientContext struct {
	Address   string
	UserAgent string
}

// LoginOutcome is the atomic update applied to an account after a login
// attempt. History is the full replacement sequence, already trimmed.
type LoginOutcome struct {
	Lockout     LockoutFields
	LastLoginAt *time.Time
	History     []LoginRecord
	At          time.Time
}

// ProfileUpdate carries only the fields a caller asked to change.
type ProfileUpdate struct {
	FirstName          *string
	LastName           *string
	Avatar             *string
	Bio                *string
	Phone              *string
	Language           *string
	Timezone           *string
	EmailNotifications *bool
}

func (u ProfileUpdate) apply(profile Profile, prefs Preferences) (Profile, Preferences) {
	if u.FirstName != nil {
		profile.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		profile.LastName = *u.LastName
	}
	if u.Avatar != nil {
		profile.Avatar = *u.Avatar
	}
	if u.Bio != nil {
		profile.Bio = *u.Bio
	}
	if u.Phone != nil {
		profile.Phone = *u.Phone
	}
	if u.Language != nil {
		prefs.Language = *u.Language
	}
	if u.Timezone != nil {
		prefs.Timezone = *u.Timezone
	}
	if u.EmailNotifications != nil {
		prefs.EmailNotifications = *u.EmailNotifications
	}
	return profile, prefs
}

type StatusUpdate struct {
	Active *bool
	Role   *Role
}

func appendHistory(history []LoginRecord, record LoginRecord) []LoginRecord {
	next := make([]LoginRecord, 0, loginHistoryCapacity)
	next = append(next, history...)
	next = append(next, record)
	if len(next) > loginHistoryCapacity {
		next = next[len(next)-loginHistoryCapacity:]
	}
	return next
}

func cloneAccount(a *Account) *Account {
	c := *a
	if a.Grants != nil {
		c.Grants = make([]Grant, len(a.Grants))
		for i, g := range a.Grants {
			c.Grants[i] = Grant{Resource: g.Resource, Actions: append([]Action(nil), g.Actions...)}
		}
	}
	if a.LoginHistory != nil {
		c.LoginHistory = append([]LoginRecord(nil), a.LoginHistory...)
	}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
