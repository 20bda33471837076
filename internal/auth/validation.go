package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
)

const (
	minPasswordLength = 6
	maxBioLength      = 500
	maxNameLength     = 100
)

var supportedLanguages = map[string]bool{"zh": true, "en": true}

func validateRegistration(input RegisterInput) error {
	verr := &ValidationError{}

	if !usernameRegex.MatchString(input.Username) {
		verr.add("username", "must be 3-30 characters of letters, digits, '.', '_' or '-'")
	}
	if len(input.Email) > 254 || !emailRegex.MatchString(input.Email) {
		verr.add("email", "please enter a valid email")
	}
	checkPassword(verr, "password", input.Password)
	checkProfileLengths(verr, input.Profile.FirstName, input.Profile.LastName, input.Profile.Bio)
	if _, err := ParseRole(string(input.Role)); err != nil {
		verr.add("role", "must be one of admin, editor, author, viewer")
	}

	return verr.orNil()
}

func validateNewPassword(password string) error {
	verr := &ValidationError{}
	checkPassword(verr, "newPassword", password)
	return verr.orNil()
}

func validateProfileUpdate(update ProfileUpdate) error {
	verr := &ValidationError{}

	if update.FirstName != nil && *update.FirstName == "" {
		verr.add("profile.firstName", "cannot be empty")
	}
	if update.LastName != nil && *update.LastName == "" {
		verr.add("profile.lastName", "cannot be empty")
	}
	checkProfileLengths(verr, deref(update.FirstName), deref(update.LastName), deref(update.Bio))
	if update.Language != nil && !supportedLanguages[*update.Language] {
		verr.add("preferences.language", "must be one of zh, en")
	}
	if update.Timezone != nil && *update.Timezone == "" {
		verr.add("preferences.timezone", "cannot be empty")
	}

	return verr.orNil()
}

func checkPassword(verr *ValidationError, field, password string) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		verr.add(field, "must be at least 6 characters")
		return
	}
	if len(password) > maxPasswordBytes {
		verr.add(field, "must be at most 72 bytes")
	}
}

func checkProfileLengths(verr *ValidationError, firstName, lastName, bio string) {
	if utf8.RuneCountInString(firstName) > maxNameLength {
		verr.add("profile.firstName", "is too long")
	}
	if utf8.RuneCountInString(lastName) > maxNameLength {
		verr.add("profile.lastName", "is too long")
	}
	if utf8.RuneCountInString(bio) > maxBioLength {
		verr.add("profile.bio", "must be at most 500 characters")
	}
}

func trimProfile(p Profile) Profile {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Avatar = strings.TrimSpace(p.Avatar)
	p.Phone = strings.TrimSpace(p.Phone)
	return p
}

func trimProfileUpdate(u ProfileUpdate) ProfileUpdate {
	for _, field := range []**string{&u.FirstName, &u.LastName, &u.Avatar, &u.Phone, &u.Timezone, &u.Language} {
		if *field != nil {
			trimmed := strings.TrimSpace(**field)
			*field = &trimmed
		}
	}
	return u
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
