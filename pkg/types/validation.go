package types

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Default profile values applied when a user has not saved settings yet.
const (
	DefaultAlias       = "anonymous"
	DefaultTheme       = "purple-cybercore"
	DefaultDescription = "No matter where you go, everybody's connected"
	DefaultDirectory   = "/home/user/downloads"
	DefaultAvatar      = "/lain.jpg"

	defaultBackground = "cybercore.png"

	// MaxImages bounds the per-user image list.
	MaxImages = 10
)

var themeBackgrounds = map[string]string{
	"purple-cybercore": "cybercore.png",
	"vaporwave":        "vaporwave.jpg",
	"frutiger-aero":    "aero.png",
	"ethereal-gothic":  "gothic.png",
}

// NormalizeUsername lower-cases and trims an account name.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// IsValidUsername checks account name length after normalization.
func IsValidUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= 1 && n <= 32
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password, confirm string) error {
	if password == "" || password != confirm {
		return ErrPasswordMismatch
	}
	if n := utf8.RuneCountInString(password); n < 8 || n > 64 {
		return ErrWeakPassword
	}
	if !strings.ContainsAny(password, "0123456789") {
		return ErrWeakPassword
	}
	return nil
}

// IsValidRoomID checks a room identifier.
func IsValidRoomID(room string) bool {
	if len(room) < 1 || len(room) > 50 {
		return false
	}
	return roomIDRegex.MatchString(room)
}

// IsValidIdentity checks a display identity presented in a room.
func IsValidIdentity(identity string) bool {
	n := utf8.RuneCountInString(identity)
	if n < 1 || n > 32 {
		return false
	}
	return isPrintable(identity)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func validAlias(alias string) bool {
	return utf8.RuneCountInString(alias) <= 32 && isPrintable(alias)
}

// Validate checks the required fields of a join request.
func (p *JoinRoomPayload) Validate() error {
	if !IsValidRoomID(p.Room) {
		return ErrInvalidRoom
	}
	if !IsValidIdentity(p.Username) {
		return ErrInvalidIdentity
	}
	if !validAlias(p.Alias) {
		return ErrInvalidAlias
	}
	return nil
}

// Validate checks the optional routing fields of a chat message. Length limits on the
// text itself are enforced by the rate limiter so the client gets a distinct reason.
func (p *ChatMessagePayload) Validate() error {
	if p.Room != "" && !IsValidRoomID(p.Room) {
		return ErrInvalidRoom
	}
	if !validAlias(p.Alias) {
		return ErrInvalidAlias
	}
	return nil
}

// Validate checks a leave request. Both fields are optional because the gateway
// already knows the attachment of the connection.
func (p *LeaveRoomPayload) Validate() error {
	if p.Room != "" && !IsValidRoomID(p.Room) {
		return ErrInvalidRoom
	}
	return nil
}

// DecodePayload unmarshals raw event data into v and runs its validation.
func DecodePayload(raw json.RawMessage, v interface{ Validate() error }) error {
	if len(raw) == 0 || string(raw) == "null" {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedPayload
	}
	return v.Validate()
}

// IsKnownTheme reports whether theme has a background mapping.
func IsKnownTheme(theme string) bool {
	_, ok := themeBackgrounds[theme]
	return ok
}

// BackgroundForTheme maps a theme to its background file.
func BackgroundForTheme(theme string) string {
	if bg, ok := themeBackgrounds[theme]; ok {
		return bg
	}
	return defaultBackground
}

// WithDefaults returns a copy of s with empty fields replaced by profile defaults.
func (s Settings) WithDefaults() Settings {
	if s.Alias == "" {
		s.Alias = DefaultAlias
	}
	if s.Theme == "" {
		s.Theme = DefaultTheme
	}
	if s.Description == "" {
		s.Description = DefaultDescription
	}
	if s.Directory == "" {
		s.Directory = DefaultDirectory
	}
	if s.AvatarPath == "" {
		s.AvatarPath = DefaultAvatar
	}
	if s.ImageList == nil {
		s.ImageList = []string{}
	}
	return s
}

// Validate checks user supplied settings fields.
func (s *Settings) Validate() error {
	if s.Alias != "" && !validAlias(s.Alias) {
		return ErrInvalidAlias
	}
	if s.Theme != "" && !IsKnownTheme(s.Theme) {
		return ErrInvalidTheme
	}
	if utf8.RuneCountInString(s.Description) > 500 {
		return ErrDescriptionTooLong
	}
	if utf8.RuneCountInString(s.Directory) > 200 {
		return ErrDirectoryTooLong
	}
	return nil
}

// ProfileFor builds the public profile view of s.
// The description is left empty on profiles when the user never wrote one.
func ProfileFor(s Settings) Profile {
	description := s.Description
	s = s.WithDefaults()
	s.Description = description
	return Profile{Settings: s, BackgroundImage: BackgroundForTheme(s.Theme)}
}
