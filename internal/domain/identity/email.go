package identity

import (
	"strings"

	"github.com/google/uuid"
)

// TokenSource yields a fresh collision-resistant token on every call.
type TokenSource func() string

// RandomToken returns 32 hex characters from a random UUID.
func RandomToken() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// PlaceholderEmail builds <first>.<last>.<token>@<domain> from the slugged
// name parts.
func PlaceholderEmail(firstName, lastName, token, domain string) string {
	return slug(firstName) + "." + slug(lastName) + "." + token + "@" + domain
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 32 {
			break
		}
	}
	if b.Len() == 0 {
		return "patient"
	}
	return b.String()
}
