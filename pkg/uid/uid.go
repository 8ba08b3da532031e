// Package uid generates and validates the 11-character alphanumeric
// identifiers used as stable external references throughout the platform.
// A UID starts with a letter and is followed by ten letters or digits.
package uid

import (
	"crypto/rand"
	"regexp"
)

const (
	letters  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphanum = "0123456789" + letters

	// Length is the fixed length of a UID.
	Length = 11
)

var pattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]{10}$`)

// New returns a freshly generated UID.
func New() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	out := make([]byte, Length)
	out[0] = letters[int(buf[0])%len(letters)]
	for i := 1; i < Length; i++ {
		out[i] = alphanum[int(buf[i])%len(alphanum)]
	}
	return string(out)
}

// IsValid reports whether s is a well-formed UID.
func IsValid(s string) bool {
	return pattern.MatchString(s)
}
