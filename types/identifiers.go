package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	localIDRegexp   = regexp.MustCompile(`^[a-zA-Z_]{4,15}$`)
	isbnRegexp      = regexp.MustCompile(`^[0-9]{13}$`)
	fqdnLabelRegexp = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ErrInvalidLocator is returned when a string is not of the form
// <local-id>@<fqdn>.
var ErrInvalidLocator = errors.New("invalid locator")

// Locator is a user's federated identifier across hosting nodes, of the form
// <local-id>@<fqdn>. The local id is 4 to 15 letters or underscores; the host
// is a fully qualified domain name, or "localhost".
type Locator string

// Validate reports whether the locator is well formed.
func (l Locator) Validate() error {
	parts := strings.Split(string(l), "@")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %q must contain exactly one '@'", ErrInvalidLocator, string(l))
	}

	if !localIDRegexp.MatchString(parts[0]) {
		return fmt.Errorf("%w: bad local id %q", ErrInvalidLocator, parts[0])
	}

	if !IsFQDN(parts[1]) {
		return fmt.Errorf("%w: bad host %q", ErrInvalidLocator, parts[1])
	}

	return nil
}

// LocalID returns the part of the locator before the '@'. It does not
// validate.
func (l Locator) LocalID() string {
	return strings.SplitN(string(l), "@", 2)[0]
}

// IsFQDN reports whether host is a syntactically valid fully qualified
// domain name. The literal "localhost" is accepted for development setups.
func IsFQDN(host string) bool {
	if host == "localhost" {
		return true
	}

	if len(host) == 0 || len(host) > 253 {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if !fqdnLabelRegexp.MatchString(label) {
			return false
		}
	}

	return true
}

// ISBN is a 13-digit numeric book identifier without separators.
type ISBN string

// Validate reports whether the ISBN is exactly 13 digits. The check is
// syntactic only; the checksum digit is not verified.
func (i ISBN) Validate() error {
	if !isbnRegexp.MatchString(string(i)) {
		return fmt.Errorf("invalid isbn: %q is not a 13-digit number", string(i))
	}

	return nil
}

// IsUUID reports whether s is a canonical hyphenated UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}

	_, err := uuid.Parse(s)
	return err == nil
}
