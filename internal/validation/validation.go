package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrServiceNameEmpty is returned when a service name is empty or whitespace-only after trim.
var ErrServiceNameEmpty = errors.New("service name is required")

// ErrServiceNameInvalid is returned when a service name is not a valid charm application name.
var ErrServiceNameInvalid = errors.New("invalid service name")

// ErrSchemeInvalid is returned when the probe scheme is not http or https.
var ErrSchemeInvalid = errors.New("scheme must be http or https")

// ValidateServiceName trims the input and enforces the juju application name
// shape: lowercase letters and digits separated by single hyphens, starting
// with a letter (e.g. "landscape-server", "rabbitmq-server").
// Returns the trimmed string or an error suitable for CLI usage messages.
func ValidateServiceName(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrServiceNameEmpty
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") || strings.Contains(s, "--") {
		return "", ErrServiceNameInvalid
	}
	if !unicode.IsLower(rune(s[0])) {
		return "", ErrServiceNameInvalid
	}
	for _, c := range s {
		if !isAllowedServiceRune(c) {
			return "", ErrServiceNameInvalid
		}
	}
	return s, nil
}

func isAllowedServiceRune(r rune) bool {
	if r >= 'a' && r <= 'z' {
		return true
	}
	if r >= '0' && r <= '9' {
		return true
	}
	return r == '-'
}

// ValidateScheme trims and lowercases the input and rejects anything other
// than http or https.
func ValidateScheme(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "http", "https":
		return s, nil
	}
	return "", ErrSchemeInvalid
}
