package subscription

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/xraph/herald/event"
)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a subscription.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "subscription validation: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid webhook URL format")
	}
	return nil
}

// ValidateSecret enforces MinSecretLength, counted in characters.
func ValidateSecret(secret string) error {
	if utf8.RuneCountInString(secret) < MinSecretLength {
		return fmt.Errorf("webhook secret must be a string of at least %d characters", MinSecretLength)
	}
	return nil
}

// ParseEvents converts requested kind names into a set.
func ParseEvents(names []string) (event.KindSet, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("events must be a non-empty array")
	}
	for _, n := range names {
		if _, err := event.ParseKind(n); err != nil {
			return 0, fmt.Errorf("invalid event type: %s. valid events are: %s",
				n, strings.Join(event.KindNames(), ", "))
		}
	}
	return event.ParseKindSet(names)
}

// Validate checks a complete subscription.
func Validate(s *Subscription) error {
	ve := &ValidationError{}
	ve.checkTarget(s)
	if !s.Events.Valid() {
		ve.add("events", "events must be a non-empty array")
	}
	return ve.orNil()
}

func (e *ValidationError) checkTarget(s *Subscription) {
	if s.URL == "" {
		e.add("url", "url is required")
	} else if err := ValidateURL(s.URL); err != nil {
		e.add("url", err.Error())
	}
	if err := ValidateSecret(s.Secret); err != nil {
		e.add("secret", err.Error())
	}
}
