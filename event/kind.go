// Package event defines the profile event kinds Herald notifies about and
// the envelope delivered to subscribers.
package event

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a kind name is not one of the four
// supported kinds.
var ErrUnknownKind = errors.New("event: unknown kind")

// Kind is a profile event kind. The zero value is invalid.
type Kind uint8

const (
	KindProfileView Kind = iota + 1
	KindLinkClick
	KindFormSubmission
	KindProfileUpdated

	kindEnd
)

var kindNames = [...]string{
	KindProfileView:    "profile_view",
	KindLinkClick:      "link_click",
	KindFormSubmission: "form_submission",
	KindProfileUpdated: "profile_updated",
}

// AllKinds returns every valid kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, 0, kindEnd-1)
	for k := KindProfileView; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a wire name such as "link_click" to its Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindProfileView; k < kindEnd; k++ {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k >= KindProfileView && k < kindEnd }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText encodes the wire name. Invalid kinds fail to encode.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a wire name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// KindNames returns the wire names of every kind.
func KindNames() []string {
	all := AllKinds()
	out := make([]string, len(all))
	for i, k := range all {
		out[i] = k.String()
	}
	return out
}
