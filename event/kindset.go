package event

import (
	"encoding/json"
	"fmt"
)

// KindSet is a set of kinds stored as a bit mask, bit (k-1) for kind k.
type KindSet uint8

const validMask = KindSet(1<<(kindEnd-1) - 1)

// NewKindSet returns the set holding kinds. Invalid kinds are ignored.
func NewKindSet(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// ParseKindSet builds a set from wire names. Duplicates collapse; any
// unknown name is an error.
func ParseKindSet(names []string) (KindSet, error) {
	var s KindSet
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return 0, err
		}
		s = s.With(k)
	}
	return s, nil
}

// KindSetFromBits converts a persisted mask back to a set, rejecting
// unknown bits.
func KindSetFromBits(bits int64) (KindSet, error) {
	if bits < 0 || bits&^int64(validMask) != 0 {
		return 0, fmt.Errorf("event: invalid kind mask %#x", bits)
	}
	return KindSet(bits), nil
}

func bit(k Kind) KindSet { return 1 << (k - 1) }

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return k.Valid() && s&bit(k) != 0
}

// With returns s plus k.
func (s KindSet) With(k Kind) KindSet {
	if !k.Valid() {
		return s
	}
	return s | bit(k)
}

func (s KindSet) IsEmpty() bool { return s == 0 }

// Valid reports whether the set is non-empty and holds only defined kinds.
func (s KindSet) Valid() bool { return s != 0 && s&^validMask == 0 }

// Bits returns the mask for persistence.
func (s KindSet) Bits() int64 { return int64(s) }

// Kinds lists members in declaration order.
func (s KindSet) Kinds() []Kind {
	var out []Kind
	for _, k := range AllKinds() {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Strings lists member wire names in declaration order.
func (s KindSet) Strings() []string {
	out := make([]string, 0, len(AllKinds()))
	for _, k := range s.Kinds() {
		out = append(out, k.String())
	}
	return out
}

// MarshalJSON encodes the set as an array of wire names.
func (s KindSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of wire names.
func (s *KindSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return fmt.Errorf("event: kind set: %w", err)
	}
	v, err := ParseKindSet(names)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
