// Package id provides prefixed, sortable identifiers for Herald records.
//
// Identifiers are TypeIDs ("sub_01h455vb4pex5vsknk084sn02q"): a short
// prefix naming the record kind followed by a UUIDv7 suffix, so they sort
// by creation time and are safe to put in URLs and headers.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record kind an ID belongs to.
type Prefix string

const (
	PrefixSubscription Prefix = "sub"
	PrefixDelivery     Prefix = "del"
	PrefixEvent        Prefix = "evt"
)

// ID is a TypeID. The zero value is Nil and encodes as an empty string.
//
//nolint:recvcheck // pointer receivers are needed for UnmarshalText and Scan.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the zero ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}

	return ID{tid: tid, ok: true}
}

// Parse decodes any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{tid: tid, ok: true}, nil
}

// ParseAs decodes s and checks that it carries the wanted prefix.
func ParseAs(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if v.Prefix() != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, v.Prefix(), want)
	}

	return v, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}

// ──────────────────────────────────────────────────
// Per-kind helpers
// ──────────────────────────────────────────────────

func NewSubscriptionID() ID { return New(PrefixSubscription) }
func NewDeliveryID() ID     { return New(PrefixDelivery) }
func NewEventID() ID        { return New(PrefixEvent) }

// ParseSubscriptionID accepts only "sub_" identifiers.
func ParseSubscriptionID(s string) (ID, error) { return ParseAs(s, PrefixSubscription) }

// ParseDeliveryID accepts only "del_" identifiers.
func ParseDeliveryID(s string) (ID, error) { return ParseAs(s, PrefixDelivery) }

// ParseEventID accepts only "evt_" identifiers.
func ParseEventID(s string) (ID, error) { return ParseAs(s, PrefixEvent) }

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

func (i ID) String() string {
	if !i.ok {
		return ""
	}

	return i.tid.String()
}

// Prefix returns the kind prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}

	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}

	v, err := Parse(string(b))
	if err != nil {
		return err
	}

	*i = v

	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.ok {
		return nil, nil //nolint:nilnil // NULL column
	}

	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
