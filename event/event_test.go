package event_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/event"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want event.Kind
		err  bool
	}{
		{"profile_view", event.KindProfileView, false},
		{"link_click", event.KindLinkClick, false},
		{"form_submission", event.KindFormSubmission, false},
		{"profile_updated", event.KindProfileUpdated, false},
		{"PROFILE_VIEW", 0, true},
		{"", 0, true},
		{"invoice.created", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := event.ParseKind(tt.in)
			if tt.err {
				if !errors.Is(err, event.ErrUnknownKind) {
					t.Fatalf("ParseKind(%q) err = %v, want ErrUnknownKind", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseKind(%q) = %v, %v", tt.in, got, err)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestKindValid(t *testing.T) {
	if event.Kind(0).Valid() || event.Kind(9).Valid() {
		t.Error("out-of-range kinds reported valid")
	}
	if len(event.AllKinds()) != 4 {
		t.Errorf("AllKinds() has %d entries, want 4", len(event.AllKinds()))
	}
	if _, err := json.Marshal(event.Kind(0)); err == nil {
		t.Error("marshaling the zero kind succeeded")
	}
}

func TestKindSet(t *testing.T) {
	s := event.NewKindSet(event.KindLinkClick, event.KindProfileView, event.KindLinkClick)

	if !s.Has(event.KindLinkClick) || !s.Has(event.KindProfileView) {
		t.Error("set is missing a member")
	}
	if s.Has(event.KindFormSubmission) || s.Has(event.Kind(0)) {
		t.Error("set reports a non-member")
	}
	if !reflect.DeepEqual(s.Strings(), []string{"profile_view", "link_click"}) {
		t.Errorf("Strings() = %v", s.Strings())
	}
	if !s.Valid() || event.KindSet(0).Valid() {
		t.Error("Valid() wrong")
	}
	if !event.KindSet(0).IsEmpty() {
		t.Error("zero set not empty")
	}
}

func TestParseKindSet(t *testing.T) {
	s, err := event.ParseKindSet([]string{"form_submission", "profile_updated"})
	if err != nil {
		t.Fatal(err)
	}
	if s != event.NewKindSet(event.KindFormSubmission, event.KindProfileUpdated) {
		t.Errorf("ParseKindSet = %v", s.Strings())
	}

	if _, err := event.ParseKindSet([]string{"link_click", "bogus"}); !errors.Is(err, event.ErrUnknownKind) {
		t.Errorf("unknown name err = %v", err)
	}
}

func TestKindSetBits(t *testing.T) {
	s := event.NewKindSet(event.KindProfileView, event.KindProfileUpdated)

	back, err := event.KindSetFromBits(s.Bits())
	if err != nil || back != s {
		t.Fatalf("KindSetFromBits(%d) = %v, %v", s.Bits(), back, err)
	}
	for _, bad := range []int64{-1, 16, 255} {
		if _, err := event.KindSetFromBits(bad); err == nil {
			t.Errorf("KindSetFromBits(%d) accepted", bad)
		}
	}
}

func TestKindSetJSON(t *testing.T) {
	b, err := json.Marshal(event.NewKindSet(event.KindLinkClick))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["link_click"]` {
		t.Errorf("marshal = %s", b)
	}

	var s event.KindSet
	if err := json.Unmarshal([]byte(`["profile_view","link_click"]`), &s); err != nil {
		t.Fatal(err)
	}
	if s != event.NewKindSet(event.KindProfileView, event.KindLinkClick) {
		t.Errorf("unmarshal = %v", s.Strings())
	}
	if err := json.Unmarshal([]byte(`["nope"]`), &s); err == nil {
		t.Error("unmarshal of unknown kind succeeded")
	}
}

func TestEnvelopePayload(t *testing.T) {
	env := event.Envelope{
		Event:     event.KindLinkClick,
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC),
		Data:      map[string]any{"profileId": "p1", "linkId": "l9"},
		Visitor:   &event.Visitor{IPHash: "h", Browser: "Firefox"},
	}

	got, err := env.Payload()
	if err != nil {
		t.Fatal(err)
	}

	want := `{"data":{"linkId":"l9","profileId":"p1"},"event":"link_click",` +
		`"timestamp":"2026-03-04T05:06:07.890Z","visitor":{"browser":"Firefox","ipHash":"h"}}`
	if string(got) != want {
		t.Errorf("Payload() =\n%s\nwant\n%s", got, want)
	}
}

func TestEnvelopeNilDataAndVisitor(t *testing.T) {
	env := event.NewEnvelope(event.KindProfileUpdated, nil, nil)

	got, err := env.Payload()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "visitor") || !strings.Contains(string(got), `"data":{}`) {
		t.Errorf("Payload() = %s", got)
	}

	var back event.Envelope
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatal(err)
	}
	if back.Event != event.KindProfileUpdated || !back.Timestamp.Equal(env.Timestamp) {
		t.Errorf("decoded %+v", back)
	}
}

func TestHashIP(t *testing.T) {
	a := event.HashIP("203.0.113.7", "salt")
	if a != event.HashIP("203.0.113.7", "salt") {
		t.Error("HashIP not deterministic")
	}
	if a == event.HashIP("203.0.113.7", "pepper") || len(a) != 64 {
		t.Errorf("HashIP = %q", a)
	}
}
