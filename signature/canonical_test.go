package signature_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestCanonicalize(t *testing.T) {
	type inner struct {
		Zeta  string `json:"zeta"`
		Alpha int    `json:"alpha"`
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"struct fields sorted", inner{Zeta: "z", Alpha: 1}, `{"alpha":1,"zeta":"z"}`},
		{"raw whitespace stripped", json.RawMessage("{ \"b\" : [1, 2],\n \"a\": null }"), `{"a":null,"b":[1,2]}`},
		{"html not escaped", map[string]string{"u": "<a&b>"}, `{"u":"<a&b>"}`},
		{"large integer kept", []byte(`{"n":1.50,"big":12345678901234567890}`), `{"big":12345678901234567890,"n":1.5}`},
		{"number forms normalized", []byte(`{"a":1.0,"b":1e2,"c":-0.0,"d":2.50E-1,"e":[3.000]}`), `{"a":1,"b":100,"c":0,"d":0.25,"e":[3]}`},
		{"scalar", "x", `"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := signature.Canonicalize(tt.in)
			if err != nil {
				t.Fatalf("Canonicalize: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonicalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeSameValueSameSignature(t *testing.T) {
	a, err := signature.Canonicalize([]byte(`{"n":1.0,"m":{"x":10}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := signature.Canonicalize(map[string]any{"m": map[string]int{"x": 10}, "n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}

	sa, err := signature.Sign(json.RawMessage(`{"n":1.0}`), "s3cr3t-minimum-16ch")
	if err != nil {
		t.Fatal(err)
	}
	sb, err := signature.Sign(map[string]int{"n": 1}, "s3cr3t-minimum-16ch")
	if err != nil {
		t.Fatal(err)
	}
	if sa != sb {
		t.Fatalf("signatures differ: %s vs %s", sa, sb)
	}
}

func TestCanonicalizeRejectsInvalid(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":1}{"b":2}`, `{"a":1} x`} {
		if _, err := signature.Canonicalize([]byte(in)); err == nil {
			t.Errorf("Canonicalize(%q) succeeded", in)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	first, err := signature.Canonicalize(map[string]any{"b": []any{3, "x"}, "a": true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := signature.Canonicalize(first)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("re-canonicalizing changed bytes: %s -> %s", first, second)
	}
}
