package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseAddress(t *testing.T) {
	hex40 := strings.Repeat("ab", 20)

	addr, err := ParseAddress(hex40)
	if err != nil {
		t.Fatalf("ParseAddress() error: %v", err)
	}
	if addr.String() != hex40 {
		t.Errorf("String() = %q, want %q", addr.String(), hex40)
	}

	// Prefixed form parses to the same address.
	prefixed, err := ParseAddress(AddressPrefix + hex40)
	if err != nil {
		t.Fatalf("ParseAddress(prefixed) error: %v", err)
	}
	if prefixed != addr {
		t.Error("prefixed and bare forms differ")
	}
}

func TestParseAddressRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"zz",
		strings.Repeat("ab", 19),
		strings.Repeat("ab", 21),
		AddressPrefix,
	}
	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Errorf("ParseAddress(%q) should fail", c)
		}
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	orig, _ := ParseAddress(strings.Repeat("0c", 20))
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var back Address
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if back != orig {
		t.Errorf("round trip: got %s, want %s", back, orig)
	}
}
