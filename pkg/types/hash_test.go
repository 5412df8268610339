package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHashHexRoundTrip(t *testing.T) {
	hex64 := strings.Repeat("ab", 32)
	h, err := HexToHash(hex64)
	if err != nil {
		t.Fatalf("HexToHash() error: %v", err)
	}
	if h.String() != hex64 {
		t.Errorf("String() = %q, want %q", h.String(), hex64)
	}
}

func TestHexToHashRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"zz",
		strings.Repeat("ab", 31),
		strings.Repeat("ab", 33),
	}
	for _, c := range cases {
		if _, err := HexToHash(c); err == nil {
			t.Errorf("HexToHash(%q) should fail", c)
		}
	}
}

func TestHashIsZero(t *testing.T) {
	if !ZeroHash.IsZero() {
		t.Error("ZeroHash.IsZero() = false")
	}
	var h Hash
	h[31] = 1
	if h.IsZero() {
		t.Error("non-zero hash reported as zero")
	}
}

func TestHashCompare(t *testing.T) {
	var a, b Hash
	b[0] = 1
	if a.Compare(b) >= 0 {
		t.Error("zero hash should compare below 01...")
	}
	if b.Compare(a) <= 0 {
		t.Error("01... should compare above zero hash")
	}
	if a.Compare(a) != 0 {
		t.Error("hash should compare equal to itself")
	}
}

func TestHashJSON(t *testing.T) {
	h, _ := HexToHash(strings.Repeat("0f", 32))
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var back Hash
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if back != h {
		t.Errorf("round trip: got %s, want %s", back, h)
	}

	var rejected Hash
	if err := json.Unmarshal([]byte(`"abc"`), &rejected); err == nil {
		t.Error("short hex should be rejected")
	}
}
