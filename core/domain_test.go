package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEmailDomain(t *testing.T) {
	cases := map[string]string{
		"Jane@Acme.io":  "acme.io",
		" a@b@corp.com": "corp.com",
		"no-at":         "",
		"trailing@":     "",
	}
	for input, want := range cases {
		if got := EmailDomain(input); got != want {
			t.Fatalf("EmailDomain(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMetadataLabel(t *testing.T) {
	if got := MetadataLabel("admin", true); got != "admin_paid" {
		t.Fatalf("expected admin_paid, got %q", got)
	}
	if got := MetadataLabel("", false); got != DefaultUserRole {
		t.Fatalf("expected default role, got %q", got)
	}
}

func TestMinorUnitConversions(t *testing.T) {
	if got := MinorToMajor(49900); !got.Equal(decimal.RequireFromString("499")) {
		t.Fatalf("expected 499, got %s", got)
	}
	if got := MajorToMinor(decimal.RequireFromString("12.345")); got != 1235 {
		t.Fatalf("expected 1235 minor units, got %d", got)
	}
	if !SubscriptionStatusActive.Open() || SubscriptionStatusCreated.Open() {
		t.Fatalf("unexpected open status semantics")
	}
	if got := DisplayName(" Ada ", ""); got != "Ada" {
		t.Fatalf("expected Ada, got %q", got)
	}
}
