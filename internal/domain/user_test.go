package domain

import "testing"

func TestIsCanonicalID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"CUST-0042", true},
		{"PROV-0001", true},
		{"ADMIN-0007", true},
		{"CUST-10000", true}, // widened past four digits
		{"a1B2c3XyZ", false}, // opaque auth-provider id
		{"user_8f3k2", false},
		{"CUST-42", false},   // too few digits
		{"cust-0042", false}, // wrong case
		{"CUST0042", false},  // missing separator
		{"VEND-0001", false}, // unknown prefix
		{"CUST-0042x", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCanonicalID(tt.id); got != tt.want {
			t.Errorf("IsCanonicalID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestUserIsLegacy(t *testing.T) {
	legacy := User{ID: "a1B2c3XyZ"}
	if !legacy.IsLegacy() {
		t.Error("expected opaque id to be legacy")
	}
	canonical := User{ID: "PROV-0012"}
	if canonical.IsLegacy() {
		t.Error("expected canonical id to not be legacy")
	}
}

func TestRolePrefix(t *testing.T) {
	if got := RolePrefix(RoleCustomer); got != "CUST" {
		t.Errorf("customer prefix: got %s", got)
	}
	if got := RolePrefix(RoleProvider); got != "PROV" {
		t.Errorf("provider prefix: got %s", got)
	}
	if got := RolePrefix(RoleAdmin); got != "ADMIN" {
		t.Errorf("admin prefix: got %s", got)
	}
}
