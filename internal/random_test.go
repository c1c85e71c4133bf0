package internal

import "testing"

func TestNewSessionIDIsUniqueAndValid(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if !ValidSessionID(id) {
			t.Fatalf("generated id %q does not validate", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidSessionIDRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "auth_token:x", "../../etc"} {
		if ValidSessionID(s) {
			t.Fatalf("%q must be rejected", s)
		}
	}
}
