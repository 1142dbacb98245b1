package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestUserRegistry_Add(t *testing.T) {
	r := NewUserRegistry()

	tests := []struct {
		name     string
		username string
		want     bool
	}{
		{"new user", "Ducklord", true},
		{"same name", "Ducklord", false},
		{"differs only by case", "DUCKLORD", false},
		{"surrounding spaces", "  ducklord ", false},
		{"empty name", "", false},
		{"blank name", "   ", false},
		{"second user", "Scalar", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Add(tt.username, "pw", false, ""); got != tt.want {
				t.Errorf("Add(%q) = %v, want %v", tt.username, got, tt.want)
			}
			if err := r.check(); err != nil {
				t.Errorf("indexes inconsistent: %v", err)
			}
		})
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestUserRegistry_AddAssignsIDsAndTokens(t *testing.T) {
	r := NewUserRegistry()
	r.Add("a", "pw", true, "")
	r.Add("b", "pw", false, "fixed-token")

	a, ok := r.GetByUsername("A")
	if !ok {
		t.Fatal("GetByUsername(A) not found")
	}
	if a.ID != 1 || !a.IsAdmin || a.SessionToken == "" {
		t.Errorf("account a = %+v, want id=1 admin with token", a)
	}
	b, _ := r.GetByUsername("b")
	if b.ID != 2 || b.SessionToken != "fixed-token" {
		t.Errorf("account b = %+v, want id=2 token=fixed-token", b)
	}
	if r.Add("c", "pw", false, "fixed-token") {
		t.Error("Add() with a token owned by another account should fail")
	}
	if got, ok := r.GetBySessionToken("fixed-token"); !ok || got.ID != 2 {
		t.Errorf("GetBySessionToken() = %+v, %v, want id 2", got, ok)
	}
}

func TestUserRegistry_AddTokenIssuerFailure(t *testing.T) {
	r := NewUserRegistry(WithTokenIssuer(func(int64) (string, error) { return "", errors.New("no entropy") }))
	if r.Add("a", "pw", false, "") {
		t.Error("Add() = true, want false when token cannot be issued")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestUserRegistry_Update(t *testing.T) {
	r := NewUserRegistry()
	r.Add("alice", "old", false, "")
	r.Add("bob", "pw", false, "")
	before, _ := r.GetByUsername("alice")

	tests := []struct {
		name      string
		oldName   string
		newName   string
		password  string
		want      bool
		wantName  string
		wantPass  string
		lookupKey string
	}{
		{"unknown user", "carol", "dave", "", false, "", "", ""},
		{"taken name", "alice", "BOB", "", false, "alice", "old", "alice"},
		{"case-only rename", "alice", "Alice", "", true, "Alice", "old", "alice"},
		{"rename and password", "alice", "alicia", "new", true, "alicia", "new", "alicia"},
		{"password only", "alicia", "", "newer", true, "alicia", "newer", "alicia"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Update(tt.oldName, tt.newName, tt.password); got != tt.want {
				t.Fatalf("Update(%q, %q) = %v, want %v", tt.oldName, tt.newName, got, tt.want)
			}
			if err := r.check(); err != nil {
				t.Fatalf("indexes inconsistent: %v", err)
			}
			if tt.lookupKey == "" {
				return
			}
			acc, ok := r.GetByUsername(tt.lookupKey)
			if !ok {
				t.Fatalf("GetByUsername(%q) not found", tt.lookupKey)
			}
			if acc.ID != before.ID {
				t.Errorf("id changed: got %d want %d", acc.ID, before.ID)
			}
			if acc.Username != tt.wantName || acc.Password != tt.wantPass {
				t.Errorf("account = %q/%q, want %q/%q", acc.Username, acc.Password, tt.wantName, tt.wantPass)
			}
		})
	}
	if _, ok := r.GetByUsername("alice"); ok {
		t.Error("old username still resolves after rename")
	}
}

func TestUserRegistry_Remove(t *testing.T) {
	r := NewUserRegistry()
	r.Add("alice", "pw", false, "tok-a")
	r.Add("bob", "pw", false, "tok-b")

	if !r.RemoveByUsername("ALICE") {
		t.Fatal("RemoveByUsername() = false, want true")
	}
	if r.RemoveByUsername("alice") {
		t.Error("second RemoveByUsername() = true, want false")
	}
	if _, ok := r.GetBySessionToken("tok-a"); ok {
		t.Error("token of removed account still resolves")
	}
	if _, ok := r.GetByID(1); ok {
		t.Error("id of removed account still resolves")
	}

	if !r.RemoveByID(2) {
		t.Fatal("RemoveByID(2) = false, want true")
	}
	if r.RemoveByID(2) {
		t.Error("second RemoveByID(2) = true, want false")
	}
	if err := r.check(); err != nil {
		t.Errorf("indexes inconsistent: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestUserRegistry_AssignNewSessionToken(t *testing.T) {
	n := 0
	r := NewUserRegistry(WithTokenIssuer(func(id int64) (string, error) {
		n++
		return fmt.Sprintf("tok-%d-%d", id, n), nil
	}))
	r.Add("alice", "pw", false, "")
	acc, _ := r.GetByUsername("alice")
	old := acc.SessionToken

	tok, ok := r.AssignNewSessionToken(acc.ID)
	if !ok || tok == "" || tok == old {
		t.Fatalf("AssignNewSessionToken() = %q, %v, want fresh token", tok, ok)
	}
	if _, ok := r.GetBySessionToken(old); ok {
		t.Error("old token still resolves")
	}
	got, ok := r.GetBySessionToken(tok)
	if !ok || got.ID != acc.ID {
		t.Errorf("new token resolves to %+v, %v, want id %d", got, ok, acc.ID)
	}
	if err := r.check(); err != nil {
		t.Errorf("indexes inconsistent: %v", err)
	}
	if _, ok := r.AssignNewSessionToken(99); ok {
		t.Error("AssignNewSessionToken(unknown) = ok, want failure")
	}

	if !r.RevokeSessionToken(acc.ID) {
		t.Fatal("RevokeSessionToken() = false, want true")
	}
	if _, ok := r.GetBySessionToken(tok); ok {
		t.Error("revoked token still resolves")
	}
}

func TestUserRegistry_Presence(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewUserRegistry(WithClock(func() time.Time { return now }), WithOnlineWindow(5*time.Second))
	r.Add("alice", "pw", false, "")
	r.Add("bob", "pw", false, "")

	statuses := r.GetAllStatuses()
	if len(statuses) != 2 || statuses[0].Online || statuses[1].Online {
		t.Fatalf("GetAllStatuses() = %+v, want both offline before any activity", statuses)
	}

	alice, _ := r.GetByUsername("alice")
	r.Touch(alice.ID)
	statuses = r.GetAllStatuses()
	if !statuses[0].Online || statuses[1].Online {
		t.Errorf("GetAllStatuses() = %+v, want alice online, bob offline", statuses)
	}

	now = now.Add(4 * time.Second)
	if s := r.GetAllStatuses(); !s[0].Online {
		t.Error("alice offline inside the window")
	}
	now = now.Add(time.Second)
	if s := r.GetAllStatuses(); s[0].Online {
		t.Error("alice still online once the window elapsed")
	}
}

func TestUserRegistry_GetAllUsernames(t *testing.T) {
	r := NewUserRegistry()
	for _, name := range []string{"Zed", "amy", "Bob"} {
		r.Add(name, "pw", false, "")
	}
	got := r.GetAllUsernames()
	want := []string{"Zed", "amy", "Bob"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("GetAllUsernames() = %v, want %v", got, want)
	}
}

func TestUserRegistry_ReturnsCopies(t *testing.T) {
	r := NewUserRegistry()
	r.Add("alice", "pw", false, "")
	acc, _ := r.GetByUsername("alice")
	acc.Username = "mallory"

	if again, _ := r.GetByUsername("alice"); again.Username != "alice" {
		t.Errorf("registry mutated through returned value: %q", again.Username)
	}
}

func TestUserRegistry_ConcurrentAdd(t *testing.T) {
	r := NewUserRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(fmt.Sprintf("user%d", i), "pw", false, "")
			r.Add("contended", "pw", false, "")
		}(i)
	}
	wg.Wait()

	if r.Len() != 51 {
		t.Errorf("Len() = %d, want 51", r.Len())
	}
	if err := r.check(); err != nil {
		t.Errorf("indexes inconsistent: %v", err)
	}
}
