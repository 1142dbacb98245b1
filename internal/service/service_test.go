package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/models"
	"github.com/discovicke/DucklordChatking/internal/store"

	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.HashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func newServices(t *testing.T) (*UserService, *MessageService, *store.UserRegistry) {
	t.Helper()
	users := store.NewUserRegistry()
	msgs := store.NewMessageLog(users, store.NewNotifier())
	return NewUserService(users), NewMessageService(users, msgs, 10, 20), users
}

func TestUserService_CreateAndAuthenticate(t *testing.T) {
	us, _, users := newServices(t)

	if err := us.CreateAccount("duck", "quack123"); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := us.CreateAccount("DUCK", "other123"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("CreateAccount(dup) error = %v, want ErrUsernameTaken", err)
	}
	if err := us.CreateAccount("d", "quack123"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("CreateAccount(short) error = %v, want ErrInvalidInput", err)
	}

	stored, _ := users.GetByUsername("duck")
	if stored.Password == "quack123" {
		t.Error("password stored in plaintext")
	}

	if _, _, err := us.Authenticate("duck", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(wrong) error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := us.Authenticate("nobody", "quack123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(unknown) error = %v, want ErrInvalidCredentials", err)
	}

	tok1, acc, err := us.Authenticate("Duck", "quack123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if acc.Username != "duck" || acc.SessionToken != tok1 {
		t.Errorf("Authenticate() account = %+v", acc)
	}
	tok2, _, _ := us.Authenticate("duck", "quack123")
	if _, ok := us.ResolveToken(tok1); ok {
		t.Error("previous token still resolves after re-login")
	}
	got, ok := us.ResolveToken(tok2)
	if !ok || got.ID != acc.ID {
		t.Errorf("ResolveToken() = %+v, %v, want id %d", got, ok, acc.ID)
	}

	presence := us.ListPresence()
	if len(presence) != 1 || !presence[0].Online {
		t.Errorf("ListPresence() = %+v, want duck online", presence)
	}

	us.Logout(got)
	if _, ok := us.ResolveToken(tok2); ok {
		t.Error("token resolves after logout")
	}
}

func TestUserService_UpdateAndDelete(t *testing.T) {
	us, _, _ := newServices(t)
	_ = us.CreateAccount("duck", "quack123")
	_ = us.CreateAccount("goose", "honk1234")
	_ = us.CreateAdmin("Ducklord", "chatking")
	_, duck, _ := us.Authenticate("duck", "quack123")
	_, admin, _ := us.Authenticate("Ducklord", "chatking")

	tests := []struct {
		name    string
		caller  models.Account
		old     string
		newName string
		pass    string
		wantErr error
	}{
		{"other user", duck, "goose", "gander", "", ErrForbidden},
		{"nothing to change", duck, "duck", "", "", ErrInvalidInput},
		{"taken", duck, "duck", "GOOSE", "", ErrUsernameTaken},
		{"rename self", duck, "duck", "mallard", "", nil},
		{"admin renames other", admin, "goose", "gander", "newpass1", nil},
		{"missing", admin, "swan", "cygnet", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := us.UpdateAccount(tt.caller, tt.old, tt.newName, tt.pass)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateAccount() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, _, err := us.Authenticate("gander", "newpass1"); err != nil {
		t.Errorf("Authenticate(gander) error = %v", err)
	}

	if err := us.DeleteAccount(duck, "gander"); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteAccount(other) error = %v, want ErrForbidden", err)
	}
	duck.Username = "mallard"
	if err := us.DeleteAccount(duck, "mallard"); err != nil {
		t.Errorf("DeleteAccount(self) error = %v", err)
	}
	if err := us.DeleteAccount(admin, "mallard"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAccount(missing) error = %v, want ErrNotFound", err)
	}
	if names := us.ListUsernames(); len(names) != 2 {
		t.Errorf("ListUsernames() = %v, want 2 names", names)
	}
}

func TestMessageService_PostAndFetch(t *testing.T) {
	us, ms, _ := newServices(t)
	_ = us.CreateAccount("duck", "quack123")

	tests := []struct {
		name    string
		sender  string
		text    string
		wantErr error
	}{
		{"valid", "duck", "hello", nil},
		{"blank", "duck", "   ", ErrInvalidContent},
		{"too long", "duck", "this message is longer than twenty runes", ErrInvalidContent},
		{"unknown sender", "goose", "honk", ErrInvalidSender},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ms.PostMessage(tt.sender, tt.text); !errors.Is(err, tt.wantErr) {
				t.Errorf("PostMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	for i := 0; i < 14; i++ {
		_ = ms.PostMessage("duck", "again")
	}
	history, err := ms.FetchHistory(50)
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if len(history) != 10 || history[9].ID != 15 {
		t.Errorf("FetchHistory(50) returned %d messages ending at %d, want 10 ending at 15", len(history), history[len(history)-1].ID)
	}
	since, _ := ms.FetchSince(13)
	if len(since) != 2 || since[0].ID != 14 {
		t.Errorf("FetchSince(13) = %+v, want ids 14,15", since)
	}
	if ms.LastID() != 15 {
		t.Errorf("LastID() = %d, want 15", ms.LastID())
	}
}

func TestMessageService_WaitSince(t *testing.T) {
	us, ms, _ := newServices(t)
	_ = us.CreateAccount("duck", "quack123")
	_ = ms.PostMessage("duck", "first")

	got, err := ms.WaitSince(context.Background(), 0, time.Second)
	if err != nil || len(got) != 1 {
		t.Fatalf("WaitSince(0) = %v, %v, want the existing message immediately", got, err)
	}

	start := time.Now()
	got, _ = ms.WaitSince(context.Background(), 1, 30*time.Millisecond)
	if len(got) != 0 || time.Since(start) < 25*time.Millisecond {
		t.Errorf("WaitSince(1) = %v after %v, want empty after timeout", got, time.Since(start))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = ms.PostMessage("duck", "second")
	}()
	got, err = ms.WaitSince(context.Background(), 1, 2*time.Second)
	if err != nil || len(got) != 1 || got[0].Content != "second" {
		t.Errorf("WaitSince(1) = %v, %v, want the new message", got, err)
	}
}

func TestMessageService_AdminOperations(t *testing.T) {
	us, ms, _ := newServices(t)
	_ = us.CreateAccount("duck", "quack123")
	_ = us.CreateAdmin("Ducklord", "chatking")
	_, duck, _ := us.Authenticate("duck", "quack123")
	_, admin, _ := us.Authenticate("Ducklord", "chatking")
	_ = ms.PostMessage("duck", "one")
	_ = ms.PostMessage("duck", "two")

	if err := ms.DeleteMessage(duck, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteMessage(non-admin) error = %v, want ErrForbidden", err)
	}
	if err := ms.DeleteMessage(admin, 1); err != nil {
		t.Errorf("DeleteMessage(admin) error = %v", err)
	}
	if err := ms.DeleteMessage(admin, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteMessage(again) error = %v, want ErrNotFound", err)
	}
	if err := ms.ClearMessages(duck); !errors.Is(err, ErrForbidden) {
		t.Errorf("ClearMessages(non-admin) error = %v, want ErrForbidden", err)
	}
	if err := ms.ClearMessages(admin); err != nil {
		t.Errorf("ClearMessages(admin) error = %v", err)
	}
	if all, _ := ms.FetchSince(0); len(all) != 0 {
		t.Errorf("FetchSince(0) after clear = %v, want empty", all)
	}
}
