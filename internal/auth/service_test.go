package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type failingDirectory struct{ err error }

func (d failingDirectory) FindUserByEmail(context.Context, string) (*User, error) {
	return nil, d.err
}

func (d failingDirectory) ResolveIdentity(context.Context, uuid.UUID) (Identity, error) {
	return Identity{}, d.err
}

func seedDirectory(t *testing.T) (*MemoryDirectory, *User) {
	t.Helper()
	ctx := context.Background()
	dir := NewMemoryDirectory()
	if err := EnsureBuiltins(ctx, dir); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &User{Email: "Buyer@Example.com", PasswordHash: hash}
	if err := dir.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := dir.AssignGroup(ctx, user.ID, GroupManager); err != nil {
		t.Fatalf("AssignGroup: %v", err)
	}
	return dir, user
}

func newTestService(t *testing.T, dir Directory) *Service {
	t.Helper()
	svc, err := NewService(dir, newTestCodec(t, nil, CodecConfig{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	dir, user := seedDirectory(t)
	svc := newTestService(t, dir)

	tok, ident, err := svc.Login(context.Background(), " buyer@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ident.ID != user.ID || !ident.InGroup(GroupManager) {
		t.Fatalf("unexpected identity %+v", ident)
	}
	if !ident.HasPermission(PermProductsCreate) || ident.HasPermission(PermDirectoryManage) {
		t.Fatalf("unexpected permissions %v", ident.Permissions)
	}
	verified, err := svc.Codec().Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != user.ID {
		t.Fatalf("token identity mismatch: %s", verified.ID)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	dir, user := seedDirectory(t)
	svc := newTestService(t, dir)
	ctx := context.Background()

	_, _, unknown := svc.Login(ctx, "nobody@example.com", "correct horse")
	_, _, wrong := svc.Login(ctx, user.Email, "wrong password")
	_, _, empty := svc.Login(ctx, "", "")

	for name, err := range map[string]error{"unknown": unknown, "wrong password": wrong, "empty": empty} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}
	if unknown.Error() != wrong.Error() {
		t.Fatalf("error messages differ: %q vs %q", unknown, wrong)
	}
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := dir.CreateUser(ctx, &User{Email: "off@example.com", PasswordHash: hash, Status: UserStatusDisabled}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	svc := newTestService(t, dir)
	if _, _, err := svc.Login(ctx, "off@example.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginPropagatesDirectoryFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc := newTestService(t, failingDirectory{err: boom})
	_, _, err := svc.Login(context.Background(), "a@example.com", "pw")
	if !errors.Is(err, boom) {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, newTestCodec(t, nil, CodecConfig{})); err == nil {
		t.Fatal("expected error for nil directory")
	}
	if _, err := NewService(NewMemoryDirectory(), nil); err == nil {
		t.Fatal("expected error for nil codec")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "pw"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "other"); err == nil {
		t.Fatal("expected mismatch")
	}
	if err := VerifyPassword("", "pw"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}
