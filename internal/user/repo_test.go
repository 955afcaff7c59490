package user

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/notepid/portal_inbox/internal/db"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "portal.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewRepo(d.DB)
}

func TestCreateAndAuthenticateByEmailOrUsername(t *testing.T) {
	repo := newTestRepo(t)

	u, err := repo.Create("Ada@Example.com", "", "secret1", "Ada Lovelace", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.Username != "Ada" || u.Role != RoleStudent {
		t.Fatalf("unexpected defaults: username=%q role=%q", u.Username, u.Role)
	}

	for _, login := range []string{"ada@example.com", "ADA"} {
		got, err := repo.Authenticate(login, "secret1")
		if err != nil {
			t.Fatalf("Authenticate(%q) failed: %v", login, err)
		}
		if got.ID != u.ID {
			t.Fatalf("Authenticate(%q) returned user %d, want %d", login, got.ID, u.ID)
		}
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Create("bob@example.com", "bob", "right", "Bob", RoleTeacher); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := repo.Authenticate("bob", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := repo.Authenticate("nobody", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetByID(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchExcludesSelfAndMatchesCaseInsensitive(t *testing.T) {
	repo := newTestRepo(t)
	me, _ := repo.Create("me@example.com", "me", "pw", "Maria Teacher", RoleTeacher)
	other, _ := repo.Create("tom@example.com", "tom", "pw", "Tom Teacher", RoleTeacher)
	_, _ = repo.Create("sam@example.com", "sam", "pw", "Sam Student", RoleStudent)

	users, err := repo.Search("TEACHER", me.ID, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != other.ID {
		t.Fatalf("expected only user %d, got %+v", other.ID, users)
	}
}

func TestEnsureSeedIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	seeds := []Seed{
		{Email: "student@example.com", Name: "Student", Role: RoleStudent, Password: "student123"},
		{Email: "teacher@example.com", Name: "Teacher", Role: RoleTeacher, Password: "teacher123"},
	}

	n, err := repo.EnsureSeed(seeds)
	if err != nil || n != 2 {
		t.Fatalf("first EnsureSeed: n=%d err=%v", n, err)
	}
	n, err = repo.EnsureSeed(seeds)
	if err != nil || n != 0 {
		t.Fatalf("second EnsureSeed: n=%d err=%v", n, err)
	}

	u, err := repo.Authenticate("teacher@example.com", "teacher123")
	if err != nil {
		t.Fatalf("seeded login failed: %v", err)
	}
	if p := u.Participant(); p.Name != "Teacher" || p.Role != RoleTeacher {
		t.Fatalf("unexpected participant %+v", p)
	}
}
