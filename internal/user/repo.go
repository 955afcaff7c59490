package user

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repo handles database operations for users.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new user repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const selectUser = `
	SELECT id, email, username, name, role, password_hash, created_at
	FROM users`

// Create inserts a new user with a hashed password.
func (r *Repo) Create(email, username, password, name, role string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if username == "" {
		username = usernameFromEmail(email)
	}
	if role == "" {
		role = RoleStudent
	}

	result, err := r.db.Exec(`
		INSERT INTO users (email, username, name, role, password_hash)
		VALUES (?, ?, ?, ?, ?)
	`, email, username, name, role, hash)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get user id: %w", err)
	}

	return r.GetByID(id)
}

// Authenticate checks a login name (email or username) and password and
// returns the user if they match.
func (r *Repo) Authenticate(login, password string) (*User, error) {
	u, err := r.GetByLogin(login)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (r *Repo) GetByID(id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(selectUser+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetByLogin retrieves a user by email or username (case-insensitive).
func (r *Repo) GetByLogin(login string) (*User, error) {
	login = strings.TrimSpace(login)
	u, err := scanUser(r.db.QueryRow(selectUser+`
		WHERE email = ? COLLATE NOCASE OR username = ? COLLATE NOCASE
		LIMIT 1
	`, login, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", login, err)
	}
	return u, nil
}

// Search returns users other than excludeID whose name, username or email
// contains query, ordered by name.
func (r *Repo) Search(query string, excludeID int64, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	rows, err := r.db.Query(selectUser+`
		WHERE id <> ?
		  AND (LOWER(name) LIKE ? OR LOWER(username) LIKE ? OR LOWER(email) LIKE ?)
		ORDER BY LOWER(name), id
		LIMIT ?
	`, excludeID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// EnsureSeed creates every seed account whose email is not registered yet.
// It returns the number of accounts created.
func (r *Repo) EnsureSeed(seeds []Seed) (int, error) {
	created := 0
	for _, s := range seeds {
		_, err := r.GetByLogin(s.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		if _, err := r.Create(s.Email, s.Username, s.Password, s.Name, s.Role); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var created sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Name, &u.Role, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	if created.Valid {
		u.CreatedAt = created.Time
	}
	return u, nil
}

func usernameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
