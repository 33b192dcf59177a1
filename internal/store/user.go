package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/monateaches/assessment/internal/model"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) (int64, error) {
	var id int64
	err := s.db.QueryRow(s.rebind(
		`INSERT INTO users (username, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?) RETURNING id`),
		u.Username, u.PasswordHash, u.Role, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username, or nil if not found.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(s.rebind(
		`SELECT id, username, password_hash, role, created_at
		 FROM users WHERE username = ?`), username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetPasswordHash creates the user or replaces its password hash.
func (s *Store) SetPasswordHash(username, hash string, role model.UserRole) error {
	u, err := s.GetUserByUsername(username)
	if err != nil {
		return err
	}
	if u == nil {
		_, err = s.CreateUser(model.User{Username: username, PasswordHash: hash, Role: role})
		return err
	}
	_, err = s.db.Exec(s.rebind(`UPDATE users SET password_hash = ?, role = ? WHERE id = ?`), hash, role, u.ID)
	if err == nil {
		slog.Info("updated user password", "username", username)
	}
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
