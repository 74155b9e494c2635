package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kanban-api/domain"
)

const userFields = `id, email, password_hash, name, created_at`

// InsertUser stores a new account. A duplicate email yields domain.ErrConflict.
func (s *Storage) InsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (`+userFields+`)
VALUES (:id, :email, :password_hash, :name, :created_at)`, u)
	if err != nil {
		return fmt.Errorf("inserting user: %w", mapConstraint(err))
	}
	return nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.user(ctx, `SELECT `+userFields+` FROM users WHERE email = ?`, email)
}

func (s *Storage) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.user(ctx, `SELECT `+userFields+` FROM users WHERE id = ?`, id)
}

func (s *Storage) user(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return &u, nil
}
