package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kanban-api/domain"
)

// Atomic runs fn in a transaction. fn must only touch the database through tx;
// with SQLite the pool holds a single connection.
func (s *Storage) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// txStore implements domain.Tx.
type txStore struct {
	tx      *sqlx.Tx
	dialect dialect
}

func (t *txStore) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	return mapConstraint(err)
}

func (t *txStore) Resolve(ctx context.Context, userID string, kind domain.Kind, id string) (domain.Ref, error) {
	return resolve(ctx, t.tx, userID, kind, id)
}

// LockBoard takes the board row lock that serializes writes to the board's
// column and card lists.
func (t *txStore) LockBoard(ctx context.Context, id string) error {
	var got string
	err := t.tx.GetContext(ctx, &got, t.tx.Rebind(`SELECT id FROM boards WHERE id = ?`+t.dialect.forUpdate()), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking board: %w", err)
	}
	return nil
}

func (t *txStore) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO boards (id, title, user_id, created_at, updated_at)
VALUES (:id, :title, :user_id, :created_at, :updated_at)`, b)
	if err != nil {
		return fmt.Errorf("inserting board: %w", mapConstraint(err))
	}
	return nil
}

func (t *txStore) RenameBoard(ctx context.Context, id, title string, now time.Time) error {
	if err := t.exec(ctx, `UPDATE boards SET title = ?, updated_at = ? WHERE id = ?`, title, now, id); err != nil {
		return fmt.Errorf("renaming board: %w", err)
	}
	return nil
}

func (t *txStore) TouchBoard(ctx context.Context, id string, now time.Time) error {
	if err := t.exec(ctx, `UPDATE boards SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touching board: %w", err)
	}
	return nil
}

func (t *txStore) DeleteBoard(ctx context.Context, id string) error {
	if err := t.exec(ctx, `DELETE FROM boards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting board: %w", err)
	}
	return nil
}

func (t *txStore) LockColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	cols := []domain.Column{}
	query := `SELECT ` + columnFields + ` FROM board_columns WHERE board_id = ? ORDER BY position, id` + t.dialect.forUpdate()
	if err := t.tx.SelectContext(ctx, &cols, t.tx.Rebind(query), boardID); err != nil {
		return nil, fmt.Errorf("locking columns: %w", err)
	}
	return cols, nil
}

func (t *txStore) InsertColumn(ctx context.Context, c domain.Column) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO board_columns (id, title, board_id, position)
VALUES (:id, :title, :board_id, :position)`, c)
	if err != nil {
		return fmt.Errorf("inserting column: %w", mapConstraint(err))
	}
	return nil
}

func (t *txStore) RenameColumn(ctx context.Context, id, title string) error {
	if err := t.exec(ctx, `UPDATE board_columns SET title = ? WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("renaming column: %w", err)
	}
	return nil
}

func (t *txStore) SetColumnOrder(ctx context.Context, id string, order int) error {
	if err := t.exec(ctx, `UPDATE board_columns SET position = ? WHERE id = ?`, order, id); err != nil {
		return fmt.Errorf("positioning column: %w", err)
	}
	return nil
}

func (t *txStore) DeleteColumn(ctx context.Context, id string) error {
	if err := t.exec(ctx, `DELETE FROM board_columns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting column: %w", err)
	}
	return nil
}

func (t *txStore) LockCards(ctx context.Context, columnID string) ([]domain.Card, error) {
	cards := []domain.Card{}
	query := `SELECT ` + cardFields + ` FROM cards WHERE column_id = ? ORDER BY position, id` + t.dialect.forUpdate()
	if err := t.tx.SelectContext(ctx, &cards, t.tx.Rebind(query), columnID); err != nil {
		return nil, fmt.Errorf("locking cards: %w", err)
	}
	return cards, nil
}

func (t *txStore) InsertCard(ctx context.Context, c domain.Card) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO cards
	(id, title, content, category_tag, color, status, due_date, completed_at, position, column_id, created_at)
VALUES
	(:id, :title, :content, :category_tag, :color, :status, :due_date, :completed_at, :position, :column_id, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("inserting card: %w", mapConstraint(err))
	}
	return nil
}

func (t *txStore) UpdateCard(ctx context.Context, c domain.Card) error {
	_, err := t.tx.NamedExecContext(ctx, `UPDATE cards SET
	title = :title, content = :content, category_tag = :category_tag, color = :color,
	status = :status, due_date = :due_date, completed_at = :completed_at,
	position = :position, column_id = :column_id
WHERE id = :id`, c)
	if err != nil {
		return fmt.Errorf("updating card: %w", mapConstraint(err))
	}
	return nil
}

func (t *txStore) SetCardPosition(ctx context.Context, id, columnID string, order int) error {
	if err := t.exec(ctx, `UPDATE cards SET column_id = ?, position = ? WHERE id = ?`, columnID, order, id); err != nil {
		return fmt.Errorf("positioning card: %w", err)
	}
	return nil
}

func (t *txStore) DeleteCard(ctx context.Context, id string) error {
	if err := t.exec(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	return nil
}
