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

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const columnFields = `id, title, board_id, position`

const cardFields = `id, title, content, category_tag, color, status, due_date, completed_at, position, column_id, created_at`

// cardFieldsOf qualifies cardFields with a table alias for joins.
const cardFieldsOf = `k.id, k.title, k.content, k.category_tag, k.color, k.status, k.due_date, k.completed_at, k.position, k.column_id, k.created_at`

var resolveQueries = map[domain.Kind]string{
	domain.KindBoard: `SELECT b.id AS board_id, '' AS column_id, '' AS card_id
FROM boards b
WHERE b.id = ? AND b.user_id = ?`,
	domain.KindColumn: `SELECT c.board_id AS board_id, c.id AS column_id, '' AS card_id
FROM board_columns c
JOIN boards b ON b.id = c.board_id
WHERE c.id = ? AND b.user_id = ?`,
	domain.KindCard: `SELECT c.board_id AS board_id, k.column_id AS column_id, k.id AS card_id
FROM cards k
JOIN board_columns c ON c.id = k.column_id
JOIN boards b ON b.id = c.board_id
WHERE k.id = ? AND b.user_id = ?`,
}

// resolve walks the ownership chain for one entity in a single query.
func resolve(ctx context.Context, q queryer, userID string, kind domain.Kind, id string) (domain.Ref, error) {
	query, ok := resolveQueries[kind]
	if !ok {
		return domain.Ref{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	var ref domain.Ref
	err := q.GetContext(ctx, &ref, q.Rebind(query), id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ref{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Ref{}, err
	}
	return ref, nil
}

// Resolve implements domain.Resolver outside of a transaction.
func (s *Storage) Resolve(ctx context.Context, userID string, kind domain.Kind, id string) (domain.Ref, error) {
	return resolve(ctx, s.db, userID, kind, id)
}

// assemble loads columns and cards for boards and nests them in order.
func assemble(ctx context.Context, q queryer, boards []domain.Board) error {
	if len(boards) == 0 {
		return nil
	}
	ids := make([]string, len(boards))
	for i := range boards {
		ids[i] = boards[i].ID
	}

	query, args, err := sqlx.In(`SELECT `+columnFields+` FROM board_columns WHERE board_id IN (?) ORDER BY board_id, position, id`, ids)
	if err != nil {
		return err
	}
	var cols []domain.Column
	if err := q.SelectContext(ctx, &cols, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("selecting columns: %w", err)
	}

	query, args, err = sqlx.In(`SELECT `+cardFieldsOf+`
FROM cards k
JOIN board_columns c ON c.id = k.column_id
WHERE c.board_id IN (?)
ORDER BY k.column_id, k.position, k.id`, ids)
	if err != nil {
		return err
	}
	var cards []domain.Card
	if err := q.SelectContext(ctx, &cards, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("selecting cards: %w", err)
	}

	byColumn := make(map[string][]domain.Card, len(cols))
	for _, c := range cards {
		byColumn[c.ColumnID] = append(byColumn[c.ColumnID], c)
	}
	byBoard := make(map[string][]domain.Column, len(boards))
	for _, col := range cols {
		col.Cards = byColumn[col.ID]
		if col.Cards == nil {
			col.Cards = []domain.Card{}
		}
		byBoard[col.BoardID] = append(byBoard[col.BoardID], col)
	}
	for i := range boards {
		boards[i].Columns = byBoard[boards[i].ID]
		if boards[i].Columns == nil {
			boards[i].Columns = []domain.Column{}
		}
	}
	return nil
}

// ListBoards returns the user's boards, most recently updated first, with
// columns and cards nested in order.
func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	boards := []domain.Board{}
	err := s.db.SelectContext(ctx, &boards, s.db.Rebind(`SELECT id, title, user_id, created_at, updated_at
FROM boards WHERE user_id = ? ORDER BY updated_at DESC, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("selecting boards: %w", err)
	}
	if err := assemble(ctx, s.db, boards); err != nil {
		return nil, err
	}
	return boards, nil
}

func (s *Storage) LoadBoard(ctx context.Context, id string) (*domain.Board, error) {
	var b domain.Board
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`SELECT id, title, user_id, created_at, updated_at FROM boards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting board: %w", err)
	}
	boards := []domain.Board{b}
	if err := assemble(ctx, s.db, boards); err != nil {
		return nil, err
	}
	return &boards[0], nil
}

func (s *Storage) LoadColumn(ctx context.Context, id string) (*domain.Column, error) {
	var col domain.Column
	err := s.db.GetContext(ctx, &col, s.db.Rebind(`SELECT `+columnFields+` FROM board_columns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting column: %w", err)
	}
	col.Cards = []domain.Card{}
	err = s.db.SelectContext(ctx, &col.Cards, s.db.Rebind(`SELECT `+cardFields+` FROM cards WHERE column_id = ? ORDER BY position, id`), id)
	if err != nil {
		return nil, fmt.Errorf("selecting cards: %w", err)
	}
	return &col, nil
}

// CardByID returns a card or domain.ErrNotFound.
func (s *Storage) CardByID(ctx context.Context, id string) (*domain.Card, error) {
	var c domain.Card
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`SELECT `+cardFields+` FROM cards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting card: %w", err)
	}
	return &c, nil
}

// OverdueCards lists the user's unfinished cards due before now, earliest
// first.
func (s *Storage) OverdueCards(ctx context.Context, userID string, now time.Time) ([]domain.OverdueCard, error) {
	cards := []domain.OverdueCard{}
	err := s.db.SelectContext(ctx, &cards, s.db.Rebind(`SELECT `+cardFieldsOf+`,
	c.title AS column_title, b.id AS board_id, b.title AS board_title
FROM cards k
JOIN board_columns c ON c.id = k.column_id
JOIN boards b ON b.id = c.board_id
WHERE b.user_id = ? AND k.status <> ? AND k.due_date IS NOT NULL AND k.due_date < ?
ORDER BY k.due_date, k.id`), userID, string(domain.StatusDone), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("selecting overdue cards: %w", err)
	}
	return cards, nil
}

// UsersWithOverdueCards returns the distinct owners of overdue cards.
func (s *Storage) UsersWithOverdueCards(ctx context.Context, now time.Time) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT DISTINCT b.user_id
FROM cards k
JOIN board_columns c ON c.id = k.column_id
JOIN boards b ON b.id = c.board_id
WHERE k.status <> ? AND k.due_date IS NOT NULL AND k.due_date < ?
ORDER BY b.user_id`), string(domain.StatusDone), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("selecting overdue owners: %w", err)
	}
	return ids, nil
}
