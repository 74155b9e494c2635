package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a link of the ownership chain card -> column -> board -> user.
type Kind string

const (
	KindBoard  Kind = "board"
	KindColumn Kind = "column"
	KindCard   Kind = "card"
)

func (k Kind) notFound() error {
	switch k {
	case KindBoard:
		return NotFound("Board not found")
	case KindColumn:
		return NotFound("Column not found")
	default:
		return NotFound("Card not found")
	}
}

// Ref is an entity resolved through the ownership chain. Fields below the
// resolved kind are empty.
type Ref struct {
	BoardID  string `db:"board_id"`
	ColumnID string `db:"column_id"`
	CardID   string `db:"card_id"`
}

// Resolver looks up an entity owned by userID. Implementations return
// ErrNotFound when the entity is missing or belongs to someone else.
type Resolver interface {
	Resolve(ctx context.Context, userID string, kind Kind, id string) (Ref, error)
}

// Tx is the set of writes available inside a storage transaction. LockBoard
// holds the board row until the transaction ends and returns ErrNotFound when
// the board is gone. LockColumns and LockCards return rows ordered by
// position; callers hold the owning board's lock first.
type Tx interface {
	Resolver

	LockBoard(ctx context.Context, id string) error
	InsertBoard(ctx context.Context, b Board) error
	RenameBoard(ctx context.Context, id, title string, now time.Time) error
	TouchBoard(ctx context.Context, id string, now time.Time) error
	DeleteBoard(ctx context.Context, id string) error

	LockColumns(ctx context.Context, boardID string) ([]Column, error)
	InsertColumn(ctx context.Context, c Column) error
	RenameColumn(ctx context.Context, id, title string) error
	SetColumnOrder(ctx context.Context, id string, order int) error
	DeleteColumn(ctx context.Context, id string) error

	LockCards(ctx context.Context, columnID string) ([]Card, error)
	InsertCard(ctx context.Context, c Card) error
	UpdateCard(ctx context.Context, c Card) error
	SetCardPosition(ctx context.Context, id, columnID string, order int) error
	DeleteCard(ctx context.Context, id string) error
}

// Transactor runs fn inside a single transaction, committing when fn returns
// nil and rolling back otherwise.
type Transactor interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// UserStore persists accounts. Lookups return a nil user when absent.
type UserStore interface {
	InsertUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
}

// BoardStore serves board reads and transactional writes.
type BoardStore interface {
	Transactor
	Resolver
	ListBoards(ctx context.Context, userID string) ([]Board, error)
	LoadBoard(ctx context.Context, id string) (*Board, error)
	LoadColumn(ctx context.Context, id string) (*Column, error)
}

// CardStore serves card reads and transactional writes.
type CardStore interface {
	Transactor
	Resolver
	OverdueCards(ctx context.Context, userID string, now time.Time) ([]OverdueCard, error)
	UsersWithOverdueCards(ctx context.Context, now time.Time) ([]string, error)
}

// Store is the full persistence contract.
type Store interface {
	UserStore
	BoardStore
	CardStore
}

// BoardCache holds per-user board listings. A miss reports the cache
// generation current before the database is read; StoreBoards is given that
// generation back, and a listing stored under a generation that a later Evict
// has superseded is never served.
type BoardCache interface {
	LoadBoards(ctx context.Context, userID string) (boards []Board, gen int64, ok bool)
	StoreBoards(ctx context.Context, userID string, gen int64, boards []Board)
	Evict(ctx context.Context, userID string)
}

// NopCache never caches.
type NopCache struct{}

func (NopCache) LoadBoards(context.Context, string) ([]Board, int64, bool) { return nil, -1, false }
func (NopCache) StoreBoards(context.Context, string, int64, []Board)      {}
func (NopCache) Evict(context.Context, string)                            {}

// resolveOwned is the single ownership check used by every service method.
func resolveOwned(ctx context.Context, r Resolver, userID string, kind Kind, id string) (Ref, error) {
	if strings.TrimSpace(id) == "" || userID == "" {
		return Ref{}, kind.notFound()
	}
	ref, err := r.Resolve(ctx, userID, kind, id)
	if errors.Is(err, ErrNotFound) {
		return Ref{}, kind.notFound()
	}
	if err != nil {
		return Ref{}, fmt.Errorf("resolving %s %s: %w", kind, id, err)
	}
	return ref, nil
}
