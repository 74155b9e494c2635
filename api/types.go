package api

import (
	"context"

	"kanban-api/domain"
)

// Accounts is implemented by *domain.AccountService.
type Accounts interface {
	Register(ctx context.Context, email, password, name string) (*domain.Session, error)
	Login(ctx context.Context, email, password string) (*domain.Session, error)
	Profile(ctx context.Context, userID string) (*domain.PublicUser, error)
}

// Boards is implemented by *domain.BoardService.
type Boards interface {
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	CreateBoard(ctx context.Context, userID, title string) (*domain.Board, error)
	GetBoard(ctx context.Context, userID, boardID string) (*domain.Board, error)
	UpdateBoard(ctx context.Context, userID, boardID, title string) (*domain.Board, error)
	DeleteBoard(ctx context.Context, userID, boardID string) error
	AddColumn(ctx context.Context, userID, boardID, title string) (*domain.Column, error)
	RenameColumn(ctx context.Context, userID, columnID, title string) (*domain.Column, error)
	DeleteColumn(ctx context.Context, userID, columnID string) error
	MoveColumn(ctx context.Context, userID, columnID string, newOrder int) (*domain.Board, error)
}

// Cards is implemented by *domain.CardService.
type Cards interface {
	CreateCard(ctx context.Context, userID string, in domain.CardInput) (*domain.Card, error)
	UpdateCard(ctx context.Context, userID, cardID string, patch domain.CardPatch) (*domain.Card, error)
	DeleteCard(ctx context.Context, userID, cardID string) error
	MoveCard(ctx context.Context, userID string, req domain.MoveRequest) (*domain.Card, error)
	ListOverdue(ctx context.Context, userID string) ([]domain.OverdueCard, error)
}

// Authenticator validates a bearer token and returns the user it was issued
// to. *Auth implements it.
type Authenticator interface {
	UserIDFromBearer(token string) (string, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
