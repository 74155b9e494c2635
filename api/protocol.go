package api

import "kanban-api/domain"

const maxBodySize = 64 * 1024 // 64 KiB

// POST /api/auth/register
type registerRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=1024"`
	Name     string `json:"name" validate:"max=100"`
}

// POST /api/auth/login
type loginRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=1024"`
}

type userResponse struct {
	User domain.PublicUser `json:"user"`
}

// POST /api/boards, PUT /api/boards/:id, POST /api/boards/:id/columns,
// PUT /api/columns/:id
type titleRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

type boardResponse struct {
	Board *domain.Board `json:"board"`
}

type columnResponse struct {
	Column *domain.Column `json:"column"`
}

// POST /api/columns/move
type moveColumnRequest struct {
	ColumnID string `json:"columnId" validate:"required"`
	NewOrder int    `json:"newOrder"`
}

// POST /api/cards
type createCardRequest struct {
	ColumnID    string  `json:"columnId"`
	Title       string  `json:"title" validate:"max=200"`
	Content     *string `json:"content" validate:"omitempty,max=10000"`
	CategoryTag *string `json:"categoryTag" validate:"omitempty,max=50"`
	Color       *string `json:"color" validate:"omitempty,max=32"`
	DueDate     *string `json:"dueDate"`
}

// PUT /api/cards/:id. Absent fields are untouched, null clears.
type updateCardRequest struct {
	Title       *string                 `json:"title" validate:"omitempty,max=200"`
	Content     domain.Optional[string] `json:"content" validate:"max=10000"`
	CategoryTag domain.Optional[string] `json:"categoryTag" validate:"max=50"`
	Color       domain.Optional[string] `json:"color" validate:"max=32"`
	Status      *string                 `json:"status"`
	DueDate     domain.Optional[string] `json:"dueDate"`
}

// POST /api/cards/move
type moveCardRequest struct {
	CardID         string  `json:"cardId"`
	TargetColumnID string  `json:"targetColumnId"`
	NewOrder       int     `json:"newOrder"`
	Status         *string `json:"status"`
}

type cardResponse struct {
	Card *domain.Card `json:"card"`
}

type overdueResponse struct {
	Cards []domain.OverdueCard `json:"cards"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}
