package domain

import (
	"strings"
	"time"
)

// User is an account owning boards.
type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
}

// PublicUser is the part of a User exposed over the API.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public strips credentials from u.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// Board is the top-level container of columns.
type Board struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	UserID    string    `json:"userId" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	Columns   []Column  `json:"columns" db:"-"`
}

// Column is an ordered bucket of cards within a board.
type Column struct {
	ID      string `json:"id" db:"id"`
	Title   string `json:"title" db:"title"`
	BoardID string `json:"boardId" db:"board_id"`
	Order   int    `json:"order" db:"position"`
	Cards   []Card `json:"cards" db:"-"`
}

// Card is a single task on a board.
type Card struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Content     *string    `json:"content" db:"content"`
	CategoryTag *string    `json:"categoryTag" db:"category_tag"`
	Color       *string    `json:"color" db:"color"`
	Status      Status     `json:"status" db:"status"`
	DueDate     *time.Time `json:"dueDate" db:"due_date"`
	CompletedAt *time.Time `json:"completedAt" db:"completed_at"`
	Order       int        `json:"order" db:"position"`
	ColumnID    string     `json:"columnId" db:"column_id"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// OverdueCard is a card past its due date together with where it lives.
type OverdueCard struct {
	Card
	ColumnTitle string `json:"columnTitle" db:"column_title"`
	BoardID     string `json:"boardId" db:"board_id"`
	BoardTitle  string `json:"boardTitle" db:"board_title"`
}

// DefaultSeedColumns are the columns every new board starts with.
var DefaultSeedColumns = []string{"To-do", "Doing", "Done"}

func requireTitle(title, field string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", Validation("Title is required", FieldError{Field: field, Message: "Title is required"})
	}
	return title, nil
}
