package domain

import (
	"fmt"
	"time"
)

// OverdueNotice is published once per card and due date when a card is found
// past due.
type OverdueNotice struct {
	UserID      string    `json:"userId"`
	CardID      string    `json:"cardId"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	DueDate     time.Time `json:"dueDate"`
	ColumnTitle string    `json:"columnTitle"`
	BoardID     string    `json:"boardId"`
	BoardTitle  string    `json:"boardTitle"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// DedupeKey identifies the notice for a card at its current due date, so
// moving the due date produces a fresh notice.
func (n OverdueNotice) DedupeKey() string {
	return n.CardID + "@" + n.DueDate.UTC().Format(time.RFC3339)
}

// NewOverdueNotice describes c for userID as seen at now. c must have a due
// date.
func NewOverdueNotice(userID string, c OverdueCard, now time.Time) OverdueNotice {
	n := OverdueNotice{
		UserID:      userID,
		CardID:      c.ID,
		Title:       c.Title,
		Status:      c.Status,
		ColumnTitle: c.ColumnTitle,
		BoardID:     c.BoardID,
		BoardTitle:  c.BoardTitle,
		DetectedAt:  now.UTC(),
	}
	if c.DueDate != nil {
		n.DueDate = c.DueDate.UTC()
	}
	return n
}

// PublishError reports the notices a publisher could not deliver. Notices of
// the batch that are not listed in Failed were delivered.
type PublishError struct {
	Failed []OverdueNotice
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%d notices undelivered: %v", len(e.Failed), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
