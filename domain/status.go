package domain

import "time"

// Status is the workflow state of a card.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", Validation("Invalid status", FieldError{Field: "status", Message: "must be one of todo, doing, done"})
	}
	return s, nil
}

// ApplyStatus moves c to next. Entering done stamps CompletedAt with now,
// leaving done clears it, and done to done keeps the original stamp.
func (c *Card) ApplyStatus(next Status, now time.Time) {
	switch {
	case next != StatusDone:
		c.CompletedAt = nil
	case c.Status != StatusDone || c.CompletedAt == nil:
		stamp := now
		c.CompletedAt = &stamp
	}
	c.Status = next
}
