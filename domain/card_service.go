package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CardInput describes a new card.
type CardInput struct {
	ColumnID    string
	Title       string
	Content     *string
	CategoryTag *string
	Color       *string
	DueDate     *time.Time
}

// CardPatch is a partial card update. Nil pointers and unset Optionals leave
// the stored value untouched.
type CardPatch struct {
	Title       *string
	Content     Optional[string]
	CategoryTag Optional[string]
	Color       Optional[string]
	Status      *Status
	DueDate     Optional[time.Time]
}

// MoveRequest relocates a card to position NewOrder of TargetColumnID.
type MoveRequest struct {
	CardID         string
	TargetColumnID string
	NewOrder       int
	Status         *Status
}

// CardService manages cards, including the move/reorder transaction.
type CardService struct {
	st    CardStore
	cache BoardCache
	now   func() time.Time
}

func NewCardService(st CardStore, cache BoardCache) *CardService {
	if cache == nil {
		cache = NopCache{}
	}
	return &CardService{st: st, cache: cache, now: time.Now}
}

func (s *CardService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateCard appends a card to the end of its column.
func (s *CardService) CreateCard(ctx context.Context, userID string, in CardInput) (*Card, error) {
	title, err := requireTitle(in.Title, "title")
	if err != nil {
		return nil, err
	}
	if in.ColumnID == "" {
		return nil, Validation("Column ID is required", FieldError{Field: "columnId", Message: "Column ID is required"})
	}
	now := s.stamp()
	card := Card{
		ID:          uuid.NewString(),
		Title:       title,
		Content:     in.Content,
		CategoryTag: in.CategoryTag,
		Color:       in.Color,
		Status:      StatusTodo,
		DueDate:     utcPtr(in.DueDate),
		CreatedAt:   now,
	}
	err = atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindColumn, in.ColumnID})
		if err != nil {
			return err
		}
		ref := refs[0]
		cards, err := tx.LockCards(ctx, ref.ColumnID)
		if err != nil {
			return err
		}
		card.ColumnID = ref.ColumnID
		card.Order = nextCardOrder(cards)
		if err := tx.InsertCard(ctx, card); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return &card, nil
}

// UpdateCard applies patch and maintains CompletedAt on status changes.
func (s *CardService) UpdateCard(ctx context.Context, userID, cardID string, patch CardPatch) (*Card, error) {
	if patch.Title != nil {
		title, err := requireTitle(*patch.Title, "title")
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, Validation("Invalid status", FieldError{Field: "status", Message: "must be one of todo, doing, done"})
	}

	now := s.stamp()
	var updated Card
	err := atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindCard, cardID})
		if err != nil {
			return err
		}
		ref := refs[0]
		cards, err := tx.LockCards(ctx, ref.ColumnID)
		if err != nil {
			return err
		}
		i := indexOfCard(cards, ref.CardID)
		if i < 0 {
			return fmt.Errorf("card %s missing from column %s", ref.CardID, ref.ColumnID)
		}
		updated = cards[i]
		if patch.Title != nil {
			updated.Title = *patch.Title
		}
		patch.Content.applyTo(&updated.Content)
		patch.CategoryTag.applyTo(&updated.CategoryTag)
		patch.Color.applyTo(&updated.Color)
		patch.DueDate.applyTo(&updated.DueDate)
		updated.DueDate = utcPtr(updated.DueDate)
		if patch.Status != nil {
			updated.ApplyStatus(*patch.Status, now)
		}
		if err := tx.UpdateCard(ctx, updated); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return &updated, nil
}

// DeleteCard removes a card and closes the gap in its column.
func (s *CardService) DeleteCard(ctx context.Context, userID, cardID string) error {
	err := atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindCard, cardID})
		if err != nil {
			return err
		}
		ref := refs[0]
		cards, err := tx.LockCards(ctx, ref.ColumnID)
		if err != nil {
			return err
		}
		i := indexOfCard(cards, ref.CardID)
		if i < 0 {
			return fmt.Errorf("card %s missing from column %s", ref.CardID, ref.ColumnID)
		}
		if err := tx.DeleteCard(ctx, ref.CardID); err != nil {
			return err
		}
		if err := renumberCards(ctx, tx, ref.ColumnID, removeAt(cards, i)); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, s.stamp())
	})
	if err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return nil
}

// MoveCard relocates a card within its column or into another column and
// optionally changes its status. Every sibling affected is reindexed in the
// same transaction, so a failure leaves position and status unchanged.
// NewOrder is an insertion point clamped to the bounds of the target list.
func (s *CardService) MoveCard(ctx context.Context, userID string, req MoveRequest) (*Card, error) {
	if req.CardID == "" {
		return nil, Validation("Card ID is required", FieldError{Field: "cardId", Message: "Card ID is required"})
	}
	if req.TargetColumnID == "" {
		return nil, Validation("Target column ID is required", FieldError{Field: "targetColumnId", Message: "Target column ID is required"})
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, Validation("Invalid status", FieldError{Field: "status", Message: "must be one of todo, doing, done"})
	}

	now := s.stamp()
	var moved Card
	err := atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID,
			target{KindCard, req.CardID}, target{KindColumn, req.TargetColumnID})
		if err != nil {
			return err
		}
		src, dst := refs[0], refs[1]

		lists, err := lockCardLists(ctx, tx, src.ColumnID, dst.ColumnID)
		if err != nil {
			return err
		}
		source := lists[src.ColumnID]
		i := indexOfCard(source, src.CardID)
		if i < 0 {
			return fmt.Errorf("card %s missing from column %s", src.CardID, src.ColumnID)
		}
		moved = source[i]

		if src.ColumnID == dst.ColumnID {
			reordered := reposition(source, i, req.NewOrder)
			if err := renumberCards(ctx, tx, src.ColumnID, reordered); err != nil {
				return err
			}
			moved = reordered[indexOfCard(reordered, src.CardID)]
		} else {
			// moved still carries the source column id, so renumbering
			// always rewrites its row.
			target := insertAt(lists[dst.ColumnID], moved, req.NewOrder)
			if err := renumberCards(ctx, tx, dst.ColumnID, target); err != nil {
				return err
			}
			if err := renumberCards(ctx, tx, src.ColumnID, removeAt(source, i)); err != nil {
				return err
			}
			moved = target[indexOfCard(target, src.CardID)]
		}

		if req.Status != nil {
			moved.ApplyStatus(*req.Status, now)
			if err := tx.UpdateCard(ctx, moved); err != nil {
				return err
			}
		}

		if err := tx.TouchBoard(ctx, src.BoardID, now); err != nil {
			return err
		}
		if dst.BoardID != src.BoardID {
			return tx.TouchBoard(ctx, dst.BoardID, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("moving card: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return &moved, nil
}

// ListOverdue returns userID's unfinished cards whose due date has passed.
func (s *CardService) ListOverdue(ctx context.Context, userID string) ([]OverdueCard, error) {
	cards, err := s.st.OverdueCards(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("listing overdue cards: %w", err)
	}
	return cards, nil
}

// OverdueOwners returns the ids of users with at least one overdue card.
func (s *CardService) OverdueOwners(ctx context.Context) ([]string, error) {
	ids, err := s.st.UsersWithOverdueCards(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("listing overdue owners: %w", err)
	}
	return ids, nil
}

// lockCardLists reads the card lists of the given columns in column id order.
// The caller holds the lock of every board involved.
func lockCardLists(ctx context.Context, tx Tx, a, b string) (map[string][]Card, error) {
	ids := []string{a}
	if b != a {
		if b < a {
			ids = []string{b, a}
		} else {
			ids = []string{a, b}
		}
	}
	lists := make(map[string][]Card, len(ids))
	for _, id := range ids {
		cards, err := tx.LockCards(ctx, id)
		if err != nil {
			return nil, err
		}
		lists[id] = cards
	}
	return lists, nil
}

// renumberCards writes each card's index as its order within columnID,
// skipping rows already in place.
func renumberCards(ctx context.Context, tx Tx, columnID string, cards []Card) error {
	for i := range cards {
		if cards[i].Order == i && cards[i].ColumnID == columnID {
			continue
		}
		if err := tx.SetCardPosition(ctx, cards[i].ID, columnID, i); err != nil {
			return err
		}
		cards[i].Order = i
		cards[i].ColumnID = columnID
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}
