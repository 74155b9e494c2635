package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BoardService manages boards and their columns for a single owner at a time.
type BoardService struct {
	st    BoardStore
	cache BoardCache
	seed  []string
	now   func() time.Time
}

// NewBoardService creates a service seeding new boards with seedColumns, or
// DefaultSeedColumns when none are given. A nil cache disables caching.
func NewBoardService(st BoardStore, cache BoardCache, seedColumns []string) *BoardService {
	if cache == nil {
		cache = NopCache{}
	}
	if len(seedColumns) == 0 {
		seedColumns = DefaultSeedColumns
	}
	return &BoardService{st: st, cache: cache, seed: seedColumns, now: time.Now}
}

func (s *BoardService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ListBoards returns every board of userID, most recently updated first.
func (s *BoardService) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	boards, gen, ok := s.cache.LoadBoards(ctx, userID)
	if ok {
		return boards, nil
	}
	boards, err := s.st.ListBoards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	s.cache.StoreBoards(ctx, userID, gen, boards)
	return boards, nil
}

// CreateBoard creates a board together with its seed columns.
func (s *BoardService) CreateBoard(ctx context.Context, userID, title string) (*Board, error) {
	title, err := requireTitle(title, "title")
	if err != nil {
		return nil, err
	}
	now := s.stamp()
	board := Board{
		ID:        uuid.NewString(),
		Title:     title,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Columns:   make([]Column, 0, len(s.seed)),
	}
	err = s.st.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertBoard(ctx, board); err != nil {
			return err
		}
		for i, t := range s.seed {
			col := Column{ID: uuid.NewString(), Title: t, BoardID: board.ID, Order: i, Cards: []Card{}}
			if err := tx.InsertColumn(ctx, col); err != nil {
				return err
			}
			board.Columns = append(board.Columns, col)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating board: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return &board, nil
}

func (s *BoardService) GetBoard(ctx context.Context, userID, boardID string) (*Board, error) {
	ref, err := resolveOwned(ctx, s.st, userID, KindBoard, boardID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ref.BoardID)
}

func (s *BoardService) UpdateBoard(ctx context.Context, userID, boardID, title string) (*Board, error) {
	title, err := requireTitle(title, "title")
	if err != nil {
		return nil, err
	}
	var ref Ref
	err = s.st.Atomic(ctx, func(tx Tx) error {
		ref, err = resolveOwned(ctx, tx, userID, KindBoard, boardID)
		if err != nil {
			return err
		}
		return tx.RenameBoard(ctx, ref.BoardID, title, s.stamp())
	})
	if err != nil {
		return nil, fmt.Errorf("updating board: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return s.load(ctx, ref.BoardID)
}

// DeleteBoard removes a board; columns and cards go with it.
func (s *BoardService) DeleteBoard(ctx context.Context, userID, boardID string) error {
	err := s.st.Atomic(ctx, func(tx Tx) error {
		ref, err := resolveOwned(ctx, tx, userID, KindBoard, boardID)
		if err != nil {
			return err
		}
		return tx.DeleteBoard(ctx, ref.BoardID)
	})
	if err != nil {
		return fmt.Errorf("deleting board: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return nil
}

// AddColumn appends a column after the board's last one.
func (s *BoardService) AddColumn(ctx context.Context, userID, boardID, title string) (*Column, error) {
	title, err := requireTitle(title, "title")
	if err != nil {
		return nil, err
	}
	col := Column{ID: uuid.NewString(), Title: title, Cards: []Card{}}
	err = atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindBoard, boardID})
		if err != nil {
			return err
		}
		ref := refs[0]
		cols, err := tx.LockColumns(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		col.BoardID = ref.BoardID
		col.Order = nextColumnOrder(cols)
		if err := tx.InsertColumn(ctx, col); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, s.stamp())
	})
	if err != nil {
		return nil, fmt.Errorf("adding column: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return &col, nil
}

func (s *BoardService) RenameColumn(ctx context.Context, userID, columnID, title string) (*Column, error) {
	title, err := requireTitle(title, "title")
	if err != nil {
		return nil, err
	}
	var ref Ref
	err = atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindColumn, columnID})
		if err != nil {
			return err
		}
		ref = refs[0]
		if err := tx.RenameColumn(ctx, ref.ColumnID, title); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, s.stamp())
	})
	if err != nil {
		return nil, fmt.Errorf("renaming column: %w", err)
	}
	s.cache.Evict(ctx, userID)
	col, err := s.st.LoadColumn(ctx, ref.ColumnID)
	if err != nil {
		return nil, fmt.Errorf("loading column %s: %w", ref.ColumnID, err)
	}
	return col, nil
}

// DeleteColumn removes a column and its cards and closes the gap it leaves.
func (s *BoardService) DeleteColumn(ctx context.Context, userID, columnID string) error {
	err := atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindColumn, columnID})
		if err != nil {
			return err
		}
		ref := refs[0]
		cols, err := tx.LockColumns(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		i := indexOfColumn(cols, ref.ColumnID)
		if i < 0 {
			return fmt.Errorf("column %s missing from board %s", ref.ColumnID, ref.BoardID)
		}
		if err := tx.DeleteColumn(ctx, ref.ColumnID); err != nil {
			return err
		}
		if err := renumberColumns(ctx, tx, removeAt(cols, i)); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, s.stamp())
	})
	if err != nil {
		return fmt.Errorf("deleting column: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return nil
}

// MoveColumn places a column at newOrder, clamped to the board's bounds, and
// returns the reordered board.
func (s *BoardService) MoveColumn(ctx context.Context, userID, columnID string, newOrder int) (*Board, error) {
	var ref Ref
	err := atomic(ctx, s.st, func(tx Tx) error {
		refs, err := lockOwned(ctx, tx, userID, target{KindColumn, columnID})
		if err != nil {
			return err
		}
		ref = refs[0]
		cols, err := tx.LockColumns(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		i := indexOfColumn(cols, ref.ColumnID)
		if i < 0 {
			return fmt.Errorf("column %s missing from board %s", ref.ColumnID, ref.BoardID)
		}
		if err := renumberColumns(ctx, tx, reposition(cols, i, newOrder)); err != nil {
			return err
		}
		return tx.TouchBoard(ctx, ref.BoardID, s.stamp())
	})
	if err != nil {
		return nil, fmt.Errorf("moving column: %w", err)
	}
	s.cache.Evict(ctx, userID)
	return s.load(ctx, ref.BoardID)
}

func (s *BoardService) load(ctx context.Context, boardID string) (*Board, error) {
	board, err := s.st.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("loading board %s: %w", boardID, err)
	}
	return board, nil
}

// renumberColumns writes each column's index as its order, skipping rows
// already in place.
func renumberColumns(ctx context.Context, tx Tx, cols []Column) error {
	for i := range cols {
		if cols[i].Order == i {
			continue
		}
		if err := tx.SetColumnOrder(ctx, cols[i].ID, i); err != nil {
			return err
		}
		cols[i].Order = i
	}
	return nil
}
