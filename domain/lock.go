package domain

import (
	"context"
	"errors"
	"slices"
)

// errRefMoved reports that an entity changed boards between its ownership
// lookup and the board lock. The transaction is rolled back and run again.
var errRefMoved = errors.New("entity moved to another board")

const lockAttempts = 3

// target names one entity a transaction writes under.
type target struct {
	kind Kind
	id   string
}

// lockOwned resolves each target, locks the boards they live on and resolves
// them again under those locks. Every writer to a board's column list, or to
// the card list of one of its columns, goes through here before reading the
// list, so the read sees every committed row, including rows added to a
// column that was empty. Refs returned stay valid until the transaction ends.
func lockOwned(ctx context.Context, tx Tx, userID string, targets ...target) ([]Ref, error) {
	refs := make([]Ref, len(targets))
	boards := make([]string, len(targets))
	for i, t := range targets {
		ref, err := resolveOwned(ctx, tx, userID, t.kind, t.id)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
		boards[i] = ref.BoardID
	}

	lockErr := lockBoards(ctx, tx, boards...)
	if lockErr != nil && !errors.Is(lockErr, ErrNotFound) {
		return nil, lockErr
	}
	for i, t := range targets {
		ref, err := resolveOwned(ctx, tx, userID, t.kind, t.id)
		if err != nil {
			return nil, err
		}
		if lockErr != nil || ref.BoardID != refs[i].BoardID {
			return nil, errRefMoved
		}
		refs[i] = ref
	}
	return refs, nil
}

// lockBoards locks board rows in id order, so two writers spanning the same
// boards never wait on each other in a cycle.
func lockBoards(ctx context.Context, tx Tx, ids ...string) error {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for _, id := range slices.Compact(sorted) {
		if err := tx.LockBoard(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// atomic runs fn in one transaction, running it again when a locked entity
// had moved to a board that was not locked.
func atomic(ctx context.Context, st Transactor, fn func(tx Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := st.Atomic(ctx, fn)
		if !errors.Is(err, errRefMoved) {
			return err
		}
		if attempt == lockAttempts {
			return Conflict("The item was changed by another request, please retry")
		}
	}
}
