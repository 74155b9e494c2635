package domain_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"kanban-api/domain"
	"kanban-api/storage"
)

// tracingStore records the Tx calls made inside each transaction.
type tracingStore struct {
	*storage.Storage

	mu       sync.Mutex
	calls    []string
	attempts int
	// relocate, when set, makes the next resolve after a board lock report
	// the card on another board, as if a concurrent move had committed while
	// this transaction waited for the lock.
	relocate string
}

func (s *tracingStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return s.Storage.Atomic(ctx, func(tx domain.Tx) error {
		return fn(&tracingTx{Tx: tx, st: s})
	})
}

func (s *tracingStore) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *tracingStore) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	s.attempts = 0
	return out
}

type tracingTx struct {
	domain.Tx
	st     *tracingStore
	locked bool
}

func (t *tracingTx) Resolve(ctx context.Context, userID string, kind domain.Kind, id string) (domain.Ref, error) {
	ref, err := t.Tx.Resolve(ctx, userID, kind, id)
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	if err == nil && t.locked && kind == domain.KindCard && id == t.st.relocate {
		t.st.relocate = ""
		ref.BoardID = "some-other-board"
	}
	return ref, err
}

func (t *tracingTx) LockBoard(ctx context.Context, id string) error {
	t.st.record("lockBoard " + id)
	t.locked = true
	return t.Tx.LockBoard(ctx, id)
}

func (t *tracingTx) LockColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	t.st.record("read columns")
	return t.Tx.LockColumns(ctx, boardID)
}

func (t *tracingTx) LockCards(ctx context.Context, columnID string) ([]domain.Card, error) {
	t.st.record("read cards")
	return t.Tx.LockCards(ctx, columnID)
}

func (t *tracingTx) InsertColumn(ctx context.Context, c domain.Column) error {
	t.st.record("write")
	return t.Tx.InsertColumn(ctx, c)
}

func (t *tracingTx) RenameColumn(ctx context.Context, id, title string) error {
	t.st.record("write")
	return t.Tx.RenameColumn(ctx, id, title)
}

func (t *tracingTx) SetColumnOrder(ctx context.Context, id string, order int) error {
	t.st.record("write")
	return t.Tx.SetColumnOrder(ctx, id, order)
}

func (t *tracingTx) DeleteColumn(ctx context.Context, id string) error {
	t.st.record("write")
	return t.Tx.DeleteColumn(ctx, id)
}

func (t *tracingTx) InsertCard(ctx context.Context, c domain.Card) error {
	t.st.record("write")
	return t.Tx.InsertCard(ctx, c)
}

func (t *tracingTx) UpdateCard(ctx context.Context, c domain.Card) error {
	t.st.record("write")
	return t.Tx.UpdateCard(ctx, c)
}

func (t *tracingTx) SetCardPosition(ctx context.Context, id, columnID string, order int) error {
	t.st.record("write")
	return t.Tx.SetCardPosition(ctx, id, columnID, order)
}

func (t *tracingTx) DeleteCard(ctx context.Context, id string) error {
	t.st.record("write")
	return t.Tx.DeleteCard(ctx, id)
}

func (t *tracingTx) TouchBoard(ctx context.Context, id string, now time.Time) error {
	t.st.record("write")
	return t.Tx.TouchBoard(ctx, id, now)
}

func newTracedEnv(t *testing.T) (*env, *tracingStore) {
	t.Helper()
	e := newEnv(t)
	ts := &tracingStore{Storage: e.store}
	e.boards = domain.NewBoardService(ts, e.cache, nil)
	e.cards = domain.NewCardService(ts, e.cache)
	return e, ts
}

// boardLocksFirst checks that calls start with one lock per board in id order
// and that no list is read or row written before them.
func boardLocksFirst(t *testing.T, op string, calls []string, boards ...string) {
	t.Helper()
	want := slices.Clone(boards)
	slices.Sort(want)
	want = slices.Compact(want)
	if len(calls) < len(want) {
		t.Fatalf("%s: calls %v", op, calls)
	}
	for i, id := range want {
		if calls[i] != "lockBoard "+id {
			t.Fatalf("%s: call %d is %q, want board locks %v first; calls %v", op, i, calls[i], want, calls)
		}
	}
	for _, c := range calls[len(want):] {
		if strings.HasPrefix(c, "lockBoard") {
			t.Fatalf("%s: extra board lock after reads began: %v", op, calls)
		}
	}
}

func TestListWritersLockTheirBoardFirst(t *testing.T) {
	e, ts := newTracedEnv(t)
	ctx := context.Background()
	userID := e.user(t, "locks@example.com")
	b1 := e.board(t, userID)
	b2 := e.board(t, userID)
	a, emptyCol := b1.Columns[0].ID, b1.Columns[1].ID
	c1 := e.card(t, userID, a, "one")
	c2 := e.card(t, userID, a, "two")

	steps := []struct {
		name   string
		boards []string
		run    func() error
	}{
		{"createCard", []string{b1.ID}, func() error {
			_, err := e.cards.CreateCard(ctx, userID, domain.CardInput{ColumnID: emptyCol, Title: "three"})
			return err
		}},
		{"updateCard", []string{b1.ID}, func() error {
			title := "renamed"
			_, err := e.cards.UpdateCard(ctx, userID, c1.ID, domain.CardPatch{Title: &title})
			return err
		}},
		{"moveWithinColumn", []string{b1.ID}, func() error {
			_, err := e.cards.MoveCard(ctx, userID, domain.MoveRequest{CardID: c2.ID, TargetColumnID: a, NewOrder: 0})
			return err
		}},
		{"moveAcrossBoards", []string{b1.ID, b2.ID}, func() error {
			_, err := e.cards.MoveCard(ctx, userID, domain.MoveRequest{CardID: c1.ID, TargetColumnID: b2.Columns[2].ID})
			return err
		}},
		{"deleteCard", []string{b1.ID}, func() error { return e.cards.DeleteCard(ctx, userID, c2.ID) }},
		{"addColumn", []string{b1.ID}, func() error {
			_, err := e.boards.AddColumn(ctx, userID, b1.ID, "Later")
			return err
		}},
		{"renameColumn", []string{b1.ID}, func() error {
			_, err := e.boards.RenameColumn(ctx, userID, a, "Backlog")
			return err
		}},
		{"moveColumn", []string{b1.ID}, func() error {
			_, err := e.boards.MoveColumn(ctx, userID, a, 2)
			return err
		}},
		{"deleteColumn", []string{b1.ID}, func() error { return e.boards.DeleteColumn(ctx, userID, emptyCol) }},
	}
	for _, step := range steps {
		ts.reset()
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		boardLocksFirst(t, step.name, ts.reset(), step.boards...)
	}
}

func TestConcurrentMovesIntoEmptyColumnStayDense(t *testing.T) {
	e, _ := newTracedEnv(t)
	ctx := context.Background()
	userID := e.user(t, "race@example.com")
	b := e.board(t, userID)
	src, other, empty := b.Columns[0].ID, b.Columns[2].ID, b.Columns[1].ID
	c1 := e.card(t, userID, src, "from A")
	c2 := e.card(t, userID, other, "from C")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{c1.ID, c2.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.cards.MoveCard(ctx, userID, domain.MoveRequest{CardID: id, TargetColumnID: empty, NewOrder: 0})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("move: %v", err)
		}
	}

	got := e.layout(t, userID, b.ID)
	if len(got[1]) != 2 || len(got[0]) != 0 || len(got[2]) != 0 {
		t.Fatalf("unexpected layout %v", got)
	}
}

func TestMoveRetriesWhenCardChangedBoardsBeforeLock(t *testing.T) {
	e, ts := newTracedEnv(t)
	ctx := context.Background()
	userID := e.user(t, "retry@example.com")
	b := e.board(t, userID)
	c := e.card(t, userID, b.Columns[0].ID, "wanderer")

	ts.reset()
	ts.mu.Lock()
	ts.relocate = c.ID
	ts.mu.Unlock()
	moved, err := e.cards.MoveCard(ctx, userID, domain.MoveRequest{CardID: c.ID, TargetColumnID: b.Columns[1].ID})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	ts.mu.Lock()
	attempts := ts.attempts
	ts.mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected a second transaction after the stale lookup, got %d", attempts)
	}
	if moved.ColumnID != b.Columns[1].ID || moved.Order != 0 {
		t.Fatalf("unexpected move result %+v", moved)
	}
}

func TestWriterOnDeletedBoardGetsNotFound(t *testing.T) {
	e, _ := newTracedEnv(t)
	ctx := context.Background()
	userID := e.user(t, "gone@example.com")
	b := e.board(t, userID)
	if err := e.boards.DeleteBoard(ctx, userID, b.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if _, err := e.boards.AddColumn(ctx, userID, b.ID, "x"); !isKind(err, domain.ErrNotFound) {
		t.Fatalf("add column to deleted board = %v", err)
	}
}

type overdueOnly struct {
	domain.Transactor
	domain.Resolver
	owners []string
}

func (o overdueOnly) OverdueCards(context.Context, string, time.Time) ([]domain.OverdueCard, error) {
	return nil, nil
}

func (o overdueOnly) UsersWithOverdueCards(context.Context, time.Time) ([]string, error) {
	return o.owners, nil
}

func TestCardServiceRunsOnItsPortAlone(t *testing.T) {
	svc := domain.NewCardService(overdueOnly{owners: []string{"u1"}}, nil)
	got, err := svc.OverdueOwners(context.Background())
	if err != nil || len(got) != 1 || got[0] != "u1" {
		t.Fatalf("owners = %v, %v", got, err)
	}
}

// generationCache hands out a fixed generation and records what is stored.
type generationCache struct {
	gen    int64
	stored []int64
}

func (c *generationCache) LoadBoards(context.Context, string) ([]domain.Board, int64, bool) {
	return nil, c.gen, false
}

func (c *generationCache) StoreBoards(_ context.Context, _ string, gen int64, _ []domain.Board) {
	c.stored = append(c.stored, gen)
}

func (c *generationCache) Evict(context.Context, string) {}

func TestListBoardsStoresUnderGenerationReadBeforeQuery(t *testing.T) {
	e := newEnv(t)
	userID := e.user(t, "gen@example.com")
	cache := &generationCache{gen: 7}
	boards := domain.NewBoardService(e.store, cache, nil)

	if _, err := boards.ListBoards(context.Background(), userID); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cache.stored) != 1 || cache.stored[0] != 7 {
		t.Fatalf("stored under %v, want [7]", cache.stored)
	}
}
