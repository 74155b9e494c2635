package domain

// clampIndex bounds an insertion point to [0, n].
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func insertAt[T any](items []T, item T, at int) []T {
	at = clampIndex(at, len(items))
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, item)
	return append(out, items[at:]...)
}

func removeAt[T any](items []T, i int) []T {
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

// reposition moves items[from] so that it ends up at index to, clamped to the
// bounds of the list.
func reposition[T any](items []T, from, to int) []T {
	return insertAt(removeAt(items, from), items[from], to)
}

func indexOfCard(cards []Card, id string) int {
	for i := range cards {
		if cards[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfColumn(cols []Column, id string) int {
	for i := range cols {
		if cols[i].ID == id {
			return i
		}
	}
	return -1
}

// nextCardOrder is max(order)+1, or 0 for an empty column.
func nextCardOrder(cards []Card) int {
	next := 0
	for _, c := range cards {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}

func nextColumnOrder(cols []Column) int {
	next := 0
	for _, c := range cols {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}
