package domain

import "sort"

// PositionChange assigns a new position to a single sibling row.
type PositionChange struct {
	ID       string
	Position int
	ETag     string
}

// CardMovePlan is the complete set of position writes for one card move.
// All writes must be applied as a single atomic unit.
type CardMovePlan struct {
	NoOp     bool
	CardID   string
	CardETag string
	// ColumnID and Position are the moved card's destination.
	ColumnID string
	Position int
	Shifts   []PositionChange
}

// ColumnMovePlan is the column counterpart of CardMovePlan, scoped to the
// columns of one board.
type ColumnMovePlan struct {
	NoOp       bool
	ColumnID   string
	ColumnETag string
	Position   int
	Shifts     []PositionChange
}

// PlanCardMove computes the shifts that keep positions dense and zero-based
// when card moves to destIndex in the column holding dest. source holds the
// card's current siblings (including the card itself); when the move stays
// within one column, dest must be the same slice. destIndex is clamped, not
// rejected, so stale client indices still land at the nearest valid slot.
func PlanCardMove(card Card, source, dest []Card, destColumnID string, destIndex int) CardMovePlan {
	plan := CardMovePlan{
		CardID:   card.ID,
		CardETag: card.ETag,
		ColumnID: destColumnID,
	}

	if card.ColumnID == destColumnID {
		destIndex = clamp(destIndex, len(source)-1)
		plan.Position = destIndex
		if destIndex == card.Position {
			plan.NoOp = true
			return plan
		}
		for _, sibling := range sortedCards(source) {
			if sibling.ID == card.ID {
				continue
			}
			switch {
			case destIndex > card.Position && sibling.Position > card.Position && sibling.Position <= destIndex:
				plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position - 1, ETag: sibling.ETag})
			case destIndex < card.Position && sibling.Position >= destIndex && sibling.Position < card.Position:
				plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position + 1, ETag: sibling.ETag})
			}
		}
		return plan
	}

	destIndex = clamp(destIndex, len(dest))
	plan.Position = destIndex
	for _, sibling := range sortedCards(source) {
		if sibling.ID == card.ID {
			continue
		}
		if sibling.Position > card.Position {
			plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position - 1, ETag: sibling.ETag})
		}
	}
	for _, sibling := range sortedCards(dest) {
		if sibling.Position >= destIndex {
			plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position + 1, ETag: sibling.ETag})
		}
	}
	return plan
}

// PlanColumnMove computes the shifts for reordering col to destIndex among
// siblings, the columns of one board including col itself.
func PlanColumnMove(col Column, siblings []Column, destIndex int) ColumnMovePlan {
	destIndex = clamp(destIndex, len(siblings)-1)
	plan := ColumnMovePlan{
		ColumnID:   col.ID,
		ColumnETag: col.ETag,
		Position:   destIndex,
	}
	if destIndex == col.Position {
		plan.NoOp = true
		return plan
	}
	for _, sibling := range siblings {
		if sibling.ID == col.ID {
			continue
		}
		switch {
		case destIndex > col.Position && sibling.Position > col.Position && sibling.Position <= destIndex:
			plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position - 1, ETag: sibling.ETag})
		case destIndex < col.Position && sibling.Position >= destIndex && sibling.Position < col.Position:
			plan.Shifts = append(plan.Shifts, PositionChange{ID: sibling.ID, Position: sibling.Position + 1, ETag: sibling.ETag})
		}
	}
	return plan
}

// CloseCardGap shifts every sibling after the removed card down by one.
func CloseCardGap(siblings []Card, removed Card) []PositionChange {
	var shifts []PositionChange
	for _, sibling := range siblings {
		if sibling.ID == removed.ID {
			continue
		}
		if sibling.Position > removed.Position {
			shifts = append(shifts, PositionChange{ID: sibling.ID, Position: sibling.Position - 1, ETag: sibling.ETag})
		}
	}
	return shifts
}

// CloseColumnGap shifts every sibling after the removed column down by one.
func CloseColumnGap(siblings []Column, removed Column) []PositionChange {
	var shifts []PositionChange
	for _, sibling := range siblings {
		if sibling.ID == removed.ID {
			continue
		}
		if sibling.Position > removed.Position {
			shifts = append(shifts, PositionChange{ID: sibling.ID, Position: sibling.Position - 1, ETag: sibling.ETag})
		}
	}
	return shifts
}

func clamp(index, max int) int {
	if index < 0 {
		return 0
	}
	if max < 0 {
		return 0
	}
	if index > max {
		return max
	}
	return index
}

func sortedCards(cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
