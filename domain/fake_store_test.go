package domain

import (
	"context"
	"sort"
	"strconv"
)

// fakeStore keeps everything in per-user maps and honors ETag guards the
// way the table store does, including injected conflicts for retry tests.
type fakeStore struct {
	profiles map[string]Profile
	boards   map[string]map[string]Board
	columns  map[string]map[string]Column
	cards    map[string]map[string]Card

	// conflicts makes the next N guarded batch applies fail.
	conflicts int
	etagSeq   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: map[string]Profile{},
		boards:   map[string]map[string]Board{},
		columns:  map[string]map[string]Column{},
		cards:    map[string]map[string]Card{},
	}
}

func (f *fakeStore) nextETag() string {
	f.etagSeq++
	return "W/\"" + strconv.Itoa(f.etagSeq) + "\""
}

func (f *fakeStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) UpsertProfile(ctx context.Context, p Profile) error {
	f.profiles[p.ID] = p
	return nil
}

func (f *fakeStore) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	out := []Board{}
	for _, b := range f.boards[userID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetBoard(ctx context.Context, userID, boardID string) (*Board, error) {
	b, ok := f.boards[userID][boardID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) InsertBoard(ctx context.Context, userID string, b Board) error {
	if f.boards[userID] == nil {
		f.boards[userID] = map[string]Board{}
	}
	f.boards[userID][b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, userID, boardID string) error {
	delete(f.boards[userID], boardID)
	return nil
}

func (f *fakeStore) ListColumns(ctx context.Context, userID, boardID string) ([]Column, error) {
	out := []Column{}
	for _, c := range f.columns[userID] {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStore) GetColumn(ctx context.Context, userID, columnID string) (*Column, error) {
	c, ok := f.columns[userID][columnID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) InsertColumn(ctx context.Context, userID string, col Column) error {
	if f.columns[userID] == nil {
		f.columns[userID] = map[string]Column{}
	}
	col.ETag = f.nextETag()
	f.columns[userID][col.ID] = col
	return nil
}

func (f *fakeStore) ApplyColumnMove(ctx context.Context, userID string, plan ColumnMovePlan) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConcurrencyConflict
	}
	cols := f.columns[userID]
	moved, ok := cols[plan.ColumnID]
	if !ok || moved.ETag != plan.ColumnETag {
		return ErrConcurrencyConflict
	}
	for _, shift := range plan.Shifts {
		cur, ok := cols[shift.ID]
		if !ok || cur.ETag != shift.ETag {
			return ErrConcurrencyConflict
		}
	}
	moved.Position = plan.Position
	moved.ETag = f.nextETag()
	cols[plan.ColumnID] = moved
	for _, shift := range plan.Shifts {
		cur := cols[shift.ID]
		cur.Position = shift.Position
		cur.ETag = f.nextETag()
		cols[shift.ID] = cur
	}
	return nil
}

func (f *fakeStore) DeleteColumn(ctx context.Context, userID, columnID string, shifts []PositionChange) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConcurrencyConflict
	}
	cols := f.columns[userID]
	for _, shift := range shifts {
		cur, ok := cols[shift.ID]
		if !ok || cur.ETag != shift.ETag {
			return ErrConcurrencyConflict
		}
	}
	delete(cols, columnID)
	for _, shift := range shifts {
		cur := cols[shift.ID]
		cur.Position = shift.Position
		cur.ETag = f.nextETag()
		cols[shift.ID] = cur
	}
	return nil
}

func (f *fakeStore) DeleteColumns(ctx context.Context, userID string, columnIDs []string) error {
	for _, id := range columnIDs {
		delete(f.columns[userID], id)
	}
	return nil
}

func (f *fakeStore) ListCards(ctx context.Context, userID string) ([]Card, error) {
	out := []Card{}
	for _, c := range f.cards[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListColumnCards(ctx context.Context, userID, columnID string) ([]Card, error) {
	out := []Card{}
	for _, c := range f.cards[userID] {
		if c.ColumnID == columnID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStore) GetCard(ctx context.Context, userID, cardID string) (*Card, error) {
	c, ok := f.cards[userID][cardID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) InsertCard(ctx context.Context, userID string, card Card) error {
	if f.cards[userID] == nil {
		f.cards[userID] = map[string]Card{}
	}
	card.ETag = f.nextETag()
	f.cards[userID][card.ID] = card
	return nil
}

func (f *fakeStore) UpdateCard(ctx context.Context, userID string, card Card) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConcurrencyConflict
	}
	cur, ok := f.cards[userID][card.ID]
	if !ok || cur.ETag != card.ETag {
		return ErrConcurrencyConflict
	}
	card.ETag = f.nextETag()
	f.cards[userID][card.ID] = card
	return nil
}

func (f *fakeStore) ApplyCardMove(ctx context.Context, userID string, plan CardMovePlan) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConcurrencyConflict
	}
	cards := f.cards[userID]
	moved, ok := cards[plan.CardID]
	if !ok || moved.ETag != plan.CardETag {
		return ErrConcurrencyConflict
	}
	for _, shift := range plan.Shifts {
		cur, ok := cards[shift.ID]
		if !ok || cur.ETag != shift.ETag {
			return ErrConcurrencyConflict
		}
	}
	moved.ColumnID = plan.ColumnID
	moved.Position = plan.Position
	moved.ETag = f.nextETag()
	cards[plan.CardID] = moved
	for _, shift := range plan.Shifts {
		cur := cards[shift.ID]
		cur.Position = shift.Position
		cur.ETag = f.nextETag()
		cards[shift.ID] = cur
	}
	return nil
}

func (f *fakeStore) DeleteCard(ctx context.Context, userID, cardID string, shifts []PositionChange) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConcurrencyConflict
	}
	cards := f.cards[userID]
	for _, shift := range shifts {
		cur, ok := cards[shift.ID]
		if !ok || cur.ETag != shift.ETag {
			return ErrConcurrencyConflict
		}
	}
	delete(cards, cardID)
	for _, shift := range shifts {
		cur := cards[shift.ID]
		cur.Position = shift.Position
		cur.ETag = f.nextETag()
		cards[shift.ID] = cur
	}
	return nil
}

func (f *fakeStore) DeleteCards(ctx context.Context, userID string, cardIDs []string) error {
	for _, id := range cardIDs {
		delete(f.cards[userID], id)
	}
	return nil
}
