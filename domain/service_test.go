package domain

import (
	"context"
	"errors"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
)

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	st := newFakeStore()
	return NewService(st, logger), st
}

func seedBoard(t *testing.T, svc *Service, userID string) *Board {
	t.Helper()
	board, err := svc.CreateBoard(context.Background(), userID, "Deals", "")
	if err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	return board
}

func seedColumn(t *testing.T, svc *Service, userID, boardID, title string) *Column {
	t.Helper()
	col, err := svc.CreateColumn(context.Background(), userID, boardID, title, "")
	if err != nil {
		t.Fatalf("CreateColumn(%s): %v", title, err)
	}
	return col
}

func seedCard(t *testing.T, svc *Service, userID, columnID, title string, value float64) *Card {
	t.Helper()
	card, err := svc.CreateCard(context.Background(), Principal{ID: userID}, CardInput{Title: title, ColumnID: columnID, EstimatedValue: value})
	if err != nil {
		t.Fatalf("CreateCard(%s): %v", title, err)
	}
	return card
}

func TestEnsureProfileIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := Principal{ID: "user1", Email: "a@b.c", Name: "Alice"}

	first, err := svc.EnsureProfile(ctx, p)
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	second, err := svc.EnsureProfile(ctx, Principal{ID: "user1", Email: "changed@b.c"})
	if err != nil {
		t.Fatalf("EnsureProfile second call: %v", err)
	}
	if second.Email != first.Email {
		t.Fatalf("second EnsureProfile rewrote email to %q", second.Email)
	}
}

func TestEnsureDefaultBoard(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	board, created, err := svc.EnsureDefaultBoard(ctx, "user1")
	if err != nil {
		t.Fatalf("EnsureDefaultBoard: %v", err)
	}
	if !created {
		t.Fatal("first call must create a board")
	}
	if board.Title != "Sales Pipeline" {
		t.Fatalf("board title = %q", board.Title)
	}
	columns, err := svc.ListColumns(ctx, "user1", board.ID)
	if err != nil {
		t.Fatalf("ListColumns: %v", err)
	}
	if len(columns) != 4 {
		t.Fatalf("seeded %d columns, want 4", len(columns))
	}
	wantTitles := []string{"Prospects", "Contact Made", "Proposal Sent", "Closed Won"}
	for i, col := range columns {
		if col.Title != wantTitles[i] || col.Position != i {
			t.Fatalf("column %d = %q at %d, want %q at %d", i, col.Title, col.Position, wantTitles[i], i)
		}
	}

	again, created, err := svc.EnsureDefaultBoard(ctx, "user1")
	if err != nil {
		t.Fatalf("second EnsureDefaultBoard: %v", err)
	}
	if created {
		t.Fatal("second call must not create another board")
	}
	if again.ID != board.ID {
		t.Fatalf("second call returned board %s, want %s", again.ID, board.ID)
	}
}

func TestCreateBoardValidation(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.CreateBoard(context.Background(), "user1", "   ", ""); err == nil {
		t.Fatal("blank title must be rejected")
	} else {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("error type %T, want ValidationError", err)
		}
	}
}

func TestCreateCardValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")

	tests := []struct {
		name string
		in   CardInput
	}{
		{name: "blank title", in: CardInput{Title: " ", ColumnID: col.ID}},
		{name: "negative value", in: CardInput{Title: "Deal", ColumnID: col.ID, EstimatedValue: -5}},
		{name: "bad priority", in: CardInput{Title: "Deal", ColumnID: col.ID, Priority: "urgent"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateCard(ctx, Principal{ID: "user1"}, tc.in); err == nil {
				t.Fatal("want validation error")
			}
		})
	}

	card, err := svc.CreateCard(ctx, Principal{ID: "user1"}, CardInput{Title: "Deal", ColumnID: col.ID})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if card.Priority != PriorityMedium {
		t.Fatalf("default priority = %q, want %q", card.Priority, PriorityMedium)
	}
	if card.Tags == nil {
		t.Fatal("tags must default to an empty slice")
	}
}

func TestOwnershipIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "alice")
	col := seedColumn(t, svc, "alice", board.ID, "Prospects")
	card := seedCard(t, svc, "alice", col.ID, "Deal", 100)

	if err := svc.DeleteBoard(ctx, "bob", board.ID); !IsNotFound(err) {
		t.Fatalf("foreign board delete = %v, want not found", err)
	}
	if _, err := svc.ListColumns(ctx, "bob", board.ID); !IsNotFound(err) {
		t.Fatalf("foreign board list = %v, want not found", err)
	}
	if _, err := svc.UpdateCard(ctx, "bob", card.ID, CardPatch{}); !IsNotFound(err) {
		t.Fatalf("foreign card update = %v, want not found", err)
	}
	if _, err := svc.MoveCard(ctx, "bob", card.ID, col.ID, 0); !IsNotFound(err) {
		t.Fatalf("foreign card move = %v, want not found", err)
	}
	if _, err := svc.CreateCard(ctx, Principal{ID: "bob"}, CardInput{Title: "Steal", ColumnID: col.ID}); !IsNotFound(err) {
		t.Fatalf("card into foreign column = %v, want not found", err)
	}

	cards, err := svc.ListCards(ctx, "bob", "")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("bob sees %d of alice's cards", len(cards))
	}
}

func TestMoveCardWithinColumn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")
	a := seedCard(t, svc, "user1", col.ID, "a", 0)
	seedCard(t, svc, "user1", col.ID, "b", 0)
	seedCard(t, svc, "user1", col.ID, "c", 0)

	moved, err := svc.MoveCard(ctx, "user1", a.ID, col.ID, 2)
	if err != nil {
		t.Fatalf("MoveCard: %v", err)
	}
	if moved.Position != 2 {
		t.Fatalf("moved position = %d, want 2", moved.Position)
	}
	cards, err := svc.ListCards(ctx, "user1", col.ID)
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	wantOrder := []string{"b", "c", "a"}
	for i, card := range cards {
		if card.Title != wantOrder[i] || card.Position != i {
			t.Fatalf("slot %d = %q at %d, want %q", i, card.Title, card.Position, wantOrder[i])
		}
	}
}

func TestMoveCardAcrossColumns(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	src := seedColumn(t, svc, "user1", board.ID, "Prospects")
	dst := seedColumn(t, svc, "user1", board.ID, "Closed Won")
	a := seedCard(t, svc, "user1", src.ID, "a", 0)
	seedCard(t, svc, "user1", src.ID, "b", 0)
	seedCard(t, svc, "user1", dst.ID, "x", 0)
	seedCard(t, svc, "user1", dst.ID, "y", 0)

	moved, err := svc.MoveCard(ctx, "user1", a.ID, dst.ID, 1)
	if err != nil {
		t.Fatalf("MoveCard: %v", err)
	}
	if moved.ColumnID != dst.ID || moved.Position != 1 {
		t.Fatalf("moved to %s/%d, want %s/1", moved.ColumnID, moved.Position, dst.ID)
	}

	srcCards, _ := svc.ListCards(ctx, "user1", src.ID)
	if len(srcCards) != 1 || srcCards[0].Title != "b" || srcCards[0].Position != 0 {
		t.Fatalf("source column after move = %+v", srcCards)
	}
	dstCards, _ := svc.ListCards(ctx, "user1", dst.ID)
	wantOrder := []string{"x", "a", "y"}
	if len(dstCards) != 3 {
		t.Fatalf("destination has %d cards, want 3", len(dstCards))
	}
	for i, card := range dstCards {
		if card.Title != wantOrder[i] || card.Position != i {
			t.Fatalf("slot %d = %q at %d, want %q", i, card.Title, card.Position, wantOrder[i])
		}
	}
}

func TestMoveCardRetriesOnConflict(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")
	a := seedCard(t, svc, "user1", col.ID, "a", 0)
	seedCard(t, svc, "user1", col.ID, "b", 0)

	st.conflicts = 2
	moved, err := svc.MoveCard(ctx, "user1", a.ID, col.ID, 1)
	if err != nil {
		t.Fatalf("MoveCard after conflicts: %v", err)
	}
	if moved.Position != 1 {
		t.Fatalf("moved position = %d, want 1", moved.Position)
	}

	st.conflicts = moveAttempts
	if _, err := svc.MoveCard(ctx, "user1", a.ID, col.ID, 0); !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("exhausted move = %v, want ErrConcurrencyConflict", err)
	}
}

func TestMoveColumn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	p := seedColumn(t, svc, "user1", board.ID, "p")
	seedColumn(t, svc, "user1", board.ID, "q")
	seedColumn(t, svc, "user1", board.ID, "r")

	moved, err := svc.MoveColumn(ctx, "user1", p.ID, 2)
	if err != nil {
		t.Fatalf("MoveColumn: %v", err)
	}
	if moved.Position != 2 {
		t.Fatalf("moved position = %d, want 2", moved.Position)
	}
	columns, _ := svc.ListColumns(ctx, "user1", board.ID)
	wantOrder := []string{"q", "r", "p"}
	for i, col := range columns {
		if col.Title != wantOrder[i] || col.Position != i {
			t.Fatalf("slot %d = %q at %d, want %q", i, col.Title, col.Position, wantOrder[i])
		}
	}
}

func TestDeleteCardClosesGap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")
	seedCard(t, svc, "user1", col.ID, "a", 0)
	b := seedCard(t, svc, "user1", col.ID, "b", 0)
	seedCard(t, svc, "user1", col.ID, "c", 0)

	if err := svc.DeleteCard(ctx, "user1", b.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	cards, _ := svc.ListCards(ctx, "user1", col.ID)
	wantOrder := []string{"a", "c"}
	if len(cards) != 2 {
		t.Fatalf("column has %d cards, want 2", len(cards))
	}
	for i, card := range cards {
		if card.Title != wantOrder[i] || card.Position != i {
			t.Fatalf("slot %d = %q at %d, want %q at %d", i, card.Title, card.Position, wantOrder[i], i)
		}
	}
}

func TestDeleteColumnCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	first := seedColumn(t, svc, "user1", board.ID, "first")
	second := seedColumn(t, svc, "user1", board.ID, "second")
	seedCard(t, svc, "user1", first.ID, "a", 0)
	seedCard(t, svc, "user1", first.ID, "b", 0)
	keep := seedCard(t, svc, "user1", second.ID, "c", 0)

	if err := svc.DeleteColumn(ctx, "user1", first.ID); err != nil {
		t.Fatalf("DeleteColumn: %v", err)
	}
	columns, _ := svc.ListColumns(ctx, "user1", board.ID)
	if len(columns) != 1 || columns[0].ID != second.ID || columns[0].Position != 0 {
		t.Fatalf("columns after delete = %+v", columns)
	}
	cards, _ := svc.ListCards(ctx, "user1", "")
	if len(cards) != 1 || cards[0].ID != keep.ID {
		t.Fatalf("cards after delete = %+v", cards)
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")
	seedCard(t, svc, "user1", col.ID, "a", 0)

	other := seedBoard(t, svc, "user1")
	otherCol := seedColumn(t, svc, "user1", other.ID, "Keep")
	kept := seedCard(t, svc, "user1", otherCol.ID, "kept", 0)

	if err := svc.DeleteBoard(ctx, "user1", board.ID); err != nil {
		t.Fatalf("DeleteBoard: %v", err)
	}
	if len(st.boards["user1"]) != 1 {
		t.Fatalf("boards left = %d, want 1", len(st.boards["user1"]))
	}
	if len(st.columns["user1"]) != 1 {
		t.Fatalf("columns left = %d, want 1", len(st.columns["user1"]))
	}
	if _, ok := st.cards["user1"][kept.ID]; !ok || len(st.cards["user1"]) != 1 {
		t.Fatalf("cards left = %+v, want only %s", st.cards["user1"], kept.ID)
	}
}

func TestUpdateCardMergesPatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	col := seedColumn(t, svc, "user1", board.ID, "Prospects")
	card := seedCard(t, svc, "user1", col.ID, "Deal", 100)

	title := "Bigger deal"
	value := 250.0
	updated, err := svc.UpdateCard(ctx, "user1", card.ID, CardPatch{Title: &title, EstimatedValue: &value})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if updated.Title != title || updated.EstimatedValue != value {
		t.Fatalf("updated card = %q/%v", updated.Title, updated.EstimatedValue)
	}
	if updated.Position != card.Position || updated.ColumnID != card.ColumnID {
		t.Fatal("update must not touch position or column")
	}

	bad := "urgent"
	if _, err := svc.UpdateCard(ctx, "user1", card.ID, CardPatch{Priority: &bad}); err == nil {
		t.Fatal("invalid priority must be rejected")
	}
}

func TestPipelineSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	board := seedBoard(t, svc, "user1")
	prospects := seedColumn(t, svc, "user1", board.ID, "Prospects")
	contact := seedColumn(t, svc, "user1", board.ID, "Contact Made")
	won := seedColumn(t, svc, "user1", board.ID, "Closed Won")
	seedCard(t, svc, "user1", prospects.ID, "a", 100)
	seedCard(t, svc, "user1", prospects.ID, "b", 0)
	seedCard(t, svc, "user1", prospects.ID, "c", 50)
	seedCard(t, svc, "user1", won.ID, "d", 25)

	summary, err := svc.PipelineSummary(ctx, "user1")
	if err != nil {
		t.Fatalf("PipelineSummary: %v", err)
	}
	if summary.TotalCards != 4 {
		t.Fatalf("TotalCards = %d, want 4", summary.TotalCards)
	}
	if summary.TotalPipelineValue != 175 {
		t.Fatalf("TotalPipelineValue = %v, want 175", summary.TotalPipelineValue)
	}
	if got := summary.ColumnStats[prospects.ID]; got.Count != 3 || got.TotalValue != 150 {
		t.Fatalf("prospects stats = %+v", got)
	}
	if got := summary.ColumnStats[contact.ID]; got.Count != 0 || got.TotalValue != 0 {
		t.Fatalf("empty column stats = %+v", got)
	}
	if got := summary.ColumnStats[won.ID]; got.Count != 1 || got.TotalValue != 25 {
		t.Fatalf("won stats = %+v", got)
	}
	if len(summary.Columns) != 3 {
		t.Fatalf("summary carries %d columns, want 3", len(summary.Columns))
	}
}

func TestPipelineSummaryEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	summary, err := svc.PipelineSummary(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("PipelineSummary: %v", err)
	}
	if summary.TotalCards != 0 || summary.TotalPipelineValue != 0 {
		t.Fatalf("empty summary = %+v", summary)
	}
	if summary.Columns == nil {
		t.Fatal("Columns must serialize as [], not null")
	}
}
