package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// moveAttempts bounds the re-plan loop when guarded batches keep losing
// races. Exhaustion surfaces ErrConcurrencyConflict to the caller.
const moveAttempts = 3

// Service implements the ownership-guarded board operations on top of a
// Store. All methods take the acting principal's id; resources that do not
// resolve inside that principal's partition come back as NotFoundError,
// whether they are absent or owned by someone else.
type Service struct {
	st     Store
	logger *log.Logger
}

// NewService creates a Service. The logger must not be nil.
func NewService(st Store, logger *log.Logger) *Service {
	if st == nil {
		panic("domain.NewService: store is nil")
	}
	if logger == nil {
		panic("domain.NewService: logger is nil")
	}
	return &Service{st: st, logger: logger}
}

// EnsureProfile upserts the profile row for a principal on first sight.
// Idempotent: an existing profile is returned unchanged.
func (s *Service) EnsureProfile(ctx context.Context, p Principal) (*Profile, error) {
	existing, err := s.st.GetProfile(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	profile := Profile{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.st.UpsertProfile(ctx, profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Service) CreateBoard(ctx context.Context, userID, title, description string) (*Board, error) {
	board, err := NewBoard(userID, title, description)
	if err != nil {
		return nil, err
	}
	if err := s.st.InsertBoard(ctx, userID, board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (s *Service) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	boards, err := s.st.ListBoards(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

// DeleteBoard cascades through the board's columns to their cards.
func (s *Service) DeleteBoard(ctx context.Context, userID, boardID string) error {
	board, err := s.st.GetBoard(ctx, userID, boardID)
	if err != nil {
		return err
	}
	if board == nil {
		return &NotFoundError{Kind: "board", ID: boardID}
	}
	columns, err := s.st.ListColumns(ctx, userID, boardID)
	if err != nil {
		return err
	}
	columnIDs := make([]string, 0, len(columns))
	for _, col := range columns {
		cards, err := s.st.ListColumnCards(ctx, userID, col.ID)
		if err != nil {
			return err
		}
		cardIDs := make([]string, 0, len(cards))
		for _, card := range cards {
			cardIDs = append(cardIDs, card.ID)
		}
		if err := s.st.DeleteCards(ctx, userID, cardIDs); err != nil {
			return err
		}
		columnIDs = append(columnIDs, col.ID)
	}
	if err := s.st.DeleteColumns(ctx, userID, columnIDs); err != nil {
		return err
	}
	return s.st.DeleteBoard(ctx, userID, boardID)
}

func (s *Service) ListColumns(ctx context.Context, userID, boardID string) ([]Column, error) {
	board, err := s.st.GetBoard(ctx, userID, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, &NotFoundError{Kind: "board", ID: boardID}
	}
	return s.st.ListColumns(ctx, userID, boardID)
}

// CreateColumn appends a column at the end of the board.
func (s *Service) CreateColumn(ctx context.Context, userID, boardID, title, color string) (*Column, error) {
	board, err := s.st.GetBoard(ctx, userID, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, &NotFoundError{Kind: "board", ID: boardID}
	}
	siblings, err := s.st.ListColumns(ctx, userID, boardID)
	if err != nil {
		return nil, err
	}
	column, err := NewColumn(boardID, title, color, len(siblings))
	if err != nil {
		return nil, err
	}
	if err := s.st.InsertColumn(ctx, userID, column); err != nil {
		return nil, err
	}
	return &column, nil
}

// MoveColumn reorders a column within its board, re-reading sibling state
// on every attempt so the shift batch is planned against fresh positions.
func (s *Service) MoveColumn(ctx context.Context, userID, columnID string, destIndex int) (*Column, error) {
	for attempt := 0; attempt < moveAttempts; attempt++ {
		column, err := s.st.GetColumn(ctx, userID, columnID)
		if err != nil {
			return nil, err
		}
		if column == nil {
			return nil, &NotFoundError{Kind: "column", ID: columnID}
		}
		siblings, err := s.st.ListColumns(ctx, userID, column.BoardID)
		if err != nil {
			return nil, err
		}
		plan := PlanColumnMove(*column, siblings, destIndex)
		if plan.NoOp {
			return column, nil
		}
		if err := s.st.ApplyColumnMove(ctx, userID, plan); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				s.logger.WithFields(log.Fields{"column": columnID, "attempt": attempt}).Warn("column move lost race, replanning")
				continue
			}
			return nil, err
		}
		column.Position = plan.Position
		return column, nil
	}
	return nil, ErrConcurrencyConflict
}

// DeleteColumn cascades to the column's cards and closes the position gap
// among the surviving sibling columns.
func (s *Service) DeleteColumn(ctx context.Context, userID, columnID string) error {
	for attempt := 0; attempt < moveAttempts; attempt++ {
		column, err := s.st.GetColumn(ctx, userID, columnID)
		if err != nil {
			return err
		}
		if column == nil {
			return &NotFoundError{Kind: "column", ID: columnID}
		}
		cards, err := s.st.ListColumnCards(ctx, userID, columnID)
		if err != nil {
			return err
		}
		cardIDs := make([]string, 0, len(cards))
		for _, card := range cards {
			cardIDs = append(cardIDs, card.ID)
		}
		if err := s.st.DeleteCards(ctx, userID, cardIDs); err != nil {
			return err
		}
		siblings, err := s.st.ListColumns(ctx, userID, column.BoardID)
		if err != nil {
			return err
		}
		shifts := CloseColumnGap(siblings, *column)
		if err := s.st.DeleteColumn(ctx, userID, columnID, shifts); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				s.logger.WithFields(log.Fields{"column": columnID, "attempt": attempt}).Warn("column delete lost race, replanning")
				continue
			}
			return err
		}
		return nil
	}
	return ErrConcurrencyConflict
}

// CreateCard appends a card at the end of its column.
func (s *Service) CreateCard(ctx context.Context, principal Principal, in CardInput) (*Card, error) {
	column, err := s.st.GetColumn(ctx, principal.ID, in.ColumnID)
	if err != nil {
		return nil, err
	}
	if column == nil {
		return nil, &NotFoundError{Kind: "column", ID: in.ColumnID}
	}
	siblings, err := s.st.ListColumnCards(ctx, principal.ID, in.ColumnID)
	if err != nil {
		return nil, err
	}
	card, err := NewCard(in, principal.ID, len(siblings))
	if err != nil {
		return nil, err
	}
	if err := s.st.InsertCard(ctx, principal.ID, card); err != nil {
		return nil, err
	}
	return &card, nil
}

// ListCards returns the principal's cards across all boards, or the cards
// of one column when columnID is non-empty, ordered by column then
// position.
func (s *Service) ListCards(ctx context.Context, userID, columnID string) ([]Card, error) {
	if columnID != "" {
		column, err := s.st.GetColumn(ctx, userID, columnID)
		if err != nil {
			return nil, err
		}
		if column == nil {
			return nil, &NotFoundError{Kind: "column", ID: columnID}
		}
		return s.st.ListColumnCards(ctx, userID, columnID)
	}
	cards, err := s.st.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].ColumnID != cards[j].ColumnID {
			return cards[i].ColumnID < cards[j].ColumnID
		}
		return cards[i].Position < cards[j].Position
	})
	return cards, nil
}

// UpdateCard merges a partial update. Position and column are not
// reachable through this path; MoveCard owns them.
func (s *Service) UpdateCard(ctx context.Context, userID, cardID string, patch CardPatch) (*Card, error) {
	for attempt := 0; attempt < moveAttempts; attempt++ {
		card, err := s.st.GetCard(ctx, userID, cardID)
		if err != nil {
			return nil, err
		}
		if card == nil {
			return nil, &NotFoundError{Kind: "card", ID: cardID}
		}
		if err := card.Apply(patch); err != nil {
			return nil, err
		}
		if err := s.st.UpdateCard(ctx, userID, *card); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				s.logger.WithFields(log.Fields{"card": cardID, "attempt": attempt}).Warn("card update lost race, retrying")
				continue
			}
			return nil, err
		}
		return card, nil
	}
	return nil, ErrConcurrencyConflict
}

// DeleteCard removes a card and closes the position gap in its column.
func (s *Service) DeleteCard(ctx context.Context, userID, cardID string) error {
	for attempt := 0; attempt < moveAttempts; attempt++ {
		card, err := s.st.GetCard(ctx, userID, cardID)
		if err != nil {
			return err
		}
		if card == nil {
			return &NotFoundError{Kind: "card", ID: cardID}
		}
		siblings, err := s.st.ListColumnCards(ctx, userID, card.ColumnID)
		if err != nil {
			return err
		}
		shifts := CloseCardGap(siblings, *card)
		if err := s.st.DeleteCard(ctx, userID, cardID, shifts); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				s.logger.WithFields(log.Fields{"card": cardID, "attempt": attempt}).Warn("card delete lost race, replanning")
				continue
			}
			return err
		}
		return nil
	}
	return ErrConcurrencyConflict
}

// MoveCard moves a card to destIndex in the destination column, shifting
// affected siblings so both columns stay dense and zero-based. Sibling
// state is re-read on every attempt; the plan commits atomically or not at
// all.
func (s *Service) MoveCard(ctx context.Context, userID, cardID, destColumnID string, destIndex int) (*Card, error) {
	for attempt := 0; attempt < moveAttempts; attempt++ {
		card, err := s.st.GetCard(ctx, userID, cardID)
		if err != nil {
			return nil, err
		}
		if card == nil {
			return nil, &NotFoundError{Kind: "card", ID: cardID}
		}
		destColumn, err := s.st.GetColumn(ctx, userID, destColumnID)
		if err != nil {
			return nil, err
		}
		if destColumn == nil {
			return nil, &NotFoundError{Kind: "column", ID: destColumnID}
		}
		source, err := s.st.ListColumnCards(ctx, userID, card.ColumnID)
		if err != nil {
			return nil, err
		}
		dest := source
		if card.ColumnID != destColumnID {
			dest, err = s.st.ListColumnCards(ctx, userID, destColumnID)
			if err != nil {
				return nil, err
			}
		}
		plan := PlanCardMove(*card, source, dest, destColumnID, destIndex)
		if plan.NoOp {
			return card, nil
		}
		if err := s.st.ApplyCardMove(ctx, userID, plan); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				s.logger.WithFields(log.Fields{"card": cardID, "attempt": attempt}).Warn("card move lost race, replanning")
				continue
			}
			return nil, err
		}
		card.ColumnID = plan.ColumnID
		card.Position = plan.Position
		card.UpdatedAt = time.Now().UTC()
		return card, nil
	}
	return nil, ErrConcurrencyConflict
}

// EnsureDefaultBoard seeds one board with the standard pipeline columns
// for a principal owning no boards. The returned bool reports whether a
// board was created.
func (s *Service) EnsureDefaultBoard(ctx context.Context, userID string) (*Board, bool, error) {
	boards, err := s.st.ListBoards(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if len(boards) > 0 {
		return &boards[0], false, nil
	}
	board, err := s.CreateBoard(ctx, userID, defaultBoardTitle, defaultBoardDescription)
	if err != nil {
		return nil, false, err
	}
	for i, def := range defaultColumns {
		column, err := NewColumn(board.ID, def.title, def.color, i)
		if err != nil {
			return nil, false, err
		}
		if err := s.st.InsertColumn(ctx, userID, column); err != nil {
			return nil, false, err
		}
	}
	return board, true, nil
}

// PipelineSummary aggregates every card reachable under the principal's
// boards, grouped by column.
func (s *Service) PipelineSummary(ctx context.Context, userID string) (PipelineSummary, error) {
	boards, err := s.st.ListBoards(ctx, userID)
	if err != nil {
		return PipelineSummary{}, err
	}
	var columns []Column
	for _, board := range boards {
		cols, err := s.st.ListColumns(ctx, userID, board.ID)
		if err != nil {
			return PipelineSummary{}, err
		}
		columns = append(columns, cols...)
	}
	cards, err := s.st.ListCards(ctx, userID)
	if err != nil {
		return PipelineSummary{}, err
	}
	return Summarize(columns, cards), nil
}
