package domain

import "context"

// Store abstracts persistence. Every method is scoped to one principal's
// partition: a lookup for a row another principal owns behaves exactly like
// a lookup for a row that does not exist (nil, nil).
//
// Methods taking shifts or a move plan must apply all writes as one atomic
// unit, honoring the ETags captured at read time, and return
// ErrConcurrencyConflict when a guarded row changed underneath.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error

	ListBoards(ctx context.Context, userID string) ([]Board, error)
	GetBoard(ctx context.Context, userID, boardID string) (*Board, error)
	InsertBoard(ctx context.Context, userID string, b Board) error
	DeleteBoard(ctx context.Context, userID, boardID string) error

	ListColumns(ctx context.Context, userID, boardID string) ([]Column, error)
	GetColumn(ctx context.Context, userID, columnID string) (*Column, error)
	InsertColumn(ctx context.Context, userID string, col Column) error
	ApplyColumnMove(ctx context.Context, userID string, plan ColumnMovePlan) error
	DeleteColumn(ctx context.Context, userID, columnID string, shifts []PositionChange) error
	DeleteColumns(ctx context.Context, userID string, columnIDs []string) error

	ListCards(ctx context.Context, userID string) ([]Card, error)
	ListColumnCards(ctx context.Context, userID, columnID string) ([]Card, error)
	GetCard(ctx context.Context, userID, cardID string) (*Card, error)
	InsertCard(ctx context.Context, userID string, card Card) error
	UpdateCard(ctx context.Context, userID string, card Card) error
	ApplyCardMove(ctx context.Context, userID string, plan CardMovePlan) error
	DeleteCard(ctx context.Context, userID, cardID string, shifts []PositionChange) error
	DeleteCards(ctx context.Context, userID string, cardIDs []string) error
}
