package api

import (
	"context"

	"crm-api/domain"
)

// BoardService is the domain surface handlers depend on.
type BoardService interface {
	EnsureProfile(ctx context.Context, p domain.Principal) (*domain.Profile, error)
	EnsureDefaultBoard(ctx context.Context, userID string) (*domain.Board, bool, error)

	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	CreateBoard(ctx context.Context, userID, title, description string) (*domain.Board, error)
	DeleteBoard(ctx context.Context, userID, boardID string) error

	ListColumns(ctx context.Context, userID, boardID string) ([]domain.Column, error)
	CreateColumn(ctx context.Context, userID, boardID, title, color string) (*domain.Column, error)
	MoveColumn(ctx context.Context, userID, columnID string, destIndex int) (*domain.Column, error)
	DeleteColumn(ctx context.Context, userID, columnID string) error

	ListCards(ctx context.Context, userID, columnID string) ([]domain.Card, error)
	CreateCard(ctx context.Context, principal domain.Principal, in domain.CardInput) (*domain.Card, error)
	UpdateCard(ctx context.Context, userID, cardID string, patch domain.CardPatch) (*domain.Card, error)
	DeleteCard(ctx context.Context, userID, cardID string) error
	MoveCard(ctx context.Context, userID, cardID, destColumnID string, destIndex int) (*domain.Card, error)

	PipelineSummary(ctx context.Context, userID string) (domain.PipelineSummary, error)
}

// Authenticator is implemented by types able to extract the acting
// principal from an Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (domain.Principal, error)
}

// EventSink receives committed change events for downstream consumers.
type EventSink interface {
	PublishEvents(ctx context.Context, events []domain.ChangeEvent) error
}
