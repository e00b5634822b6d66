package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Card priority levels.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const defaultColumnColor = "#3B82F6"

// Principal is the authenticated identity extracted from a bearer token.
type Principal struct {
	ID    string
	Email string
	Name  string
}

// Profile is the stored record backing a Principal.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Board is the top-level container of columns, owned by one principal.
type Board struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	OwnerID     string            `json:"user_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Column is an ordered lane within a board. Position is dense and
// zero-based among the columns of one board.
type Column struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Color     string    `json:"color"`
	Position  int       `json:"position"`
	BoardID   string    `json:"board_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ETag is the storage concurrency token. Never serialized to clients.
	ETag string `json:"-"`
}

// Card is a lead/deal record. Position is dense and zero-based among the
// cards of one column.
type Card struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	ContactName    string     `json:"contact_name,omitempty"`
	ContactEmail   string     `json:"contact_email,omitempty"`
	ContactPhone   string     `json:"contact_phone,omitempty"`
	EstimatedValue float64    `json:"estimated_value"`
	Priority       string     `json:"priority"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	Tags           []string   `json:"tags"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	ColumnID       string     `json:"column_id"`
	Position       int        `json:"position"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	ETag string `json:"-"`
}

// CardInput carries the client-supplied fields for card creation.
type CardInput struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ContactName    string     `json:"contact_name"`
	ContactEmail   string     `json:"contact_email"`
	ContactPhone   string     `json:"contact_phone"`
	EstimatedValue float64    `json:"estimated_value"`
	Priority       string     `json:"priority"`
	AssignedTo     string     `json:"assigned_to"`
	Tags           []string   `json:"tags"`
	DueDate        *time.Time `json:"due_date"`
	ColumnID       string     `json:"column_id"`
}

// CardPatch carries a partial card update. Position and column are
// deliberately absent: moves go through MoveCard.
type CardPatch struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	ContactName    *string    `json:"contact_name"`
	ContactEmail   *string    `json:"contact_email"`
	ContactPhone   *string    `json:"contact_phone"`
	EstimatedValue *float64   `json:"estimated_value"`
	Priority       *string    `json:"priority"`
	AssignedTo     *string    `json:"assigned_to"`
	Tags           []string   `json:"tags"`
	DueDate        *time.Time `json:"due_date"`
}

// ChangeEvent describes a committed mutation, published to the change queue
// for downstream consumers.
type ChangeEvent struct {
	UserID     string    `json:"user_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	At         time.Time `json:"at"`
}

// NewBoard validates input and builds a board owned by ownerID.
func NewBoard(ownerID, title, description string) (Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Board{}, &ValidationError{Field: "title", Message: "title is required"}
	}
	now := time.Now().UTC()
	return Board{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewColumn validates input and builds a column for boardID at the given
// position.
func NewColumn(boardID, title, color string, position int) (Column, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Column{}, &ValidationError{Field: "title", Message: "title is required"}
	}
	if color == "" {
		color = defaultColumnColor
	}
	now := time.Now().UTC()
	return Column{
		ID:        uuid.NewString(),
		Title:     title,
		Color:     color,
		Position:  position,
		BoardID:   boardID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCard validates input and builds a card at the given position,
// recording creator as created_by.
func NewCard(in CardInput, creator string, position int) (Card, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Card{}, &ValidationError{Field: "title", Message: "title is required"}
	}
	if in.EstimatedValue < 0 {
		return Card{}, &ValidationError{Field: "estimated_value", Message: "estimated_value must not be negative"}
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !validPriority(priority) {
		return Card{}, &ValidationError{Field: "priority", Message: "priority must be low, medium or high"}
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()
	return Card{
		ID:             uuid.NewString(),
		Title:          title,
		Description:    in.Description,
		ContactName:    in.ContactName,
		ContactEmail:   in.ContactEmail,
		ContactPhone:   in.ContactPhone,
		EstimatedValue: in.EstimatedValue,
		Priority:       priority,
		AssignedTo:     in.AssignedTo,
		Tags:           tags,
		DueDate:        in.DueDate,
		ColumnID:       in.ColumnID,
		Position:       position,
		CreatedBy:      creator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Apply merges the patch into the card, validating changed fields and
// refreshing updated_at. The card's column and position are untouched.
func (c *Card) Apply(p CardPatch) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return &ValidationError{Field: "title", Message: "title is required"}
		}
		c.Title = title
	}
	if p.EstimatedValue != nil {
		if *p.EstimatedValue < 0 {
			return &ValidationError{Field: "estimated_value", Message: "estimated_value must not be negative"}
		}
		c.EstimatedValue = *p.EstimatedValue
	}
	if p.Priority != nil {
		if !validPriority(*p.Priority) {
			return &ValidationError{Field: "priority", Message: "priority must be low, medium or high"}
		}
		c.Priority = *p.Priority
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.ContactName != nil {
		c.ContactName = *p.ContactName
	}
	if p.ContactEmail != nil {
		c.ContactEmail = *p.ContactEmail
	}
	if p.ContactPhone != nil {
		c.ContactPhone = *p.ContactPhone
	}
	if p.AssignedTo != nil {
		c.AssignedTo = *p.AssignedTo
	}
	if p.Tags != nil {
		c.Tags = p.Tags
	}
	if p.DueDate != nil {
		c.DueDate = p.DueDate
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func validPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}
