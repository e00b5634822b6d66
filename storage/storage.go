package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"crm-api/domain"
)

// transactionLimit is the table service cap on actions per batch.
const transactionLimit = 100

// Config names the tables and the optional change-event queue.
type Config struct {
	ProfilesTable string
	BoardsTable   string
	ColumnsTable  string
	CardsTable    string
	EventsQueue   string
}

// Storage persists boards, columns, cards and profiles in Azure Tables.
// Every row is partitioned by the owning user id, so sibling rows share a
// partition and position rewrites can run as one guarded transaction.
type Storage struct {
	profilesTable *aztables.Client
	boardsTable   *aztables.Client
	columnsTable  *aztables.Client
	cardsTable    *aztables.Client
	eventsQueue   *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr string, cfg Config) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		profilesTable: svc.NewClient(cfg.ProfilesTable),
		boardsTable:   svc.NewClient(cfg.BoardsTable),
		columnsTable:  svc.NewClient(cfg.ColumnsTable),
		cardsTable:    svc.NewClient(cfg.CardsTable),
	}
	if cfg.EventsQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, cfg.EventsQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.eventsQueue = q
	}
	return s, nil
}

type profileEntity struct {
	aztables.Entity
	Email     string `json:"Email"`
	Name      string `json:"Name"`
	AvatarURL string `json:"AvatarURL"`
	CreatedAt string `json:"CreatedAt"`
}

type boardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Metadata    string `json:"Metadata"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type columnEntity struct {
	aztables.Entity
	ODataETag string `json:"odata.etag"`
	Title     string `json:"Title"`
	Color     string `json:"Color"`
	Position  int    `json:"Position"`
	BoardID   string `json:"BoardID"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

type cardEntity struct {
	aztables.Entity
	ODataETag      string  `json:"odata.etag"`
	Title          string  `json:"Title"`
	Description    string  `json:"Description"`
	ContactName    string  `json:"ContactName"`
	ContactEmail   string  `json:"ContactEmail"`
	ContactPhone   string  `json:"ContactPhone"`
	EstimatedValue float64 `json:"EstimatedValue"`
	Priority       string  `json:"Priority"`
	AssignedTo     string  `json:"AssignedTo"`
	Tags           string  `json:"Tags"`
	DueDate        string  `json:"DueDate"`
	ColumnID       string  `json:"ColumnID"`
	Position       int     `json:"Position"`
	CreatedBy      string  `json:"CreatedBy"`
	CreatedAt      string  `json:"CreatedAt"`
	UpdatedAt      string  `json:"UpdatedAt"`
}

// positionEntity is the merge payload for a sibling position rewrite.
type positionEntity struct {
	aztables.Entity
	Position int `json:"Position"`
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeBoard(userID string, b domain.Board) boardEntity {
	meta, _ := json.Marshal(b.Metadata)
	return boardEntity{
		Entity:      aztables.Entity{PartitionKey: userID, RowKey: b.ID},
		Title:       b.Title,
		Description: b.Description,
		Metadata:    string(meta),
		CreatedAt:   encodeTime(b.CreatedAt),
		UpdatedAt:   encodeTime(b.UpdatedAt),
	}
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	board := domain.Board{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		OwnerID:     ent.PartitionKey,
		Metadata:    map[string]string{},
		CreatedAt:   decodeTime(ent.CreatedAt),
		UpdatedAt:   decodeTime(ent.UpdatedAt),
	}
	if ent.Metadata != "" {
		_ = json.Unmarshal([]byte(ent.Metadata), &board.Metadata)
	}
	return board, nil
}

func encodeColumn(userID string, c domain.Column) columnEntity {
	return columnEntity{
		Entity:    aztables.Entity{PartitionKey: userID, RowKey: c.ID},
		Title:     c.Title,
		Color:     c.Color,
		Position:  c.Position,
		BoardID:   c.BoardID,
		CreatedAt: encodeTime(c.CreatedAt),
		UpdatedAt: encodeTime(c.UpdatedAt),
	}
}

func decodeColumn(data []byte) (domain.Column, error) {
	var ent columnEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Column{}, err
	}
	return domain.Column{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Color:     ent.Color,
		Position:  ent.Position,
		BoardID:   ent.BoardID,
		CreatedAt: decodeTime(ent.CreatedAt),
		UpdatedAt: decodeTime(ent.UpdatedAt),
		ETag:      ent.ODataETag,
	}, nil
}

func encodeCard(userID string, c domain.Card) cardEntity {
	tags, _ := json.Marshal(c.Tags)
	due := ""
	if c.DueDate != nil {
		due = encodeTime(*c.DueDate)
	}
	return cardEntity{
		Entity:         aztables.Entity{PartitionKey: userID, RowKey: c.ID},
		Title:          c.Title,
		Description:    c.Description,
		ContactName:    c.ContactName,
		ContactEmail:   c.ContactEmail,
		ContactPhone:   c.ContactPhone,
		EstimatedValue: c.EstimatedValue,
		Priority:       c.Priority,
		AssignedTo:     c.AssignedTo,
		Tags:           string(tags),
		DueDate:        due,
		ColumnID:       c.ColumnID,
		Position:       c.Position,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      encodeTime(c.CreatedAt),
		UpdatedAt:      encodeTime(c.UpdatedAt),
	}
}

func decodeCard(data []byte) (domain.Card, error) {
	var ent cardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Card{}, err
	}
	card := domain.Card{
		ID:             ent.RowKey,
		Title:          ent.Title,
		Description:    ent.Description,
		ContactName:    ent.ContactName,
		ContactEmail:   ent.ContactEmail,
		ContactPhone:   ent.ContactPhone,
		EstimatedValue: ent.EstimatedValue,
		Priority:       ent.Priority,
		AssignedTo:     ent.AssignedTo,
		Tags:           []string{},
		ColumnID:       ent.ColumnID,
		Position:       ent.Position,
		CreatedBy:      ent.CreatedBy,
		CreatedAt:      decodeTime(ent.CreatedAt),
		UpdatedAt:      decodeTime(ent.UpdatedAt),
		ETag:           ent.ODataETag,
	}
	if ent.Tags != "" {
		_ = json.Unmarshal([]byte(ent.Tags), &card.Tags)
	}
	if ent.DueDate != "" {
		due := decodeTime(ent.DueDate)
		card.DueDate = &due
	}
	return card, nil
}

// isNotFound reports a 404 from the table service.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// asConflict maps optimistic-concurrency failures to the domain sentinel.
// A 404 inside a guarded batch means a sibling vanished between read and
// write, which callers handle the same way as an ETag mismatch.
func asConflict(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404, 409, 412:
			return domain.ErrConcurrencyConflict
		}
	}
	return err
}

func partitionFilter(userID string) string {
	return "PartitionKey eq '" + escapeODataString(userID) + "'"
}

// escapeODataString doubles single quotes per the OData literal rules.
func escapeODataString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func (s *Storage) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	resp, err := s.profilesTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent profileEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.Profile{
		ID:        ent.RowKey,
		Email:     ent.Email,
		Name:      ent.Name,
		AvatarURL: ent.AvatarURL,
		CreatedAt: decodeTime(ent.CreatedAt),
	}, nil
}

func (s *Storage) UpsertProfile(ctx context.Context, p domain.Profile) error {
	ent := profileEntity{
		Entity:    aztables.Entity{PartitionKey: p.ID, RowKey: p.ID},
		Email:     p.Email,
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		CreatedAt: encodeTime(p.CreatedAt),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.profilesTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	filter := partitionFilter(userID)
	pager := s.boardsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			board, err := decodeBoard(raw)
			if err != nil {
				return nil, err
			}
			boards = append(boards, board)
		}
	}
	return boards, nil
}

func (s *Storage) GetBoard(ctx context.Context, userID, boardID string) (*domain.Board, error) {
	resp, err := s.boardsTable.GetEntity(ctx, userID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	board, err := decodeBoard(resp.Value)
	if err != nil {
		return nil, err
	}
	return &board, nil
}

func (s *Storage) InsertBoard(ctx context.Context, userID string, b domain.Board) error {
	data, err := json.Marshal(encodeBoard(userID, b))
	if err != nil {
		return err
	}
	_, err = s.boardsTable.AddEntity(ctx, data, nil)
	return err
}

func (s *Storage) DeleteBoard(ctx context.Context, userID, boardID string) error {
	_, err := s.boardsTable.DeleteEntity(ctx, userID, boardID, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (s *Storage) ListColumns(ctx context.Context, userID, boardID string) ([]domain.Column, error) {
	filter := partitionFilter(userID) + " and BoardID eq '" + escapeODataString(boardID) + "'"
	pager := s.columnsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	columns := []domain.Column{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			col, err := decodeColumn(raw)
			if err != nil {
				return nil, err
			}
			columns = append(columns, col)
		}
	}
	sortColumns(columns)
	return columns, nil
}

func (s *Storage) GetColumn(ctx context.Context, userID, columnID string) (*domain.Column, error) {
	resp, err := s.columnsTable.GetEntity(ctx, userID, columnID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	col, err := decodeColumn(resp.Value)
	if err != nil {
		return nil, err
	}
	if col.ETag == "" {
		col.ETag = string(resp.ETag)
	}
	return &col, nil
}

func (s *Storage) InsertColumn(ctx context.Context, userID string, col domain.Column) error {
	data, err := json.Marshal(encodeColumn(userID, col))
	if err != nil {
		return err
	}
	_, err = s.columnsTable.AddEntity(ctx, data, nil)
	return err
}

// ApplyColumnMove commits the moved column and its sibling shifts as
// guarded batches, the moved column first.
func (s *Storage) ApplyColumnMove(ctx context.Context, userID string, plan domain.ColumnMovePlan) error {
	actions := make([]aztables.TransactionAction, 0, len(plan.Shifts)+1)
	moved, err := positionMerge(userID, plan.ColumnID, plan.Position, plan.ColumnETag)
	if err != nil {
		return err
	}
	actions = append(actions, moved)
	for _, shift := range plan.Shifts {
		action, err := positionMerge(userID, shift.ID, shift.Position, shift.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	return s.submitChunked(ctx, s.columnsTable, actions)
}

// DeleteColumn removes the column and rewrites sibling positions in
// guarded batches, the delete first.
func (s *Storage) DeleteColumn(ctx context.Context, userID, columnID string, shifts []domain.PositionChange) error {
	actions := make([]aztables.TransactionAction, 0, len(shifts)+1)
	del, err := deleteAction(userID, columnID)
	if err != nil {
		return err
	}
	actions = append(actions, del)
	for _, shift := range shifts {
		action, err := positionMerge(userID, shift.ID, shift.Position, shift.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	return s.submitChunked(ctx, s.columnsTable, actions)
}

func (s *Storage) DeleteColumns(ctx context.Context, userID string, columnIDs []string) error {
	return s.bulkDelete(ctx, s.columnsTable, userID, columnIDs)
}

func (s *Storage) ListCards(ctx context.Context, userID string) ([]domain.Card, error) {
	filter := partitionFilter(userID)
	return s.listCards(ctx, filter)
}

func (s *Storage) ListColumnCards(ctx context.Context, userID, columnID string) ([]domain.Card, error) {
	filter := partitionFilter(userID) + " and ColumnID eq '" + escapeODataString(columnID) + "'"
	cards, err := s.listCards(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortCards(cards)
	return cards, nil
}

func (s *Storage) listCards(ctx context.Context, filter string) ([]domain.Card, error) {
	pager := s.cardsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cards := []domain.Card{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			card, err := decodeCard(raw)
			if err != nil {
				return nil, err
			}
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func (s *Storage) GetCard(ctx context.Context, userID, cardID string) (*domain.Card, error) {
	resp, err := s.cardsTable.GetEntity(ctx, userID, cardID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	card, err := decodeCard(resp.Value)
	if err != nil {
		return nil, err
	}
	if card.ETag == "" {
		card.ETag = string(resp.ETag)
	}
	return &card, nil
}

func (s *Storage) InsertCard(ctx context.Context, userID string, card domain.Card) error {
	data, err := json.Marshal(encodeCard(userID, card))
	if err != nil {
		return err
	}
	_, err = s.cardsTable.AddEntity(ctx, data, nil)
	return err
}

// UpdateCard replaces the card row, guarded by the ETag captured at read
// time.
func (s *Storage) UpdateCard(ctx context.Context, userID string, card domain.Card) error {
	data, err := json.Marshal(encodeCard(userID, card))
	if err != nil {
		return err
	}
	etag := azcore.ETag(card.ETag)
	_, err = s.cardsTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return asConflict(err)
	}
	return nil
}

// ApplyCardMove commits the moved card and every sibling shift as guarded
// batches, the moved card first. Cross-column moves need no special casing
// because all of a user's cards share one partition.
func (s *Storage) ApplyCardMove(ctx context.Context, userID string, plan domain.CardMovePlan) error {
	actions := make([]aztables.TransactionAction, 0, len(plan.Shifts)+1)
	moved := struct {
		aztables.Entity
		ColumnID  string `json:"ColumnID"`
		Position  int    `json:"Position"`
		UpdatedAt string `json:"UpdatedAt"`
	}{
		Entity:    aztables.Entity{PartitionKey: userID, RowKey: plan.CardID},
		ColumnID:  plan.ColumnID,
		Position:  plan.Position,
		UpdatedAt: encodeTime(time.Now()),
	}
	data, err := json.Marshal(moved)
	if err != nil {
		return err
	}
	etag := azcore.ETag(plan.CardETag)
	actions = append(actions, aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     data,
		IfMatch:    &etag,
	})
	for _, shift := range plan.Shifts {
		action, err := positionMerge(userID, shift.ID, shift.Position, shift.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	return s.submitChunked(ctx, s.cardsTable, actions)
}

// DeleteCard removes the card and closes the position gap in guarded
// batches, the delete first.
func (s *Storage) DeleteCard(ctx context.Context, userID, cardID string, shifts []domain.PositionChange) error {
	actions := make([]aztables.TransactionAction, 0, len(shifts)+1)
	del, err := deleteAction(userID, cardID)
	if err != nil {
		return err
	}
	actions = append(actions, del)
	for _, shift := range shifts {
		action, err := positionMerge(userID, shift.ID, shift.Position, shift.ETag)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	return s.submitChunked(ctx, s.cardsTable, actions)
}

func (s *Storage) DeleteCards(ctx context.Context, userID string, cardIDs []string) error {
	return s.bulkDelete(ctx, s.cardsTable, userID, cardIDs)
}

// bulkDelete removes rows in transaction-sized chunks. Used for cascades
// where the parent row is already gone from the caller's point of view.
func (s *Storage) bulkDelete(ctx context.Context, table *aztables.Client, userID string, rowKeys []string) error {
	actions := make([]aztables.TransactionAction, 0, len(rowKeys))
	for _, rk := range rowKeys {
		action, err := deleteAction(userID, rk)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	for _, chunk := range chunkActions(actions) {
		if _, err := table.SubmitTransaction(ctx, chunk, nil); err != nil {
			return err
		}
	}
	return nil
}

// submitChunked submits actions as transactions of at most transactionLimit
// each, in order; the table service rejects larger batches outright. Callers
// put the moved or deleted row in the first chunk, and the remaining actions
// are absolute position writes, so when a later chunk loses a race the
// caller's re-plan re-drives the leftover shifts instead of rolling back.
func (s *Storage) submitChunked(ctx context.Context, table *aztables.Client, actions []aztables.TransactionAction) error {
	for _, chunk := range chunkActions(actions) {
		if _, err := table.SubmitTransaction(ctx, chunk, nil); err != nil {
			return asConflict(err)
		}
	}
	return nil
}

func chunkActions(actions []aztables.TransactionAction) [][]aztables.TransactionAction {
	var chunks [][]aztables.TransactionAction
	for start := 0; start < len(actions); start += transactionLimit {
		end := start + transactionLimit
		if end > len(actions) {
			end = len(actions)
		}
		chunks = append(chunks, actions[start:end])
	}
	return chunks
}

// PublishEvents pushes change events to the queue for downstream
// consumers. No-op when the queue is not configured.
func (s *Storage) PublishEvents(ctx context.Context, events []domain.ChangeEvent) error {
	if s.eventsQueue == nil {
		return nil
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventsQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func sortColumns(columns []domain.Column) {
	sort.Slice(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
}

func sortCards(cards []domain.Card) {
	sort.Slice(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })
}

func positionMerge(userID, rowKey string, position int, etag string) (aztables.TransactionAction, error) {
	ent := positionEntity{
		Entity:   aztables.Entity{PartitionKey: userID, RowKey: rowKey},
		Position: position,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	tag := azcore.ETag(etag)
	return aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     data,
		IfMatch:    &tag,
	}, nil
}

func deleteAction(userID, rowKey string) (aztables.TransactionAction, error) {
	ent := aztables.Entity{PartitionKey: userID, RowKey: rowKey}
	data, err := json.Marshal(ent)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return aztables.TransactionAction{
		ActionType: aztables.TransactionTypeDelete,
		Entity:     data,
	}, nil
}
