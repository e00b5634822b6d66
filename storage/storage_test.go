package storage

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"crm-api/domain"
)

func TestDecodeCardEntity(t *testing.T) {
	data := []byte(`{"odata.etag":"W/\"datetime'2025-01-01'\"","PartitionKey":"u1","RowKey":"card1","Title":"Acme deal","EstimatedValue":1500.5,"Priority":"high","Tags":"[\"hot\",\"q3\"]","DueDate":"2025-06-01T00:00:00Z","ColumnID":"col1","Position":2,"CreatedBy":"u1","CreatedAt":"2025-01-01T10:00:00Z","UpdatedAt":"2025-01-02T10:00:00Z"}`)
	card, err := decodeCard(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.ID != "card1" || card.Title != "Acme deal" || card.ColumnID != "col1" || card.Position != 2 {
		t.Fatalf("unexpected card: %+v", card)
	}
	if card.EstimatedValue != 1500.5 || card.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected value fields: %+v", card)
	}
	if len(card.Tags) != 2 || card.Tags[0] != "hot" {
		t.Fatalf("unexpected tags: %v", card.Tags)
	}
	if card.DueDate == nil || !card.DueDate.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date: %v", card.DueDate)
	}
	if card.ETag == "" {
		t.Fatalf("etag not captured")
	}
}

func TestCardEntityRoundTrip(t *testing.T) {
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := domain.Card{
		ID:             "card1",
		Title:          "Acme deal",
		ContactName:    "Jane Doe",
		EstimatedValue: 300,
		Priority:       domain.PriorityLow,
		Tags:           []string{"warm"},
		DueDate:        &due,
		ColumnID:       "col1",
		Position:       1,
		CreatedBy:      "u1",
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	ent := encodeCard("u1", in)
	if ent.PartitionKey != "u1" || ent.RowKey != "card1" {
		t.Fatalf("unexpected keys: %s/%s", ent.PartitionKey, ent.RowKey)
	}
	if ent.Tags != `["warm"]` {
		t.Fatalf("unexpected tags encoding: %s", ent.Tags)
	}
	if ent.DueDate != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected due date encoding: %s", ent.DueDate)
	}
}

func TestDecodeCardEntityDefaults(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"card2","Title":"No extras","ColumnID":"col1","Position":0}`)
	card, err := decodeCard(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Tags == nil || len(card.Tags) != 0 {
		t.Fatalf("tags must decode to an empty slice, got %v", card.Tags)
	}
	if card.DueDate != nil {
		t.Fatalf("due date must stay nil, got %v", card.DueDate)
	}
}

func TestDecodeColumnEntity(t *testing.T) {
	data := []byte(`{"odata.etag":"W/\"1\"","PartitionKey":"u1","RowKey":"col1","Title":"Prospects","Color":"#EF4444","Position":0,"BoardID":"board1","CreatedAt":"2025-01-01T00:00:00Z","UpdatedAt":"2025-01-01T00:00:00Z"}`)
	col, err := decodeColumn(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if col.ID != "col1" || col.Title != "Prospects" || col.BoardID != "board1" || col.Color != "#EF4444" {
		t.Fatalf("unexpected column: %+v", col)
	}
	if col.ETag != `W/"1"` {
		t.Fatalf("unexpected etag: %s", col.ETag)
	}
}

func TestDecodeBoardEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"board1","Title":"Sales Pipeline","Description":"Main sales CRM board","Metadata":"{\"team\":\"emea\"}","CreatedAt":"2025-01-01T00:00:00Z","UpdatedAt":"2025-01-01T00:00:00Z"}`)
	board, err := decodeBoard(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if board.ID != "board1" || board.OwnerID != "u1" || board.Title != "Sales Pipeline" {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.Metadata["team"] != "emea" {
		t.Fatalf("unexpected metadata: %v", board.Metadata)
	}
}

func TestChunkActionsBoundsBatchSize(t *testing.T) {
	actions := make([]aztables.TransactionAction, 0, transactionLimit+20)
	del, err := deleteAction("u1", "card0")
	if err != nil {
		t.Fatalf("delete action: %v", err)
	}
	actions = append(actions, del)
	for i := 1; i < transactionLimit+20; i++ {
		shift, err := positionMerge("u1", "card"+strconv.Itoa(i), i-1, `W/"1"`)
		if err != nil {
			t.Fatalf("position merge: %v", err)
		}
		actions = append(actions, shift)
	}

	chunks := chunkActions(actions)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != transactionLimit || len(chunks[1]) != 20 {
		t.Fatalf("unexpected chunk sizes: %d/%d", len(chunks[0]), len(chunks[1]))
	}
	if chunks[0][0].ActionType != aztables.TransactionTypeDelete {
		t.Fatalf("deleted row must lead the first chunk, got %v", chunks[0][0].ActionType)
	}
	var first positionEntity
	if err := json.Unmarshal(chunks[0][0].Entity, &first); err != nil {
		t.Fatalf("decode first action: %v", err)
	}
	if first.RowKey != "card0" {
		t.Fatalf("first chunk leads with %s, want card0", first.RowKey)
	}
}

func TestChunkActionsSmallPlanSingleChunk(t *testing.T) {
	shift, err := positionMerge("u1", "card1", 0, `W/"1"`)
	if err != nil {
		t.Fatalf("position merge: %v", err)
	}
	chunks := chunkActions([]aztables.TransactionAction{shift, shift, shift})
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
}

func TestEscapeODataString(t *testing.T) {
	if got := escapeODataString("o'brien"); got != "o''brien" {
		t.Fatalf("unexpected escape: %s", got)
	}
	if got := escapeODataString("plain"); got != "plain" {
		t.Fatalf("unexpected escape: %s", got)
	}
}
