package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stupiduntilnot/chatrelay/internal/db"
)

// testDB creates a temporary SQLite database with schema initialized.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// seedRelayTree inserts a realistic relay event tree and returns the root event ID.
//
// Tree structure:
//
//	process.started (relay)            id=1
//	├── turn.started                   id=2
//	│   ├── search.completed           id=3
//	│   └── turn.completed             id=4
//	├── mode.changed                   id=5
//	├── turn.started                   id=6
//	│   ├── search.failed              id=7
//	│   └── turn.failed                id=8
//	└── process.stopped                id=9
func seedRelayTree(t *testing.T, database *sql.DB) int64 {
	t.Helper()

	rootID, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"role": "relay", "pid": 100})
	turn1, _ := db.LogEvent(database, &rootID, db.EventTurnStarted, map[string]any{"chat_id": 123, "text": "какая погода?"})
	db.LogEvent(database, &turn1, db.EventSearchCompleted, map[string]any{"results": 4})
	db.LogEvent(database, &turn1, db.EventTurnCompleted, map[string]any{"latency_ms": 1820, "input_tokens": 42, "output_tokens": 7})
	db.LogEvent(database, &rootID, db.EventModeChanged, map[string]any{"chat_id": 123, "mode": "expert"})
	turn2, _ := db.LogEvent(database, &rootID, db.EventTurnStarted, map[string]any{"chat_id": 123, "text": "новости"})
	db.LogEvent(database, &turn2, db.EventSearchFailed, map[string]any{"error_class": "timeout"})
	db.LogEvent(database, &turn2, db.EventTurnFailed, map[string]any{"outcome": "timeout"})
	db.LogEvent(database, &rootID, db.EventProcessStopped, nil)

	return rootID
}

func loadTree(t *testing.T, database *sql.DB, rootID int64) *Event {
	t.Helper()
	events, err := db.QuerySubtree(database, rootID)
	if err != nil {
		t.Fatal(err)
	}
	root := buildTree(events, rootID)
	if root == nil {
		t.Fatal("root is nil")
	}
	return root
}

func TestBuildTree(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)

	root := loadTree(t, database, rootID)
	if root.EventType != db.EventProcessStarted {
		t.Errorf("expected process.started, got %s", root.EventType)
	}

	// turn.started, mode.changed, turn.started, process.stopped
	if len(root.Children) != 4 {
		t.Errorf("expected 4 root children, got %d", len(root.Children))
		for _, c := range root.Children {
			t.Logf("  child: id=%d type=%s", c.ID, c.EventType)
		}
	}

	turn := root.Children[0]
	if turn.EventType != db.EventTurnStarted {
		t.Fatalf("expected first child turn.started, got %s", turn.EventType)
	}
	if len(turn.Children) != 2 {
		t.Errorf("expected 2 turn children, got %d", len(turn.Children))
	}
}

func TestBuildTree_MissingRoot(t *testing.T) {
	if buildTree(nil, 99) != nil {
		t.Fatal("expected nil root for empty event list")
	}
}

func TestFormatEvent(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "turn.started",
		Payload:   sql.NullString{String: `{"chat_id":123,"turn_id":"t-1"}`, Valid: true},
	}

	line := formatEvent(ev, false)
	for _, want := range []string{"[42]", "turn.started", "chat_id=123", "turn_id=t-1"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %s in output: %s", want, line)
		}
	}
}

func TestFormatEvent_NoPayload(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "turn.started",
		Payload:   sql.NullString{String: `{"chat_id":123}`, Valid: true},
	}

	line := formatEvent(ev, true)
	if strings.Contains(line, "chat_id") {
		t.Errorf("expected no payload in output: %s", line)
	}
}

func TestFormatEvent_NullPayload(t *testing.T) {
	ev := &Event{
		ID:        1,
		Timestamp: 1739781001,
		EventType: "process.stopped",
		Payload:   sql.NullString{Valid: false},
	}

	line := formatEvent(ev, false)
	if !strings.Contains(line, "process.stopped") {
		t.Errorf("expected process.stopped in output: %s", line)
	}
}

func TestFormatValue_LongString(t *testing.T) {
	v := formatValue(strings.Repeat("я", 100))
	if !strings.Contains(v, "...") {
		t.Errorf("expected truncation: %s", v)
	}
	if strings.ContainsRune(v, '\uFFFD') {
		t.Errorf("truncation split a rune: %s", v)
	}
}

func TestFormatValue_Integer(t *testing.T) {
	if v := formatValue(float64(42)); v != "42" {
		t.Errorf("expected 42, got %s", v)
	}
	if v := formatValue(1.5); v != "1.5" {
		t.Errorf("expected 1.5, got %s", v)
	}
}

func TestPrintTree_Full(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 0, false)
	output := buf.String()

	for _, want := range []string{
		"process.started", "turn.started", "search.completed",
		"turn.completed", "mode.changed", "search.failed",
		"turn.failed", "process.stopped",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if !strings.Contains(output, "├──") || !strings.Contains(output, "│   ") {
		t.Errorf("expected tree characters in output:\n%s", output)
	}
}

func TestPrintTree_DepthLimit(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 2, false)
	output := buf.String()

	if !strings.Contains(output, "mode.changed") {
		t.Errorf("expected mode.changed at depth 2")
	}
	if strings.Contains(output, "search.completed") {
		t.Errorf("search.completed should be truncated at -L 2:\n%s", output)
	}
	if !strings.Contains(output, "[...]") {
		t.Errorf("expected [...] indicator for truncated nodes:\n%s", output)
	}
}

func TestPrintTree_DepthLimit1(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 1, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines (root + [...]), got %d:\n%s", len(lines), buf.String())
	}
}

func TestPrintJSON(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 0, false); err != nil {
		t.Fatal(err)
	}

	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if je.EventType != "process.started" {
		t.Errorf("expected process.started, got %s", je.EventType)
	}
	if len(je.Children) != 4 {
		t.Errorf("expected 4 children, got %d", len(je.Children))
	}
}

func TestPrintJSON_DepthLimit(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 2, false); err != nil {
		t.Fatal(err)
	}

	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(je.Children) == 0 {
		t.Error("expected children at depth 2")
	}
	for _, child := range je.Children {
		if len(child.Children) > 0 {
			t.Errorf("expected no grandchildren at -L 2, but %s (id=%d) has %d",
				child.EventType, child.ID, len(child.Children))
		}
	}
}

func TestPrintJSON_NoPayload(t *testing.T) {
	database := testDB(t)
	rootID := seedRelayTree(t, database)
	root := loadTree(t, database, rootID)

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 0, true); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"role"`) {
		t.Errorf("expected no payload in output:\n%s", buf.String())
	}
}

func TestSubtreeFromSpecificID(t *testing.T) {
	database := testDB(t)
	seedRelayTree(t, database)

	// The second turn.started (id=6) and its two children.
	events, err := db.QuerySubtree(database, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events in turn subtree, got %d", len(events))
		for _, ev := range events {
			t.Logf("  id=%d type=%s", ev.ID, ev.EventType)
		}
	}

	root := buildTree(events, 6)
	if root == nil || root.EventType != db.EventTurnStarted {
		t.Fatalf("expected turn.started root, got %+v", root)
	}
}
