package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deskrelay/deskrelay/internal/relay/storage"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCreateConversationAssignsFields(t *testing.T) {
	store := openTempStore(t)

	conversation, err := store.CreateConversation(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if conversation.ID == "" {
		t.Fatal("expected generated conversation id")
	}
	if conversation.Status != storage.ConversationOpen {
		t.Fatalf("status = %q, want open", conversation.Status)
	}
	if conversation.CreatedAt.IsZero() || conversation.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestCreateConversationRequiresOwner(t *testing.T) {
	store := openTempStore(t)

	if _, err := store.CreateConversation(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty owner identity")
	}
}

func TestFindOpenByOwnerRoundTrip(t *testing.T) {
	store := openTempStore(t)

	created, err := store.CreateConversation(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	found, err := store.FindOpenByOwner(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("find open by owner: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("conversation id = %q, want %q", found.ID, created.ID)
	}
	if found.OwnerIdentity != "user@desk.example" {
		t.Fatalf("owner = %q, want %q", found.OwnerIdentity, "user@desk.example")
	}
}

func TestFindOpenByOwnerReturnsNewestOpen(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return base })
	if _, err := store.CreateConversation(context.Background(), "user@desk.example"); err != nil {
		t.Fatalf("create first conversation: %v", err)
	}

	store.SetNow(func() time.Time { return base.Add(time.Minute) })
	second, err := store.CreateConversation(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("create second conversation: %v", err)
	}

	found, err := store.FindOpenByOwner(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("find open by owner: %v", err)
	}
	if found.ID != second.ID {
		t.Fatalf("expected newest open conversation %q, got %q", second.ID, found.ID)
	}
}

func TestFindOpenByOwnerNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.FindOpenByOwner(context.Background(), "missing@desk.example")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindConversationNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.FindConversation(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssignAgentUpdatesConversation(t *testing.T) {
	store := openTempStore(t)

	created, err := store.CreateConversation(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if err := store.AssignAgent(context.Background(), created.ID, "agent@desk.example"); err != nil {
		t.Fatalf("assign agent: %v", err)
	}

	found, err := store.FindConversation(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if found.AssignedAgent != "agent@desk.example" {
		t.Fatalf("assigned agent = %q, want %q", found.AssignedAgent, "agent@desk.example")
	}
}

func TestAssignAgentNotFound(t *testing.T) {
	store := openTempStore(t)

	err := store.AssignAgent(context.Background(), "missing", "agent@desk.example")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCloseConversationRemovesItFromOpenLookup(t *testing.T) {
	store := openTempStore(t)

	created, err := store.CreateConversation(context.Background(), "user@desk.example")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if err := store.CloseConversation(context.Background(), created.ID); err != nil {
		t.Fatalf("close conversation: %v", err)
	}

	_, err = store.FindOpenByOwner(context.Background(), "user@desk.example")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after close, got %v", err)
	}

	found, err := store.FindConversation(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if found.Status != storage.ConversationClosed {
		t.Fatalf("status = %q, want closed", found.Status)
	}
}

func TestCreateMessageAssignsIDAndTimestamp(t *testing.T) {
	store := openTempStore(t)

	msg, err := store.CreateMessage(context.Background(), storage.NewMessage{
		ConversationID: "conv-1",
		SenderRole:     token.RoleUser,
		SenderIdentity: "user@desk.example",
		Text:           "hello",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("expected created timestamp")
	}
	if msg.Text != "hello" {
		t.Fatalf("text = %q, want %q", msg.Text, "hello")
	}
}

func TestCreateMessagePreservesMaxLengthTextVerbatim(t *testing.T) {
	store := openTempStore(t)

	text := strings.Repeat("x", 2000)
	msg, err := store.CreateMessage(context.Background(), storage.NewMessage{
		ConversationID: "conv-1",
		SenderRole:     token.RoleUser,
		SenderIdentity: "user@desk.example",
		Text:           text,
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	page, err := store.FindMessagePage(context.Background(), "conv-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("find message page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 message, got %d", len(page))
	}
	if page[0].ID != msg.ID || page[0].Text != text {
		t.Fatal("expected max-length text stored verbatim")
	}
}

func TestCreateMessageRejectsInvalidInput(t *testing.T) {
	store := openTempStore(t)

	cases := []struct {
		name string
		msg  storage.NewMessage
	}{
		{"empty conversation id", storage.NewMessage{SenderRole: token.RoleUser, Text: "hi"}},
		{"empty text", storage.NewMessage{ConversationID: "conv-1", SenderRole: token.RoleUser}},
		{"oversized text", storage.NewMessage{ConversationID: "conv-1", SenderRole: token.RoleUser, Text: strings.Repeat("x", 2001)}},
		{"invalid sender role", storage.NewMessage{ConversationID: "conv-1", SenderRole: token.Role("admin"), Text: "hi"}},
	}
	for _, tc := range cases {
		if _, err := store.CreateMessage(context.Background(), tc.msg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestFindMessagePageReturnsNewestFirst(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"m1", "m2", "m3"} {
		tick := base.Add(time.Duration(i) * time.Second)
		store.SetNow(func() time.Time { return tick })
		if _, err := store.CreateMessage(context.Background(), storage.NewMessage{
			ConversationID: "conv-1",
			SenderRole:     token.RoleUser,
			SenderIdentity: "user@desk.example",
			Text:           text,
		}); err != nil {
			t.Fatalf("create message %q: %v", text, err)
		}
	}

	page, err := store.FindMessagePage(context.Background(), "conv-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("find message page: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page))
	}
	if page[0].Text != "m3" || page[1].Text != "m2" || page[2].Text != "m1" {
		t.Fatalf("unexpected order: %q %q %q", page[0].Text, page[1].Text, page[2].Text)
	}
}

func TestFindMessagePageBreaksTimestampTiesByInsertionOrder(t *testing.T) {
	store := openTempStore(t)

	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return frozen })
	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.CreateMessage(context.Background(), storage.NewMessage{
			ConversationID: "conv-1",
			SenderRole:     token.RoleAgent,
			SenderIdentity: "agent@desk.example",
			Text:           text,
		}); err != nil {
			t.Fatalf("create message %q: %v", text, err)
		}
	}

	page, err := store.FindMessagePage(context.Background(), "conv-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("find message page: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page))
	}
	if page[0].Text != "third" || page[2].Text != "first" {
		t.Fatalf("unexpected tie-break order: %q %q %q", page[0].Text, page[1].Text, page[2].Text)
	}
}

func TestFindMessagePageHonorsLimitAndBefore(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		store.SetNow(func() time.Time { return tick })
		if _, err := store.CreateMessage(context.Background(), storage.NewMessage{
			ConversationID: "conv-1",
			SenderRole:     token.RoleUser,
			SenderIdentity: "user@desk.example",
			Text:           "msg",
		}); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	page, err := store.FindMessagePage(context.Background(), "conv-1", 2, time.Time{})
	if err != nil {
		t.Fatalf("find message page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected limit of 2 messages, got %d", len(page))
	}

	// Strictly-before cutoff excludes the message created exactly at the cutoff.
	cutoff := base.Add(2 * time.Minute)
	page, err = store.FindMessagePage(context.Background(), "conv-1", 10, cutoff)
	if err != nil {
		t.Fatalf("find message page before cutoff: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages before cutoff, got %d", len(page))
	}
	for _, msg := range page {
		if !msg.CreatedAt.Before(cutoff) {
			t.Fatalf("message at %v not before cutoff %v", msg.CreatedAt, cutoff)
		}
	}
}

func TestFindMessagePageRequiresPositiveLimit(t *testing.T) {
	store := openTempStore(t)

	if _, err := store.FindMessagePage(context.Background(), "conv-1", 0, time.Time{}); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
}
