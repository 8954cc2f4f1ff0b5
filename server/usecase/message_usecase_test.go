package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavehq/wavechat/server/domain"
)

type messageFixture struct {
	service     *MessageService
	sessions    *SessionRegistry
	repo        *fakeRepo
	store       *fakeStore
	broadcaster *fakeBroadcaster
	clock       *fakeClock
	sessionID   string
	account     domain.Account
	conn        domain.Connection
}

func newMessageFixture(t *testing.T, producer AIProducer) *messageFixture {
	t.Helper()
	clock := newFakeClock()
	store := newFakeStore(clock)
	broadcaster := newFakeBroadcaster()
	repo := newFakeRepo()
	logger := testLogger()
	sessions := NewSessionRegistry(store, clock, logger)
	streams := NewStreamingCoordinator(repo, store, broadcaster, producer, clock, logger)
	service := NewMessageService(repo, sessions, streams, broadcaster, clock, logger)

	account := domain.Account{ID: "acct-1", Name: "Ada", Email: "ada@example.com"}
	repo.addAccount(account)
	repo.addRoom("room-1", "general")
	_, err := repo.AddMember(context.Background(), "room-1", account.ID)
	require.NoError(t, err)

	ticket, err := sessions.CreateSession(context.Background(), account.ID, domain.SessionMetadata{})
	require.NoError(t, err)

	return &messageFixture{
		service:     service,
		sessions:    sessions,
		repo:        repo,
		store:       store,
		broadcaster: broadcaster,
		clock:       clock,
		sessionID:   ticket.SessionID,
		account:     account,
		conn:        domain.NewConnection(account.ID, "conn-1", clock.Now()),
	}
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "  hello there  "})

	msgs := f.repo.messagesIn("room-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, "acct-1", msgs[0].SenderID)
	assert.Equal(t, "Ada", msgs[0].SenderName)

	events := f.broadcaster.roomEvents("room-1", domain.EventMessage)
	require.Len(t, events, 1)
	assert.Equal(t, msgs[0].ID, events[0].Payload.(domain.Message).ID)
}

func TestSendMessageEmptyContentIgnored(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "   \t  "})

	assert.Empty(t, f.repo.messagesIn("room-1"))
	assert.Empty(t, f.broadcaster.roomEvents("room-1", ""))
	assert.Empty(t, f.broadcaster.directEvents("conn-1", domain.EventError))
}

func TestSendMessageRequiresMembership(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	outsider := domain.Account{ID: "acct-2", Name: "Eve"}
	conn := domain.NewConnection(outsider.ID, "conn-2", f.clock.Now())

	f.service.SendMessage(context.Background(), &conn, outsider, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "hi"})

	errs := f.broadcaster.directEvents("conn-2", domain.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "MESSAGE_ERROR", errs[0].Payload.(domain.ErrorPayload).Code)
	assert.Empty(t, f.repo.messagesIn("room-1"))
}

func TestSendMessageRejectsDeadSession(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	require.NoError(t, f.sessions.RemoveSession(context.Background(), f.account.ID, ""))

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "hi"})

	errs := f.broadcaster.directEvents("conn-1", domain.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ReasonSessionNotFound, errs[0].Payload.(domain.ErrorPayload).Code)
	assert.Empty(t, f.repo.messagesIn("room-1"))
}

func TestSendMessageFileType(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	f.repo.files["file-1"] = domain.File{
		ID: "file-1", OwnerID: "acct-1", OriginalName: "report.pdf", MimeType: "application/pdf", Size: 2048,
	}

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageFile, FileID: "file-1", Content: "the report"})

	msgs := f.repo.messagesIn("room-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageFile, msgs[0].Type)
	assert.Equal(t, "file-1", msgs[0].FileID)
	assert.Equal(t, "report.pdf", msgs[0].Metadata.FileName)
}

func TestSendMessageFileNotOwned(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	f.repo.files["file-1"] = domain.File{ID: "file-1", OwnerID: "someone-else"}

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageFile, FileID: "file-1"})

	errs := f.broadcaster.directEvents("conn-1", domain.EventError)
	require.Len(t, errs, 1)
	assert.Empty(t, f.repo.messagesIn("room-1"))
}

func TestSendMessageMentionStartsGeneration(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{chunks: []string{"Certainly."}})

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "@wayneAI what is Go?"})

	require.Eventually(t, func() bool {
		return len(f.broadcaster.roomEvents("room-1", domain.EventAIMessageComplete)) == 1
	}, time.Second, 5*time.Millisecond)

	complete := f.broadcaster.roomEvents("room-1", domain.EventAIMessageComplete)[0].Payload.(domain.AIMessageCompletePayload)
	assert.Equal(t, "what is Go?", complete.Query)
	assert.Equal(t, domain.AITypeWayne, complete.AIType)

	// User message plus the persisted AI response.
	require.Eventually(t, func() bool {
		return len(f.repo.messagesIn("room-1")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSendMessageMultipleMentionsRunSequentially(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{chunks: []string{"answer"}})

	f.service.SendMessage(context.Background(), &f.conn, f.account, f.sessionID,
		domain.OutgoingMessage{RoomID: "room-1", Type: domain.MessageText, Content: "@wayneAI @consultingAI compare"})

	require.Eventually(t, func() bool {
		return len(f.broadcaster.roomEvents("room-1", domain.EventAIMessageComplete)) == 2
	}, time.Second, 5*time.Millisecond)

	starts := f.broadcaster.roomEvents("room-1", domain.EventAIMessageStart)
	require.Len(t, starts, 2)
	assert.Equal(t, domain.AITypeWayne, starts[0].Payload.(domain.AIMessageStartPayload).AIType)
	assert.Equal(t, domain.AITypeConsulting, starts[1].Payload.(domain.AIMessageStartPayload).AIType)
}

func TestMarkMessagesAsReadBroadcasts(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	seeded := f.repo.seedMessage(domain.Message{RoomID: "room-1", Type: domain.MessageText, Content: "x", Timestamp: f.clock.Now()})

	f.service.MarkMessagesAsRead(context.Background(), f.account, "room-1", []string{seeded.ID})

	require.Eventually(t, func() bool {
		return len(f.broadcaster.roomEvents("room-1", domain.EventMessagesRead)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.repo.readBy(seeded.ID, "acct-1"))

	payload := f.broadcaster.roomEvents("room-1", domain.EventMessagesRead)[0].Payload.(domain.MessagesReadPayload)
	assert.Equal(t, "acct-1", payload.UserID)
	assert.Equal(t, []string{seeded.ID}, payload.MessageIDs)
}

func TestToggleReaction(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})
	seeded := f.repo.seedMessage(domain.Message{RoomID: "room-1", Type: domain.MessageText, Content: "x", Timestamp: f.clock.Now()})

	f.service.ToggleReaction(context.Background(), &f.conn, f.account, seeded.ID, "👍", "add")

	updates := f.broadcaster.roomEvents("room-1", domain.EventMessageReactionUpdate)
	require.Len(t, updates, 1)
	payload := updates[0].Payload.(domain.ReactionUpdatePayload)
	assert.Equal(t, []string{"acct-1"}, payload.Reactions["👍"])

	f.service.ToggleReaction(context.Background(), &f.conn, f.account, seeded.ID, "👍", "remove")
	updates = f.broadcaster.roomEvents("room-1", domain.EventMessageReactionUpdate)
	require.Len(t, updates, 2)
	assert.Empty(t, updates[1].Payload.(domain.ReactionUpdatePayload).Reactions["👍"])
}

func TestToggleReactionUnknownMessage(t *testing.T) {
	t.Parallel()
	f := newMessageFixture(t, &scriptedProducer{})

	f.service.ToggleReaction(context.Background(), &f.conn, f.account, "missing", "👍", "add")

	errs := f.broadcaster.directEvents("conn-1", domain.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "REACTION_ERROR", errs[0].Payload.(domain.ErrorPayload).Code)
}
