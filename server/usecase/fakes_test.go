package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errStoreDown = errors.New("store unreachable")

type storeEntry struct {
	value     string
	expiresAt time.Time
}

// fakeStore is an in-memory StateStore with clock-driven TTLs and an
// outage switch.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]storeEntry
	clock   *fakeClock
	down    bool
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{entries: make(map[string]storeEntry), clock: clock}
}

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = storeEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return "", errStoreDown
	}
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrKeyMiss
	}
	if !entry.expiresAt.IsZero() && s.clock.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", ErrKeyMiss
	}
	return entry.value, nil
}

func (s *fakeStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data), ttl)
}

func (s *fakeStore) GetJSON(ctx context.Context, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	entry, ok := s.entries[key]
	if !ok {
		return ErrKeyMiss
	}
	entry.expiresAt = s.clock.Now().Add(ttl)
	s.entries[key] = entry
	return nil
}

type closedConn struct {
	connectionID string
	reason       domain.DisconnectReason
}

// fakeBroadcaster records every fanout call so tests can assert exact
// event sequences.
type fakeBroadcaster struct {
	mu        sync.Mutex
	room      map[string][]domain.StreamEvent
	direct    map[string][]domain.StreamEvent
	rooms     map[string]map[string]bool // connectionID -> attached rooms
	connected map[string]bool
	closed    []closedConn
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		room:      make(map[string][]domain.StreamEvent),
		direct:    make(map[string][]domain.StreamEvent),
		rooms:     make(map[string]map[string]bool),
		connected: make(map[string]bool),
	}
}

func (b *fakeBroadcaster) connect(connectionID string) {
	b.mu.Lock()
	b.connected[connectionID] = true
	b.mu.Unlock()
}

func (b *fakeBroadcaster) disconnect(connectionID string) {
	b.mu.Lock()
	delete(b.connected, connectionID)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) BroadcastToRoom(roomID string, event domain.StreamEvent) {
	b.mu.Lock()
	b.room[roomID] = append(b.room[roomID], event)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) SendToConnection(connectionID string, event domain.StreamEvent) {
	b.mu.Lock()
	b.direct[connectionID] = append(b.direct[connectionID], event)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) AttachToRoom(connectionID, roomID string) {
	b.mu.Lock()
	if b.rooms[connectionID] == nil {
		b.rooms[connectionID] = make(map[string]bool)
	}
	b.rooms[connectionID][roomID] = true
	b.mu.Unlock()
}

func (b *fakeBroadcaster) DetachFromRoom(connectionID, roomID string) {
	b.mu.Lock()
	delete(b.rooms[connectionID], roomID)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) CloseConnection(connectionID string, reason domain.DisconnectReason) {
	b.mu.Lock()
	b.closed = append(b.closed, closedConn{connectionID: connectionID, reason: reason})
	delete(b.connected, connectionID)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) IsConnected(connectionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected[connectionID]
}

func (b *fakeBroadcaster) attached(connectionID, roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[connectionID][roomID]
}

func (b *fakeBroadcaster) roomEvents(roomID, name string) []domain.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamEvent
	for _, e := range b.room[roomID] {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) directEvents(connectionID, name string) []domain.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamEvent
	for _, e := range b.direct[connectionID] {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) closedConnections() []closedConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]closedConn(nil), b.closed...)
}

// fakeRepo is an in-memory Repository with injectable page-load failures.
type fakeRepo struct {
	mu       sync.Mutex
	rooms    map[string]*domain.Room
	messages map[string][]domain.Message // roomID -> chronological
	accounts map[string]domain.Account
	files    map[string]domain.File
	readers  map[string]map[string]bool // messageID -> account ids

	nextID         int
	addMemberCalls int
	pageCalls      int
	pageFailures   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:    make(map[string]*domain.Room),
		messages: make(map[string][]domain.Message),
		accounts: make(map[string]domain.Account),
		files:    make(map[string]domain.File),
		readers:  make(map[string]map[string]bool),
	}
}

func (r *fakeRepo) addRoom(roomID, name string) {
	r.mu.Lock()
	r.rooms[roomID] = &domain.Room{ID: roomID, Name: name}
	r.mu.Unlock()
}

func (r *fakeRepo) addAccount(account domain.Account) {
	r.mu.Lock()
	r.accounts[account.ID] = account
	r.mu.Unlock()
}

func (r *fakeRepo) seedMessage(msg domain.Message) domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(msg)
}

func (r *fakeRepo) insertLocked(msg domain.Message) domain.Message {
	if msg.ID == "" {
		r.nextID++
		msg.ID = fmt.Sprintf("msg-%04d", r.nextID)
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	r.messages[msg.RoomID] = append(r.messages[msg.RoomID], msg)
	sort.SliceStable(r.messages[msg.RoomID], func(i, j int) bool {
		return r.messages[msg.RoomID][i].Timestamp.Before(r.messages[msg.RoomID][j].Timestamp)
	})
	return msg
}

func (r *fakeRepo) FindRoomIfMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || !room.HasParticipant(accountID) {
		return domain.Room{}, ErrNotFound
	}
	return *room, nil
}

func (r *fakeRepo) AddMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addMemberCalls++
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Room{}, ErrNotFound
	}
	if !room.HasParticipant(accountID) {
		account := r.accounts[accountID]
		if account.ID == "" {
			account = domain.Account{ID: accountID, Name: accountID}
		}
		room.Participants = append(room.Participants, account.Participant())
	}
	return *room, nil
}

func (r *fakeRepo) RemoveMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Room{}, ErrNotFound
	}
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p.ID != accountID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	return *room, nil
}

func (r *fakeRepo) FindMessagePage(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageCalls++
	if r.pageFailures > 0 {
		r.pageFailures--
		return nil, errors.New("transient backend failure")
	}
	var page []domain.Message
	msgs := r.messages[roomID]
	for i := len(msgs) - 1; i >= 0 && len(page) < limit; i-- {
		if before != nil && !msgs[i].Timestamp.Before(*before) {
			continue
		}
		page = append(page, msgs[i])
	}
	return page, nil
}

func (r *fakeRepo) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(msg), nil
}

func (r *fakeRepo) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return m, nil
			}
		}
	}
	return domain.Message{}, ErrNotFound
}

func (r *fakeRepo) MarkMessagesRead(ctx context.Context, roomID string, messageIDs []string, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range messageIDs {
		if r.readers[id] == nil {
			r.readers[id] = make(map[string]bool)
		}
		r.readers[id][accountID] = true
	}
	return nil
}

func (r *fakeRepo) AddReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error) {
	return r.mutateReaction(messageID, func(reactions map[string][]string) {
		for _, id := range reactions[reaction] {
			if id == accountID {
				return
			}
		}
		reactions[reaction] = append(reactions[reaction], accountID)
	})
}

func (r *fakeRepo) RemoveReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error) {
	return r.mutateReaction(messageID, func(reactions map[string][]string) {
		kept := reactions[reaction][:0]
		for _, id := range reactions[reaction] {
			if id != accountID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(reactions, reaction)
		} else {
			reactions[reaction] = kept
		}
	})
}

func (r *fakeRepo) mutateReaction(messageID string, mutate func(map[string][]string)) (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, msgs := range r.messages {
		for i, m := range msgs {
			if m.ID == messageID {
				mutate(m.Reactions)
				r.messages[roomID][i] = m
				return m.Reactions, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return account, nil
}

func (r *fakeRepo) GetFileOwned(ctx context.Context, fileID, accountID string) (domain.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[fileID]
	if !ok || file.OwnerID != accountID {
		return domain.File{}, ErrNotFound
	}
	return file, nil
}

func (r *fakeRepo) messagesIn(roomID string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages[roomID]...)
}

func (r *fakeRepo) readBy(messageID, accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readers[messageID][accountID]
}

func (r *fakeRepo) pageCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageCalls
}

func (r *fakeRepo) failNextPageLoads(n int) {
	r.mu.Lock()
	r.pageFailures = n
	r.mu.Unlock()
}

func (r *fakeRepo) memberCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addMemberCalls
}

// scriptedProducer emits a fixed chunk sequence, then completes or fails.
type scriptedProducer struct {
	chunks  []string
	err     error
	midHook func()
}

func (p *scriptedProducer) Generate(ctx context.Context, query, aiType string, cb StreamCallbacks) error {
	if cb.OnStart != nil {
		cb.OnStart()
	}
	var content string
	for i, chunk := range p.chunks {
		content += chunk
		if cb.OnChunk != nil {
			cb.OnChunk(chunk)
		}
		if i == 0 && p.midHook != nil {
			p.midHook()
		}
	}
	if p.err != nil {
		if cb.OnError != nil {
			cb.OnError(p.err)
		}
		return p.err
	}
	if cb.OnComplete != nil {
		cb.OnComplete(GenerationResult{
			Content:          content,
			CompletionTokens: len(p.chunks),
			TotalTokens:      len(p.chunks) + 1,
		})
	}
	return nil
}
