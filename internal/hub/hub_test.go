package hub

import (
	"context"
	"sync"
	"time"

	"github.com/example/meetinghub/internal/store"
)

// fakeConn is an in-memory wsConnection double used across tests in this
// package; it never touches a real socket.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// newTestClient builds a Client wired to a fresh fakeConn and a send queue of
// depth queueDepth, registered against room if non-nil.
func newTestClient(room *Room, userID UserID, displayName DisplayName, queueDepth int) *Client {
	c := &Client{
		id:          ConnID(string(userID) + "-conn"),
		userID:      userID,
		displayName: displayName,
		conn:        &fakeConn{},
		send:        make(chan []byte, queueDepth),
		room:        room,
	}
	if room != nil {
		room.registerConn(c)
	}
	return c
}

func newTestRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		CleanupGracePeriod: 20 * time.Millisecond,
		SweepInterval:      10 * time.Millisecond,
		PendingTTL:         50 * time.Millisecond,
	})
}

// fakeMeetingStore is an in-memory store.MeetingStore double; the channel
// receives a copy of every persisted transcript entry so tests can
// synchronize with the fire-and-forget persistence goroutine.
type fakeMeetingStore struct {
	persisted chan store.TranscriptEntryDTO
}

func newFakeMeetingStore() *fakeMeetingStore {
	return &fakeMeetingStore{persisted: make(chan store.TranscriptEntryDTO, 8)}
}

func (f *fakeMeetingStore) PersistTranscript(ctx context.Context, roomID string, entry store.TranscriptEntryDTO) error {
	f.persisted <- entry
	return nil
}

func (f *fakeMeetingStore) PersistRecordingMetadata(ctx context.Context, meta store.RecordingMetadata) error {
	return nil
}

func (f *fakeMeetingStore) ReadMeetingRecord(ctx context.Context, roomID string) (*store.MeetingRecord, error) {
	return nil, nil
}

func (f *fakeMeetingStore) Close() error { return nil }
