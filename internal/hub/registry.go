package hub

import (
	"sync"
	"time"

	"github.com/example/meetinghub/internal/bus"
	"github.com/example/meetinghub/internal/metrics"
	"github.com/example/meetinghub/internal/store"
)

// connBinding is the reverse-index entry for one live ConnID.
type connBinding struct {
	UserID UserID
	RoomID RoomID
}

// Registry is the process-wide indexed collection of live Rooms, plus the
// ConnID -> (UserID, RoomID) reverse index the Transport Gateway consults on
// connect/disconnect. It is the only shared mutable structure across room
// workers; everything else lives inside a single Room, guarded by that
// Room's own lock.
type Registry struct {
	mu                  sync.Mutex
	rooms               map[RoomID]*Room
	pendingRoomCleanups map[RoomID]*time.Timer
	cleanupGracePeriod  time.Duration

	connsMu sync.RWMutex
	conns   map[ConnID]connBinding

	bus *bus.Service

	sweepInterval time.Duration
	pendingTTL    time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once

	admissionDedupWindow     time.Duration
	signalingPayloadCapBytes int

	meetingStore store.MeetingStore
}

// RegistryConfig carries the tunables NewRegistry needs; zero values fall
// back to spec.md's defaults.
type RegistryConfig struct {
	CleanupGracePeriod       time.Duration
	SweepInterval            time.Duration
	PendingTTL               time.Duration
	AdmissionDedupWindow     time.Duration
	SignalingPayloadCapBytes int
	Bus                      *bus.Service

	// MeetingStore persists finalized transcript entries as they are
	// appended. Nil disables persistence entirely (e.g. in tests, or when
	// MEETING_STORE_BASE_URL is unset).
	MeetingStore store.MeetingStore
}

// NewRegistry constructs an empty Registry and starts its background
// expiration sweeper.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.CleanupGracePeriod == 0 {
		cfg.CleanupGracePeriod = 5 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.PendingTTL == 0 {
		cfg.PendingTTL = 5 * time.Minute
	}
	if cfg.AdmissionDedupWindow == 0 {
		cfg.AdmissionDedupWindow = 5 * time.Second
	}
	if cfg.SignalingPayloadCapBytes == 0 {
		cfg.SignalingPayloadCapBytes = 64 * 1024
	}

	r := &Registry{
		rooms:                    make(map[RoomID]*Room),
		pendingRoomCleanups:      make(map[RoomID]*time.Timer),
		cleanupGracePeriod:       cfg.CleanupGracePeriod,
		conns:                    make(map[ConnID]connBinding),
		bus:                      cfg.Bus,
		sweepInterval:            cfg.SweepInterval,
		pendingTTL:               cfg.PendingTTL,
		stopSweep:                make(chan struct{}),
		admissionDedupWindow:     cfg.AdmissionDedupWindow,
		signalingPayloadCapBytes: cfg.SignalingPayloadCapBytes,
		meetingStore:             cfg.MeetingStore,
	}

	go r.runSweeper()

	return r
}

// Close stops the registry's sweeper and every room's shutdown machinery.
func (r *Registry) Close() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })

	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.shutdown()
	}
}

// getOrCreateRoom returns the Room for id, creating it (and cancelling any
// pending grace-period cleanup) if necessary. Safe for concurrent use.
func (r *Registry) getOrCreateRoom(id RoomID) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[id]; ok {
		if timer, pending := r.pendingRoomCleanups[id]; pending {
			timer.Stop()
			delete(r.pendingRoomCleanups, id)
		}
		return room, false
	}

	room := newRoom(id, r)
	r.rooms[id] = room
	metrics.ActiveRooms.Inc()
	return room, true
}

// lookupRoom returns the Room for id without creating it.
func (r *Registry) lookupRoom(id RoomID) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

// scheduleRemoval arranges for an emptied room to be destroyed after the
// cleanup grace period, unless a reconnect cancels it first.
func (r *Registry) scheduleRemoval(id RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pendingRoomCleanups[id]; ok {
		existing.Stop()
		delete(r.pendingRoomCleanups, id)
	}

	timer := time.AfterFunc(r.cleanupGracePeriod, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		room, ok := r.rooms[id]
		if !ok {
			delete(r.pendingRoomCleanups, id)
			return
		}

		if room.isEmpty() {
			delete(r.rooms, id)
			delete(r.pendingRoomCleanups, id)
			metrics.ActiveRooms.Dec()
			metrics.RoomParticipants.DeleteLabelValues(string(id))
			metrics.PendingRequestsGauge.DeleteLabelValues(string(id))
			room.shutdown()
			return
		}

		delete(r.pendingRoomCleanups, id)
	})

	r.pendingRoomCleanups[id] = timer
}

// destroyRoom removes a room immediately, e.g. after EndMeeting or a poisoned
// handler panic.
func (r *Registry) destroyRoom(id RoomID) {
	r.mu.Lock()
	if timer, ok := r.pendingRoomCleanups[id]; ok {
		timer.Stop()
		delete(r.pendingRoomCleanups, id)
	}
	_, existed := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()

	if existed {
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(string(id))
		metrics.PendingRequestsGauge.DeleteLabelValues(string(id))
	}
}

// bindConn records the ConnID -> (UserID, RoomID) binding. Called by the
// Transport Gateway once identity has been resolved for a live connection.
func (r *Registry) bindConn(conn ConnID, user UserID, room RoomID) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	r.conns[conn] = connBinding{UserID: user, RoomID: room}
}

// unbindConn removes a ConnID from the reverse index on disconnect.
func (r *Registry) unbindConn(conn ConnID) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	delete(r.conns, conn)
}

// lookupConn resolves a ConnID to its bound identity, if any.
func (r *Registry) lookupConn(conn ConnID) (connBinding, bool) {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	b, ok := r.conns[conn]
	return b, ok
}

// runSweeper visits every room once per sweepInterval, expiring pending join
// requests older than pendingTTL. Grounded on the teacher's one-shot
// time.AfterFunc grace-period timer, generalized to a recurring ticker that
// fans out across the whole registry rather than a single room.
func (r *Registry) runSweeper() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepOnceNow()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Registry) sweepOnceNow() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.sweepExpiredPending(r.pendingTTL)
	}
}
