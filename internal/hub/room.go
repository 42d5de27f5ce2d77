package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/meetinghub/internal/metrics"
	"k8s.io/utils/set"
)

// Room is the aggregate state for one meeting: host identity, admission
// sets, live participants, and the transcript. All reads and mutations of a
// Room's fields happen under mu; this is the room's logical serializer.
type Room struct {
	ID       RoomID
	registry *Registry

	mu sync.RWMutex

	HostUserID       UserID
	HostConnID       ConnID
	CreatedAt        time.Time
	Settings         RoomSettings
	MeetingStartTime *time.Time

	ApprovedUsers   set.Set[UserID]
	DeniedUsers     map[UserID]DenyRecord
	PendingRequests map[UserID]PendingRequest
	Participants    map[ConnID]*Participant

	TranscriptLog []TranscriptEntry
	seenEntryIDs  map[string]struct{}
	InterimByUser map[UserID]InterimEntry

	// conns holds every live connection currently attached to this room,
	// admitted or still waiting, keyed by ConnID. Separate from
	// Participants (the spec's domain-model field, admitted users only)
	// since a pending requester needs a send target too.
	conns map[ConnID]*Client

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	poisoned bool
}

func newRoom(id RoomID, registry *Registry) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		ID:              id,
		registry:        registry,
		CreatedAt:       time.Now(),
		Settings:        RoomSettings{WaitingRoomEnabled: true},
		ApprovedUsers:   set.New[UserID](),
		DeniedUsers:     make(map[UserID]DenyRecord),
		PendingRequests: make(map[UserID]PendingRequest),
		Participants:    make(map[ConnID]*Participant),
		seenEntryIDs:    make(map[string]struct{}),
		InterimByUser:   make(map[UserID]InterimEntry),
		conns:           make(map[ConnID]*Client),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// isEmpty reports whether the room has neither live participants nor
// pending requests and so is eligible for grace-period cleanup.
func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Participants) == 0 && len(r.PendingRequests) == 0
}

// shutdown cancels the room's context and waits on wg. Nothing registers
// with wg at present: the transcript-persistence goroutine started from
// handleTranscriptionEntry is not tracked and can outlive shutdown. Called by
// Registry.Close and by the grace-period cleanup after the room has already
// been dropped from the registry's map.
func (r *Room) shutdown() {
	r.cancel()
	r.wg.Wait()
}

// registerConn attaches a live connection to the room's send-routing table.
// Called by the Transport Gateway once a socket is associated with a room,
// before any domain event for that ConnID is dispatched.
func (r *Room) registerConn(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

// unregisterConn detaches a connection on disconnect. It does not by itself
// remove the corresponding Participant or PendingRequest entry -- that is
// the Admission Controller / Fanout's job, since the room-level cleanup
// semantics (null-conn pending request, participant removal + broadcast)
// differ by state.
func (r *Room) unregisterConn(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// sendTo enqueues a frame to a single live connection. Non-blocking: a full
// send queue is the Transport Gateway's sole drop point, handled inside
// Client.enqueue via force-close rather than here.
func (r *Room) sendTo(id ConnID, frame []byte) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok || id == "" {
		return
	}
	c.enqueue(frame)
}

// dispatch is the sole entry point for processing an inbound frame against
// this room. It isolates panics so a single poisoned room never takes down
// its neighbors -- the room is destroyed and every member is told the
// meeting ended, but the registry and every other room are unaffected.
func (r *Room) dispatch(ctx context.Context, sender *Client, evt Event, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in room dispatch, poisoning room", "room", r.ID, "event", evt, "panic", rec)
			r.poisonAndDestroy()
		}
	}()

	start := time.Now()
	status := "success"
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(evt)).Observe(time.Since(start).Seconds())
		metrics.WebSocketEvents.WithLabelValues(string(evt), status).Inc()
	}()

	var err error
	switch evt {
	case EventRequestJoinRoom:
		err = r.handleRequestJoinRoom(sender, raw)
	case EventUpdateWaitingSocket:
		err = r.handleUpdateWaitingSocket(sender, raw)
	case EventApproveJoinRequest:
		err = r.handleApprove(sender, raw)
	case EventDenyJoinRequest:
		err = r.handleDeny(sender, raw)
	case EventAdmitAllWaiting:
		err = r.handleAdmitAll(sender, raw)
	case EventJoinRoom:
		err = r.handleJoinRoom(sender, raw)
	case EventEndMeeting:
		err = r.handleEndMeeting(sender, raw)
	case EventOffer, EventAnswer:
		err = r.handleSignal(sender, evt, raw)
	case EventIceCandidate:
		err = r.handleIceCandidate(sender, raw)
	case EventRequestRenegotiation:
		err = r.handleRequestRenegotiation(sender, raw)
	case EventToggleMedia:
		err = r.handleToggleMedia(sender, raw)
	case EventRecordingStatus:
		err = r.handleRecordingStatus(sender, raw)
	case EventSendMessage:
		err = r.handleSendMessage(sender, raw)
	case EventLeaveRoom:
		err = r.handleLeaveRoom(sender, raw)
	case EventTranscriptionEntry:
		err = r.handleTranscriptionEntry(sender, raw)
	case EventTranscriptionInterim:
		err = r.handleTranscriptionInterim(sender, raw)
	case EventRequestTranscriptHistory:
		err = r.handleRequestTranscriptHistory(sender, raw)
	case EventSetMeetingStartTime:
		err = r.handleSetMeetingStartTime(sender, raw)
	case EventRequestMeetingStartTime:
		err = r.handleRequestMeetingStartTime(sender, raw)
	default:
		slog.Warn("received unknown message event", "event", evt, "room", r.ID)
		return
	}

	if err != nil {
		status = "error"
		if ie, ok := err.(*Error); ok && ie.Kind == ErrInternal {
			slog.Error("internal error in room handler, poisoning room", "room", r.ID, "event", evt, "error", err)
			r.poisonAndDestroy()
			return
		}
		r.sendTo(sender.id, marshal(toErrorOut(err)))
	}
}

// poisonAndDestroy marks the room poisoned, tells every member the meeting
// ended due to an internal error, and removes the room from the registry.
func (r *Room) poisonAndDestroy() {
	r.mu.Lock()
	if r.poisoned {
		r.mu.Unlock()
		return
	}
	r.poisoned = true
	conns := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	frame := marshal(MeetingEndedOut{Type: EventMeetingEnded, Reason: "internal error"})
	for _, c := range conns {
		c.enqueue(frame)
	}

	r.registry.destroyRoom(r.ID)
}

// sweepExpiredPending removes pending requests older than ttl, notifying
// the requester's connection (if still attached) that their request
// expired. Invoked by the registry's recurring sweeper goroutine.
func (r *Room) sweepExpiredPending(ttl time.Duration) {
	r.mu.Lock()
	now := time.Now()
	var expiredConns []ConnID
	for userID, req := range r.PendingRequests {
		if now.Sub(req.RequestedAt) >= ttl {
			delete(r.PendingRequests, userID)
			if req.ConnID != "" {
				expiredConns = append(expiredConns, req.ConnID)
			}
			metrics.AdmissionExpiredTotal.Inc()
		}
	}
	metrics.PendingRequestsGauge.WithLabelValues(string(r.ID)).Set(float64(len(r.PendingRequests)))
	r.mu.Unlock()

	frame := marshal(JoinRequestExpiredOut{Type: EventJoinRequestExpired, Message: "your join request has expired"})
	for _, conn := range expiredConns {
		r.sendTo(conn, frame)
	}
}
