package hub

import (
	"encoding/json"
	"time"

	"github.com/example/meetinghub/internal/metrics"
)

// broadcast sends frame to every live connection in the room except
// excludeConn (use "" to exclude no one). Grounded on the teacher's
// broadcastToClientMap/broadcastLocked: iterate, non-blocking per-client
// send via Client.enqueue, never let one slow client block the fanout.
func (r *Room) broadcast(frame []byte, excludeConn ConnID) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.conns))
	for id, c := range r.conns {
		if id == excludeConn {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// handleJoinRoom finalizes admission into the live Participants map once a
// caller has already been approved via request-join-room. Rejects callers
// who are neither the host nor in approved_users.
func (r *Room) handleJoinRoom(sender *Client, raw []byte) error {
	var in struct {
		RoomID     RoomID      `json:"room_id"`
		UserID     UserID      `json:"user_id"`
		UserName   DisplayName `json:"user_name"`
		MediaState MediaState  `json:"media_state"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed join-room payload")
	}

	userID := normalizeUserID(sender.userID)

	r.mu.Lock()
	isHost := userID == r.HostUserID
	if !isHost && !r.ApprovedUsers.Has(userID) {
		r.mu.Unlock()
		return newAuthErr("user has not been admitted to this room")
	}

	// A reconnect: the same user_id already holds a live Participant under a
	// different (stale) ConnID. Supersede it rather than let both entries
	// stand -- spec.md §3/§4.4: "a new Participant replaces the old one, same
	// user_id, different conn_id."
	var staleConnID ConnID
	for connID, p := range r.Participants {
		if p.UserID == userID && connID != sender.id {
			staleConnID = connID
			delete(r.Participants, connID)
			break
		}
	}

	participant := &Participant{
		ConnID:      sender.id,
		UserID:      userID,
		DisplayName: sender.displayName,
		IsHost:      isHost,
		MediaState:  in.MediaState,
		JoinedAt:    time.Now(),
	}
	r.Participants[sender.id] = participant

	existing := make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.ConnID != sender.id {
			existing = append(existing, p)
		}
	}
	metrics.RoomParticipants.WithLabelValues(string(r.ID)).Set(float64(len(r.Participants)))
	r.mu.Unlock()

	if staleConnID != "" {
		r.broadcast(marshal(UserDisconnectedOut{Type: EventUserDisconnected, UserID: userID}), staleConnID)
	}

	r.broadcast(marshal(UserJoinedOut{Type: EventUserJoined, UserID: userID, DisplayName: sender.displayName}), sender.id)

	snapshot := make([]Participant, 0, len(existing))
	for _, p := range existing {
		snapshot = append(snapshot, *p)
	}
	r.sendTo(sender.id, marshal(struct {
		Type         Event         `json:"type"`
		Participants []Participant `json:"participants"`
	}{Type: EventExistingParticipants, Participants: snapshot}))

	return nil
}

func (r *Room) handleLeaveRoom(sender *Client, raw []byte) error {
	r.removeParticipant(sender, "user-left")
	return nil
}

// removeParticipant drops sender from Participants and tells the rest of
// the room, optionally emitting host-left if the host just departed.
// reason is either "user-left" (explicit leave) or "user-disconnected"
// (stale-conn cleanup hint).
func (r *Room) removeParticipant(sender *Client, reason string) {
	r.mu.Lock()
	p, ok := r.Participants[sender.id]
	if ok {
		delete(r.Participants, sender.id)
	}
	wasHost := ok && p.UserID == r.HostUserID && sender.id == r.HostConnID
	if wasHost {
		r.HostConnID = ""
	}
	metrics.RoomParticipants.WithLabelValues(string(r.ID)).Set(float64(len(r.Participants)))
	empty := len(r.Participants) == 0 && len(r.PendingRequests) == 0
	r.mu.Unlock()

	if !ok {
		return
	}

	if reason == "user-left" {
		r.broadcast(marshal(UserLeftOut{Type: EventUserLeft, UserID: p.UserID, DisplayName: p.DisplayName}), sender.id)
	} else {
		r.broadcast(marshal(UserDisconnectedOut{Type: EventUserDisconnected, UserID: p.UserID}), sender.id)
	}

	if wasHost {
		r.broadcast(marshal(HostLeftOut{Type: EventHostLeft}), "")
	}

	if empty {
		r.registry.scheduleRemoval(r.ID)
	}
}

// handleDisconnect is invoked by the Transport Gateway when a socket closes,
// regardless of which domain state (pending or participant) the ConnID was
// in. Per spec.md §9's preserved Open Question, a disconnecting pending
// requester's stored conn_id is cleared to the zero value rather than the
// request being removed outright -- it remains eligible for expiry or a
// later UpdateWaitingConn rebind.
func (r *Room) handleDisconnect(c *Client) {
	r.unregisterConn(c.id)

	r.mu.Lock()
	if p, isParticipant := r.Participants[c.id]; isParticipant {
		superseded := false
		for connID, other := range r.Participants {
			if connID != c.id && other.UserID == p.UserID {
				superseded = true
				break
			}
		}
		r.mu.Unlock()

		if superseded {
			r.removeParticipant(c, "user-disconnected")
		} else {
			r.removeParticipant(c, "user-left")
		}
		return
	}

	userID := normalizeUserID(c.userID)
	if req, pending := r.PendingRequests[userID]; pending && req.ConnID == c.id {
		req.ConnID = ""
		r.PendingRequests[userID] = req
	}
	empty := len(r.Participants) == 0 && len(r.PendingRequests) == 0
	r.mu.Unlock()

	if empty {
		r.registry.scheduleRemoval(r.ID)
	}
}

func (r *Room) handleEndMeeting(sender *Client, raw []byte) error {
	r.mu.RLock()
	isHost := normalizeUserID(sender.userID) == r.HostUserID
	conns := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		conns = append(conns, id)
	}
	r.mu.RUnlock()

	if !isHost {
		return newAuthErr("only the host may end the meeting")
	}

	frame := marshal(MeetingEndedOut{Type: EventMeetingEnded, Reason: "host ended the meeting"})
	for _, id := range conns {
		r.sendTo(id, frame)
	}

	r.registry.destroyRoom(r.ID)
	return nil
}

func (r *Room) handleToggleMedia(sender *Client, raw []byte) error {
	var in ToggleMediaIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed toggle-media payload")
	}

	userID := normalizeUserID(sender.userID)

	r.mu.Lock()
	p, ok := r.Participants[sender.id]
	if ok {
		switch in.Kind {
		case "audio":
			p.MediaState.Audio = in.Enabled
		case "video":
			p.MediaState.Video = in.Enabled
		}
	}
	r.mu.Unlock()

	if !ok {
		return newInvalidStateErr("sender is not an admitted participant")
	}

	r.broadcast(marshal(UserMediaToggleOut{Type: EventUserMediaToggle, UserID: userID, Kind: in.Kind, Enabled: in.Enabled}), "")
	return nil
}

func (r *Room) handleRecordingStatus(sender *Client, raw []byte) error {
	var in RecordingStatusIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed recording-status payload")
	}
	r.broadcast(marshal(RecordingStatusChangedOut{
		Type:        EventRecordingStatusChange,
		IsRecording: in.IsRecording,
		UserName:    in.UserName,
	}), "")
	return nil
}

func (r *Room) handleSendMessage(sender *Client, raw []byte) error {
	var in SendMessageIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed send-message payload")
	}
	r.broadcast(marshal(ReceiveMessageOut{
		Type:     EventReceiveMessage,
		Message:  in.Message,
		UserName: in.UserName,
	}), "")
	return nil
}
