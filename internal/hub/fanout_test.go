package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleJoinRoom_AdmittedUserBecomesParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-1")
	room.HostUserID = "host-1"
	room.ApprovedUsers.Insert("guest-1")

	host := newTestClient(room, "host-1", "Host", 4)
	room.Participants[host.id] = &Participant{ConnID: host.id, UserID: "host-1", IsHost: true}

	guest := newTestClient(room, "guest-1", "Guest", 4)
	err := room.handleJoinRoom(guest, marshal(struct {
		Type Event `json:"type"`
	}{Type: EventJoinRoom}))
	require.NoError(t, err)

	room.mu.RLock()
	_, isParticipant := room.Participants[guest.id]
	room.mu.RUnlock()
	assert.True(t, isParticipant)

	joined := drainFrame(t, host)
	assert.Equal(t, string(EventUserJoined), joined["type"])

	snapshot := drainFrame(t, guest)
	assert.Equal(t, string(EventExistingParticipants), snapshot["type"])
}

func TestHandleJoinRoom_ReconnectSupersedesStaleConnAndBroadcastsUserDisconnected(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-1b")
	room.HostUserID = "host-1"
	room.ApprovedUsers.Insert("guest-1")

	host := newTestClient(room, "host-1", "Host", 4)
	room.Participants[host.id] = &Participant{ConnID: host.id, UserID: "host-1", IsHost: true}

	staleConn := newTestClient(room, "guest-1", "Guest", 4)
	room.Participants[staleConn.id] = &Participant{ConnID: staleConn.id, UserID: "guest-1"}

	newConn := &Client{id: "guest-1-conn-2", userID: "guest-1", displayName: "Guest", conn: &fakeConn{}, send: make(chan []byte, 4), room: room}
	room.registerConn(newConn)

	err := room.handleJoinRoom(newConn, marshal(struct {
		Type Event `json:"type"`
	}{Type: EventJoinRoom}))
	require.NoError(t, err)

	room.mu.RLock()
	_, staleStillThere := room.Participants[staleConn.id]
	_, newIsThere := room.Participants[newConn.id]
	count := len(room.Participants)
	room.mu.RUnlock()
	assert.False(t, staleStillThere, "the stale conn_id must be superseded on reconnect")
	assert.True(t, newIsThere)
	assert.Equal(t, 2, count, "host + the single reconnected guest, not two guest entries")

	disconnected := drainFrame(t, host)
	assert.Equal(t, string(EventUserDisconnected), disconnected["type"])
	assert.Equal(t, "guest-1", disconnected["user_id"])

	joined := drainFrame(t, host)
	assert.Equal(t, string(EventUserJoined), joined["type"])
}

func TestHandleDisconnect_SupersededParticipantBroadcastsUserDisconnected(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-6b")

	staleConn := newTestClient(room, "alice", "Alice", 4)
	room.Participants[staleConn.id] = &Participant{ConnID: staleConn.id, UserID: "alice"}

	newConn := &Client{id: "alice-conn-2", userID: "alice", displayName: "Alice", conn: &fakeConn{}, send: make(chan []byte, 4), room: room}
	room.registerConn(newConn)
	room.Participants[newConn.id] = &Participant{ConnID: newConn.id, UserID: "alice"}

	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	room.handleDisconnect(staleConn)

	out := drainFrame(t, bob)
	assert.Equal(t, string(EventUserDisconnected), out["type"], "a disconnect superseded by an existing reconnect must not read as a departure")

	room.mu.RLock()
	_, newStillThere := room.Participants[newConn.id]
	room.mu.RUnlock()
	assert.True(t, newStillThere, "the live reconnected participant must be untouched")
}

func TestHandleJoinRoom_RejectsUnapprovedUser(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-2")
	room.HostUserID = "host-1"

	stranger := newTestClient(room, "stranger", "Stranger", 4)
	err := room.handleJoinRoom(stranger, marshal(struct {
		Type Event `json:"type"`
	}{Type: EventJoinRoom}))
	require.Error(t, err)
	assert.Equal(t, ErrAuthorization, err.(*Error).Kind)
}

func TestHandleLeaveRoom_BroadcastsUserLeft(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-3")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice", DisplayName: "Alice"}
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	require.NoError(t, room.handleLeaveRoom(alice, nil))

	out := drainFrame(t, bob)
	assert.Equal(t, string(EventUserLeft), out["type"])
	assert.Equal(t, "alice", out["user_id"])

	room.mu.RLock()
	_, stillThere := room.Participants[alice.id]
	room.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestHandleLeaveRoom_HostDepartureBroadcastsHostLeft(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-4")
	room.HostUserID = "host-1"

	host := newTestClient(room, "host-1", "Host", 4)
	room.HostConnID = host.id
	room.Participants[host.id] = &Participant{ConnID: host.id, UserID: "host-1", IsHost: true}

	guest := newTestClient(room, "guest-1", "Guest", 4)
	room.Participants[guest.id] = &Participant{ConnID: guest.id, UserID: "guest-1"}

	require.NoError(t, room.handleLeaveRoom(host, nil))

	drainFrame(t, guest) // user-left
	hostLeft := drainFrame(t, guest)
	assert.Equal(t, string(EventHostLeft), hostLeft["type"])
}

func TestHandleDisconnect_NullsPendingConnIDRatherThanRemoving(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-5")
	room.HostUserID = "host-1"

	waiter := newTestClient(room, "waiter", "Waiter", 4)
	room.PendingRequests["waiter"] = PendingRequest{UserID: "waiter", ConnID: waiter.id}

	room.handleDisconnect(waiter)

	room.mu.RLock()
	req, stillPending := room.PendingRequests["waiter"]
	room.mu.RUnlock()
	require.True(t, stillPending, "a disconnecting pending requester's request must be preserved, not removed")
	assert.Equal(t, ConnID(""), req.ConnID)
}

func TestHandleDisconnect_RemovesLiveParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-6")

	alice := newTestClient(room, "alice", "Alice", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}

	room.handleDisconnect(alice)

	room.mu.RLock()
	_, stillThere := room.Participants[alice.id]
	room.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestHandleEndMeeting_HostOnly(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-7")
	room.HostUserID = "host-1"

	notHost := newTestClient(room, "guest-1", "Guest", 4)
	err := room.handleEndMeeting(notHost, nil)
	require.Error(t, err)
	assert.Equal(t, ErrAuthorization, err.(*Error).Kind)
}

func TestHandleEndMeeting_BroadcastsAndDestroysRoom(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-8")
	room.HostUserID = "host-1"

	host := newTestClient(room, "host-1", "Host", 4)
	guest := newTestClient(room, "guest-1", "Guest", 4)

	err := room.handleEndMeeting(host, nil)
	require.NoError(t, err)

	for _, c := range []*Client{host, guest} {
		out := drainFrame(t, c)
		assert.Equal(t, string(EventMeetingEnded), out["type"])
	}

	_, ok := r.lookupRoom("room-8")
	assert.False(t, ok)
}

func TestHandleToggleMedia_UpdatesParticipantState(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-9")

	alice := newTestClient(room, "alice", "Alice", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}

	err := room.handleToggleMedia(alice, marshal(ToggleMediaIn{Kind: "audio", Enabled: true}))
	require.NoError(t, err)

	room.mu.RLock()
	state := room.Participants[alice.id].MediaState
	room.mu.RUnlock()
	assert.True(t, state.Audio)

	out := drainFrame(t, alice)
	assert.Equal(t, string(EventUserMediaToggle), out["type"])
	assert.Equal(t, "audio", out["media_type"])
}

func TestHandleToggleMedia_RejectsNonParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-10")

	stranger := newTestClient(room, "stranger", "Stranger", 4)
	err := room.handleToggleMedia(stranger, marshal(ToggleMediaIn{Kind: "video", Enabled: true}))
	require.Error(t, err)
}

func TestHandleSendMessage_BroadcastsToEveryone(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-11")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)

	require.NoError(t, room.handleSendMessage(alice, marshal(SendMessageIn{Message: "hello", UserName: "Alice"})))

	for _, c := range []*Client{alice, bob} {
		out := drainFrame(t, c)
		assert.Equal(t, string(EventReceiveMessage), out["type"])
		assert.Equal(t, "hello", out["message"])
	}
}
