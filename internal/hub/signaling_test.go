package hub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_ForwardsToLiveParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-1")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	frame := []byte(`{"type":"offer","to":"bob-conn"}`)
	err := room.relay(alice, bob.id, EventOffer, frame)
	require.NoError(t, err)

	select {
	case got := <-bob.send:
		assert.Equal(t, frame, got)
	default:
		t.Fatal("expected bob to receive the relayed frame")
	}
}

func TestRelay_RejectsWhenSenderNotParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-2")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	err := room.relay(alice, bob.id, EventOffer, []byte(`{}`))
	require.Error(t, err)
	hubErr := err.(*Error)
	assert.Equal(t, ErrInvalidState, hubErr.Kind)
}

func TestRelay_RejectsWhenTargetNotParticipant(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-3")

	alice := newTestClient(room, "alice", "Alice", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}

	err := room.relay(alice, "nonexistent-conn", EventOffer, []byte(`{}`))
	require.Error(t, err)
}

func TestRelay_RejectsOversizedPayload(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-4")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	oversized := []byte(`{"type":"offer","payload":"` + strings.Repeat("x", room.registry.signalingPayloadCapBytes+1) + `"}`)
	err := room.relay(alice, bob.id, EventOffer, oversized)
	require.Error(t, err)
	hubErr := err.(*Error)
	assert.Equal(t, ErrPayloadTooLarge, hubErr.Kind)
}

func TestHandleIceCandidate_RelaysToTarget(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-5")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	err := room.handleIceCandidate(alice, marshal(IceCandidateIn{Type: EventIceCandidate, To: bob.id, From: alice.id}))
	require.NoError(t, err)

	select {
	case <-bob.send:
	default:
		t.Fatal("expected bob to receive the ice-candidate frame")
	}
}

func TestHandleRequestRenegotiation_BuildsNewEventType(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	room, _ := r.getOrCreateRoom("room-6")

	alice := newTestClient(room, "alice", "Alice", 4)
	bob := newTestClient(room, "bob", "Bob", 4)
	room.Participants[alice.id] = &Participant{ConnID: alice.id, UserID: "alice"}
	room.Participants[bob.id] = &Participant{ConnID: bob.id, UserID: "bob"}

	err := room.handleRequestRenegotiation(alice, marshal(RequestRenegotiationIn{To: bob.id, From: alice.id}))
	require.NoError(t, err)

	out := drainFrame(t, bob)
	assert.Equal(t, string(EventRenegotiationNeeded), out["type"])
}
