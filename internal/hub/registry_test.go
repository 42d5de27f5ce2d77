package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistry_GetOrCreateRoom_CreatesOnce(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room1, created1 := r.getOrCreateRoom("room-a")
	assert.True(t, created1)

	room2, created2 := r.getOrCreateRoom("room-a")
	assert.False(t, created2)
	assert.Same(t, room1, room2)
}

func TestRegistry_LookupRoom_Missing(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	_, ok := r.lookupRoom("does-not-exist")
	assert.False(t, ok)
}

func TestRegistry_ScheduleRemoval_RemovesEmptyRoomAfterGrace(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room, _ := r.getOrCreateRoom("room-b")
	r.scheduleRemoval(room.ID)

	_, stillThere := r.lookupRoom("room-b")
	assert.True(t, stillThere, "room should survive until grace period elapses")

	time.Sleep(60 * time.Millisecond)

	_, goneNow := r.lookupRoom("room-b")
	assert.False(t, goneNow)
}

func TestRegistry_ScheduleRemoval_CancelledByReconnect(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room, _ := r.getOrCreateRoom("room-c")
	r.scheduleRemoval(room.ID)

	// Reconnect before the grace period elapses.
	r.getOrCreateRoom("room-c")

	time.Sleep(60 * time.Millisecond)

	_, stillThere := r.lookupRoom("room-c")
	assert.True(t, stillThere)
}

func TestRegistry_ScheduleRemoval_SkipsNonEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room, _ := r.getOrCreateRoom("room-d")
	room.Participants[ConnID("c1")] = &Participant{ConnID: "c1", UserID: "u1"}
	r.scheduleRemoval(room.ID)

	time.Sleep(60 * time.Millisecond)

	_, stillThere := r.lookupRoom("room-d")
	assert.True(t, stillThere, "a room with live participants must not be destroyed by a stale grace timer")
}

func TestRegistry_DestroyRoom_Immediate(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room, _ := r.getOrCreateRoom("room-e")
	r.destroyRoom(room.ID)

	_, ok := r.lookupRoom("room-e")
	assert.False(t, ok)
}

func TestRegistry_BindUnbindConn(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.bindConn("conn-1", "user-1", "room-1")
	binding, ok := r.lookupConn("conn-1")
	assert.True(t, ok)
	assert.Equal(t, UserID("user-1"), binding.UserID)
	assert.Equal(t, RoomID("room-1"), binding.RoomID)

	r.unbindConn("conn-1")
	_, ok = r.lookupConn("conn-1")
	assert.False(t, ok)
}

func TestRegistry_Sweeper_ExpiresPendingRequests(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	room, _ := r.getOrCreateRoom("room-f")
	room.HostUserID = "host-1"
	room.PendingRequests["waiter"] = PendingRequest{
		UserID:      "waiter",
		ConnID:      "waiter-conn",
		RequestedAt: time.Now().Add(-time.Hour),
		Status:      RequestStatusPending,
	}

	assert.Eventually(t, func() bool {
		room.mu.RLock()
		defer room.mu.RUnlock()
		_, pending := room.PendingRequests["waiter"]
		return !pending
	}, 500*time.Millisecond, 10*time.Millisecond)
}
