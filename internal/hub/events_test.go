package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffType_ExtractsDiscriminator(t *testing.T) {
	evt, err := sniffType([]byte(`{"type":"offer","to":"conn-1"}`))
	require.NoError(t, err)
	assert.Equal(t, EventOffer, evt)
}

func TestSniffType_MalformedJSONErrors(t *testing.T) {
	_, err := sniffType([]byte(`not json`))
	require.Error(t, err)
}

func TestToggleMediaIn_WireFieldIsMediaTypeNotType(t *testing.T) {
	raw := []byte(`{"type":"toggle-media","room_id":"r1","media_type":"video","enabled":true}`)
	var in ToggleMediaIn
	require.NoError(t, json.Unmarshal(raw, &in))
	assert.Equal(t, "video", in.Kind)
	assert.Equal(t, EventToggleMedia, in.Type)
}

func TestToErrorOut_HubErrorPreservesMessage(t *testing.T) {
	out := toErrorOut(newAuthErr("nope"))
	assert.Equal(t, EventError, out.Type)
	assert.Equal(t, "nope", out.Message)
}

func TestToErrorOut_NonHubErrorDoesNotLeakText(t *testing.T) {
	out := toErrorOut(assertError{})
	assert.Equal(t, "internal error", out.Message)
}

type assertError struct{}

func (assertError) Error() string { return "some internal detail that must not leak" }

func TestMarshal_ProducesValidJSONForEveryOutboundType(t *testing.T) {
	values := []any{
		JoinApprovedOut{Type: EventJoinApproved, IsHost: true},
		JoinDeniedOut{Type: EventJoinDenied, Reason: "x"},
		WaitingForApprovalOut{Type: EventWaitingForApproval},
		AllAdmittedOut{Type: EventAllAdmitted, Count: 3},
		UserMediaToggleOut{Type: EventUserMediaToggle, Kind: "audio", Enabled: true},
		MeetingEndedOut{Type: EventMeetingEnded, Reason: "host ended the meeting"},
	}
	for _, v := range values {
		frame := marshal(v)
		assert.NotEmpty(t, frame)
		evt, err := sniffType(frame)
		require.NoError(t, err)
		assert.NotEmpty(t, evt)
	}
}
