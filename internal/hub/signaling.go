package hub

import (
	"encoding/json"
	"fmt"

	"github.com/example/meetinghub/internal/metrics"
)

// relay is the Signaling Broker's single relay primitive: verify both
// endpoints are live participants of this room, check the payload size cap,
// and forward the raw frame untouched. Stateless beyond those checks;
// preserves per-(sender,receiver) order because sends to one ConnID's
// buffered channel are FIFO. The cap is configurable (spec.md §4.3/§6);
// never enforced at all by the teacher's forwardWebRTCSignal.
func (r *Room) relay(sender *Client, to ConnID, evt Event, raw []byte) error {
	if capBytes := r.registry.signalingPayloadCapBytes; len(raw) > capBytes {
		metrics.SignalingRelayedTotal.WithLabelValues(string(evt), "rejected").Inc()
		return newPayloadTooLargeErr(fmt.Sprintf("signaling payload exceeds %d byte cap", capBytes))
	}

	r.mu.RLock()
	_, senderLive := r.Participants[sender.id]
	_, targetLive := r.Participants[to]
	r.mu.RUnlock()

	if !senderLive {
		metrics.SignalingRelayedTotal.WithLabelValues(string(evt), "rejected").Inc()
		return newInvalidStateErr("sender is not an admitted participant")
	}
	if !targetLive {
		metrics.SignalingRelayedTotal.WithLabelValues(string(evt), "rejected").Inc()
		return newInvalidStateErr("target is not an admitted participant in this room")
	}

	r.sendTo(to, raw)
	metrics.SignalingRelayedTotal.WithLabelValues(string(evt), "relayed").Inc()
	return nil
}

func (r *Room) handleSignal(sender *Client, evt Event, raw []byte) error {
	var in SignalIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed signaling payload")
	}
	return r.relay(sender, in.To, evt, raw)
}

func (r *Room) handleIceCandidate(sender *Client, raw []byte) error {
	var in IceCandidateIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed ice-candidate payload")
	}
	return r.relay(sender, in.To, EventIceCandidate, raw)
}

func (r *Room) handleRequestRenegotiation(sender *Client, raw []byte) error {
	var in RequestRenegotiationIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed request-renegotiation payload")
	}
	frame := marshal(struct {
		Type Event  `json:"type"`
		To   ConnID `json:"to"`
		From ConnID `json:"from"`
	}{Type: EventRenegotiationNeeded, To: in.To, From: in.From})
	return r.relay(sender, in.To, EventRequestRenegotiation, frame)
}
