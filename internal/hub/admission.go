package hub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/example/meetinghub/internal/metrics"
)

// normalizeUserID applies the uniform normalization spec.md's Open Question
// calls for: case-preserving, whitespace-trimmed comparison at every
// insertion and lookup point where a UserID is keyed.
func normalizeUserID(u UserID) UserID {
	return UserID(strings.TrimSpace(string(u)))
}

func (r *Room) handleRequestJoinRoom(sender *Client, raw []byte) error {
	var in RequestJoinRoomIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed request-join-room payload")
	}

	userID := normalizeUserID(sender.userID)
	displayName := sender.displayName

	r.mu.Lock()

	// 1. Room is brand new: the requester becomes host.
	if r.HostUserID == "" {
		r.HostUserID = userID
		r.HostConnID = sender.id
		r.ApprovedUsers.Insert(userID)
		r.mu.Unlock()

		metrics.AdmissionRequestsTotal.WithLabelValues("approved_host").Inc()
		r.sendTo(sender.id, marshal(JoinApprovedOut{Type: EventJoinApproved, IsHost: true}))
		return nil
	}

	// 2. Returning host (reconnect / refresh): rebind host_conn_id.
	if userID == r.HostUserID {
		r.HostConnID = sender.id
		r.ApprovedUsers.Insert(userID)
		pending := r.snapshotPendingLocked()
		r.mu.Unlock()

		metrics.AdmissionRequestsTotal.WithLabelValues("approved_host").Inc()
		r.sendTo(sender.id, marshal(JoinApprovedOut{Type: EventJoinApproved, IsHost: true, PendingRequests: pending}))
		return nil
	}

	// 3. Previously denied: sticky denial until the room ends.
	if deny, denied := r.DeniedUsers[userID]; denied {
		r.mu.Unlock()
		metrics.AdmissionRequestsTotal.WithLabelValues("denied").Inc()
		r.sendTo(sender.id, marshal(JoinDeniedOut{Type: EventJoinDenied, Reason: deny.Reason, Permanent: false}))
		return nil
	}

	// 4. Already approved: reconnect straight through.
	if r.ApprovedUsers.Has(userID) {
		r.mu.Unlock()
		metrics.AdmissionRequestsTotal.WithLabelValues("approved").Inc()
		msg := "admitted"
		if in.IsRejoin {
			msg = "reconnected"
		}
		r.sendTo(sender.id, marshal(JoinApprovedOut{Type: EventJoinApproved, IsHost: false, Message: msg}))
		return nil
	}

	// 5. Duplicate request within the dedup window: ack without re-notifying host.
	if existing, pending := r.PendingRequests[userID]; pending {
		if time.Since(existing.RequestedAt) < r.registry.admissionDedupWindow {
			existing.ConnID = sender.id
			r.PendingRequests[userID] = existing
			r.mu.Unlock()
			metrics.AdmissionRequestsTotal.WithLabelValues("duplicate_pending").Inc()
			r.sendTo(sender.id, marshal(WaitingForApprovalOut{Type: EventWaitingForApproval, IsDuplicate: true}))
			return nil
		}
	}

	// 6. Fresh pending request.
	position := len(r.PendingRequests) + 1
	req := PendingRequest{
		UserID:      userID,
		DisplayName: displayName,
		ConnID:      sender.id,
		RequestedAt: time.Now(),
		Status:      RequestStatusPending,
	}
	r.PendingRequests[userID] = req
	hostConn := r.HostConnID
	metrics.PendingRequestsGauge.WithLabelValues(string(r.ID)).Set(float64(len(r.PendingRequests)))
	r.mu.Unlock()

	metrics.AdmissionRequestsTotal.WithLabelValues("pending").Inc()
	r.sendTo(sender.id, marshal(WaitingForApprovalOut{Type: EventWaitingForApproval, Position: position}))
	if hostConn != "" {
		r.sendTo(hostConn, marshal(JoinRequestOut{
			Type:        EventJoinRequest,
			UserID:      userID,
			DisplayName: displayName,
			RequestedAt: req.RequestedAt.Unix(),
		}))
	}
	return nil
}

// snapshotPendingLocked returns the current pending-request queue. Caller
// must hold r.mu.
func (r *Room) snapshotPendingLocked() []PendingRequest {
	out := make([]PendingRequest, 0, len(r.PendingRequests))
	for _, req := range r.PendingRequests {
		out = append(out, req)
	}
	return out
}

func (r *Room) handleUpdateWaitingSocket(sender *Client, raw []byte) error {
	var in UpdateWaitingSocketIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed update-waiting-socket payload")
	}

	userID := normalizeUserID(sender.userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.PendingRequests[userID]
	if !ok {
		return newInvalidStateErr("no pending request for user")
	}
	req.ConnID = sender.id
	r.PendingRequests[userID] = req
	return nil
}

// authorizeHost enforces spec.md §4.2's double authorization check: the
// acting connection's server-bound identity must equal the claimed approver,
// AND the claimed approver must equal the room's immutable host.
func (r *Room) authorizeHost(sender *Client, claimedApprover UserID) error {
	if normalizeUserID(sender.userID) != normalizeUserID(claimedApprover) {
		return newAuthErr("approver_user_id does not match authenticated identity")
	}
	if normalizeUserID(claimedApprover) != r.HostUserID {
		return newAuthErr("only the host may perform this action")
	}
	return nil
}

func (r *Room) handleApprove(sender *Client, raw []byte) error {
	var in ApproveJoinRequestIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed approve-join-request payload")
	}

	r.mu.Lock()
	if err := r.authorizeHost(sender, in.ApproverUserID); err != nil {
		r.mu.Unlock()
		return err
	}

	target := normalizeUserID(in.UserID)
	req, pending := r.PendingRequests[target]
	if !pending {
		r.mu.Unlock()
		return newInvalidStateErr("user is not pending")
	}

	delete(r.PendingRequests, target)
	r.ApprovedUsers.Insert(target)
	metrics.PendingRequestsGauge.WithLabelValues(string(r.ID)).Set(float64(len(r.PendingRequests)))
	hostConn := r.HostConnID
	r.mu.Unlock()

	metrics.AdmissionRequestsTotal.WithLabelValues("approved").Inc()
	r.sendTo(req.ConnID, marshal(JoinApprovedOut{Type: EventJoinApproved, IsHost: false}))
	r.sendTo(hostConn, marshal(JoinRequestProcessedOut{Type: EventJoinRequestProcessed, Action: "approved", UserID: target}))
	return nil
}

func (r *Room) handleDeny(sender *Client, raw []byte) error {
	var in DenyJoinRequestIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed deny-join-request payload")
	}

	r.mu.Lock()
	if err := r.authorizeHost(sender, in.ApproverUserID); err != nil {
		r.mu.Unlock()
		return err
	}

	target := normalizeUserID(in.UserID)
	req, pending := r.PendingRequests[target]
	if !pending {
		r.mu.Unlock()
		return newInvalidStateErr("user is not pending")
	}

	delete(r.PendingRequests, target)
	r.DeniedUsers[target] = DenyRecord{UserID: target, DeniedAt: time.Now(), Reason: in.Reason}
	metrics.PendingRequestsGauge.WithLabelValues(string(r.ID)).Set(float64(len(r.PendingRequests)))
	hostConn := r.HostConnID
	r.mu.Unlock()

	metrics.AdmissionRequestsTotal.WithLabelValues("denied").Inc()
	r.sendTo(req.ConnID, marshal(JoinDeniedOut{Type: EventJoinDenied, Reason: in.Reason, Permanent: false}))
	r.sendTo(hostConn, marshal(JoinRequestProcessedOut{Type: EventJoinRequestProcessed, Action: "denied", UserID: target}))
	return nil
}

func (r *Room) handleAdmitAll(sender *Client, raw []byte) error {
	var in AdmitAllWaitingIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed admit-all-waiting payload")
	}

	r.mu.Lock()
	if err := r.authorizeHost(sender, in.ApproverUserID); err != nil {
		r.mu.Unlock()
		return err
	}

	admitted := make([]PendingRequest, 0, len(r.PendingRequests))
	for userID, req := range r.PendingRequests {
		r.ApprovedUsers.Insert(userID)
		admitted = append(admitted, req)
	}
	r.PendingRequests = make(map[UserID]PendingRequest)
	metrics.PendingRequestsGauge.WithLabelValues(string(r.ID)).Set(0)
	hostConn := r.HostConnID
	r.mu.Unlock()

	metrics.AdmissionRequestsTotal.WithLabelValues("approved").Add(float64(len(admitted)))
	for _, req := range admitted {
		r.sendTo(req.ConnID, marshal(JoinApprovedOut{Type: EventJoinApproved, IsHost: false}))
	}
	r.sendTo(hostConn, marshal(AllAdmittedOut{Type: EventAllAdmitted, Count: len(admitted)}))
	return nil
}
