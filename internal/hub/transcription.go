package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/example/meetinghub/internal/metrics"
	"github.com/example/meetinghub/internal/store"
)

// handleTranscriptionEntry appends a finalized utterance to transcript_log,
// rejecting a sender/asserted-user_id mismatch per spec.md's closed Open
// Question on transcription spoofing.
func (r *Room) handleTranscriptionEntry(sender *Client, raw []byte) error {
	var in TranscriptionEntryIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed transcription-entry payload")
	}

	if normalizeUserID(in.UserID) != normalizeUserID(sender.userID) {
		return newAuthErr("asserted user_id does not match authenticated identity")
	}

	r.mu.Lock()
	if _, isParticipant := r.Participants[sender.id]; !isParticipant {
		r.mu.Unlock()
		return newInvalidStateErr("sender is not an admitted participant")
	}

	if _, seen := r.seenEntryIDs[in.EntryID]; seen {
		r.mu.Unlock()
		return nil
	}

	entry := TranscriptEntry{
		EntryID:            in.EntryID,
		UserID:             normalizeUserID(in.UserID),
		DisplayName:        in.UserName,
		Text:               in.Text,
		WallTime:           time.Unix(in.Timestamp, 0),
		SecondsIntoMeeting: in.SecondsIntoMeeting,
		Confidence:         in.Confidence,
		IsFinal:            true,
	}
	r.TranscriptLog = append(r.TranscriptLog, entry)
	r.seenEntryIDs[in.EntryID] = struct{}{}
	delete(r.InterimByUser, entry.UserID)
	r.mu.Unlock()

	metrics.TranscriptEntriesTotal.Inc()

	r.broadcast(marshal(TranscriptionUpdateOut{
		Type:               EventTranscriptionUpdate,
		EntryID:            entry.EntryID,
		UserID:             entry.UserID,
		UserName:           entry.DisplayName,
		Text:               entry.Text,
		Timestamp:          in.Timestamp,
		SecondsIntoMeeting: entry.SecondsIntoMeeting,
		Confidence:         entry.Confidence,
	}), sender.id)

	if ms := r.registry.meetingStore; ms != nil {
		go r.persistTranscriptEntry(ms, entry)
	}

	return nil
}

// persistTranscriptEntry ships a finalized entry to the Meeting Store off
// the dispatch goroutine; never called while r.mu is held. A persistence
// failure is logged and otherwise swallowed -- the in-memory TranscriptLog
// remains the source of truth for the life of the room.
func (r *Room) persistTranscriptEntry(ms store.MeetingStore, entry TranscriptEntry) {
	dto := store.TranscriptEntryDTO{
		EntryID:            entry.EntryID,
		UserID:             string(entry.UserID),
		DisplayName:        string(entry.DisplayName),
		Text:               entry.Text,
		WallTime:           entry.WallTime.Unix(),
		SecondsIntoMeeting: entry.SecondsIntoMeeting,
		Confidence:         entry.Confidence,
	}
	if err := ms.PersistTranscript(context.Background(), string(r.ID), dto); err != nil {
		slog.Warn("failed to persist transcript entry", "room", r.ID, "entryID", entry.EntryID, "error", err)
	}
}

// handleTranscriptionInterim writes/overwrites interim_by_user[user_id], or
// clears the slot if text is empty. Ephemeral, never persisted.
func (r *Room) handleTranscriptionInterim(sender *Client, raw []byte) error {
	var in TranscriptionInterimIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed transcription-interim payload")
	}

	if normalizeUserID(in.UserID) != normalizeUserID(sender.userID) {
		return newAuthErr("asserted user_id does not match authenticated identity")
	}

	userID := normalizeUserID(in.UserID)

	r.mu.Lock()
	if _, isParticipant := r.Participants[sender.id]; !isParticipant {
		r.mu.Unlock()
		return newInvalidStateErr("sender is not an admitted participant")
	}

	if in.Text == "" {
		delete(r.InterimByUser, userID)
	} else {
		r.InterimByUser[userID] = InterimEntry{
			UserID:      userID,
			DisplayName: in.UserName,
			Text:        in.Text,
			LastUpdate:  time.Unix(in.Timestamp, 0),
		}
	}
	r.mu.Unlock()

	r.broadcast(marshal(TranscriptionInterimOut{
		Type:      EventTranscriptionInterim,
		UserID:    userID,
		UserName:  in.UserName,
		Text:      in.Text,
		Timestamp: in.Timestamp,
	}), sender.id)

	return nil
}

func (r *Room) handleRequestTranscriptHistory(sender *Client, raw []byte) error {
	r.mu.RLock()
	entries := make([]TranscriptEntry, len(r.TranscriptLog))
	copy(entries, r.TranscriptLog)
	r.mu.RUnlock()

	r.sendTo(sender.id, marshal(TranscriptionHistoryOut{
		Type:    EventTranscriptionHistory,
		Entries: entries,
		Count:   len(entries),
	}))
	return nil
}

// handleSetMeetingStartTime is host-only and idempotent: the first call
// wins, subsequent calls are silently ignored.
func (r *Room) handleSetMeetingStartTime(sender *Client, raw []byte) error {
	var in SetMeetingStartTimeIn
	if err := json.Unmarshal(raw, &in); err != nil {
		return newInvalidStateErr("malformed set-meeting-start-time payload")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if normalizeUserID(sender.userID) != r.HostUserID {
		return newAuthErr("only the host may set the meeting start time")
	}

	if r.MeetingStartTime != nil {
		return nil
	}

	t := time.Unix(in.StartTime, 0)
	r.MeetingStartTime = &t
	return nil
}

func (r *Room) handleRequestMeetingStartTime(sender *Client, raw []byte) error {
	r.mu.RLock()
	start := r.MeetingStartTime
	r.mu.RUnlock()

	out := MeetingStartTimeOut{Type: EventMeetingStartTime}
	if start != nil {
		out.StartTime = start.Unix()
	}
	r.sendTo(sender.id, marshal(out))
	return nil
}
