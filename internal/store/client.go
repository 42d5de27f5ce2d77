// Package store adapts the hub to the external Meeting Store (the REST/DB
// layer of record). The hub never talks to a database directly: every
// persistence operation flows through the narrow MeetingStore interface
// defined here, and is never called while a room lock is held.
package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TranscriptEntryDTO is the wire shape of a finalized transcript entry as
// persisted to the Meeting Store.
type TranscriptEntryDTO struct {
	EntryID            string  `json:"entry_id"`
	UserID             string  `json:"user_id"`
	DisplayName        string  `json:"display_name"`
	Text               string  `json:"text"`
	WallTime           int64   `json:"wall_time"`
	SecondsIntoMeeting float64 `json:"seconds_into_meeting"`
	Confidence         float64 `json:"confidence"`
}

// RecordingMetadata describes a recording artifact associated with a meeting.
type RecordingMetadata struct {
	RoomID      string `json:"room_id"`
	RecordingID string `json:"recording_id"`
	URL         string `json:"url"`
	DurationSec int64  `json:"duration_seconds"`
	StartedAt   int64  `json:"started_at"`
}

// MeetingRecord is the Meeting Store's record of a room.
type MeetingRecord struct {
	RoomID    string `json:"room_id"`
	Title     string `json:"title"`
	StartedAt int64  `json:"started_at,omitempty"`
}

// MeetingStore is the hub's narrow outbound interface to the Meeting Store.
type MeetingStore interface {
	PersistTranscript(ctx context.Context, roomID string, entry TranscriptEntryDTO) error
	PersistRecordingMetadata(ctx context.Context, meta RecordingMetadata) error
	ReadMeetingRecord(ctx context.Context, roomID string) (*MeetingRecord, error)
	Close() error
}

// HTTPMeetingStore is the production MeetingStore implementation, talking to
// the Meeting Store's REST API over HTTP(S).
type HTTPMeetingStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMeetingStore builds a client for the Meeting Store at baseURL. An
// https baseURL is held to TLS 1.2 or newer; an http baseURL is accepted and
// its requests are sent unencrypted.
func NewHTTPMeetingStore(baseURL string) *HTTPMeetingStore {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &HTTPMeetingStore{
		baseURL: baseURL,
		client:  &http.Client{Transport: transport},
	}
}

// Close releases idle connections held by the underlying HTTP client.
func (c *HTTPMeetingStore) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// PersistTranscript sends a single finalized transcript entry to the store.
func (c *HTTPMeetingStore) PersistTranscript(ctx context.Context, roomID string, entry TranscriptEntryDTO) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/rooms/%s/transcript", c.baseURL, roomID)
	return c.postJSON(ctx, url, entry)
}

// PersistRecordingMetadata sends recording metadata to the store.
func (c *HTTPMeetingStore) PersistRecordingMetadata(ctx context.Context, meta RecordingMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/rooms/%s/recordings", c.baseURL, meta.RoomID)
	return c.postJSON(ctx, url, meta)
}

// ReadMeetingRecord fetches the meeting record for roomID.
func (c *HTTPMeetingStore) ReadMeetingRecord(ctx context.Context, roomID string) (*MeetingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/rooms/%s", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meeting store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meeting store returned status %d", resp.StatusCode)
	}

	var record MeetingRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode meeting record: %w", err)
	}

	return &record, nil
}

func (c *HTTPMeetingStore) postJSON(ctx context.Context, url string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("meeting store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("meeting store returned status %d", resp.StatusCode)
	}

	return nil
}
