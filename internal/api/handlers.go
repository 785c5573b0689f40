package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/chatlink/internal/chatlink"
	"github.com/nerrad567/chatlink/internal/journal"
)

// statusResponse is the body of GET /status and of link.state events.
type statusResponse struct {
	State             chatlink.ConnectionState `json:"state"`
	Status            string                   `json:"status"`
	Connected         bool                     `json:"connected"`
	Subscribed        bool                     `json:"subscribed"`
	ReconnectAttempts int                      `json:"reconnect_attempts"`
	MessageCount      int                      `json:"message_count"`
	Version           uint64                   `json:"version"`
}

func newStatusResponse(s chatlink.Snapshot) statusResponse {
	return statusResponse{
		State:             s.State,
		Status:            s.Status,
		Connected:         s.Connected,
		Subscribed:        s.Subscribed,
		ReconnectAttempts: s.ReconnectAttempts,
		MessageCount:      len(s.Messages),
		Version:           s.Version,
	}
}

// publishRequest is the request body for POST /messages.
type publishRequest struct {
	Text string `json:"text"`
}

// handleStatus returns the link's latest snapshot without the message log.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(s.link.Snapshot()))
}

// handleListMessages returns received messages, optionally only those with
// an index greater than ?after.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	after := -1
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "after must be an integer")
			return
		}
		after = n
	}

	snap := s.link.Snapshot()
	messages := snap.MessagesAfter(after)
	if messages == nil {
		messages = []chatlink.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
		"total":    len(snap.Messages),
	})
}

// handlePublish sends text on the chat channel. Acceptance means the link
// took the message; delivery is reported through the link status.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.link.Publish(req.Text); err != nil {
		writeLinkError(w, err)
		return
	}
	s.logger.Debug("publish accepted", "subject", subjectFrom(r.Context()), "bytes", len(req.Text))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleConnect(w http.ResponseWriter, _ *http.Request) {
	s.linkCommand(w, s.link.Connect)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.linkCommand(w, s.link.Disconnect)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.linkCommand(w, s.link.ResetConnection)
}

// linkCommand runs a connection command and answers with the resulting status.
func (s *Server) linkCommand(w http.ResponseWriter, cmd func() error) {
	if err := cmd(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newStatusResponse(s.link.Snapshot()))
}

// handleListJournal lists lifecycle events, newest first.
// Query parameters: state, client_id, since (RFC 3339), limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "journal is disabled")
		return
	}

	filter, err := parseJournalFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal list failed", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseJournalFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	filter := journal.Filter{
		State:    q.Get("state"),
		ClientID: q.Get("client_id"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("offset must be an integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
