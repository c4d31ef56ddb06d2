package confsyncserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

// notificationRequestEntry mirrors transport.NotificationEntry's wire
// shape; declared locally to keep this package free of a dependency on
// the client-side transport package it has no other reason to import.
type notificationRequestEntry struct {
	NamespaceName  string `json:"namespaceName"`
	NotificationID int64  `json:"notificationId"`
}

type notificationResponseEntry struct {
	NamespaceName  string           `json:"namespaceName"`
	NotificationID int64            `json:"notificationId"`
	Messages       *messagesPayload `json:"messages,omitempty"`
}

type messagesPayload struct {
	Details map[string]int64 `json:"details"`
}

// Handler serves GET /notifications/v2 against a Hub, implementing the
// contract in spec §4.5.
type Handler struct {
	Hub     *Hub
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewHandler constructs a Handler with the spec default 60s hold timeout.
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Hub: hub, Timeout: 60 * time.Second, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var entries []notificationRequestEntry
	if err := json.Unmarshal([]byte(r.URL.Query().Get("notifications")), &entries); err != nil {
		http.Error(w, "invalid notifications parameter", http.StatusBadRequest)
		return
	}

	watches := make([]ClientWatch, 0, len(entries))
	for _, e := range entries {
		watches = append(watches, ClientWatch{
			Original:   e.NamespaceName,
			Normalized: confsync.NormalizeNamespace(e.NamespaceName),
			ClientID:   e.NotificationID,
		})
	}

	immediate, wait, cancel := h.Hub.Poll(watches, h.Timeout)
	if immediate != nil {
		writeChanged(w, immediate)
		return
	}

	select {
	case result := <-wait:
		if len(result.Changed) == 0 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeChanged(w, result.Changed)
	case <-r.Context().Done():
		cancel()
	}
}

func writeChanged(w http.ResponseWriter, changed []ChangedNamespace) {
	out := make([]notificationResponseEntry, 0, len(changed))
	for _, c := range changed {
		entry := notificationResponseEntry{NamespaceName: c.Namespace, NotificationID: c.NotificationID}
		if c.Messages != nil {
			entry.Messages = &messagesPayload{Details: c.Messages}
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}
