package webhook

import (
	"io"
	"log"
	"net/http"

	"github.com/goccy/go-json"
)

const (
	headerSignature = "Kick-Event-Signature"
	headerMessageID = "Kick-Event-Message-Id"
	headerTimestamp = "Kick-Event-Message-Timestamp"
	headerEventType = "Kick-Event-Type"

	maxBodyBytes = 1 << 20
)

// Handler accepts Kick webhook deliveries, verifies their signature and logs
// the verified payload. Deliveries are acknowledged but not turned into
// alerts; the push and poll connectors are the alert sources.
type Handler struct {
	verifier *Verifier

	// OnVerified, when set, observes each accepted delivery.
	OnVerified func(eventType string, payload []byte)
}

func NewHandler(v *Verifier) *Handler {
	return &Handler{verifier: v}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get(headerSignature)
	messageID := r.Header.Get(headerMessageID)
	timestamp := r.Header.Get(headerTimestamp)
	eventType := r.Header.Get(headerEventType)

	if signature == "" || messageID == "" || timestamp == "" {
		http.Error(w, `{"error":"missing headers"}`, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}

	if err := h.verifier.Verify(messageID, timestamp, body, signature); err != nil {
		log.Printf("webhook: rejected delivery %s: %v", messageID, err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	log.Printf("webhook: verified %s delivery %s: %s", eventType, messageID, string(body))
	if h.OnVerified != nil {
		h.OnVerified(eventType, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
