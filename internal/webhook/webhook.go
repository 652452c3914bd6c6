// Package webhook turns GitHub push and pull_request deliveries into
// triggering events. Deliveries are authenticated with the
// X-Hub-Signature-256 HMAC and de-duplicated by delivery ID.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"stageci/internal/core"
)

const (
	maxBodySize         = 32 * 1024 * 1024
	deduplicationWindow = time.Hour
)

// Handler is an http.Handler for GitHub webhook deliveries.
type Handler struct {
	secret  []byte
	logger  *slog.Logger
	onEvent func(core.Event)

	mu         sync.Mutex
	deliveries map[string]time.Time
	now        func() time.Time
}

// NewHandler panics when secret is empty or onEvent is nil: an
// unauthenticated or discarding handler is a configuration bug.
func NewHandler(secret []byte, logger *slog.Logger, onEvent func(core.Event)) *Handler {
	if len(secret) == 0 {
		panic("webhook: secret is required")
	}
	if onEvent == nil {
		panic("webhook: onEvent callback is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		secret:     secret,
		logger:     logger,
		onEvent:    onEvent,
		deliveries: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("webhook: reading body", "error", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("webhook: signature verification failed", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event", http.StatusBadRequest)
		return
	}

	if deliveryID != "" && h.isDuplicate(deliveryID) {
		h.logger.Debug("webhook: duplicate delivery", "delivery_id", deliveryID)
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := Translate(eventType, body)
	if err != nil {
		// Retrying the same payload will not help: acknowledge it.
		h.logger.Error("webhook: translating payload", "event_type", eventType, "delivery_id", deliveryID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if event == nil {
		h.logger.Debug("webhook: ignored", "event_type", eventType, "delivery_id", deliveryID)
		w.WriteHeader(http.StatusOK)
		return
	}
	event.DeliveryID = deliveryID

	h.logger.Info("webhook received",
		"event", event.Kind,
		"branch", event.Branch,
		"repository", event.Repository,
		"delivery_id", deliveryID,
	)
	h.onEvent(*event)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) isDuplicate(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for seen, at := range h.deliveries {
		if now.Sub(at) > deduplicationWindow {
			delete(h.deliveries, seen)
		}
	}
	if _, ok := h.deliveries[id]; ok {
		return true
	}
	h.deliveries[id] = now
	return false
}

// VerifySignature checks a "sha256=<hex>" HMAC of body.
func VerifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return errors.New("signature is empty")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("invalid hex signature: %w", err)
	}
	if !hmac.Equal(Sign(secret, body), got) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

type repository struct {
	FullName string `json:"full_name"`
}

type pushPayload struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Deleted    bool       `json:"deleted"`
	Repository repository `json:"repository"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository repository `json:"repository"`
}

// Translate converts a payload into an Event. It returns nil for
// deliveries that never start runs: ping, tag pushes, branch deletions,
// and pull request actions other than opened, synchronize and reopened.
func Translate(eventType string, body []byte) (*core.Event, error) {
	switch eventType {
	case "push":
		var p pushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parsing push payload: %w", err)
		}
		branch, ok := strings.CutPrefix(p.Ref, "refs/heads/")
		if !ok || p.Deleted {
			return nil, nil
		}
		return &core.Event{
			Kind:       core.EventPush,
			Branch:     branch,
			Repository: p.Repository.FullName,
			Commit:     p.After,
		}, nil

	case "pull_request":
		var p pullRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parsing pull_request payload: %w", err)
		}
		switch p.Action {
		case "opened", "synchronize", "reopened":
		default:
			return nil, nil
		}
		return &core.Event{
			Kind:       core.EventPullRequest,
			Branch:     p.PullRequest.Base.Ref,
			Repository: p.Repository.FullName,
			Commit:     p.PullRequest.Head.SHA,
		}, nil
	}
	return nil, nil
}
