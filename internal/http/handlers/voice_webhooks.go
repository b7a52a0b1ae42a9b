package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hartleylabs/frontdesk/internal/conversation"
	"github.com/hartleylabs/frontdesk/internal/telephony"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// defaultSignatureMaxSkew bounds how old a signed webhook may be.
const defaultSignatureMaxSkew = 5 * time.Minute

// callEngine is the slice of the conversation engine the webhook
// handler drives.
type callEngine interface {
	StartCall(ctx context.Context, sessionID, callerPhone, tenantID string) (conversation.Output, error)
	ProcessTurn(ctx context.Context, sessionID, callerPhone, utterance string) (conversation.Output, error)
	EndCall(ctx context.Context, sessionID string) error
}

// VoiceWebhookHandler receives TeXML voice webhooks and drives the
// conversation engine. The telephony provider posts form-encoded call
// events; every response is a TeXML document.
type VoiceWebhookHandler struct {
	engine        callEngine
	renderer      *telephony.Renderer
	tenantID      string
	webhookSecret string
	maxSkew       time.Duration
	logger        *logging.Logger
}

// VoiceWebhookConfig configures the VoiceWebhookHandler.
type VoiceWebhookConfig struct {
	Engine   callEngine
	Renderer *telephony.Renderer
	TenantID string
	// WebhookSecret enables HMAC verification of incoming webhooks.
	// Empty disables verification (local development).
	WebhookSecret string
	MaxSkew       time.Duration
	Logger        *logging.Logger
}

// NewVoiceWebhookHandler creates a webhook handler for voice calls.
func NewVoiceWebhookHandler(cfg VoiceWebhookConfig) *VoiceWebhookHandler {
	if cfg.Engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if cfg.Renderer == nil {
		panic("handlers: renderer cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultSignatureMaxSkew
	}
	return &VoiceWebhookHandler{
		engine:        cfg.Engine,
		renderer:      cfg.Renderer,
		tenantID:      cfg.TenantID,
		webhookSecret: cfg.WebhookSecret,
		maxSkew:       cfg.MaxSkew,
		logger:        cfg.Logger.Component("http.voice"),
	}
}

// verifyRequest checks the provider's HMAC signature over the raw body
// and restores r.Body so the form can still be parsed. With no secret
// configured every request passes.
func (h *VoiceWebhookHandler) verifyRequest(r *http.Request) error {
	if h.webhookSecret == "" {
		return nil
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("handlers: failed to read webhook body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(payload))

	ts := strings.TrimSpace(r.Header.Get("Telnyx-Timestamp"))
	if ts == "" {
		return errors.New("handlers: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("handlers: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > h.maxSkew || diff < -h.maxSkew {
		return fmt.Errorf("handlers: signature timestamp skew %s exceeds limit", diff)
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(r.Header.Get("Telnyx-Signature")))
	if actual == "" {
		return errors.New("handlers: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("handlers: signature mismatch")
	}
	return nil
}

// HandleAnswer is the HTTP handler for POST /webhooks/voice/answer.
// It starts the call context and speaks the greeting.
func (h *VoiceWebhookHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.verifyRequest(r); err != nil {
		h.logger.Warn("rejecting unsigned answer webhook", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sessionID := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	if sessionID == "" {
		h.logger.Warn("answer webhook without CallSid", "from", from)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("call answered", "session_id", sessionID, "from", from)
	out, err := h.engine.StartCall(ctx, sessionID, from, h.tenantID)
	if err != nil {
		h.logger.Error("failed to start call", "session_id", sessionID, "error", err)
		h.writeFallback(w)
		return
	}
	h.writeTeXML(w, out)
}

// HandleTurn is the HTTP handler for POST /webhooks/voice/turn. It
// feeds the gathered speech through the engine; empty speech results
// flow through too so silent turns are counted.
func (h *VoiceWebhookHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.verifyRequest(r); err != nil {
		h.logger.Warn("rejecting unsigned turn webhook", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sessionID := r.PostFormValue("CallSid")
	if sessionID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	from := r.PostFormValue("From")
	utterance := strings.TrimSpace(r.PostFormValue("SpeechResult"))

	out, err := h.engine.ProcessTurn(ctx, sessionID, from, utterance)
	if err != nil {
		h.logger.Error("failed to process turn", "session_id", sessionID, "error", err)
		h.writeFallback(w)
		return
	}
	h.writeTeXML(w, out)
}

// HandleStatus is the HTTP handler for POST /webhooks/voice/status.
// Terminal call statuses tear the call context down.
func (h *VoiceWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.verifyRequest(r); err != nil {
		h.logger.Warn("rejecting unsigned status webhook", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sessionID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")

	if sessionID != "" && isTerminalStatus(status) {
		if err := h.engine.EndCall(ctx, sessionID); err != nil {
			h.logger.Warn("failed to end call", "session_id", sessionID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func isTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "failed", "busy", "no-answer", "canceled":
		return true
	}
	return false
}

func (h *VoiceWebhookHandler) writeTeXML(w http.ResponseWriter, out conversation.Output) {
	body, err := h.renderer.Render(out)
	if err != nil {
		h.logger.Error("failed to render texml", "error", err)
		h.writeFallback(w)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeFallback apologises and closes the call rather than returning a
// provider-visible error that would drop the line abruptly.
func (h *VoiceWebhookHandler) writeFallback(w http.ResponseWriter) {
	body, err := h.renderer.Closing("I'm sorry, something went wrong on our end. Please call back in a moment.")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
