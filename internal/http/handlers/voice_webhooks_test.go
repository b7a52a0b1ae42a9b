package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartleylabs/frontdesk/internal/conversation"
	"github.com/hartleylabs/frontdesk/internal/telephony"
)

type fakeEngine struct {
	startOut conversation.Output
	startErr error
	turnOut  conversation.Output
	turnErr  error

	startCalls []string
	turns      []string
	ended      []string
}

func (f *fakeEngine) StartCall(_ context.Context, sessionID, callerPhone, _ string) (conversation.Output, error) {
	f.startCalls = append(f.startCalls, sessionID+"|"+callerPhone)
	return f.startOut, f.startErr
}

func (f *fakeEngine) ProcessTurn(_ context.Context, sessionID, _, utterance string) (conversation.Output, error) {
	f.turns = append(f.turns, sessionID+"|"+utterance)
	return f.turnOut, f.turnErr
}

func (f *fakeEngine) EndCall(_ context.Context, sessionID string) error {
	f.ended = append(f.ended, sessionID)
	return nil
}

func newTestHandler(engine *fakeEngine) *VoiceWebhookHandler {
	return NewVoiceWebhookHandler(VoiceWebhookConfig{
		Engine:   engine,
		Renderer: telephony.NewRenderer("/webhooks/voice/turn", "", ""),
	})
}

func TestHandleAnswerGreetsAndGathers(t *testing.T) {
	engine := &fakeEngine{startOut: conversation.Output{Reply: "Thanks for calling. How can I help?"}}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "From": {"+61400000001"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/answer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleAnswer(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "How can I help?")
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "<Gather"))
	require.Len(t, engine.startCalls, 1)
	assert.Equal(t, "call-1|+61400000001", engine.startCalls[0])
}

func TestHandleAnswerRequiresCallSid(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	req := httptest.NewRequest("POST", "/webhooks/voice/answer", strings.NewReader("From=%2B61400000001"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleAnswer(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHandleTurnPassesEmptySpeechThrough(t *testing.T) {
	engine := &fakeEngine{turnOut: conversation.Output{Reply: "Sorry, I didn't catch that."}}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "From": {"+61400000001"}, "SpeechResult": {"   "}}
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Len(t, engine.turns, 1)
	assert.Equal(t, "call-1|", engine.turns[0], "whitespace speech reaches the engine as empty")
}

func TestHandleTurnEndsCallWithHangup(t *testing.T) {
	engine := &fakeEngine{turnOut: conversation.Output{Reply: "Thanks for calling. Have a great day!", EndCall: true}}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "SpeechResult": {"no that's everything, bye"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	doc := rec.Body.String()
	assert.Contains(t, doc, "<Hangup")
	assert.NotContains(t, doc, "<Gather")
}

func TestHandleTurnFailureStillSpeaks(t *testing.T) {
	engine := &fakeEngine{turnErr: fmt.Errorf("redis down")}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "SpeechResult": {"book me in"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	require.Equal(t, 200, rec.Code, "the provider gets TeXML, not an HTTP error")
	assert.Contains(t, rec.Body.String(), "something went wrong")
	assert.Contains(t, rec.Body.String(), "<Hangup")
}

func TestHandleStatusTearsDownTerminalCalls(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, []string{"call-1"}, engine.ended)
}

func signBody(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleTurnAcceptsSignedRequest(t *testing.T) {
	engine := &fakeEngine{turnOut: conversation.Output{Reply: "Sure, let me check."}}
	h := NewVoiceWebhookHandler(VoiceWebhookConfig{
		Engine:        engine,
		Renderer:      telephony.NewRenderer("/webhooks/voice/turn", "", ""),
		WebhookSecret: "top-secret",
	})

	body := url.Values{"CallSid": {"call-1"}, "SpeechResult": {"book me in"}}.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature", signBody("top-secret", ts, body))
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Len(t, engine.turns, 1, "verification must leave the body readable for ParseForm")
	assert.Equal(t, "call-1|book me in", engine.turns[0])
}

func TestHandleTurnRejectsBadSignature(t *testing.T) {
	engine := &fakeEngine{}
	h := NewVoiceWebhookHandler(VoiceWebhookConfig{
		Engine:        engine,
		Renderer:      telephony.NewRenderer("/webhooks/voice/turn", "", ""),
		WebhookSecret: "top-secret",
	})

	body := url.Values{"CallSid": {"call-1"}, "SpeechResult": {"book me in"}}.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature", signBody("wrong-secret", ts, body))
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	assert.Equal(t, 403, rec.Code)
	assert.Empty(t, engine.turns, "forged requests must not reach the engine")
}

func TestHandleTurnRejectsStaleTimestamp(t *testing.T) {
	engine := &fakeEngine{}
	h := NewVoiceWebhookHandler(VoiceWebhookConfig{
		Engine:        engine,
		Renderer:      telephony.NewRenderer("/webhooks/voice/turn", "", ""),
		WebhookSecret: "top-secret",
	})

	body := url.Values{"CallSid": {"call-1"}}.Encode()
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature", signBody("top-secret", ts, body))
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	assert.Equal(t, 403, rec.Code)
	assert.Empty(t, engine.turns)
}

func TestUnsignedRequestsPassWithoutSecret(t *testing.T) {
	engine := &fakeEngine{turnOut: conversation.Output{Reply: "Hello"}}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "SpeechResult": {"hi"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestHandleStatusIgnoresIntermediateStatuses(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	form := url.Values{"CallSid": {"call-1"}, "CallStatus": {"in-progress"}}
	req := httptest.NewRequest("POST", "/webhooks/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	assert.Equal(t, 204, rec.Code)
	assert.Empty(t, engine.ended)
}
