package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const interpreterSystemPrompt = `You are the language-understanding step of a telephone receptionist for a medical clinic.
Given the conversation so far and the caller's latest utterance, respond with a single JSON object matching this schema:
{
  "reply": "what the receptionist should say next",
  "is_new_patient": true/false (omit if unknown),
  "booking_confirmed": true when the caller has clearly accepted a specific offered slot,
  "selected_slot_index": zero-based index into the offered slots (omit if none),
  "caller_name": "full name if stated",
  "caller_email": "email if stated",
  "is_group_booking": true when booking for multiple people,
  "group_participants": [{"name": "..."}],
  "time_preference": "morning/afternoon/evening if stated",
  "date_expression": "the caller's date phrase, verbatim",
  "wants_availability": true when the caller is asking for times,
  "part_of_day": "morning/afternoon/evening if stated"
}
Output only the JSON object. Do not book, promise, or invent times yourself.`

// GeminiInterpreter implements TurnInterpreter with Google's Gemini API.
type GeminiInterpreter struct {
	client  *genai.Client
	modelID string
}

// NewGeminiInterpreter creates a Gemini-backed turn interpreter.
func NewGeminiInterpreter(ctx context.Context, apiKey, modelID string) (*GeminiInterpreter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiInterpreter{
		client:  client,
		modelID: modelID,
	}, nil
}

// Interpret sends the call history plus the latest utterance and decodes
// the proposed delta from the model's JSON reply.
func (g *GeminiInterpreter) Interpret(ctx context.Context, call *CallContext, utterance string) (Delta, error) {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(interpreterSystemPrompt))

	cs := model.StartChat()
	for _, turn := range call.Turns {
		if strings.TrimSpace(turn.Utterance) != "" {
			cs.History = append(cs.History, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(turn.Utterance)},
			})
		}
		if strings.TrimSpace(turn.Reply) != "" {
			cs.History = append(cs.History, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(turn.Reply)},
			})
		}
	}

	prompt := buildTurnPrompt(call, utterance)
	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return Delta{}, fmt.Errorf("conversation: gemini interpretation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Delta{}, errors.New("conversation: gemini returned no candidates")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			raw.WriteString(string(text))
		}
	}

	var delta Delta
	if err := json.Unmarshal([]byte(extractJSON(raw.String())), &delta); err != nil {
		return Delta{}, fmt.Errorf("conversation: decode interpretation: %w", err)
	}
	return delta, nil
}

// Close releases the underlying Gemini client.
func (g *GeminiInterpreter) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func buildTurnPrompt(call *CallContext, utterance string) string {
	var b strings.Builder
	b.WriteString("Current call state:\n")
	if call.State.CallerName != "" {
		fmt.Fprintf(&b, "- caller name: %s\n", call.State.CallerName)
	}
	if len(call.State.OfferedSlots) > 0 {
		b.WriteString("- offered slots:\n")
		for i, slot := range call.State.OfferedSlots {
			fmt.Fprintf(&b, "  %d: %s with %s\n", i,
				slot.StartTime.Format("Monday 3:04 PM"), slot.PractitionerName)
		}
	}
	if call.State.AppointmentCreated {
		b.WriteString("- an appointment has already been created; do not offer to book again\n")
	}
	fmt.Fprintf(&b, "\nCaller says: %q\n", utterance)
	return b.String()
}

// extractJSON strips markdown fences the model sometimes wraps around
// its JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
