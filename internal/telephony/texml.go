package telephony

import (
	"encoding/xml"
	"fmt"

	"github.com/hartleylabs/frontdesk/internal/conversation"
)

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather collects speech input. actionOnEmptyResult makes silence post
// back to the action URL instead of stalling the call, so the engine
// can count empty turns.
type Gather struct {
	XMLName             xml.Name `xml:"Gather"`
	Input               string   `xml:"input,attr"`
	Action              string   `xml:"action,attr"`
	Method              string   `xml:"method,attr"`
	SpeechTimeout       string   `xml:"speechTimeout,attr"`
	Language            string   `xml:"language,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr"`
	Say                 *Say
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// document is a TeXML response. It is only built through the Renderer,
// which guarantees at most one Gather per response; two interactive
// prompts in one document would contradict each other on the phone.
type document struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Renderer turns engine output into TeXML documents.
type Renderer struct {
	actionURL string
	voice     string
	language  string
}

// NewRenderer creates a TeXML renderer posting gathered speech to
// actionURL.
func NewRenderer(actionURL, voice, language string) *Renderer {
	if voice == "" {
		voice = "female"
	}
	if language == "" {
		language = "en-AU"
	}
	return &Renderer{
		actionURL: actionURL,
		voice:     voice,
		language:  language,
	}
}

// Render maps one engine output to a TeXML document: a terminal reply
// closes with Say+Hangup, a bare hangup command disconnects without
// further prompts, and everything else prompts with a single Gather.
func (r *Renderer) Render(out conversation.Output) ([]byte, error) {
	switch {
	case out.EndCall && out.Reply == "":
		return r.HangupNow()
	case out.EndCall:
		return r.Closing(out.Reply)
	default:
		return r.Prompt(out.Reply)
	}
}

// Prompt speaks the reply and gathers the caller's next utterance.
func (r *Renderer) Prompt(text string) ([]byte, error) {
	return marshal(document{Verbs: []any{
		Gather{
			Input:               "speech",
			Action:              r.actionURL,
			Method:              "POST",
			SpeechTimeout:       "auto",
			Language:            r.language,
			ActionOnEmptyResult: true,
			Say:                 &Say{Voice: r.voice, Text: text},
		},
	}})
}

// Closing speaks a final remark and hangs up. No input is gathered.
func (r *Renderer) Closing(text string) ([]byte, error) {
	return marshal(document{Verbs: []any{
		Say{Voice: r.voice, Text: text},
		Hangup{},
	}})
}

// HangupNow disconnects immediately.
func (r *Renderer) HangupNow() ([]byte, error) {
	return marshal(document{Verbs: []any{Hangup{}}})
}

func marshal(doc document) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("telephony: render texml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
