package conversation

import (
	"regexp"
	"strings"
)

// Intent is the primary classification of a caller utterance.
type Intent string

const (
	IntentNone           Intent = "none"
	IntentHangupCommand  Intent = "hangup_command"
	IntentHangupQuestion Intent = "hangup_question"
	IntentFAQ            Intent = "faq"
	IntentGoodbye        Intent = "goodbye"
	IntentConfirm        Intent = "confirm"
	IntentDecline        Intent = "decline"
)

// Classifier assigns one Intent per utterance. The regex strategy below
// is the default; the interface keeps it swappable.
type Classifier interface {
	Classify(utterance string) Intent
}

// hangupRE matches any mention of ending the call.
var hangupRE = regexp.MustCompile(`(?i)\b(hang\s*up|end\s+(the\s+)?call|disconnect)\b`)

// hangupQuestionRE distinguishes asking about a hangup from ordering one.
var hangupQuestionRE = regexp.MustCompile(`(?i)^\s*(are|is|will|would|do|does|did|can|could|when|why|what|going)\b`)

var goodbyePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bno\s*,?\s*thanks?\b`),
	regexp.MustCompile(`(?i)\bthat('?s| is| will be)?\s*(all|everything)\b`),
	regexp.MustCompile(`(?i)\b(good\s*bye|bye\s*bye|bye)\b`),
	regexp.MustCompile(`(?i)\ball\s*(done|set|good)\b`),
	regexp.MustCompile(`(?i)\bnothing\s*else\b`),
	regexp.MustCompile(`(?i)\bi('?m| am)\s*(all\s*)?(good|done|set)\b`),
}

// faqKeywords override goodbye detection: "no thanks, but how much is
// parking" is a continued request, not a farewell.
var faqKeywords = []string{
	"price", "cost", "how much", "fee",
	"direction", "address", "where", "located", "parking",
	"hour", "open", "close",
	"reschedule", "cancel", "change",
	"insurance", "medicare", "rebate",
}

var confirmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|sure|correct|confirm(ed)?|absolutely|definitely|ok(ay)?)\b`),
	regexp.MustCompile(`(?i)\b(sounds|that\s+sounds)\s+(good|great|perfect|fine)\b`),
	regexp.MustCompile(`(?i)\bthat\s+works\b`),
	regexp.MustCompile(`(?i)\b(let'?s|please)\s+(do|book)\s+(it|that)\b`),
	regexp.MustCompile(`(?i)\bgo\s+ahead\b`),
	regexp.MustCompile(`(?i)\bperfect\b`),
}

var declinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(no|nope|nah)\b`),
	regexp.MustCompile(`(?i)\b(doesn'?t|does\s+not|won'?t)\s+work\b`),
	regexp.MustCompile(`(?i)\b(a\s+)?different\s+(time|day|slot)\b`),
	regexp.MustCompile(`(?i)\banother\s+(time|day|slot)\b`),
	regexp.MustCompile(`(?i)\bactually\b.*\b(change|instead)\b`),
}

var myselfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(for\s+)?myself\b`),
	regexp.MustCompile(`(?i)\bfor\s+me\b`),
	regexp.MustCompile(`(?i)\b(it'?s|this\s+is)\s+(for\s+)?me\b`),
	regexp.MustCompile(`(?i)\bjust\s+me\b`),
	regexp.MustCompile(`(?i)^\s*me\b`),
}

var someoneElsePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsomeone\s+else\b`),
	regexp.MustCompile(`(?i)\bmy\s+(child|kid|daughter|son|mum|mom|dad|mother|father|husband|wife|partner|friend|family)\b`),
	regexp.MustCompile(`(?i)\bnot\s+(for\s+)?me\b`),
	regexp.MustCompile(`(?i)\bfor\s+my\b`),
}

// placeholderNameRE rejects references that are not real names when
// collecting group participants ("myself", "my son").
var placeholderNameRE = regexp.MustCompile(`(?i)^\s*(me|myself|my\s+\w+|him|her|them|someone)\s*$`)

// RegexClassifier is the pattern-matching Classifier.
type RegexClassifier struct{}

// Classify assigns the primary intent. Hangup handling outranks
// everything; FAQ keywords outrank goodbye phrases.
func (RegexClassifier) Classify(utterance string) Intent {
	u := strings.TrimSpace(utterance)
	if u == "" {
		return IntentNone
	}

	if hangupRE.MatchString(u) {
		if hangupQuestionRE.MatchString(u) || strings.HasSuffix(u, "?") {
			return IntentHangupQuestion
		}
		return IntentHangupCommand
	}

	faq := containsFAQKeyword(u)
	if matchesAny(u, goodbyePatterns) {
		if faq {
			return IntentFAQ
		}
		return IntentGoodbye
	}
	if faq {
		return IntentFAQ
	}

	if matchesAny(u, declinePatterns) {
		return IntentDecline
	}
	if matchesAny(u, confirmPatterns) {
		return IntentConfirm
	}
	return IntentNone
}

// SharedPhoneAnswer classifies a reply to "for yourself or someone
// else?". Returns "myself", "someone_else" or "".
func SharedPhoneAnswer(utterance string) string {
	u := strings.TrimSpace(utterance)
	if u == "" {
		return ""
	}
	if matchesAny(u, someoneElsePatterns) {
		return "someone_else"
	}
	if matchesAny(u, myselfPatterns) {
		return "myself"
	}
	return ""
}

// IsRealName reports whether a stated participant name is usable, as
// opposed to a placeholder reference.
func IsRealName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return !placeholderNameRE.MatchString(name)
}

func matchesAny(u string, patterns []*regexp.Regexp) bool {
	for _, pat := range patterns {
		if pat.MatchString(u) {
			return true
		}
	}
	return false
}

func containsFAQKeyword(u string) bool {
	lower := strings.ToLower(u)
	for _, kw := range faqKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
