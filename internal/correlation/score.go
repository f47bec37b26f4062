package correlation

import (
	"strings"

	"github.com/streamcore/overlay-engine/internal/correlationstore"
)

var reactionTokens = map[string]struct{}{
	"lol": {}, "lmao": {}, "rofl": {}, "haha": {}, "kek": {}, "true": {},
	"facts": {}, "based": {}, "poggers": {}, "pog": {}, "kappa": {},
	"omegalul": {}, "pepega": {}, "monkas": {}, "wut": {}, "wat": {},
	"bruh": {}, "no": {}, "yes": {}, "yep": {},
}

var questionTokens = map[string]struct{}{"what": {}, "why": {}, "how": {}}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "are": {}, "was": {},
	"were": {}, "been": {}, "have": {}, "has": {}, "had": {}, "is": {}, "it": {},
	"to": {}, "of": {}, "in": {}, "a": {}, "an": {},
}

// tokenize lowercases and whitespace-splits text, keeping tokens longer
// than 2 characters that are not stopwords (§4.10 shared-keyword overlap).
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// keywordOverlap reports whether two token sets share at least 2 tokens,
// or the intersection is at least half of the smaller set.
func keywordOverlap(a, b []string) bool {
	setA := map[string]struct{}{}
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := map[string]struct{}{}
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	if intersection >= 2 {
		return true
	}
	minLen := len(setA)
	if len(setB) < minLen {
		minLen = len(setB)
	}
	if minLen == 0 {
		return false
	}
	return float64(intersection)/float64(minLen) >= 0.5
}

func containsAny(text string, tokens map[string]struct{}) bool {
	for _, w := range tokenize(text) {
		if _, ok := tokens[w]; ok {
			return true
		}
	}
	// Also check raw fields for short reaction words ("no") which tokenize
	// would drop via the length>2 filter.
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()")
		if _, ok := tokens[f]; ok {
			return true
		}
	}
	return false
}

// Candidate is a transcription snippet considered for correlation against
// a chat message.
type Candidate struct {
	TranscriptionID   string
	TranscriptionText string
	TimeOffsetMs      int64 // chat.ts - transcription.ts; the caller skips offsets outside [3000,7000]
}

// ChatInput is the chat side of a scoring decision.
type ChatInput struct {
	MessageID string
	User      string
	Text      string
	HasEmote  bool
}

// Scored is the result of scoring one candidate.
type Scored struct {
	Candidate  Candidate
	Pattern    correlationstore.Pattern
	Confidence float64
}

// scoreCorrelation implements §4.10's rule table, evaluated top-down with
// first match winning, followed by the time-proximity adjustment and a
// clamp into [0,1] (supplementing the distilled spec per SPEC_FULL.md).
func scoreCorrelation(chat ChatInput, cand Candidate) Scored {
	lowerChat := strings.ToLower(chat.Text)
	lowerTrans := strings.ToLower(cand.TranscriptionText)

	var pattern correlationstore.Pattern
	var base float64

	switch {
	case len(cand.TranscriptionText) > 5 && strings.Contains(lowerChat, lowerTrans):
		pattern, base = correlationstore.PatternDirectQuote, 0.9
	case keywordOverlap(tokenize(chat.Text), tokenize(cand.TranscriptionText)):
		pattern, base = correlationstore.PatternKeywordEcho, 0.7
	case chat.HasEmote || containsAny(chat.Text, reactionTokens):
		pattern, base = correlationstore.PatternEmoteReaction, 0.6
	case strings.Contains(chat.Text, "?") && containsAny(chat.Text, questionTokens) && keywordOverlap(tokenize(chat.Text), tokenize(cand.TranscriptionText)):
		pattern, base = correlationstore.PatternQuestionResponse, 0.5
	default:
		pattern, base = correlationstore.PatternTemporalOnly, 0.3
	}

	timeFactor := 1 - (float64(cand.TimeOffsetMs-3000)/4000)*0.2
	confidence := base * timeFactor
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return Scored{Candidate: cand, Pattern: pattern, Confidence: confidence}
}
