package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamcore/overlay-engine/internal/correlationstore"
)

func TestDirectQuoteScenario(t *testing.T) {
	chat := ChatInput{Text: "obvious mistake there lol"}
	cand := Candidate{TranscriptionText: "obvious mistake there", TimeOffsetMs: 4500}

	s := scoreCorrelation(chat, cand)
	assert.Equal(t, correlationstore.PatternDirectQuote, s.Pattern)
	assert.InDelta(t, 0.8325, s.Confidence, 0.0001)
}

func TestEmoteReactionWhenChatHasEmote(t *testing.T) {
	chat := ChatInput{Text: "nice", HasEmote: true}
	cand := Candidate{TranscriptionText: "totally unrelated content here", TimeOffsetMs: 5000}

	s := scoreCorrelation(chat, cand)
	assert.Equal(t, correlationstore.PatternEmoteReaction, s.Pattern)
}

func TestEmoteReactionWhenChatContainsReactionWord(t *testing.T) {
	chat := ChatInput{Text: "kappa that was great"}
	cand := Candidate{TranscriptionText: "something entirely different here", TimeOffsetMs: 5000}

	s := scoreCorrelation(chat, cand)
	assert.Equal(t, correlationstore.PatternEmoteReaction, s.Pattern)
}

func TestQuestionResponsePattern(t *testing.T) {
	chat := ChatInput{Text: "what game is this"}
	cand := Candidate{TranscriptionText: "this game is really fun", TimeOffsetMs: 5000}

	s := scoreCorrelation(chat, cand)
	assert.Equal(t, correlationstore.PatternQuestionResponse, s.Pattern)
}

func TestTemporalOnlyFallback(t *testing.T) {
	chat := ChatInput{Text: "zzz"}
	cand := Candidate{TranscriptionText: "xyzzy plugh", TimeOffsetMs: 5000}

	s := scoreCorrelation(chat, cand)
	assert.Equal(t, correlationstore.PatternTemporalOnly, s.Pattern)
	assert.InDelta(t, 0.27, s.Confidence, 0.0001) // 0.3 base x 0.9 time factor at 5000 ms
}

func TestKeywordOverlapThreshold(t *testing.T) {
	assert.True(t, keywordOverlap([]string{"dragon", "quest", "boss"}, []string{"dragon", "quest", "level"}))
	assert.True(t, keywordOverlap([]string{"dragon"}, []string{"dragon", "quest"})) // 1/1 >= 0.5
	assert.False(t, keywordOverlap([]string{"dragon"}, []string{"completely", "different", "words", "here"}))
}

func TestConfidenceClampedToUnitInterval(t *testing.T) {
	chat := ChatInput{Text: "totally matching phrase right here"}
	cand := Candidate{TranscriptionText: "totally matching phrase right here", TimeOffsetMs: 3000}
	s := scoreCorrelation(chat, cand)
	assert.LessOrEqual(t, s.Confidence, 1.0)
	assert.GreaterOrEqual(t, s.Confidence, 0.0)
}
