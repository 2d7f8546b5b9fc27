package agents

import (
	"regexp"
	"strings"

	"github.com/sigmafold/alphahunt/models"
)

// SignalExtractor pulls a direction and confidence out of a free-form
// agent payload when the agent did not use the signal header protocol.
type SignalExtractor struct {
	bullishPatterns []*regexp.Regexp
	bearishPatterns []*regexp.Regexp
	neutralPatterns []*regexp.Regexp
}

func NewSignalExtractor() *SignalExtractor {
	return &SignalExtractor{
		bullishPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(bullish|buy|long|pump|moon|accumulate|breakout|upward|rally)\b`),
			regexp.MustCompile(`(?i)\b(undervalued|oversold|strong support|golden cross)\b`),
		},
		bearishPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(bearish|sell|short|dump|crash|distribution|breakdown|downward|capitulation)\b`),
			regexp.MustCompile(`(?i)\b(overvalued|overbought|resistance rejected|death cross)\b`),
		},
		neutralPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(neutral|sideways|ranging|chop|wait|unclear|mixed)\b`),
		},
	}
}

// Extract scores the text against each direction's patterns; the highest
// count wins and the match density sets the confidence.
func (se *SignalExtractor) Extract(text string) (models.Direction, float64) {
	bullish := countMatches(se.bullishPatterns, text)
	bearish := countMatches(se.bearishPatterns, text)
	neutral := countMatches(se.neutralPatterns, text)

	direction := models.DirectionNeutral
	best := neutral
	if bullish > bearish && bullish > neutral {
		direction = models.DirectionBullish
		best = bullish
	} else if bearish > bullish && bearish > neutral {
		direction = models.DirectionBearish
		best = bearish
	}

	words := len(strings.Fields(text))
	if words == 0 || best == 0 {
		return direction, 0.1
	}
	confidence := float64(best) / float64(words) * 10
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return direction, confidence
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	total := 0
	for _, p := range patterns {
		total += len(p.FindAllString(text, -1))
	}
	return total
}
