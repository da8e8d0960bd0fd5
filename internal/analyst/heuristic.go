package analyst

import (
	"context"
	"regexp"
	"strings"

	"github.com/p-blackswan/persona-curator/internal/candidate"
	"github.com/p-blackswan/persona-curator/internal/profile"
)

var (
	learnedRegex  = regexp.MustCompile(`(?i)\b(?:i (?:just )?learned|i found out|did you know)\s+(?:that\s+)?([^.!?\n]{4,160})`)
	wonderRegex   = regexp.MustCompile(`(?i)\bi (?:wonder|want to know|was wondering)\s+([^.!?\n]{3,160})`)
	questionRegex = regexp.MustCompile(`(?i)\b((?:why|how|what) (?:do|does|is|are|can|did|makes)\b[^?\n]{3,160})\?`)
	traitRegex    = regexp.MustCompile(`(?i)\bi(?:'m| am)\s+(?:really\s+|very\s+|so\s+|pretty\s+)?(creative|independent|shy|outgoing|calm|anxious|patient|brave|curious|organized|confident|optimistic|cautious|talkative|quiet|gentle|honest|generous|tidy|messy|focused)\b`)
)

// Heuristic proposes candidates from phrasing patterns in the user's text, so
// the pipeline runs without a model-backed analyst. Knowledge wins over
// personality, which wins over curiosity.
type Heuristic struct{}

// Analyze implements Analyst.
func (Heuristic) Analyze(_ context.Context, ex Exchange) (*candidate.Draft, error) {
	text := strings.TrimSpace(ex.UserText)
	if text == "" {
		return nil, nil
	}

	if m := learnedRegex.FindStringSubmatch(text); m != nil {
		fact := clean(m[1])
		return &candidate.Draft{
			Category:       profile.Knowledge,
			Summary:        "learned that " + fact,
			SuggestedEntry: fact,
			Channel:        ex.Channel,
			At:             ex.At,
		}, nil
	}

	if m := traitRegex.FindStringSubmatch(text); m != nil {
		trait := strings.ToLower(m[1])
		return &candidate.Draft{
			Category:       profile.Personality,
			Summary:        "described self as " + trait,
			SuggestedEntry: "is " + trait,
			Channel:        ex.Channel,
			At:             ex.At,
		}, nil
	}

	var topic string
	if m := wonderRegex.FindStringSubmatch(text); m != nil {
		topic = clean(m[1])
	} else if m := questionRegex.FindStringSubmatch(text); m != nil {
		topic = clean(m[1]) + "?"
	}
	if topic != "" {
		return &candidate.Draft{
			Category:       profile.Curiosity,
			Summary:        "curious: " + topic,
			SuggestedEntry: topic,
			Channel:        ex.Channel,
			At:             ex.At,
		}, nil
	}
	return nil, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
