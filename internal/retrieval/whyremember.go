package retrieval

import (
	"strings"

	"github.com/ckoons/katra/internal/types"
)

// phrase is one compound or single-word trigger scanned against a "why
// remember" input string, longest-compound-first per spec §4.5.
type phrase struct {
	text   string
	level  types.WhyRemember
	negate bool
}

// negationMarkers precede a level word to invert its rank, e.g.
// "not important", "isn't critical".
var negationMarkers = []string{"not ", "n't ", "never "}

// veryCompounds are the "very X" compounds scanned before bare level
// words, since "very important" must outrank a bare "important" match.
var veryCompounds = []phrase{
	{text: "very critical", level: types.WhyCritical},
	{text: "very important", level: types.WhySignificant},
	{text: "very significant", level: types.WhySignificant},
}

var levelWords = []phrase{
	{text: "critical", level: types.WhyCritical},
	{text: "essential", level: types.WhyCritical},
	{text: "vital", level: types.WhyCritical},
	{text: "high", level: types.WhySignificant},
	{text: "important", level: types.WhySignificant},
	{text: "significant", level: types.WhySignificant},
	{text: "medium", level: types.WhyInteresting},
	{text: "interesting", level: types.WhyInteresting},
	{text: "notable", level: types.WhyInteresting},
	{text: "low", level: types.WhyRoutine},
	{text: "minor", level: types.WhyRoutine},
	{text: "routine", level: types.WhyRoutine},
	{text: "trivial", level: types.WhyTrivial},
	{text: "negligible", level: types.WhyTrivial},
}

// ParseWhyRemember scans input for why-remember phrases in the order
// spec §4.5 prescribes: longer compound phrases before shorter keywords,
// {critical, negation, "very X" compounds, high, medium, low, trivial}.
// Negations ("not important") always down-rank one level toward trivial.
// Returns the matched level's numeric score and the level itself; an
// input with no recognized phrase returns the neutral "interesting"
// default.
func ParseWhyRemember(input string) (float64, types.WhyRemember) {
	lower := strings.ToLower(input)

	negated := false
	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			negated = true
			break
		}
	}

	for _, p := range veryCompounds {
		if strings.Contains(lower, p.text) {
			level := p.level
			if negated {
				level = downRank(level)
			}
			return level.Score(), level
		}
	}

	for _, p := range levelWords {
		if strings.Contains(lower, p.text) {
			level := p.level
			if negated {
				level = downRank(level)
			}
			return level.Score(), level
		}
	}

	return types.WhyInteresting.Score(), types.WhyInteresting
}

// downRank pushes level one step toward WhyTrivial, per spec §4.5's
// "negations always down-rank".
func downRank(level types.WhyRemember) types.WhyRemember {
	if level == types.WhyTrivial {
		return types.WhyTrivial
	}
	return level - 1
}
