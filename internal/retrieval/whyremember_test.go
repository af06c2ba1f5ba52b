package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ckoons/katra/internal/types"
)

func TestParseWhyRememberCritical(t *testing.T) {
	score, level := ParseWhyRemember("this is absolutely critical to remember")
	require.Equal(t, types.WhyCritical, level)
	require.Greater(t, score, 0.9)
}

func TestParseWhyRememberVeryImportantOutranksImportant(t *testing.T) {
	_, level := ParseWhyRemember("this is very important")
	require.Equal(t, types.WhySignificant, level)
}

func TestParseWhyRememberNegationDownRanks(t *testing.T) {
	_, plain := ParseWhyRemember("this is important")
	_, negated := ParseWhyRemember("this is not important")
	require.Greater(t, plain, negated)
}

func TestParseWhyRememberTrivial(t *testing.T) {
	_, level := ParseWhyRemember("this is a trivial detail")
	require.Equal(t, types.WhyTrivial, level)
}

func TestParseWhyRememberDefaultsToInteresting(t *testing.T) {
	_, level := ParseWhyRemember("just some random text")
	require.Equal(t, types.WhyInteresting, level)
}
