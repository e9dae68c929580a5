package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplab/statsync/internal/model"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Luka Dončić":       "luka doncic",
		"Nikola Jokić":      "nikola jokic",
		"Gary Payton II":    "gary payton",
		"Tim Hardaway Jr.":  "tim hardaway",
		"P.J. Tucker":       "pj tucker",
		"De'Aaron Fox":      "deaaron fox",
		"Shai Gilgeous-Alexander": "shai gilgeous alexander",
		"  LeBron   James ": "lebron james",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestNormalizeNameKeepsLoneSuffixWord(t *testing.T) {
	// A single-word name is never emptied by suffix folding.
	assert.Equal(t, "jr", NormalizeName("Jr."))
}

func TestScore(t *testing.T) {
	a := model.RawKey{Player: "Luka Dončić", Team: "DAL", Season: 2024}
	b := model.RawKey{Player: "Luka Doncic", Team: "DAL", Season: 2024}
	assert.InDelta(t, 1.0, Score(a, b), 0.001)

	c := model.RawKey{Player: "Luka Doncic", Team: "TOT", Season: 2024}
	assert.InDelta(t, 1.0, Score(a, c), 0.001, "TOT matches any team")

	d := model.RawKey{Player: "Luka Doncic", Team: "BOS", Season: 2024}
	assert.InDelta(t, 0.7, Score(a, d), 0.001)

	e := model.RawKey{Player: "Someone Else", Team: "DAL", Season: 2023}
	assert.InDelta(t, 0.3, Score(a, e), 0.001)
}

func raw(source, player, team string) model.RawRecord {
	return model.RawRecord{
		Source: source,
		Key:    model.RawKey{Player: player, Team: team, Season: 2024},
		Fields: map[string]model.StatValue{model.StatPTS: model.Number(10)},
	}
}

func TestResolveKeysMajorityVote(t *testing.T) {
	grouped := ResolveKeys([]model.RawRecord{
		raw("a", "Jayson Tatum", "BOS"),
		raw("b", "Jayson Tatum", "BOS"),
		raw("c", "Jayson Tatum", "LAL"), // outvoted misreport
	})

	require.Len(t, grouped, 1)
	key := model.EntityKey{Name: "jayson tatum", Team: "BOS", Season: 2024}
	assert.Len(t, grouped[key], 3)
}

func TestResolveKeysTieSplits(t *testing.T) {
	grouped := ResolveKeys([]model.RawRecord{
		raw("a", "Marcus Morris", "DET"),
		raw("b", "Marcus Morris", "LAC"),
	})

	// Irreconcilable tie: one key per source-reported team, no record lost.
	require.Len(t, grouped, 2)
	assert.Len(t, grouped[model.EntityKey{Name: "marcus morris", Team: "DET", Season: 2024}], 1)
	assert.Len(t, grouped[model.EntityKey{Name: "marcus morris", Team: "LAC", Season: 2024}], 1)
}

func TestResolveKeysTOTFollowsWinner(t *testing.T) {
	grouped := ResolveKeys([]model.RawRecord{
		raw("a", "Mikal Bridges", "TOT"),
		raw("b", "Mikal Bridges", "BKN"),
	})

	require.Len(t, grouped, 1)
	assert.Len(t, grouped[model.EntityKey{Name: "mikal bridges", Team: "BKN", Season: 2024}], 2)
}

func TestResolveKeysAllRollups(t *testing.T) {
	grouped := ResolveKeys([]model.RawRecord{
		raw("a", "Journeyman Guard", "TOT"),
		raw("b", "Journeyman Guard", "TOT"),
	})

	require.Len(t, grouped, 1)
	assert.Len(t, grouped[model.EntityKey{Name: "journeyman guard", Team: "TOT", Season: 2024}], 2)
}

func TestResolveKeysAliasesMerge(t *testing.T) {
	grouped := ResolveKeys([]model.RawRecord{
		raw("a", "Cam Johnson", "BRK"),
		raw("b", "Cam Johnson", "BKN"),
	})

	require.Len(t, grouped, 1)
	assert.Len(t, grouped[model.EntityKey{Name: "cam johnson", Team: "BKN", Season: 2024}], 2)
}
