// Package reconcile merges validated records from multiple sources into
// canonical player-season records.
package reconcile

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hooplab/statsync/internal/model"
)

// nameSuffixes are generational suffixes folded out of player names so
// "Gary Payton II" and "Gary Payton Jr." style variants collide.
var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "v": true,
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds case, diacritics, punctuation, and generational
// suffixes so the same player spells identically across sources.
func NormalizeName(name string) string {
	folded, _, err := transform.String(deaccent, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte(' ')
		}
		// Periods and apostrophes drop entirely: "P.J." → "pj".
	}

	parts := strings.Fields(b.String())
	for len(parts) > 1 && nameSuffixes[parts[len(parts)-1]] {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, " ")
}

// Score rates how likely two raw keys refer to the same player-season.
// Pure: no lookups, no network. Normalized name match is worth 0.6, team
// match 0.3, season match 0.1; the TOT rollup pseudo-team matches any
// team.
func Score(a, b model.RawKey) float64 {
	s := 0.0
	if NormalizeName(a.Player) == NormalizeName(b.Player) {
		s += 0.6
	}
	at, bt := model.CanonicalTeam(a.Team), model.CanonicalTeam(b.Team)
	if at == bt || at == "TOT" || bt == "TOT" {
		s += 0.3
	}
	if a.Season == b.Season {
		s += 0.1
	}
	return s
}

// ResolveKeys groups raw records under canonical entity keys. Records
// sharing a normalized name and season form a candidate group; the
// group's team is decided by majority vote of the source-reported teams.
// A strict tie is irreconcilable — likely two players or an unresolvable
// mid-season trade — so the group splits into one key per team, and every
// record is kept rather than discarded. TOT rollup records follow the
// winning (or lexicographically first tied) team.
func ResolveKeys(records []model.RawRecord) map[model.EntityKey][]model.RawRecord {
	type groupKey struct {
		name   string
		season int
	}
	groups := make(map[groupKey][]model.RawRecord)
	for _, rec := range records {
		gk := groupKey{name: NormalizeName(rec.Key.Player), season: rec.Key.Season}
		groups[gk] = append(groups[gk], rec)
	}

	out := make(map[model.EntityKey][]model.RawRecord)
	for gk, recs := range groups {
		votes := make(map[string]int)
		for _, rec := range recs {
			team := model.CanonicalTeam(rec.Key.Team)
			if team == "TOT" {
				continue
			}
			votes[team]++
		}

		winner, tied := majority(votes)
		if winner == "" {
			winner = "TOT" // every contributing record was a rollup row
		}
		for _, rec := range recs {
			team := model.CanonicalTeam(rec.Key.Team)
			switch {
			case team == "TOT" || team == "":
				team = winner
			case tied:
				// Irreconcilable: keep the record under its own team.
			default:
				team = winner
			}
			key := model.EntityKey{Name: gk.name, Team: team, Season: gk.season}
			out[key] = append(out[key], rec)
		}
	}
	return out
}

// majority returns the team with the most votes and whether the top spot
// was tied. On a tie the lexicographically first top team is returned so
// TOT records land deterministically.
func majority(votes map[string]int) (team string, tied bool) {
	teams := make([]string, 0, len(votes))
	for t := range votes {
		teams = append(teams, t)
	}
	sort.Strings(teams)

	best := -1
	count := 0
	for _, t := range teams {
		switch {
		case votes[t] > best:
			best = votes[t]
			team = t
			count = 1
		case votes[t] == best:
			count++
		}
	}
	return team, count > 1
}
