package model

import "sort"

// Per-game stat fields collected for every player-season. Names follow
// the reference site's data-stat identifiers.
const (
	StatGames        = "g"
	StatGamesStarted = "gs"
	StatMinutes      = "mp"
	StatFG           = "fg"
	StatFGA          = "fga"
	StatFGPct        = "fg_pct"
	StatFG3          = "fg3"
	StatFG3A         = "fg3a"
	StatFG3Pct       = "fg3_pct"
	StatFT           = "ft"
	StatFTA          = "fta"
	StatFTPct        = "ft_pct"
	StatORB          = "orb"
	StatDRB          = "drb"
	StatTRB          = "trb"
	StatAST          = "ast"
	StatSTL          = "stl"
	StatBLK          = "blk"
	StatTOV          = "tov"
	StatPF           = "pf"
	StatPTS          = "pts"

	// Non-numeric fields carried through reconciliation.
	FieldTeam     = "team"
	FieldPosition = "pos"
)

// NumericStatFields lists every numeric per-game field in a fixed order.
var NumericStatFields = []string{
	StatGames, StatGamesStarted, StatMinutes,
	StatFG, StatFGA, StatFGPct,
	StatFG3, StatFG3A, StatFG3Pct,
	StatFT, StatFTA, StatFTPct,
	StatORB, StatDRB, StatTRB,
	StatAST, StatSTL, StatBLK, StatTOV, StatPF, StatPTS,
}

// teamAliases maps source-specific team abbreviations to the canonical
// three-letter codes.
var teamAliases = map[string]string{
	"BRK": "BKN",
	"CHO": "CHA",
	"PHO": "PHX",
	"NJN": "BKN",
	"NOH": "NOP",
}

// canonicalTeams is the set of valid canonical team codes.
var canonicalTeams = map[string]bool{
	"ATL": true, "BOS": true, "BKN": true, "CHA": true, "CHI": true,
	"CLE": true, "DAL": true, "DEN": true, "DET": true, "GSW": true,
	"HOU": true, "IND": true, "LAC": true, "LAL": true, "MEM": true,
	"MIA": true, "MIL": true, "MIN": true, "NOP": true, "NYK": true,
	"OKC": true, "ORL": true, "PHI": true, "PHX": true, "POR": true,
	"SAC": true, "SAS": true, "TOR": true, "UTA": true, "WAS": true,
	// Multi-team season rollup row used by some sources.
	"TOT": true,
}

// TeamCodes returns all canonical team codes sorted, excluding the TOT
// rollup pseudo-team.
func TeamCodes() []string {
	codes := make([]string, 0, len(canonicalTeams))
	for c := range canonicalTeams {
		if c == "TOT" {
			continue
		}
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// CanonicalTeam resolves a source-reported team abbreviation to its
// canonical code. Unknown codes pass through unchanged so validation can
// flag them.
func CanonicalTeam(code string) string {
	if canon, ok := teamAliases[code]; ok {
		return canon
	}
	return code
}

// KnownTeam reports whether code is a valid canonical team code.
func KnownTeam(code string) bool {
	return canonicalTeams[code]
}

// Positions is the valid position enum, including combo positions some
// sources report.
var Positions = map[string]bool{
	"PG": true, "SG": true, "SF": true, "PF": true, "C": true,
	"G": true, "F": true,
	"PG-SG": true, "SG-PG": true, "SG-SF": true, "SF-SG": true,
	"SF-PF": true, "PF-SF": true, "PF-C": true, "C-PF": true,
}
