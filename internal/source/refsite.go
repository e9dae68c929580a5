package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/resilience"
)

// RefSiteAdapter fetches the reference site's per-team season exports.
// One scope unit is one team roster CSV.
type RefSiteAdapter struct {
	id      string
	baseURL string
	gate    *ratelimit.Gate
	client  *http.Client
}

// refsiteRow mirrors the reference site's CSV columns. Everything stays a
// string; the raw record keeps values loosely typed until validation.
type refsiteRow struct {
	Player string `csv:"player"`
	Pos    string `csv:"pos"`
	G      string `csv:"g"`
	GS     string `csv:"gs"`
	MP     string `csv:"mp"`
	FG     string `csv:"fg"`
	FGA    string `csv:"fga"`
	FGPct  string `csv:"fg_pct"`
	FG3    string `csv:"fg3"`
	FG3A   string `csv:"fg3a"`
	FG3Pct string `csv:"fg3_pct"`
	FT     string `csv:"ft"`
	FTA    string `csv:"fta"`
	FTPct  string `csv:"ft_pct"`
	ORB    string `csv:"orb"`
	DRB    string `csv:"drb"`
	TRB    string `csv:"trb"`
	AST    string `csv:"ast"`
	STL    string `csv:"stl"`
	BLK    string `csv:"blk"`
	TOV    string `csv:"tov"`
	PF     string `csv:"pf"`
	PTS    string `csv:"pts"`
}

func (a *RefSiteAdapter) ID() string { return a.id }

// Units returns one unit per team. An entity subset does not narrow the
// plan: the site only exports whole team pages.
func (a *RefSiteAdapter) Units(_ context.Context, _ model.Scope) ([]string, error) {
	return model.TeamCodes(), nil
}

func (a *RefSiteAdapter) FetchUnit(ctx context.Context, scope model.Scope, unit string) ([]model.RawRecord, error) {
	url := fmt.Sprintf("%s/seasons/%d/%s.csv", a.baseURL, scope.Season, unit)
	body, err := fetchBody(ctx, a.gate, a.client, a.id, url)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRefsiteCSV(body)
	if err != nil {
		return nil, resilience.Parse(eris.Wrapf(err, "refsite: unit %s", unit))
	}

	now := time.Now().UTC()
	records := make([]model.RawRecord, 0, len(rows))
	for _, row := range rows {
		if row.Player == "" {
			continue
		}
		records = append(records, model.RawRecord{
			Source:    a.id,
			Key:       model.RawKey{Player: row.Player, Team: unit, Season: scope.Season},
			Fields:    row.fields(unit),
			FetchedAt: now,
		})
	}

	zap.L().Debug("refsite: fetched unit",
		zap.String("source", a.id),
		zap.String("team", unit),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func decodeRefsiteCSV(body []byte) ([]refsiteRow, error) {
	var rows []refsiteRow
	if err := csvutil.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "csv decode")
	}
	return rows, nil
}

func (r refsiteRow) fields(team string) map[string]model.StatValue {
	return map[string]model.StatValue{
		model.FieldTeam:        model.String(team),
		model.FieldPosition:    model.ParseValue(r.Pos),
		model.StatGames:        model.ParseValue(r.G),
		model.StatGamesStarted: model.ParseValue(r.GS),
		model.StatMinutes:      model.ParseValue(r.MP),
		model.StatFG:           model.ParseValue(r.FG),
		model.StatFGA:          model.ParseValue(r.FGA),
		model.StatFGPct:        model.ParseValue(r.FGPct),
		model.StatFG3:          model.ParseValue(r.FG3),
		model.StatFG3A:         model.ParseValue(r.FG3A),
		model.StatFG3Pct:       model.ParseValue(r.FG3Pct),
		model.StatFT:           model.ParseValue(r.FT),
		model.StatFTA:          model.ParseValue(r.FTA),
		model.StatFTPct:        model.ParseValue(r.FTPct),
		model.StatORB:          model.ParseValue(r.ORB),
		model.StatDRB:          model.ParseValue(r.DRB),
		model.StatTRB:          model.ParseValue(r.TRB),
		model.StatAST:          model.ParseValue(r.AST),
		model.StatSTL:          model.ParseValue(r.STL),
		model.StatBLK:          model.ParseValue(r.BLK),
		model.StatTOV:          model.ParseValue(r.TOV),
		model.StatPF:           model.ParseValue(r.PF),
		model.StatPTS:          model.ParseValue(r.PTS),
	}
}
