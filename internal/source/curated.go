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

// datasetUnit is the single scope unit of a curated dataset: the whole
// season file.
const datasetUnit = "dataset"

// CuratedAdapter fetches a community-maintained season dataset published
// as one CSV file per season.
type CuratedAdapter struct {
	id      string
	baseURL string
	gate    *ratelimit.Gate
	client  *http.Client
}

// curatedRow mirrors the curated dataset's CSV columns. Column names
// differ from the reference site's; the mapping happens here so the rest
// of the pipeline only sees neutral field names.
type curatedRow struct {
	Name     string `csv:"name"`
	Team     string `csv:"tm"`
	Position string `csv:"position"`
	Games    string `csv:"games"`
	Started  string `csv:"started"`
	Minutes  string `csv:"minutes"`
	FG       string `csv:"fgm"`
	FGA      string `csv:"fga"`
	FGPct    string `csv:"fg_percent"`
	FG3      string `csv:"x3pm"`
	FG3A     string `csv:"x3pa"`
	FG3Pct   string `csv:"x3p_percent"`
	FT       string `csv:"ftm"`
	FTA      string `csv:"fta"`
	FTPct    string `csv:"ft_percent"`
	ORB      string `csv:"orb"`
	DRB      string `csv:"drb"`
	TRB      string `csv:"trb"`
	AST      string `csv:"ast"`
	STL      string `csv:"stl"`
	BLK      string `csv:"blk"`
	TOV      string `csv:"tov"`
	PF       string `csv:"pf"`
	PTS      string `csv:"pts"`
}

func (a *CuratedAdapter) ID() string { return a.id }

// Units plans the single dataset unit.
func (a *CuratedAdapter) Units(_ context.Context, _ model.Scope) ([]string, error) {
	return []string{datasetUnit}, nil
}

func (a *CuratedAdapter) FetchUnit(ctx context.Context, scope model.Scope, unit string) ([]model.RawRecord, error) {
	if unit != datasetUnit {
		return nil, resilience.Permanent(eris.Errorf("curated: unknown unit %q", unit))
	}

	url := fmt.Sprintf("%s/nba_%d.csv", a.baseURL, scope.Season)
	body, err := fetchBody(ctx, a.gate, a.client, a.id, url)
	if err != nil {
		return nil, err
	}

	var rows []curatedRow
	if err := csvutil.Unmarshal(body, &rows); err != nil {
		return nil, resilience.Parse(eris.Wrap(err, "curated: csv decode"))
	}

	now := time.Now().UTC()
	records := make([]model.RawRecord, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		records = append(records, model.RawRecord{
			Source:    a.id,
			Key:       model.RawKey{Player: row.Name, Team: row.Team, Season: scope.Season},
			Fields:    row.fields(),
			FetchedAt: now,
		})
	}

	zap.L().Debug("curated: fetched dataset",
		zap.String("source", a.id),
		zap.Int("season", scope.Season),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (r curatedRow) fields() map[string]model.StatValue {
	return map[string]model.StatValue{
		model.FieldTeam:        model.ParseValue(r.Team),
		model.FieldPosition:    model.ParseValue(r.Position),
		model.StatGames:        model.ParseValue(r.Games),
		model.StatGamesStarted: model.ParseValue(r.Started),
		model.StatMinutes:      model.ParseValue(r.Minutes),
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
