package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/resilience"
)

// OfficialAdapter fetches the official stats API's paged league dashboard.
// One scope unit is one result page. The API returns the tabular
// headers/rowSet shape, which gjson walks without committing to a schema.
type OfficialAdapter struct {
	id      string
	baseURL string
	gate    *ratelimit.Gate
	client  *http.Client
}

// officialHeaders maps the API's column names onto the neutral stat
// field names.
var officialHeaders = map[string]string{
	"PLAYER_NAME":       "player",
	"TEAM_ABBREVIATION": model.FieldTeam,
	"POSITION":          model.FieldPosition,
	"GP":                model.StatGames,
	"GS":                model.StatGamesStarted,
	"MIN":               model.StatMinutes,
	"FGM":               model.StatFG,
	"FGA":               model.StatFGA,
	"FG_PCT":            model.StatFGPct,
	"FG3M":              model.StatFG3,
	"FG3A":              model.StatFG3A,
	"FG3_PCT":           model.StatFG3Pct,
	"FTM":               model.StatFT,
	"FTA":               model.StatFTA,
	"FT_PCT":            model.StatFTPct,
	"OREB":              model.StatORB,
	"DREB":              model.StatDRB,
	"REB":               model.StatTRB,
	"AST":               model.StatAST,
	"STL":               model.StatSTL,
	"BLK":               model.StatBLK,
	"TOV":               model.StatTOV,
	"PF":                model.StatPF,
	"PTS":               model.StatPTS,
}

func (a *OfficialAdapter) ID() string { return a.id }

// Units fetches page 1 to learn the page count, then plans one unit per
// page. The page-1 payload is refetched by FetchUnit; the extra request
// keeps the plan finite and the unit fetch restartable from scratch.
func (a *OfficialAdapter) Units(ctx context.Context, scope model.Scope) ([]string, error) {
	body, err := fetchBody(ctx, a.gate, a.client, a.id, a.pageURL(scope.Season, 1))
	if err != nil {
		return nil, err
	}

	total := gjson.GetBytes(body, "pagination.totalPages").Int()
	if total <= 0 {
		return nil, resilience.Parse(eris.New("official: missing pagination.totalPages"))
	}

	units := make([]string, 0, total)
	for p := int64(1); p <= total; p++ {
		units = append(units, strconv.FormatInt(p, 10))
	}
	return units, nil
}

func (a *OfficialAdapter) FetchUnit(ctx context.Context, scope model.Scope, unit string) ([]model.RawRecord, error) {
	page, err := strconv.Atoi(unit)
	if err != nil {
		return nil, resilience.Permanent(eris.Wrapf(err, "official: bad unit %q", unit))
	}

	body, err := fetchBody(ctx, a.gate, a.client, a.id, a.pageURL(scope.Season, page))
	if err != nil {
		return nil, err
	}

	headers := gjson.GetBytes(body, "resultSet.headers")
	rows := gjson.GetBytes(body, "resultSet.rowSet")
	if !headers.Exists() || !rows.Exists() {
		return nil, resilience.Parse(eris.Errorf("official: page %d missing resultSet", page))
	}

	cols := make([]string, 0, len(headers.Array()))
	for _, h := range headers.Array() {
		cols = append(cols, officialHeaders[h.String()])
	}

	now := time.Now().UTC()
	var records []model.RawRecord
	for _, row := range rows.Array() {
		fields := make(map[string]model.StatValue, len(cols))
		var player, team string
		for i, cell := range row.Array() {
			if i >= len(cols) || cols[i] == "" {
				continue // unmapped column
			}
			v := cellValue(cell)
			switch cols[i] {
			case "player":
				player, _ = v.Text()
			case model.FieldTeam:
				team, _ = v.Text()
				fields[model.FieldTeam] = v
			default:
				fields[cols[i]] = v
			}
		}
		if player == "" {
			continue
		}
		records = append(records, model.RawRecord{
			Source:    a.id,
			Key:       model.RawKey{Player: player, Team: team, Season: scope.Season},
			Fields:    fields,
			FetchedAt: now,
		})
	}

	zap.L().Debug("official: fetched page",
		zap.String("source", a.id),
		zap.Int("page", page),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (a *OfficialAdapter) pageURL(season, page int) string {
	return fmt.Sprintf("%s/leaguedash?season=%d&page=%d", a.baseURL, season, page)
}

func cellValue(r gjson.Result) model.StatValue {
	switch r.Type {
	case gjson.Number:
		return model.Number(r.Num)
	case gjson.String:
		return model.String(r.Str)
	default:
		return model.Null()
	}
}
