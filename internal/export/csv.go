// Package export renders canonical records for downstream consumers.
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/model"
)

// row is the flat CSV shape, one line per player-season. Column order
// matches the season export consumers already ingest.
type row struct {
	Player   string `csv:"player"`
	Team     string `csv:"team"`
	Season   int    `csv:"season"`
	Games    string `csv:"g"`
	Started  string `csv:"gs"`
	Minutes  string `csv:"mp"`
	FG       string `csv:"fg"`
	FGA      string `csv:"fga"`
	FGPct    string `csv:"fg_pct"`
	FG3      string `csv:"fg3"`
	FG3A     string `csv:"fg3a"`
	FG3Pct   string `csv:"fg3_pct"`
	FT       string `csv:"ft"`
	FTA      string `csv:"fta"`
	FTPct    string `csv:"ft_pct"`
	ORB      string `csv:"orb"`
	DRB      string `csv:"drb"`
	TRB      string `csv:"trb"`
	AST      string `csv:"ast"`
	STL      string `csv:"stl"`
	BLK      string `csv:"blk"`
	TOV      string `csv:"tov"`
	PF       string `csv:"pf"`
	PTS      string `csv:"pts"`
	Version  int64  `csv:"version"`
	Conflict string `csv:"conflicted_fields"`
}

// WriteCSV renders records as CSV. Records are written in input order;
// callers pass store output, which is already key-sorted.
func WriteCSV(w io.Writer, records []model.CanonicalRecord) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	for _, rec := range records {
		if err := enc.Encode(toRow(rec)); err != nil {
			return eris.Wrap(err, "export: encode record")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush")
	}
	return nil
}

// CSVBytes renders records as an in-memory CSV document.
func CSVBytes(records []model.CanonicalRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toRow(rec model.CanonicalRecord) row {
	r := row{
		Player:  rec.Player,
		Team:    rec.Key.Team,
		Season:  rec.Key.Season,
		Version: rec.Version,
	}
	cells := map[string]*string{
		model.StatGames: &r.Games, model.StatGamesStarted: &r.Started, model.StatMinutes: &r.Minutes,
		model.StatFG: &r.FG, model.StatFGA: &r.FGA, model.StatFGPct: &r.FGPct,
		model.StatFG3: &r.FG3, model.StatFG3A: &r.FG3A, model.StatFG3Pct: &r.FG3Pct,
		model.StatFT: &r.FT, model.StatFTA: &r.FTA, model.StatFTPct: &r.FTPct,
		model.StatORB: &r.ORB, model.StatDRB: &r.DRB, model.StatTRB: &r.TRB,
		model.StatAST: &r.AST, model.StatSTL: &r.STL, model.StatBLK: &r.BLK,
		model.StatTOV: &r.TOV, model.StatPF: &r.PF, model.StatPTS: &r.PTS,
	}
	conflicted := ""
	for _, field := range model.NumericStatFields {
		cell, ok := cells[field]
		if !ok {
			continue
		}
		fv, present := rec.Fields[field]
		if !present || fv.Value.IsNull() {
			continue
		}
		if f, isNum := fv.Value.Float(); isNum {
			*cell = strconv.FormatFloat(f, 'g', -1, 64)
		} else {
			*cell, _ = fv.Value.Text()
		}
		if fv.Conflicted {
			if conflicted != "" {
				conflicted += ";"
			}
			conflicted += field
		}
	}
	r.Conflict = conflicted
	return r
}
