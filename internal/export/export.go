// Package export writes a published queue to CSV or XLSX, and reads XLSX
// sheets used as command input.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// Header is the column order for every export format.
var Header = []string{"global_rank", "entity_kind", "entity_id", "name", "company_id", "company_name", "score"}

// Row is one exported queue entry with display names resolved.
type Row struct {
	GlobalRank  int
	Kind        model.EntityKind
	EntityID    string
	Name        string
	CompanyID   string
	CompanyName string
	Score       float64
}

func (r Row) strings() []string {
	return []string{
		strconv.Itoa(r.GlobalRank),
		string(r.Kind),
		r.EntityID,
		r.Name,
		r.CompanyID,
		r.CompanyName,
		strconv.FormatFloat(r.Score, 'f', 2, 64),
	}
}

// Rows joins queue entries with entity names from snap. snap may be nil, in
// which case names are left blank. Ranks are copied from the queue as is.
func Rows(q *model.RankedQueue, snap *model.Snapshot) []Row {
	if q == nil {
		return nil
	}
	companies := map[string]string{}
	people := map[string]string{}
	if snap != nil {
		for _, c := range snap.Companies {
			companies[c.ID] = c.Name
		}
		for _, p := range snap.People {
			people[p.ID] = p.FullName
		}
	}

	rows := make([]Row, len(q.Entries))
	for i, e := range q.Entries {
		r := Row{
			GlobalRank:  e.GlobalRank,
			Kind:        e.Kind,
			EntityID:    e.EntityID,
			CompanyID:   e.CompanyID,
			CompanyName: companies[e.CompanyID],
			Score:       e.Score,
		}
		if e.Kind == model.KindPerson {
			r.Name = people[e.EntityID]
		} else {
			r.Name = companies[e.EntityID]
			r.CompanyID = e.EntityID
			r.CompanyName = r.Name
		}
		rows[i] = r
	}
	return rows
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(r.strings()); err != nil {
			return eris.Wrapf(err, "export: write csv rank %d", r.GlobalRank)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX saves rows to a single-sheet workbook at path. Rank and score
// are numeric cells.
func WriteXLSX(path, sheetName string, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %q", sheetName)
	}

	hdr := sheet.AddRow()
	for _, h := range Header {
		hdr.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.GlobalRank)
		row.AddCell().SetString(string(r.Kind))
		row.AddCell().SetString(r.EntityID)
		row.AddCell().SetString(r.Name)
		row.AddCell().SetString(r.CompanyID)
		row.AddCell().SetString(r.CompanyName)
		row.AddCell().SetFloatWithFormat(r.Score, "0.00")
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// ReadXLSX returns every row of the first sheet as strings.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("export: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
