package discovery

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a request's fields.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrap(err, "discovery: invalid request")
	}
	return nil
}

// ReadRequests parses a CSV of companies to discover. The header must name
// a company_id column; workspace_id, employees and flagged_large are
// optional. Blank employee cells mean unknown. Duplicate company IDs keep
// the first row.
func ReadRequests(r io.Reader) ([]Request, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "discovery: read companies csv")
	}
	return RequestsFromRows(rows)
}

// RequestsFromRows applies the ReadRequests rules to rows already split into
// cells, such as the first sheet of a workbook. rows[0] is the header.
func RequestsFromRows(rows [][]string) ([]Request, error) {
	if len(rows) == 0 {
		return nil, eris.New("discovery: companies file is empty")
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["company_id"]; !ok {
		return nil, eris.New("discovery: companies file has no company_id column")
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var reqs []Request
	seen := make(map[string]bool)
	for i, rec := range rows[1:] {
		line := i + 2
		req := Request{
			CompanyID:   field(rec, "company_id"),
			WorkspaceID: field(rec, "workspace_id"),
		}
		if req.CompanyID == "" || seen[req.CompanyID] {
			continue
		}
		if v := field(rec, "employees"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, eris.Wrapf(err, "discovery: line %d: employees %q", line, v)
			}
			req.Employees = &n
		}
		if v := field(rec, "flagged_large"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, eris.Wrapf(err, "discovery: line %d: flagged_large %q", line, v)
			}
			req.FlaggedLarge = b
		}
		if err := req.Validate(); err != nil {
			return nil, eris.Wrapf(err, "discovery: line %d", line)
		}
		seen[req.CompanyID] = true
		reqs = append(reqs, req)
	}
	return reqs, nil
}
