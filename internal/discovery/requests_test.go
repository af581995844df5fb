package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequests(t *testing.T) {
	in := `company_id, workspace_id, employees, flagged_large
acme, ws1, 80,
globex, ws1, , true
acme, ws2, 10, false
, ws1, 5,
initech, ws1, 4200, false
`
	reqs, err := ReadRequests(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	assert.Equal(t, "acme", reqs[0].CompanyID)
	assert.Equal(t, "ws1", reqs[0].WorkspaceID)
	require.NotNil(t, reqs[0].Employees)
	assert.Equal(t, 80, *reqs[0].Employees)

	assert.Equal(t, "globex", reqs[1].CompanyID)
	assert.Nil(t, reqs[1].Employees)
	assert.True(t, reqs[1].FlaggedLarge)

	assert.Equal(t, "initech", reqs[2].CompanyID)
	assert.Equal(t, 4200, *reqs[2].Employees)
}

func TestReadRequests_OnlyCompanyColumn(t *testing.T) {
	reqs, err := ReadRequests(strings.NewReader("Company_ID\nacme\nglobex\n"))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].WorkspaceID)
}

func TestReadRequests_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"empty", "", "companies file is empty"},
		{"no company column", "name,employees\nacme,5\n", "no company_id column"},
		{"bad employees", "company_id,employees\nacme,lots\n", `line 2: employees "lots"`},
		{"negative employees", "company_id,employees\nacme,-3\n", "invalid request"},
		{"bad flag", "company_id,flagged_large\nacme,maybe\n", "flagged_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequests(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequestsFromRows(t *testing.T) {
	rows := [][]string{
		{"company_id", "employees"},
		{"acme", "120"},
		{"globex"},
		{"", "7"},
	}
	reqs, err := RequestsFromRows(rows)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, 120, *reqs[0].Employees)
	assert.Nil(t, reqs[1].Employees)

	_, err = RequestsFromRows(nil)
	require.Error(t, err)
}
