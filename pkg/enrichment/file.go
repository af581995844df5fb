package enrichment

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// FileProvider serves profiles from a JSON-lines file, one RawProfile per
// line. Lines for other companies are ignored; blank lines are skipped.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider backed by path. The file is read on
// every fetch so edits are picked up between runs.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// FetchEmployeeProfiles returns the file's profiles for companyID. A line
// without a company_id is attributed to companyID.
func (f *FileProvider) FetchEmployeeProfiles(ctx context.Context, companyID string) ([]model.RawProfile, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrichment: open %s", f.path)
	}
	defer file.Close() //nolint:errcheck

	var out []model.RawProfile
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rp model.RawProfile
		if err := json.Unmarshal([]byte(text), &rp); err != nil {
			zap.L().Debug("enrichment: skipping malformed line",
				zap.String("path", f.path),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		if rp.CompanyID == "" {
			rp.CompanyID = companyID
		}
		if rp.CompanyID != companyID {
			continue
		}
		out = append(out, rp)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "enrichment: read %s", f.path)
	}
	return out, nil
}
