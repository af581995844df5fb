// Package store persists workspace entities, buyer groups, ranked queues,
// and the discovery failure ledger.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

// ErrStaleGeneration is returned by ReplaceQueue when the stored queue was
// built by the same or a newer rebuild.
var ErrStaleGeneration = eris.New("store: stale queue generation")

// Store is the entity store consumed by discovery and queue rebuilds.
// Lookups of missing rows return nil, nil.
type Store interface {
	// Entities
	LoadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error)
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	UpsertCompany(ctx context.Context, c model.Company) error
	UpsertPerson(ctx context.Context, p model.Person) error

	// Buyer groups
	ReplaceBuyerGroup(ctx context.Context, g *model.BuyerGroup) error
	GetBuyerGroup(ctx context.Context, companyID string) (*model.BuyerGroup, error)

	// Ranked queue
	ReplaceQueue(ctx context.Context, q *model.RankedQueue) error
	GetQueue(ctx context.Context, workspaceID string, offset, limit int) (*model.RankedQueue, error)

	// Discovery failure ledger
	RecordFailure(ctx context.Context, e resilience.FailureEntry) error
	ListFailures(ctx context.Context, f resilience.FailureFilter) ([]resilience.FailureEntry, error)
	RemoveFailure(ctx context.Context, companyID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// defaultFailureLimit bounds ListFailures when the filter sets no limit.
const defaultFailureLimit = 100

var queueEntryColumns = []string{"workspace_id", "global_rank", "entity_kind", "entity_id", "company_id", "score"}

func actionFrom(typ *string, at *time.Time) *model.Action {
	if typ == nil {
		return nil
	}
	a := &model.Action{Type: *typ}
	if at != nil {
		a.OccurredAt = at.UTC()
	}
	return a
}

func actionArgs(a *model.Action) (any, any) {
	if a == nil {
		return nil, nil
	}
	if a.OccurredAt.IsZero() {
		return a.Type, nil
	}
	return a.Type, a.OccurredAt.UTC()
}
