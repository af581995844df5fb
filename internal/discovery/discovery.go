// Package discovery runs buyer-group discovery for companies: fetch raw
// profiles, normalize, classify, balance against the size-tiered targets,
// and persist the group as one atomic replace.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/balance"
	"github.com/sells-group/speedrun-cli/internal/classify"
	"github.com/sells-group/speedrun-cli/internal/metrics"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/normalize"
	"github.com/sells-group/speedrun-cli/internal/resilience"
	"github.com/sells-group/speedrun-cli/internal/targets"
	"github.com/sells-group/speedrun-cli/pkg/enrichment"
)

// ErrProviderUnavailable marks a run that failed because the enrichment
// provider could not be reached or refused the request. Nothing was written
// and the run may be retried.
var ErrProviderUnavailable = eris.New("discovery: provider unavailable")

// Store is the subset of the entity store discovery needs.
type Store interface {
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	ReplaceBuyerGroup(ctx context.Context, g *model.BuyerGroup) error
	RecordFailure(ctx context.Context, e resilience.FailureEntry) error
	ListFailures(ctx context.Context, f resilience.FailureFilter) ([]resilience.FailureEntry, error)
	RemoveFailure(ctx context.Context, companyID string) error
}

// Request identifies one company to discover. Employees and FlaggedLarge
// are looked up in the store when neither is supplied.
type Request struct {
	CompanyID    string `json:"company_id" validate:"required"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	Employees    *int   `json:"employees,omitempty" validate:"omitempty,gte=0"`
	FlaggedLarge bool   `json:"flagged_large,omitempty"`

	// retryCount carries the ledger count when replaying a failure.
	retryCount int
}

// Outcome is the result of one company's run within a batch.
type Outcome struct {
	CompanyID string
	Group     *model.BuyerGroup
	Skipped   []normalize.Skipped
	Err       error
}

// Service wires the discovery stages together. It is safe for concurrent
// use; runs for different companies share nothing mutable.
type Service struct {
	provider   enrichment.Provider
	store      Store
	normalizer *normalize.Normalizer
	classifier *classify.Classifier
	adjuster   classify.Adjuster
	resolver   *targets.Resolver
	balancer   *balance.Balancer
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker

	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	now         func() time.Time
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithResolver sets the target resolver.
func WithResolver(r *targets.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithFloor sets the balancer acceptance floor.
func WithFloor(f float64) Option {
	return func(s *Service) { s.balancer = balance.New(balance.WithFloor(f), balance.WithNow(s.clock)) }
}

// WithAdjuster installs a bounded post-classification adjuster.
func WithAdjuster(a classify.Adjuster) Option {
	return func(s *Service) { s.adjuster = a }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithRetryPolicy sets the provider retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithBreaker guards provider calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithConcurrency bounds parallel runs in RunBatch.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithFailureLedger sets the retry cap and base delay for recorded failures.
func WithFailureLedger(maxRetries int, delay time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithNow sets the clock.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithIDFunc sets the buyer-group and ledger ID generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a Service with default stages.
func New(provider enrichment.Provider, st Store, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		store:       st,
		normalizer:  normalize.New(),
		classifier:  classify.New(nil),
		retry:       resilience.DefaultRetryPolicy(),
		concurrency: 5,
		maxRetries:  3,
		retryDelay:  15 * time.Minute,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	s.balancer = balance.New(balance.WithNow(s.clock))
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver, _ = targets.NewResolver(nil)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.LogRetry("enrichment", "fetch_employee_profiles")
	}
	return s
}

func (s *Service) clock() time.Time { return s.now() }

// Run discovers the buyer group for one company. A provider failure returns
// an error wrapping ErrProviderUnavailable and leaves any previously stored
// group untouched.
func (s *Service) Run(ctx context.Context, req Request) (*model.BuyerGroup, []normalize.Skipped, error) {
	if req.CompanyID == "" {
		return nil, nil, eris.New("discovery: company id is required")
	}
	start := time.Now()
	defer func() { metrics.DiscoveryDuration.Observe(time.Since(start).Seconds()) }()

	log := zap.L().With(zap.String("company_id", req.CompanyID))

	req, err := s.complete(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	profiles, err := s.fetch(ctx, req.CompanyID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrapf(ctx.Err(), "discovery: company %s", req.CompanyID)
		}
		log.Warn("discovery: provider failed", zap.Error(err))
		metrics.DiscoveryRuns.WithLabelValues(metrics.OutcomeProvider).Inc()
		s.recordFailure(ctx, req, err, providerErrorClass(err))
		return nil, nil, eris.Wrapf(ErrProviderUnavailable, "company %s: %v", req.CompanyID, err)
	}

	cands, skipped := s.normalizer.NormalizeAll(profiles)
	for _, sk := range skipped {
		log.Debug("discovery: skipped profile", zap.String("source_id", sk.SourceID), zap.String("reason", sk.Reason))
		metrics.ProfilesSkipped.WithLabelValues(sk.Reason).Inc()
	}

	scored := s.classifier.ScoreAll(cands)
	if s.adjuster != nil {
		adjusted, err := classify.ApplyAdjuster(ctx, s.adjuster, scored)
		if adjusted == nil {
			return nil, nil, eris.Wrapf(err, "discovery: company %s", req.CompanyID)
		}
		if err != nil {
			log.Warn("discovery: adjuster failed for some candidates", zap.Error(err))
		}
		scored = adjusted
	}

	spec := s.resolver.Resolve(req.Employees, req.FlaggedLarge)
	group := s.balancer.Balance(req.CompanyID, scored, spec)
	group.ID = s.newID()
	group.WorkspaceID = req.WorkspaceID
	group.Skipped = len(skipped)

	if err := s.store.ReplaceBuyerGroup(ctx, group); err != nil {
		metrics.DiscoveryRuns.WithLabelValues(metrics.OutcomePersist).Inc()
		s.recordFailure(ctx, req, err, resilience.Classify(err))
		return nil, skipped, eris.Wrapf(err, "discovery: persist company %s", req.CompanyID)
	}

	if err := s.store.RemoveFailure(ctx, req.CompanyID); err != nil {
		log.Warn("discovery: clear failure entry", zap.Error(err))
	}

	outcome := metrics.OutcomeSuccess
	if len(group.Underfilled) > 0 || group.Undersized != nil {
		outcome = metrics.OutcomeUnderfilled
		for _, u := range group.Underfilled {
			metrics.UnderfilledRoles.WithLabelValues(string(u.Role)).Inc()
		}
	}
	metrics.DiscoveryRuns.WithLabelValues(outcome).Inc()

	log.Info("discovery: buyer group persisted",
		zap.String("bracket", string(spec.Bracket)),
		zap.Int("profiles", len(profiles)),
		zap.Int("candidates", len(cands)),
		zap.Int("skipped", len(skipped)),
		zap.Int("members", group.Size()),
		zap.Int("underfilled", len(group.Underfilled)),
		zap.Bool("undersized", group.Undersized != nil),
	)
	return group, skipped, nil
}

// complete fills size hints and workspace from the stored company when the
// request carries none.
func (s *Service) complete(ctx context.Context, req Request) (Request, error) {
	if req.Employees != nil && req.WorkspaceID != "" {
		return req, nil
	}
	c, err := s.store.GetCompany(ctx, req.CompanyID)
	if err != nil {
		return req, eris.Wrapf(err, "discovery: load company %s", req.CompanyID)
	}
	if c == nil {
		return req, nil
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = c.WorkspaceID
	}
	if req.Employees == nil {
		req.Employees = c.EmployeeCount
	}
	req.FlaggedLarge = req.FlaggedLarge || c.FlaggedLarge
	return req, nil
}

func (s *Service) fetch(ctx context.Context, companyID string) ([]model.RawProfile, error) {
	call := func(ctx context.Context) ([]model.RawProfile, error) {
		return s.provider.FetchEmployeeProfiles(ctx, companyID)
	}
	if s.breaker != nil {
		inner := call
		call = func(ctx context.Context) ([]model.RawProfile, error) {
			return resilience.Guard(ctx, s.breaker, inner)
		}
	}
	return resilience.Retry(ctx, s.retry, call)
}

// providerErrorClass treats an open breaker as transient: the provider is
// expected back once the breaker resets.
func providerErrorClass(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return resilience.ClassTransient
	}
	return resilience.Classify(err)
}

func (s *Service) recordFailure(ctx context.Context, req Request, cause error, class string) {
	now := s.now().UTC()
	entry := resilience.FailureEntry{
		ID:           s.newID(),
		CompanyID:    req.CompanyID,
		WorkspaceID:  req.WorkspaceID,
		Employees:    req.Employees,
		FlaggedLarge: req.FlaggedLarge,
		Error:        cause.Error(),
		ErrorType:    class,
		RetryCount:   req.retryCount,
		MaxRetries:   s.maxRetries,
		NextRetryAt:  resilience.NextAttempt(now, s.retryDelay, req.retryCount),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := s.store.RecordFailure(ctx, entry); err != nil {
		zap.L().Error("discovery: record failure",
			zap.String("company_id", req.CompanyID),
			zap.Error(err),
		)
	}
}
