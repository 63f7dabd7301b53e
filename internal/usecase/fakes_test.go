package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TieredCrawler/internal/crawlfile"
	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
	"TieredCrawler/internal/source"
)

type memStore struct {
	mu       sync.Mutex
	items    []domain.WorkItem
	listErr  error
	applyErr error
	imported map[string][]crawlfile.ResultRecord
	calls    int
}

var _ ports.WorkStore = (*memStore)(nil)

func (s *memStore) ListValid(context.Context) ([]domain.WorkItem, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.WorkItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Valid {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) ApplyResults(_ context.Context, runKey string, records []crawlfile.ResultRecord, force bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.applyErr != nil {
		return 0, s.applyErr
	}
	if s.imported == nil {
		s.imported = map[string][]crawlfile.ResultRecord{}
	}
	if _, ok := s.imported[runKey]; ok && !force {
		return 0, ports.ErrAlreadyImported
	}
	s.imported[runKey] = append([]crawlfile.ResultRecord(nil), records...)
	return len(records), nil
}

// scriptSource returns queued errors per external id, then the configured metrics.
type scriptSource struct {
	mu      sync.Mutex
	errs    map[string][]error
	metrics domain.Metrics
	calls   map[string]int
	block   bool
}

func newScriptSource() *scriptSource {
	return &scriptSource{
		errs:    map[string][]error{},
		metrics: domain.Metrics{"view": 1000, "like": 10},
		calls:   map[string]int{},
	}
}

func (s *scriptSource) Name() string { return domain.DefaultPlatform }

func (s *scriptSource) FetchStats(ctx context.Context, externalID string) (domain.Metrics, error) {
	s.mu.Lock()
	s.calls[externalID]++
	queue := s.errs[externalID]
	var err error
	if len(queue) > 0 {
		err, s.errs[externalID] = queue[0], queue[1:]
	}
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return s.metrics, nil
}

func (s *scriptSource) callCount(externalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[externalID]
}

func registryWith(src source.StatsSource) *source.Registry {
	reg := source.NewRegistry()
	reg.Register(src)
	return reg
}

// stepClock returns start on the first read and advances by step on every read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type memRecorder struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (r *memRecorder) RecordRun(report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type memNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (n *memNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return nil
}

// faultyExporter panics or fails for one tier and delegates otherwise.
type faultyExporter struct {
	inner   TierExporter
	tier    domain.Tier
	panics  bool
	failErr error
}

func (f faultyExporter) Export(ctx context.Context, tier domain.Tier, now time.Time) (ExportInfo, error) {
	if tier == f.tier {
		if f.panics {
			panic(fmt.Sprintf("%s exporter exploded", tier))
		}
		if f.failErr != nil {
			return ExportInfo{}, f.failErr
		}
	}
	return f.inner.Export(ctx, tier, now)
}

func workItem(id, bvid string, published time.Time) domain.WorkItem {
	return domain.WorkItem{
		ID:          id,
		Platform:    domain.DefaultPlatform,
		ExternalID:  bvid,
		Title:       "work " + id,
		PublishedAt: published,
		Valid:       true,
	}
}
