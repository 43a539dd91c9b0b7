package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	pubmemory "github.com/JakeFAU/listing-harvester/internal/publisher/memory"
	"github.com/JakeFAU/listing-harvester/internal/publisher/webhook"
	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
)

type fakeBatches struct {
	mu      sync.Mutex
	calls   []string
	records map[string]int
	onCall  func()
}

func (f *fakeBatches) Batch(_ context.Context, keyword, place string, pages int) listing.BatchResult {
	f.mu.Lock()
	f.calls = append(f.calls, place+"/"+keyword)
	n := f.records[place+"/"+keyword]
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	res := listing.BatchResult{Keyword: keyword, Place: place, TotalPages: pages, Records: []listing.Record{}}
	for i := 0; i < n; i++ {
		res.Records = append(res.Records, listing.Record{
			Name: keyword + " " + place, Keyword: keyword, Place: place, Status: listing.DefaultStatus,
		})
	}
	res.SuccessfulPages = min(n, pages)
	res.EmptyPages = pages - res.SuccessfulPages
	return res
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "0190f3c2-7b1a-7000-8000-000000000001", nil }

type poolSize int

func (p poolSize) Len() int { return int(p) }

type fakeWebhook struct {
	previews []webhook.Preview
	uploads  []string
	err      error
}

func (f *fakeWebhook) SendPreview(_ context.Context, p webhook.Preview) error {
	f.previews = append(f.previews, p)
	return f.err
}

func (f *fakeWebhook) UploadCSV(_ context.Context, filename string, _ []byte, _ string, _ time.Time) error {
	f.uploads = append(f.uploads, filename)
	return f.err
}

type fakeRecords struct {
	saved int
	err   error
}

func (f *fakeRecords) SaveRecords(_ context.Context, records []listing.Record) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved += len(records)
	return len(records), nil
}

type fixture struct {
	batches   *fakeBatches
	artifacts *memory.BlobStore
	records   *fakeRecords
	hook      *fakeWebhook
	summary   *pubmemory.Publisher
	events    *progress.Recorder
}

func newFixture(counts map[string]int) *fixture {
	return &fixture{
		batches:   &fakeBatches{records: counts},
		artifacts: memory.NewBlobStore(),
		records:   &fakeRecords{},
		hook:      &fakeWebhook{},
		summary:   pubmemory.New(),
		events:    &progress.Recorder{},
	}
}

func (f *fixture) pipeline(t *testing.T, cfg Config, proxies int) *Pipeline {
	t.Helper()
	p, err := New(cfg, Deps{
		Batches:   f.batches,
		Proxies:   poolSize(proxies),
		Artifacts: f.artifacts,
		Records:   f.records,
		Webhook:   f.hook,
		Summary:   f.summary,
		Clock:     &stepClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		IDs:       fixedIDs{},
		Emitter:   f.events,
	})
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	return Config{Pages: 3, ComboDelay: jitter.Between(0, 0), Timezone: "EST"}
}

func TestRunVisitsPlacesThenKeywords(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]int{"NY/Plumbers": 2, "NJ/Roofers": 1})
	sum, err := f.pipeline(t, testConfig(), 5).Run(context.Background(), []string{"Plumbers", "Roofers"}, []string{"NY", "NJ"})
	require.NoError(t, err)

	require.Equal(t, []string{"NY/Plumbers", "NY/Roofers", "NJ/Plumbers", "NJ/Roofers"}, f.batches.calls)
	require.Equal(t, 3, sum.Records)
	require.Equal(t, 5, sum.Proxies)
	require.Len(t, sum.Combos, 4)
	require.Equal(t, 2, sum.Combos[0].Records)
	require.Empty(t, sum.Combos[1].ProgressURI)
	require.Equal(t, "0190f3c2-7b1a-7000-8000-000000000001", sum.RunID)

	// two progress files plus the final file
	paths := f.artifacts.Paths()
	require.Len(t, paths, 3)
	require.Equal(t, sum.FinalFile, strings.TrimPrefix(sum.FinalURI, "memory://"))
	require.True(t, strings.HasPrefix(sum.FinalFile, "multi_session_final_20250601_"))

	final, ok := f.artifacts.Get(sum.FinalFile)
	require.True(t, ok)
	require.Len(t, strings.Split(strings.TrimSpace(string(final)), "\n"), 4)

	require.Equal(t, 3, f.records.saved)
	require.Len(t, f.hook.previews, 1)
	require.Equal(t, 3, f.hook.previews[0].TotalListings)
	require.Equal(t, "EST", f.hook.previews[0].Timezone)
	require.Len(t, f.hook.previews[0].Data, 3)
	require.Equal(t, []string{sum.FinalFile}, f.hook.uploads)

	published := f.summary.ForTopic(SummaryTopic)
	require.Len(t, published, 1)
	require.Equal(t, sum.RunID, published[0].(Summary).RunID)

	stages := f.events.Stages()
	require.Equal(t, progress.StageProxyLoad, stages[0])
	require.Equal(t, progress.StageRunStart, stages[1])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	for _, evt := range f.events.Events() {
		require.NotEqual(t, [16]byte{}, evt.RunID)
	}
}

func TestRunWithoutRecordsSkipsDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(nil)
	sum, err := f.pipeline(t, testConfig(), 1).Run(context.Background(), []string{"Plumbers"}, []string{"NY"})
	require.NoError(t, err)
	require.Zero(t, sum.Records)
	require.Empty(t, sum.FinalURI)
	require.Empty(t, f.artifacts.Paths())
	require.Empty(t, f.hook.previews)
	require.Len(t, f.summary.Messages(), 1)
}

func TestRunRequiresProxies(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RequireProxies = true
	f := newFixture(map[string]int{"NY/Plumbers": 1})
	_, err := f.pipeline(t, cfg, 0).Run(context.Background(), []string{"Plumbers"}, []string{"NY"})
	require.ErrorIs(t, err, ErrNoProxies)
	require.Empty(t, f.batches.calls)
}

func TestRunDirectWhenProxiesOptional(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]int{"NY/Plumbers": 1})
	sum, err := f.pipeline(t, testConfig(), 0).Run(context.Background(), []string{"Plumbers"}, []string{"NY"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Records)
}

func TestRunDeliveryFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(map[string]int{"NY/Plumbers": 2})
	f.hook.err = errors.New("webhook down")
	f.records.err = errors.New("db down")
	f.summary.FailWith(errors.New("pubsub down"))

	sum, err := f.pipeline(t, testConfig(), 1).Run(context.Background(), []string{"Plumbers"}, []string{"NY"})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Records)
	require.NotEmpty(t, sum.FinalURI)
	require.Len(t, f.hook.uploads, 1)
}

func TestRunCancelledKeepsGatheredRecords(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(map[string]int{"NY/Plumbers": 2, "NY/Roofers": 2})
	f.batches.onCall = cancel

	sum, err := f.pipeline(t, testConfig(), 1).Run(ctx, []string{"Plumbers", "Roofers"}, []string{"NY"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"NY/Plumbers"}, f.batches.calls)
	require.Equal(t, 2, sum.Records)
	require.NotEmpty(t, sum.FinalURI)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), Deps{})
	require.Error(t, err)

	cfg := testConfig()
	cfg.Pages = 0
	_, err = New(cfg, Deps{Batches: &fakeBatches{}, Artifacts: memory.NewBlobStore(), Clock: &stepClock{}, IDs: fixedIDs{}})
	require.Error(t, err)
}
