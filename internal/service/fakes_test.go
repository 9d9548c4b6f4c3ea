package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(clock *fakeClock) *cache.Store {
	return cache.NewStore(cache.StoreConfig{
		PlanningTTL: 6 * time.Hour,
		ShipmentTTL: 5 * time.Minute,
		Now:         clock.Now,
		Logger:      testLogger,
	})
}

// fakeUpstream answers by path. Handlers return a value that is round-tripped
// through JSON into the caller's out parameter.
type fakeUpstream struct {
	mu       sync.Mutex
	calls    []string
	get      func(region model.Region, path string, params url.Values) (any, error)
	post     func(region model.Region, path string, body any) (any, error)
	download func(rawURL string) ([]byte, error)
}

func (f *fakeUpstream) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeUpstream) Get(_ context.Context, region model.Region, path string, params url.Values, out any) error {
	f.record("GET " + path)
	if f.get == nil {
		return fmt.Errorf("unexpected GET %s", path)
	}
	v, err := f.get(region, path, params)
	if err != nil {
		return err
	}
	return roundTrip(v, out)
}

func (f *fakeUpstream) Post(_ context.Context, region model.Region, path string, body any, out any) error {
	f.record("POST " + path)
	if f.post == nil {
		return fmt.Errorf("unexpected POST %s", path)
	}
	v, err := f.post(region, path, body)
	if err != nil {
		return err
	}
	return roundTrip(v, out)
}

func (f *fakeUpstream) Download(_ context.Context, rawURL string) ([]byte, error) {
	f.record("DOWNLOAD " + rawURL)
	if f.download == nil {
		return nil, fmt.Errorf("unexpected download %s", rawURL)
	}
	return f.download(rawURL)
}

func roundTrip(v any, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

type validatorFunc func(ctx context.Context, region model.Region) error

func (f validatorFunc) Validate(ctx context.Context, region model.Region) error { return f(ctx, region) }

var allowAll = validatorFunc(func(context.Context, model.Region) error { return nil })

// memRuns is an in-memory RunRepository.
type memRuns struct {
	mu     sync.Mutex
	runs   []model.RefreshRun
	pruned []time.Time
}

func (m *memRuns) Record(_ context.Context, run *model.RefreshRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRuns) LatestByRegion(context.Context) (map[model.Region]*model.RefreshRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Region]*model.RefreshRun)
	for i := range m.runs {
		r := m.runs[i]
		out[r.Region] = &r
	}
	return out, nil
}

func (m *memRuns) List(_ context.Context, region model.Region, limit int) ([]model.RefreshRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RefreshRun
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.runs[i].Region == region {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

func (m *memRuns) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, cutoff)
	return 0, nil
}

func (m *memRuns) Close() error { return nil }

func (m *memRuns) Outcomes() []model.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Outcome, len(m.runs))
	for i, r := range m.runs {
		out[i] = r.Outcome
	}
	return out
}

// planningReport renders n planning rows as a gzip-compressed TSV document.
func planningReport(n int) []byte {
	var b strings.Builder
	b.WriteString("sku\tproduct-name\tavailable\tunits-shipped-t7\testimated-storage-cost-next-month\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "SKU-%03d\tWidget %d\t%d\t%d\t0.50\n", i, i, i, i%7)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(b.String()))
	_ = zw.Close()
	return buf.Bytes()
}
