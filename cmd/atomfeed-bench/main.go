// Command atomfeed-bench measures consumer throughput against a synthetic
// archived Atom feed served in-process.
//
// The feed is split into archive pages linked with prev-archive and
// next-archive, the newest page also served as /feed/recent. Events are read
// with the HTTP transport and Atom parser and recorded in SQLite or MySQL.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/atom"
	"github.com/velmie/atomfeed/httptransport"
	"github.com/velmie/atomfeed/mysql"
	"github.com/velmie/atomfeed/sqlite"
)

const (
	defaultEvents         = 10000
	defaultPageSize       = 100
	defaultPayloadBytes   = 512
	defaultBatchSize      = 100
	defaultRetryBatchSize = 50
	percentileP50         = 0.50
	percentileP95         = 0.95
	percentileP99         = 0.99
	microsecondsPerSecond = 1e6
	atomTimeLayout        = time.RFC3339
)

var (
	errDSNRequired       = errors.New("atomfeed-bench: dsn is required for mysql")
	errUnsupportedDriver = errors.New("atomfeed-bench: unsupported driver")
	errInvalidPageSize   = errors.New("atomfeed-bench: page size must be positive")
	errProcessedMismatch = errors.New("atomfeed-bench: processed events mismatch")
	errBacklogRemains    = errors.New("atomfeed-bench: failed events left after retry")
)

type result struct {
	Driver           string        `json:"driver"`
	Events           int           `json:"events"`
	Pages            int           `json:"pages"`
	PageSize         int           `json:"page_size"`
	BatchSize        int           `json:"batch_size"`
	PayloadBytes     int           `json:"payload_bytes"`
	FailEvery        int           `json:"fail_every"`
	Processed        int64         `json:"processed"`
	Failed           int64         `json:"failed"`
	Recovered        int64         `json:"recovered"`
	Cycles           int           `json:"cycles"`
	PageRequests     int64         `json:"page_requests"`
	Duration         time.Duration `json:"duration"`
	RetryDuration    time.Duration `json:"retry_duration"`
	Throughput       float64       `json:"throughput_events_per_sec"`
	CycleP50Ms       float64       `json:"cycle_p50_ms"`
	CycleP95Ms       float64       `json:"cycle_p95_ms"`
	CycleP99Ms       float64       `json:"cycle_p99_ms"`
	CycleMaxMs       float64       `json:"cycle_max_ms"`
	CycleMeanMs      float64       `json:"cycle_mean_ms"`
	ProcessUserCPU   float64       `json:"process_user_cpu_seconds"`
	ProcessSystemCPU float64       `json:"process_system_cpu_seconds"`
	ProcessMaxRSSKB  int64         `json:"process_max_rss_kb"`
	GoTotalAllocByte uint64        `json:"go_total_alloc_bytes"`
	GoNumGC          uint32        `json:"go_num_gc"`
}

type benchConfig struct {
	driver       string
	dsn          string
	events       int
	pageSize     int
	payloadBytes int
	batchSize    int
	failEvery    int
	workerDelay  time.Duration
	progress     bool
}

func main() {
	var (
		cfg     benchConfig
		jsonOut bool
	)

	flag.StringVar(&cfg.driver, "driver", "sqlite", "Storage driver: sqlite or mysql")
	flag.StringVar(&cfg.dsn, "dsn", "", "MySQL DSN with parseTime=true, or SQLite file path (temp file when empty)")
	flag.IntVar(&cfg.events, "events", defaultEvents, "Number of events in the feed")
	flag.IntVar(&cfg.pageSize, "page-size", defaultPageSize, "Entries per archive page")
	flag.IntVar(&cfg.payloadBytes, "payload-bytes", defaultPayloadBytes, "Entry content size in bytes")
	flag.IntVar(&cfg.batchSize, "batch-size", defaultBatchSize, "Events per ProcessEvents call")
	flag.IntVar(&cfg.failEvery, "fail-every", 0, "Fail every n-th event on first delivery (0 disables)")
	flag.DurationVar(&cfg.workerDelay, "worker-delay", 0, "Simulated work per event")
	flag.BoolVar(&cfg.progress, "progress", true, "Emit progress updates to stderr")
	flag.BoolVar(&jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	res, err := runBench(context.Background(), cfg)
	if err != nil {
		exitErr(err)
	}

	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			exitErr(err)
		}

		return
	}

	fmt.Printf(
		"RESULT driver=%s events=%d pages=%d duration=%s throughput=%.0f/s batch=%d failed=%d recovered=%d cycle_p95=%.2fms\n",
		res.Driver,
		res.Events,
		res.Pages,
		res.Duration,
		res.Throughput,
		res.BatchSize,
		res.Failed,
		res.Recovered,
		res.CycleP95Ms,
	)
}

func runBench(ctx context.Context, cfg benchConfig) (result, error) {
	if cfg.pageSize <= 0 {
		return result{}, errInvalidPageSize
	}

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return result{}, err
	}
	defer closeStorage()

	feed := newSyntheticFeed(cfg.events, cfg.pageSize, cfg.payloadBytes)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	metrics := &benchMetrics{}
	worker := newBenchWorker(cfg.failEvery, cfg.workerDelay)
	fetcher := atomfeed.NewFetcher(httptransport.New(httptransport.WithClient(srv.Client())), atom.NewParser())
	consumer := atomfeed.NewConsumer(
		srv.URL+"/feed/recent",
		"bench-"+strconv.FormatInt(time.Now().UnixNano(), 10),
		fetcher,
		storage,
		worker,
		atomfeed.WithBatchSize(cfg.batchSize),
		atomfeed.WithRetryBatchSize(defaultRetryBatchSize),
		atomfeed.WithMetrics(metrics),
	)

	printer := newProgressPrinter(cfg.progress)
	startUsage := readResourceUsage()
	start := time.Now()
	cycles := 0
	for {
		res, err := consumer.ProcessEvents(ctx)
		if err != nil {
			return result{}, err
		}
		cycles++
		printer.Print(fmt.Sprintf("consume processed=%d failed=%d", metrics.processed.Load(), metrics.failed.Load()))
		if res.Exhausted || res.Processed+res.Failed == 0 {
			break
		}
	}
	duration := time.Since(start)
	printer.Done(fmt.Sprintf("consume done processed=%d failed=%d in %s", metrics.processed.Load(), metrics.failed.Load(), duration.Truncate(time.Millisecond)))

	retryStart := time.Now()
	for {
		retried, err := consumer.ProcessFailedEvents(ctx)
		if err != nil {
			return result{}, err
		}
		if retried.Recovered+retried.Failed == 0 {
			break
		}
		if retried.Recovered == 0 {
			return result{}, fmt.Errorf("%w: %d", errBacklogRemains, metrics.backlog.Load())
		}
	}
	retryDuration := time.Since(retryStart)
	usage := deltaUsage(startUsage, readResourceUsage())

	total := metrics.processed.Load() + metrics.failed.Load()
	if total != int64(cfg.events) {
		return result{}, fmt.Errorf("%w: got %d want %d", errProcessedMismatch, total, cfg.events)
	}

	cycle := metrics.cycles.Snapshot()
	res := result{
		Driver:           cfg.driver,
		Events:           cfg.events,
		Pages:            feed.pages(),
		PageSize:         cfg.pageSize,
		BatchSize:        cfg.batchSize,
		PayloadBytes:     cfg.payloadBytes,
		FailEvery:        cfg.failEvery,
		Processed:        metrics.processed.Load(),
		Failed:           metrics.failed.Load(),
		Recovered:        metrics.recovered.Load(),
		Cycles:           cycles,
		PageRequests:     feed.requests.Load(),
		Duration:         duration,
		RetryDuration:    retryDuration,
		CycleP50Ms:       msFloat(cycle.P50),
		CycleP95Ms:       msFloat(cycle.P95),
		CycleP99Ms:       msFloat(cycle.P99),
		CycleMaxMs:       msFloat(cycle.Max),
		CycleMeanMs:      msFloat(cycle.Mean),
		ProcessUserCPU:   usage.UserCPUSeconds,
		ProcessSystemCPU: usage.SystemCPUSeconds,
		ProcessMaxRSSKB:  usage.MaxRSSKB,
		GoTotalAllocByte: usage.GoTotalAllocBytes,
		GoNumGC:          usage.GoNumGC,
	}
	if duration > 0 {
		res.Throughput = float64(cfg.events) / duration.Seconds()
	}

	return res, nil
}

func openStorage(ctx context.Context, cfg benchConfig) (atomfeed.Storage, func(), error) {
	switch cfg.driver {
	case "sqlite":
		path := cfg.dsn
		cleanup := func() {}
		if path == "" {
			dir, err := os.MkdirTemp("", "atomfeed-bench-*")
			if err != nil {
				return atomfeed.Storage{}, nil, err
			}
			path = filepath.Join(dir, "bench.db")
			cleanup = func() { _ = os.RemoveAll(dir) }
		}
		store, err := sqlite.Open(path)
		if err != nil {
			cleanup()

			return atomfeed.Storage{}, nil, err
		}

		return store.Storage(), func() {
			_ = store.Close()
			cleanup()
		}, nil
	case "mysql":
		if cfg.dsn == "" {
			return atomfeed.Storage{}, nil, errDSNRequired
		}
		db, err := sql.Open("mysql", cfg.dsn)
		if err != nil {
			return atomfeed.Storage{}, nil, fmt.Errorf("open db: %w", err)
		}
		store, err := mysql.NewStore(db)
		if err != nil {
			_ = db.Close()

			return atomfeed.Storage{}, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()

			return atomfeed.Storage{}, nil, err
		}

		return store.Storage(), func() { _ = db.Close() }, nil
	default:
		return atomfeed.Storage{}, nil, fmt.Errorf("%w: %s", errUnsupportedDriver, cfg.driver)
	}
}

// syntheticFeed serves events split into archive pages /feed/1../feed/n.
type syntheticFeed struct {
	events    int
	pageSize  int
	payload   string
	published time.Time
	requests  atomic.Int64
}

func newSyntheticFeed(events, pageSize, payloadBytes int) *syntheticFeed {
	return &syntheticFeed{
		events:    events,
		pageSize:  pageSize,
		payload:   strings.Repeat("x", payloadBytes),
		published: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *syntheticFeed) pages() int {
	if f.events <= 0 {
		return 1
	}

	return (f.events + f.pageSize - 1) / f.pageSize
}

func (f *syntheticFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	name := strings.TrimPrefix(r.URL.Path, "/feed/")
	page := f.pages()
	if name != "recent" {
		n, err := strconv.Atoi(name)
		if err != nil || n < 1 || n > f.pages() {
			http.NotFound(w, r)

			return
		}
		page = n
	}

	w.Header().Set("Content-Type", "application/atom+xml")
	_, _ = w.Write(f.render(page))
}

func (f *syntheticFeed) render(page int) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom">`)
	fmt.Fprintf(&buf, `<id>urn:atomfeed-bench:%d</id><title>bench</title>`, page)
	fmt.Fprintf(&buf, `<updated>%s</updated>`, f.published.Format(atomTimeLayout))
	fmt.Fprintf(&buf, `<link rel="self" href="/feed/%d"/>`, page)
	if page > 1 {
		fmt.Fprintf(&buf, `<link rel="prev-archive" href="/feed/%d"/>`, page-1)
	}
	if page < f.pages() {
		fmt.Fprintf(&buf, `<link rel="next-archive" href="/feed/%d"/>`, page+1)
	}

	first := (page - 1) * f.pageSize
	last := min(first+f.pageSize, f.events)
	for i := first; i < last; i++ {
		published := f.published.Add(time.Duration(i) * time.Second).Format(atomTimeLayout)
		fmt.Fprintf(&buf, `<entry><id>event-%d</id><title>bench.created</title>`, i)
		fmt.Fprintf(&buf, `<published>%s</published><updated>%s</updated>`, published, published)
		fmt.Fprintf(&buf, `<content type="application/json"><![CDATA[{"seq":%d,"data":"%s"}]]></content></entry>`, i, f.payload)
	}
	buf.WriteString(`</feed>`)

	return buf.Bytes()
}

// benchWorker fails every n-th event on its first delivery only.
type benchWorker struct {
	failEvery int
	delay     time.Duration
	mu        sync.Mutex
	seen      map[string]bool
	calls     int
}

func newBenchWorker(failEvery int, delay time.Duration) *benchWorker {
	return &benchWorker{failEvery: failEvery, delay: delay, seen: make(map[string]bool)}
}

func (w *benchWorker) Process(ctx context.Context, event atomfeed.Event) error {
	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delay):
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failEvery <= 0 || w.seen[event.ID] {
		return nil
	}
	w.seen[event.ID] = true
	if w.calls%w.failEvery == 0 {
		return fmt.Errorf("simulated failure for %s", event.ID)
	}

	return nil
}

type benchMetrics struct {
	processed atomic.Int64
	failed    atomic.Int64
	recovered atomic.Int64
	backlog   atomic.Int64
	cycles    durationStats
}

func (m *benchMetrics) ObserveCycleDuration(d time.Duration) { m.cycles.Add(d) }
func (m *benchMetrics) AddProcessed(n int)                   { m.processed.Add(int64(n)) }
func (m *benchMetrics) AddFailed(n int)                      { m.failed.Add(int64(n)) }
func (m *benchMetrics) AddRecovered(n int)                   { m.recovered.Add(int64(n)) }
func (m *benchMetrics) AddRetryFailed(int)                   {}
func (m *benchMetrics) SetFailedBacklog(n int)               { m.backlog.Store(int64(n)) }

type durationStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *durationStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *durationStats) Snapshot() durationSnapshot {
	s.mu.Lock()
	samples := append([]time.Duration(nil), s.samples...)
	s.mu.Unlock()
	if len(samples) == 0 {
		return durationSnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return durationSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

type durationSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

type resourceUsage struct {
	UserCPUSeconds    float64
	SystemCPUSeconds  float64
	MaxRSSKB          int64
	GoTotalAllocBytes uint64
	GoNumGC           uint32
}

func readResourceUsage() resourceUsage {
	var usage resourceUsage

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		usage.UserCPUSeconds = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/microsecondsPerSecond
		usage.SystemCPUSeconds = float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/microsecondsPerSecond
		usage.MaxRSSKB = ru.Maxrss
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.GoTotalAllocBytes = ms.TotalAlloc
	usage.GoNumGC = ms.NumGC

	return usage
}

func deltaUsage(start, end resourceUsage) resourceUsage {
	return resourceUsage{
		UserCPUSeconds:    end.UserCPUSeconds - start.UserCPUSeconds,
		SystemCPUSeconds:  end.SystemCPUSeconds - start.SystemCPUSeconds,
		MaxRSSKB:          end.MaxRSSKB,
		GoTotalAllocBytes: end.GoTotalAllocBytes - start.GoTotalAllocBytes,
		GoNumGC:           end.GoNumGC - start.GoNumGC,
	}
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type progressPrinter struct {
	enabled bool
	isTTY   bool
	lastLen int
}

func newProgressPrinter(enabled bool) *progressPrinter {
	tty := false
	if info, err := os.Stderr.Stat(); err == nil {
		tty = (info.Mode() & os.ModeCharDevice) != 0
	}

	return &progressPrinter{enabled: enabled, isTTY: tty}
}

// Print redraws the status line on a terminal and is silent otherwise.
func (p *progressPrinter) Print(line string) {
	if !p.enabled || !p.isTTY {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s%s", line, p.padding(line))
	p.lastLen = len(line)
}

func (p *progressPrinter) Done(line string) {
	if !p.enabled {
		return
	}
	if p.isTTY {
		fmt.Fprintf(os.Stderr, "\r%s%s\n", line, p.padding(line))
	} else {
		fmt.Fprintln(os.Stderr, line)
	}
	p.lastLen = len(line)
}

func (p *progressPrinter) padding(line string) string {
	if p.lastLen > len(line) {
		return strings.Repeat(" ", p.lastLen-len(line))
	}

	return ""
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
