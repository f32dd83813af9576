package tsdb

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/thermo-node/internal/logic"
)

// fakeInflux answers /ping and records line-protocol bodies sent to
// /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
	query []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping", "/health":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.query = append(f.query, r.URL.RawQuery)
		for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if l != "" {
				f.lines = append(f.lines, l)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) Config {
	return Config{
		Enabled:       true,
		URL:           url,
		Token:         "node-token",
		Org:           "home",
		Bucket:        "sensors",
		FlushInterval: 50 * time.Millisecond,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(testConfig(url))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteReading(t *testing.T) {
	influx := &fakeInflux{}
	srv := httptest.NewServer(influx)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.SetDevices([]string{"28-000000000001", "28-000000000002"})

	c.WriteReading(logic.Reading{Source: 1, Value: 21.5})
	c.WriteReading(logic.Reading{Source: 7, Value: -4.25})
	c.Flush()

	lines := influx.written()
	if len(lines) != 2 {
		t.Fatalf("expected 2 points, got %v", lines)
	}
	if !strings.HasPrefix(lines[0], "temperature,device=28-000000000002,source=1 celsius=21.5 ") {
		t.Errorf("unexpected point %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "temperature,source=7 celsius=-4.25 ") {
		t.Errorf("unexpected point %q", lines[1])
	}

	influx.mu.Lock()
	q := strings.Join(influx.query, "&")
	influx.mu.Unlock()
	if !strings.Contains(q, "bucket=sensors") || !strings.Contains(q, "org=home") {
		t.Errorf("unexpected write query %q", q)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes after Close are discarded.
	c.WriteReading(logic.Reading{Source: 0, Value: 1})
	c.Flush()
	if n := len(influx.written()); n != 2 {
		t.Errorf("points after close: got %d, want 2", n)
	}
}

func TestPointTags(t *testing.T) {
	at := time.Unix(1700000000, 0)

	p := point(logic.Reading{Source: 2, Value: 19.25}, "28-000000000003", at)
	if p.Name() != "temperature" {
		t.Errorf("measurement = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["source"] != "2" || tags["device"] != "28-000000000003" {
		t.Errorf("unexpected tags %v", tags)
	}
	if !p.Time().Equal(at) {
		t.Errorf("time = %v, want %v", p.Time(), at)
	}

	p = point(logic.Reading{Source: 0, Value: 1}, "", at)
	if len(p.TagList()) != 1 {
		t.Errorf("expected only the source tag, got %v", p.TagList())
	}
}

func TestConfigOptionsDefaults(t *testing.T) {
	opts := Config{}.options()
	if opts.BatchSize() != 50 || opts.FlushInterval() != 10000 {
		t.Errorf("defaults: batch %d flush %d", opts.BatchSize(), opts.FlushInterval())
	}
	opts = Config{BatchSize: 5, FlushInterval: 250 * time.Millisecond}.options()
	if opts.BatchSize() != 5 || opts.FlushInterval() != 250 {
		t.Errorf("overrides: batch %d flush %d", opts.BatchSize(), opts.FlushInterval())
	}
}

func TestCloseTwice(t *testing.T) {
	srv := httptest.NewServer(&fakeInflux{})
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriteErrorsReported(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"invalid","message":"bucket not found"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	errs := make(chan error, 4)
	c.SetOnError(func(err error) { errs <- err })

	c.WriteReading(logic.Reading{Source: 0, Value: 20})
	c.Flush()

	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("write error not reported")
	}
}
