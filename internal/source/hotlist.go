package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/feed"
)

// ErrHourUnavailable indicates the upstream has no snapshot for the
// requested hour yet. Callers treat it as a retryable gap, not a failure.
var ErrHourUnavailable = errors.New("hour snapshot unavailable")

const (
	defaultHotListTimeout = 10 * time.Second
	maxHotListBody        = 8 << 20
)

// HotListConfig configures the HTTP hot-list client.
type HotListConfig struct {
	// BaseURL is the snapshot root; hour files live at {BaseURL}/{date}/{HH}.json.
	BaseURL string
	Timeout time.Duration
}

// HotListClient fetches hourly hot-list snapshots over HTTP.
type HotListClient struct {
	cfg    HotListConfig
	client *http.Client
	logger *zap.Logger
}

// NewHotListClient builds a client for the given snapshot root.
func NewHotListClient(cfg HotListConfig, logger *zap.Logger) (*HotListClient, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hot list base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHotListTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotListClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// FetchHour retrieves and decodes one hour's snapshot. A 404 maps to
// ErrHourUnavailable so the archiver can retry the hour on a later tick.
func (c *HotListClient) FetchHour(ctx context.Context, date string, hour int) (feed.HourlySnapshot, error) {
	if hour < 0 || hour > 23 {
		return feed.HourlySnapshot{}, fmt.Errorf("hour %d out of range", hour)
	}
	url := fmt.Sprintf("%s/%s/%02d.json", c.cfg.BaseURL, date, hour)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return feed.HourlySnapshot{}, fmt.Errorf("build hot list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return feed.HourlySnapshot{}, fmt.Errorf("fetch hot list %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return feed.HourlySnapshot{}, fmt.Errorf("%s hour %d: %w", date, hour, ErrHourUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return feed.HourlySnapshot{}, fmt.Errorf("fetch hot list %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHotListBody))
	if err != nil {
		return feed.HourlySnapshot{}, fmt.Errorf("read hot list body: %w", err)
	}
	return decodeHourSnapshot(body, date, hour)
}

// DirSource serves hourly snapshots from a local directory laid out as
// <dir>/<date>/<HH>.json. It backs development setups and air-gapped
// deployments where a separate process drops snapshot files.
type DirSource struct {
	dir    string
	logger *zap.Logger
}

// NewDirSource validates dir and returns a DirSource.
func NewDirSource(dir string, logger *zap.Logger) (*DirSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("hot list directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("hot list directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("hot list directory %s is not a directory", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirSource{dir: dir, logger: logger}, nil
}

// FetchHour reads one hour file. A missing file maps to ErrHourUnavailable.
func (d *DirSource) FetchHour(_ context.Context, date string, hour int) (feed.HourlySnapshot, error) {
	if hour < 0 || hour > 23 {
		return feed.HourlySnapshot{}, fmt.Errorf("hour %d out of range", hour)
	}
	if _, err := feed.ParseDate(date); err != nil {
		return feed.HourlySnapshot{}, err
	}
	path := filepath.Join(d.dir, date, fmt.Sprintf("%02d.json", hour))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return feed.HourlySnapshot{}, fmt.Errorf("%s hour %d: %w", date, hour, ErrHourUnavailable)
		}
		return feed.HourlySnapshot{}, fmt.Errorf("read hour snapshot: %w", err)
	}
	return decodeHourSnapshot(raw, date, hour)
}
