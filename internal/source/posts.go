package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/feed"
)

const (
	defaultPostsTimeout = 15 * time.Second
	maxPostsBody        = 4 << 20
)

// PostsConfig configures the post retrieval client.
type PostsConfig struct {
	// URL is the collaborator endpoint; the topic name is passed as the
	// "topic" query parameter.
	URL     string
	Timeout time.Duration
}

// PostsClient retrieves recent posts for a topic over HTTP.
type PostsClient struct {
	cfg    PostsConfig
	client *http.Client
	logger *zap.Logger
}

// NewPostsClient builds a client, or nil when no endpoint is configured so
// the annotation gateway degrades to topic-name-only heuristics.
func NewPostsClient(cfg PostsConfig, logger *zap.Logger) *PostsClient {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPostsTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostsClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchPosts returns the posts the collaborator currently holds for topic.
func (c *PostsClient) FetchPosts(ctx context.Context, topic string) ([]feed.Post, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("posts endpoint: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build posts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch posts for %q: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// Topic not tracked upstream: no posts, not an error.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch posts for %q: unexpected status %d", topic, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPostsBody))
	if err != nil {
		return nil, fmt.Errorf("read posts body: %w", err)
	}
	posts, err := decodePosts(body)
	if err != nil {
		return nil, fmt.Errorf("decode posts for %q: %w", topic, err)
	}
	return posts, nil
}
