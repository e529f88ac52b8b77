// Package annotate wraps post retrieval and classification behind one
// contract with a deterministic fallback.
package annotate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/feed"
)

const (
	// maxPosts caps how many posts are retrieved and persisted per topic.
	maxPosts = 20

	defaultMaxAttempts  = 2
	defaultRetryBackoff = 500 * time.Millisecond
	defaultCallTimeout  = 30 * time.Second
)

// Config tunes retry and timeout behavior of the gateway.
type Config struct {
	// MaxAttempts bounds attempts per collaborator call (default 2).
	MaxAttempts int
	// RetryBackoff is the pause between attempts (default 500ms).
	RetryBackoff time.Duration
	// CallTimeout bounds a single collaborator call (default 30s).
	CallTimeout time.Duration
}

// Gateway annotates a topic by retrieving posts and classifying them. Any
// collaborator failure degrades to the pure heuristic; Annotate never fails
// the caller.
type Gateway struct {
	posts      feed.PostSource
	classifier feed.Classifier
	cfg        Config
	logger     *zap.Logger
}

// NewGateway wires the collaborators. classifier may be nil, in which case
// every annotation takes the heuristic path.
func NewGateway(posts feed.PostSource, classifier feed.Classifier, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		posts:      posts,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Annotate returns the annotation for a topic plus the sampled posts backing
// it. Post retrieval failure leaves posts empty; classifier failure or
// absence falls back to the heuristic. The result's Source field records
// which path produced it.
func (g *Gateway) Annotate(ctx context.Context, topic string, date string) (feed.Annotation, []feed.Post) {
	posts := g.fetchPosts(ctx, topic)

	if g.classifier == nil {
		ann := Heuristic(topic, posts)
		ann.Source = "heuristic:no_classifier"
		return ann, posts
	}

	ann, err := g.classify(ctx, topic, posts)
	if err != nil {
		g.logger.Warn("classifier failed, using heuristic",
			zap.String("topic", topic),
			zap.String("date", date),
			zap.Error(err),
		)
		ann = Heuristic(topic, posts)
		ann.Source = "heuristic:classifier_error"
	}
	return ann, posts
}

func (g *Gateway) fetchPosts(ctx context.Context, topic string) []feed.Post {
	if g.posts == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		posts, err := g.posts.FetchPosts(callCtx, topic)
		cancel()
		if err == nil {
			if len(posts) > maxPosts {
				posts = posts[:maxPosts]
			}
			return posts
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < g.cfg.MaxAttempts {
			select {
			case <-time.After(g.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil
			}
		}
	}
	g.logger.Warn("post retrieval failed", zap.String("topic", topic), zap.Error(lastErr))
	return nil
}

func (g *Gateway) classify(ctx context.Context, topic string, posts []feed.Post) (feed.Annotation, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		ann, err := g.classifier.Classify(callCtx, topic, posts)
		cancel()
		if err == nil {
			return sanitize(ann), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < g.cfg.MaxAttempts {
			select {
			case <-time.After(g.cfg.RetryBackoff):
			case <-ctx.Done():
				return feed.Annotation{}, ctx.Err()
			}
		}
	}
	return feed.Annotation{}, lastErr
}

// sanitize clamps and defaults classifier output so downstream invariants
// hold no matter what the remote model returned.
func sanitize(ann feed.Annotation) feed.Annotation {
	if ann.Sentiment > 1 {
		ann.Sentiment = 1
	}
	if ann.Sentiment < -1 {
		ann.Sentiment = -1
	}
	if ann.Region == "" {
		ann.Region = RegionUnknown
	}
	if ann.Category == "" {
		ann.Category = categoryDefault
	}
	if ann.Source == "" {
		ann.Source = "classifier"
	}
	return ann
}
