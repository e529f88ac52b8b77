package feed

import (
	"context"
	"time"
)

// HotListSource returns the ranked hot-topic list for one hour of one date.
// Implementations decode whatever wire shape the upstream uses into the
// canonical HourlySnapshot at this boundary.
type HotListSource interface {
	FetchHour(ctx context.Context, date string, hour int) (HourlySnapshot, error)
}

// PostSource retrieves up to 20 recent posts for a named topic.
type PostSource interface {
	FetchPosts(ctx context.Context, topic string) ([]Post, error)
}

// Classifier produces an Annotation for a topic from sampled posts. An
// implementation may call out to a remote model; callers must be prepared for
// failure and fall back to the deterministic heuristic.
type Classifier interface {
	Classify(ctx context.Context, topic string, posts []Post) (Annotation, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
