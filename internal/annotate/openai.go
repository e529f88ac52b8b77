package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/feed"
)

const (
	defaultChatPath = "/chat/completions"
	maxSamplePosts  = 20
	maxSampleLen    = 500
)

const systemPrompt = "You are a social-topic analyst. Given a trending topic and sampled posts, " +
	"return only a JSON object with keys: sentiment (float, -1 negative to 1 positive), " +
	"region (place name or \"unknown\"), category (one word)."

// OpenAIConfig configures the chat-completions classifier.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClassifier calls an OpenAI-compatible chat-completions endpoint and
// coerces the reply into an Annotation. Models often wrap the JSON in code
// fences or prefix reasoning; extraction is deliberately tolerant.
type OpenAIClassifier struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIClassifier returns nil when no API key is configured, which makes
// the gateway take the heuristic path instead of failing at startup.
func NewOpenAIClassifier(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClassifier {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the topic and post samples to the model.
func (c *OpenAIClassifier) Classify(ctx context.Context, topic string, posts []feed.Post) (feed.Annotation, error) {
	payload := map[string]any{
		"topic":   topic,
		"samples": samplePosts(posts),
	}
	userContent, err := json.Marshal(payload)
	if err != nil {
		return feed.Annotation{}, fmt.Errorf("encode prompt: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return feed.Annotation{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + defaultChatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return feed.Annotation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return feed.Annotation{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return feed.Annotation{}, fmt.Errorf("classifier status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return feed.Annotation{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return feed.Annotation{}, fmt.Errorf("classifier returned no choices")
	}
	content := chat.Choices[0].Message.Content

	ann, ok := ExtractAnnotation(content)
	if !ok {
		c.logger.Warn("classifier reply lacked structured payload", zap.String("topic", topic))
		return feed.Annotation{}, fmt.Errorf("unparsable classifier reply")
	}
	ann.Source = "classifier"
	return ann, nil
}

func samplePosts(posts []feed.Post) []map[string]any {
	out := make([]map[string]any, 0, maxSamplePosts)
	for i, p := range posts {
		if i >= maxSamplePosts {
			break
		}
		text := p.Text
		if len(text) > maxSampleLen {
			text = text[:maxSampleLen]
		}
		out = append(out, map[string]any{
			"published_at": p.PublishedAt,
			"account_name": p.Account,
			"content_text": text,
			"reposts":      p.Reposts,
			"comments":     p.Comments,
			"likes":        p.Likes,
		})
	}
	return out
}

var (
	thinkPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
)

// ExtractAnnotation recovers {sentiment, region, category} from a model reply
// that may carry reasoning tags, code fences, or surrounding prose.
func ExtractAnnotation(content string) (feed.Annotation, bool) {
	cleaned := strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
	for _, candidate := range jsonCandidates(cleaned) {
		var raw map[string]any
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		if len(raw) == 0 {
			continue
		}
		return feed.Annotation{
			Sentiment: coerceSentiment(firstOf(raw, "sentiment", "sentiment_score", "score")),
			Region:    coerceString(firstOf(raw, "region", "region_name")),
			Category:  coerceString(firstOf(raw, "category", "topic_type", "topic")),
		}, true
	}
	return feed.Annotation{}, false
}

func jsonCandidates(content string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(content)
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, block := range braceBlocks(content) {
		add(block)
	}
	return out
}

func braceBlocks(content string) []string {
	var blocks []string
	depth := 0
	start := -1
	for i, ch := range content {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					blocks = append(blocks, content[start:i+1])
					start = -1
				}
			}
		}
	}
	return blocks
}

var sentimentWords = map[string]float64{
	"positive": 0.6,
	"pos":      0.6,
	"neutral":  0,
	"negative": -0.6,
	"neg":      -0.6,
}

func coerceSentiment(v any) float64 {
	switch t := v.(type) {
	case float64:
		return clampSentiment(t)
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return clampSentiment(f)
		}
		return sentimentWords[s]
	default:
		return 0
	}
}

func clampSentiment(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func coerceString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstOf(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
