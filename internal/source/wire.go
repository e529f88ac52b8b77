// Package source implements the upstream collaborators: the hourly hot-list
// feed (HTTP or a local snapshot directory) and the per-topic post feed.
// Upstream payloads are loosely typed; all coercion happens here so the rest
// of the system only ever sees clean domain values.
package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riskradar/riskradar/internal/feed"
)

// wireTopic is one entry of an upstream hot-list payload. The feed has grown
// organically: names arrive under "title", "name" or "word", and the hot
// value may be a number or a display string like "98.2万".
type wireTopic struct {
	Title string          `json:"title"`
	Name  string          `json:"name"`
	Word  string          `json:"word"`
	Hot   json.RawMessage `json:"hot"`
	Rank  int             `json:"rank"`
}

func (t wireTopic) topicName() string {
	for _, s := range []string{t.Title, t.Name, t.Word} {
		if v := strings.TrimSpace(s); v != "" {
			return v
		}
	}
	return ""
}

func (t wireTopic) hotValue() float64 {
	if len(t.Hot) == 0 {
		return 0
	}
	var num float64
	if err := json.Unmarshal(t.Hot, &num); err == nil {
		return num
	}
	var str string
	if err := json.Unmarshal(t.Hot, &str); err == nil {
		return feed.ParseHotValue(str)
	}
	return 0
}

// decodeHourSnapshot turns a raw upstream payload into an HourlySnapshot.
// The payload is either a bare array of topics or an object wrapping one
// under "items" or "topics". Entries without a name are dropped; ranks are
// assigned by position when the feed omits them.
func decodeHourSnapshot(raw []byte, date string, hour int) (feed.HourlySnapshot, error) {
	topics, err := decodeTopicList(raw)
	if err != nil {
		return feed.HourlySnapshot{}, fmt.Errorf("decode hot list %s hour %d: %w", date, hour, err)
	}
	snap := feed.HourlySnapshot{Date: date, Hour: hour}
	for i, t := range topics {
		name := t.topicName()
		if name == "" {
			continue
		}
		rank := t.Rank
		if rank <= 0 {
			rank = i + 1
		}
		snap.Items = append(snap.Items, feed.HotItem{Rank: rank, Name: name, Hot: t.hotValue()})
	}
	return snap, nil
}

func decodeTopicList(raw []byte) ([]wireTopic, error) {
	var topics []wireTopic
	if err := json.Unmarshal(raw, &topics); err == nil {
		return topics, nil
	}
	var wrapper struct {
		Items  []wireTopic `json:"items"`
		Topics []wireTopic `json:"topics"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Items != nil {
		return wrapper.Items, nil
	}
	if wrapper.Topics != nil {
		return wrapper.Topics, nil
	}
	return nil, fmt.Errorf("payload carries no topic list")
}

// wirePost is one upstream post. Engagement counts arrive as numbers or
// display strings depending on the collaborator version.
type wirePost struct {
	ID          string          `json:"post_id"`
	AltID       string          `json:"id"`
	PublishedAt string          `json:"published_at"`
	Account     string          `json:"account_name"`
	Text        string          `json:"content_text"`
	AltText     string          `json:"text"`
	Media       []string        `json:"media"`
	Reposts     json.RawMessage `json:"reposts"`
	Comments    json.RawMessage `json:"comments"`
	Likes       json.RawMessage `json:"likes"`
}

func decodePosts(raw []byte) ([]feed.Post, error) {
	var posts []wirePost
	if err := json.Unmarshal(raw, &posts); err != nil {
		var wrapper struct {
			Posts []wirePost `json:"posts"`
		}
		if werr := json.Unmarshal(raw, &wrapper); werr != nil {
			return nil, err
		}
		posts = wrapper.Posts
	}
	out := make([]feed.Post, 0, len(posts))
	for _, p := range posts {
		id := p.ID
		if id == "" {
			id = p.AltID
		}
		text := p.Text
		if text == "" {
			text = p.AltText
		}
		if id == "" && text == "" {
			continue
		}
		out = append(out, feed.Post{
			ID:          id,
			PublishedAt: p.PublishedAt,
			Account:     p.Account,
			Text:        text,
			Media:       p.Media,
			Reposts:     coerceCount(p.Reposts),
			Comments:    coerceCount(p.Comments),
			Likes:       coerceCount(p.Likes),
		})
	}
	return out, nil
}

func coerceCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var num int
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return int(feed.ParseHotValue(str))
	}
	return 0
}
