package annotate

import (
	"strings"
	"unicode"

	"github.com/riskradar/riskradar/internal/feed"
)

// The heuristic annotator is the deterministic fallback used whenever the
// classifier is unconfigured or failing. Same posts in, same annotation out:
// all tables below are fixed at compile time and scanned in declaration
// order.

const (
	// heuristicSamplePosts caps how many posts feed the text scan.
	heuristicSamplePosts = 15

	// RegionUnknown is assigned when no gazetteer keyword matches.
	RegionUnknown = "unknown"

	// categoryDefault is assigned when no category keywords match.
	categoryDefault = "society"
)

var positiveWords = []string{
	"win", "wins", "victory", "celebrate", "celebration", "success",
	"record", "breakthrough", "rescue", "rescued", "recover", "recovery",
	"champion", "award", "praised", "milestone", "launch", "reunion",
}

var negativeWords = []string{
	"death", "dead", "dies", "killed", "crash", "crisis", "collapse",
	"fraud", "scandal", "outbreak", "attack", "explosion", "fire",
	"flood", "earthquake", "protest", "layoffs", "bankrupt", "shortage",
	"injured", "missing", "victim", "war", "conflict", "sanction",
}

type regionEntry struct {
	keyword string
	region  string
}

// regionGazetteer maps location keywords to canonical region names. Scanned
// in order; the first hit wins.
var regionGazetteer = []regionEntry{
	{"beijing", "Beijing"},
	{"shanghai", "Shanghai"},
	{"guangdong", "Guangdong"},
	{"shenzhen", "Guangdong"},
	{"sichuan", "Sichuan"},
	{"chengdu", "Sichuan"},
	{"zhejiang", "Zhejiang"},
	{"hangzhou", "Zhejiang"},
	{"jiangsu", "Jiangsu"},
	{"nanjing", "Jiangsu"},
	{"hubei", "Hubei"},
	{"wuhan", "Hubei"},
	{"shandong", "Shandong"},
	{"henan", "Henan"},
	{"hunan", "Hunan"},
	{"fujian", "Fujian"},
	{"xinjiang", "Xinjiang"},
	{"tibet", "Tibet"},
	{"hong kong", "Hong Kong"},
	{"macau", "Macau"},
	{"taiwan", "Taiwan"},
	{"chongqing", "Chongqing"},
	{"tianjin", "Tianjin"},
	{"overseas", "overseas"},
	{"abroad", "overseas"},
}

type categoryRule struct {
	name     string
	keywords []string
}

// categoryTable is the fixed taxonomy. The first category with any keyword
// present in the scanned text wins; ties are impossible because scanning
// stops at the first match.
var categoryTable = []categoryRule{
	{"politics", []string{"government", "minister", "policy", "election", "diplomat", "sanction", "parliament", "summit"}},
	{"military", []string{"military", "army", "navy", "missile", "border", "troops", "warship", "drill"}},
	{"finance", []string{"stock", "market", "bank", "economy", "inflation", "currency", "ipo", "bankrupt"}},
	{"disaster", []string{"earthquake", "flood", "typhoon", "wildfire", "landslide", "storm", "drought"}},
	{"health", []string{"hospital", "virus", "vaccine", "outbreak", "disease", "epidemic", "patient", "clinic"}},
	{"crime", []string{"police", "arrest", "fraud", "murder", "theft", "smuggl", "trial", "verdict"}},
	{"technology", []string{"ai", "chip", "software", "smartphone", "satellite", "robot", "internet", "startup"}},
	{"education", []string{"school", "university", "exam", "student", "teacher", "tuition", "campus"}},
	{"entertainment", []string{"movie", "film", "singer", "concert", "celebrity", "drama", "album", "box office"}},
	{"sports", []string{"match", "tournament", "olympic", "league", "goal", "athlete", "final", "coach"}},
}

// Heuristic derives an annotation from post text alone. It is exported so the
// gateway and tests share one implementation.
func Heuristic(topic string, posts []feed.Post) feed.Annotation {
	text := collectText(topic, posts)
	tokens := tokenize(text)
	return feed.Annotation{
		Sentiment: lexiconSentiment(tokens),
		Region:    matchRegion(text),
		Category:  matchCategory(text, tokens),
		Source:    "heuristic",
	}
}

func collectText(topic string, posts []feed.Post) string {
	parts := make([]string, 0, heuristicSamplePosts+1)
	parts = append(parts, topic)
	for i, p := range posts {
		if i >= heuristicSamplePosts {
			break
		}
		parts = append(parts, p.Text)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func tokenize(text string) map[string]int {
	tokens := map[string]int{}
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()]++
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// lexiconSentiment counts positive and negative lexicon hits and normalizes
// the balance into [-1,1].
func lexiconSentiment(tokens map[string]int) float64 {
	var pos, neg int
	for _, w := range positiveWords {
		pos += tokens[w]
	}
	for _, w := range negativeWords {
		neg += tokens[w]
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	score := float64(pos-neg) / float64(total)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

func matchRegion(text string) string {
	for _, e := range regionGazetteer {
		if strings.Contains(text, e.keyword) {
			return e.region
		}
	}
	return RegionUnknown
}

func matchCategory(text string, tokens map[string]int) string {
	for _, rule := range categoryTable {
		for _, kw := range rule.keywords {
			if strings.Contains(kw, " ") || len(kw) < 4 {
				// Short keywords ("ai") and phrases match on token /
				// substring boundaries to avoid accidental hits.
				if tokens[kw] > 0 || (strings.Contains(kw, " ") && strings.Contains(text, kw)) {
					return rule.name
				}
				continue
			}
			if strings.Contains(text, kw) {
				return rule.name
			}
		}
	}
	return categoryDefault
}
