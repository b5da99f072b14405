package similarity

import (
	"encoding/json"
	"strings"
	"unicode"
)

// StoredTrigrams is a previously seen headline in its stored form.
type StoredTrigrams struct {
	RunID    string
	Title    string
	Trigrams string
}

// Match describes the closest stored headline.
type Match struct {
	RunID string
	Title string
	Score float64
}

// Checker compares headlines by character n-gram overlap.
type Checker struct {
	threshold float64
	ngramSize int
}

func New(threshold float64, ngramSize int) *Checker {
	if ngramSize <= 0 {
		ngramSize = 3
	}
	return &Checker{threshold: threshold, ngramSize: ngramSize}
}

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			sb.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Grams returns the set of character n-grams of the normalized text.
func (c *Checker) Grams(text string) map[string]struct{} {
	runes := []rune(normalize(text))
	set := make(map[string]struct{})
	for i := 0; i+c.ngramSize <= len(runes); i++ {
		set[string(runes[i:i+c.ngramSize])] = struct{}{}
	}
	return set
}

// Encode serializes a gram set for storage.
func Encode(grams map[string]struct{}) string {
	list := make([]string, 0, len(grams))
	for g := range grams {
		list = append(list, g)
	}
	data, _ := json.Marshal(list)
	return string(data)
}

// Decode reverses Encode. Invalid input yields an empty set.
func Decode(data string) map[string]struct{} {
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(list))
	for _, g := range list {
		set[g] = struct{}{}
	}
	return set
}

// Jaccard computes |A ∩ B| / |A ∪ B|. Two empty sets score 0 so blank
// headlines never count as repeats.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(a)+len(b)-intersection)
}

// Closest returns the best-scoring stored headline.
func (c *Checker) Closest(title string, seen []StoredTrigrams) (Match, bool) {
	grams := c.Grams(title)
	var best Match
	found := false
	for _, s := range seen {
		score := Jaccard(grams, Decode(s.Trigrams))
		if !found || score > best.Score {
			best = Match{RunID: s.RunID, Title: s.Title, Score: score}
			found = true
		}
	}
	return best, found
}

// IsRepeat reports whether title is at or above the threshold against any
// stored headline, along with the closest match.
func (c *Checker) IsRepeat(title string, seen []StoredTrigrams) (Match, bool) {
	m, ok := c.Closest(title, seen)
	if !ok {
		return Match{}, false
	}
	return m, m.Score >= c.threshold
}
