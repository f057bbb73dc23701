package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pders01/notifeed/internal/notification"
)

// Engine scores the loaded notifications directly, without an index.
type Engine struct {
	mu    sync.RWMutex
	items []notification.Notification
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Index(items []notification.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items[:0:0], items...)
	return nil
}

func (e *Engine) DocCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items), nil
}

func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	e.mu.RLock()
	results := make([]*Result, 0)
	for i := range e.items {
		if r := e.searchNotification(&e.items[i], terms); r != nil {
			results = append(results, r)
		}
	}
	e.mu.RUnlock()

	// Stable keeps feed order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) searchNotification(n *notification.Notification, terms []string) *Result {
	var matches []Match
	var totalScore float64

	add := func(field, text string, weight float64, snippet bool) {
		score := scoreField(text, terms, weight)
		if score <= 0 {
			return
		}
		if snippet {
			text = findBestSnippet(text, terms, 160)
		}
		matches = append(matches, Match{Field: field, Text: text, Weight: score})
		totalScore += score
	}

	if n.Actor != nil {
		add("actor", n.Actor.DisplayName+" "+n.Actor.Username, 3.0, false)
	}
	if n.Post != nil {
		add("title", n.Post.Title, 2.5, false)
	}
	if n.Comment != nil {
		add("content", n.Comment.Content, 1.5, true)
	} else if n.Post != nil {
		add("content", n.Post.Content, 1.0, true)
	}
	add("type", n.Type.Label()+" "+string(n.Type), 1.0, false)

	if totalScore == 0 {
		return nil
	}
	// Unread items float up slightly.
	if !n.IsRead {
		totalScore *= 1.05
	}
	return &Result{Notification: *n, Score: totalScore, Matches: matches}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	lower := strings.ToLower(text)
	var score float64
	matchedTerms := 0

	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet finds the most relevant text snippet containing search terms
func findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	windowSize := maxLength / 8
	if windowSize >= len(words) {
		return truncate(text, maxLength)
	}

	bestScore := 0
	bestStart := 0
	for i := 0; i <= len(words)-windowSize; i++ {
		window := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(window, term) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	return truncate(strings.Join(words[bestStart:bestStart+windowSize], " "), maxLength)
}

// tokenize breaks text into lowercase searchable terms, dropping single
// characters.
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	flush := func() {
		if term := current.String(); len([]rune(term)) > 1 {
			terms = append(terms, term)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			flush()
		}
	}
	if current.Len() > 0 {
		flush()
	}

	return terms
}

// truncate limits text to maxLen runes with an ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}
