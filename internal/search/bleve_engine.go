package search

import (
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/notifeed/internal/notification"
)

type bleveEngine struct {
	idx bleve.Index

	mu    sync.RWMutex
	items map[string]notification.Notification
}

// NewBleveEngine builds an in-memory index. The feed is never persisted,
// so neither is its index.
func NewBleveEngine() (Searcher, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, err
	}
	return &bleveEngine{idx: idx, items: make(map[string]notification.Notification)}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	actor := bleve.NewTextFieldMapping()
	actor.Analyzer = standard.Name
	actor.Store = true

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = true

	typ := bleve.NewTextFieldMapping()
	typ.Analyzer = standard.Name
	typ.Store = true

	dm.AddFieldMappingsAt("actor", actor)
	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("content", content)
	dm.AddFieldMappingsAt("type", typ)

	im.DefaultMapping = dm
	return im
}

func docFor(n notification.Notification) map[string]any {
	doc := map[string]any{
		"type": n.Type.Label() + " " + string(n.Type),
	}
	if n.Actor != nil {
		doc["actor"] = strings.TrimSpace(n.Actor.DisplayName + " " + n.Actor.Username)
	}
	if n.Post != nil {
		doc["title"] = n.Post.Title
		doc["content"] = n.Post.Content
	}
	if n.Comment != nil {
		doc["content"] = n.Comment.Content
	}
	return doc
}

// Index replaces the indexed set. Documents for ids that are gone are
// deleted in the same batch.
func (b *bleveEngine) Index(items []notification.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]notification.Notification, len(items))
	for _, n := range items {
		if n.ID == "" {
			continue
		}
		next[string(n.ID)] = n
	}

	batch := b.idx.NewBatch()
	for id := range b.items {
		if _, ok := next[id]; !ok {
			batch.Delete(id)
		}
	}
	for id, n := range next {
		if err := batch.Index(id, docFor(n)); err != nil {
			return err
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return err
	}
	b.items = next
	return nil
}

func (b *bleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// OR of per-term match and prefix queries across the fields, boosted
	// by field.
	boosts := []struct {
		field string
		boost float64
	}{
		{"actor", 4.0},
		{"title", 3.0},
		{"content", 1.5},
		{"type", 1.0},
	}
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		for _, fb := range boosts {
			mq := bleve.NewMatchQuery(tok)
			mq.SetField(fb.field)
			mq.SetBoost(fb.boost)
			qs = append(qs, mq)

			pq := bleve.NewPrefixQuery(tok)
			pq.SetField(fb.field)
			pq.SetBoost(fb.boost * 0.8)
			qs = append(qs, pq)
		}
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"actor", "title", "content"}

	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		n, ok := b.items[h.ID]
		if !ok {
			continue
		}
		r := &Result{Notification: n, Score: h.Score}
		for _, field := range req.Fields {
			if text, ok := h.Fields[field].(string); ok && text != "" {
				r.Matches = append(r.Matches, Match{Field: field, Text: text})
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// DocCount reports total documents in the index.
func (b *bleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *bleveEngine) Close() error {
	return b.idx.Close()
}
