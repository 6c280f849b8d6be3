// Package search forwards forum queries to the hosted search service and
// keeps its indices in step with the database. Ranking, tokenisation and
// index storage all happen on the service side.
package search

import (
	"context"
	"strings"
)

const (
	IndexThreads    = "threads"
	IndexPosts      = "posts"
	IndexUsers      = "users"
	IndexCategories = "categories"
	IndexTags       = "tags"

	DefaultHitsPerPage = 20
	MaxHitsPerPage     = 50
	hitsPerIndexInAll  = 5
)

// Indices lists every index SearchAll queries, in response order.
var Indices = []string{IndexThreads, IndexPosts, IndexUsers, IndexCategories, IndexTags}

func KnownIndex(name string) bool {
	for _, idx := range Indices {
		if idx == name {
			return true
		}
	}
	return false
}

// Query is a backend-neutral search request.
type Query struct {
	Index        string
	Text         string
	FacetFilters [][]string
	Facets       []string
	Page         int
	HitsPerPage  int
}

type Result struct {
	Index            string                    `json:"index"`
	Hits             []map[string]any          `json:"hits"`
	NbHits           int                       `json:"nb_hits"`
	Page             int                       `json:"page"`
	NbPages          int                       `json:"nb_pages"`
	HitsPerPage      int                       `json:"hits_per_page"`
	Facets           map[string]map[string]int `json:"facets,omitempty"`
	ProcessingTimeMS int                       `json:"processing_time_ms"`
}

// Backend is the hosted search service.
type Backend interface {
	Search(ctx context.Context, q Query) (*Result, error)
	MultiSearch(ctx context.Context, qs []Query) ([]*Result, error)
	Save(ctx context.Context, index string, records []any) error
	Delete(ctx context.Context, index string, objectIDs []string) error
}

// Filters narrows a thread search. Values inside one field are alternatives.
type Filters struct {
	Categories []string
	Tags       []string
	Authors    []string
}

// BuildFacetFilters turns f into facetFilters: the outer list is AND-ed and
// each inner list is OR-ed. Blank values and empty groups are dropped.
func BuildFacetFilters(f Filters) [][]string {
	var out [][]string
	add := func(facet string, values []string) {
		var group []string
		seen := make(map[string]bool)
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			group = append(group, facet+":"+v)
		}
		if len(group) > 0 {
			out = append(out, group)
		}
	}
	add("category", f.Categories)
	add("tags", f.Tags)
	add("author", f.Authors)
	return out
}

type ThreadParams struct {
	Text        string
	Filters     Filters
	Page        int
	HitsPerPage int
}

// ThreadQuery normalises params into the query SearchThreads sends.
func ThreadQuery(p ThreadParams) Query {
	page := p.Page
	if page < 0 {
		page = 0
	}
	hits := p.HitsPerPage
	switch {
	case hits <= 0:
		hits = DefaultHitsPerPage
	case hits > MaxHitsPerPage:
		hits = MaxHitsPerPage
	}
	return Query{
		Index:        IndexThreads,
		Text:         strings.TrimSpace(p.Text),
		FacetFilters: BuildFacetFilters(p.Filters),
		Facets:       []string{"category", "tags"},
		Page:         page,
		HitsPerPage:  hits,
	}
}

func SearchThreads(ctx context.Context, b Backend, p ThreadParams) (*Result, error) {
	return b.Search(ctx, ThreadQuery(p))
}

// SearchIndex runs a plain paginated query against one index.
func SearchIndex(ctx context.Context, b Backend, index, text string, page, hitsPerPage int) (*Result, error) {
	q := ThreadQuery(ThreadParams{Text: text, Page: page, HitsPerPage: hitsPerPage})
	q.Index = index
	q.Facets = nil
	return b.Search(ctx, q)
}

// SearchAll queries every index in one round trip.
func SearchAll(ctx context.Context, b Backend, text string) (map[string]*Result, error) {
	qs := make([]Query, len(Indices))
	for i, idx := range Indices {
		qs[i] = Query{Index: idx, Text: strings.TrimSpace(text), HitsPerPage: hitsPerIndexInAll}
	}
	results, err := b.MultiSearch(ctx, qs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Result, len(Indices))
	for i, idx := range Indices {
		if i < len(results) && results[i] != nil {
			results[i].Index = idx
			out[idx] = results[i]
		} else {
			out[idx] = emptyResult(idx, 0, hitsPerIndexInAll)
		}
	}
	return out, nil
}

func emptyResult(index string, page, hitsPerPage int) *Result {
	return &Result{Index: index, Hits: []map[string]any{}, Page: page, HitsPerPage: hitsPerPage}
}

// Nop answers every query with no hits and ignores writes.
type Nop struct{}

func (Nop) Search(_ context.Context, q Query) (*Result, error) {
	return emptyResult(q.Index, q.Page, q.HitsPerPage), nil
}

func (Nop) MultiSearch(_ context.Context, qs []Query) ([]*Result, error) {
	out := make([]*Result, len(qs))
	for i, q := range qs {
		out[i] = emptyResult(q.Index, q.Page, q.HitsPerPage)
	}
	return out, nil
}

func (Nop) Save(context.Context, string, []any) error { return nil }

func (Nop) Delete(context.Context, string, []string) error { return nil }
