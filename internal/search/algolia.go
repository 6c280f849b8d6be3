package search

import (
	"context"
	"fmt"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
)

// Algolia implements Backend on the Algolia search API. Index names are
// prefixed so several environments can share one application.
type Algolia struct {
	client *search.Client
	prefix string
}

func NewAlgolia(appID, apiKey, prefix string) *Algolia {
	return &Algolia{client: search.NewClient(appID, apiKey), prefix: prefix}
}

func (a *Algolia) indexName(name string) string {
	return a.prefix + name
}

func (a *Algolia) Search(ctx context.Context, q Query) (*Result, error) {
	res, err := a.client.InitIndex(a.indexName(q.Index)).Search(q.Text, queryOptions(ctx, q)...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Index, err)
	}
	return fromQueryRes(q.Index, res), nil
}

func (a *Algolia) MultiSearch(ctx context.Context, qs []Query) ([]*Result, error) {
	queries := make([]search.IndexedQuery, len(qs))
	for i, q := range qs {
		opts := append(queryOptions(ctx, q), opt.Query(q.Text))
		queries[i] = search.NewIndexedQuery(a.indexName(q.Index), opts...)
	}

	res, err := a.client.MultipleQueries(queries, "none", ctx)
	if err != nil {
		return nil, fmt.Errorf("multi search: %w", err)
	}

	out := make([]*Result, len(res.Results))
	for i, r := range res.Results {
		name := ""
		if i < len(qs) {
			name = qs[i].Index
		}
		out[i] = fromQueryRes(name, r.QueryRes)
	}
	return out, nil
}

func (a *Algolia) Save(ctx context.Context, index string, records []any) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := a.client.InitIndex(a.indexName(index)).SaveObjects(records, ctx); err != nil {
		return fmt.Errorf("save to %s: %w", index, err)
	}
	return nil
}

func (a *Algolia) Delete(ctx context.Context, index string, objectIDs []string) error {
	if len(objectIDs) == 0 {
		return nil
	}
	if _, err := a.client.InitIndex(a.indexName(index)).DeleteObjects(objectIDs, ctx); err != nil {
		return fmt.Errorf("delete from %s: %w", index, err)
	}
	return nil
}

func queryOptions(ctx context.Context, q Query) []interface{} {
	opts := []interface{}{
		ctx,
		opt.Page(q.Page),
		opt.HitsPerPage(q.HitsPerPage),
	}
	if len(q.Facets) > 0 {
		opts = append(opts, opt.Facets(q.Facets...))
	}
	if len(q.FacetFilters) > 0 {
		opts = append(opts, facetFilterOption(q.FacetFilters))
	}
	return opts
}

func facetFilterOption(groups [][]string) *opt.FacetFiltersOption {
	and := make([]interface{}, 0, len(groups))
	for _, group := range groups {
		if len(group) == 1 {
			and = append(and, group[0])
			continue
		}
		or := make([]interface{}, len(group))
		for i, v := range group {
			or[i] = v
		}
		and = append(and, opt.FacetFilterOr(or...))
	}
	return opt.FacetFilterAnd(and...)
}

func fromQueryRes(index string, res search.QueryRes) *Result {
	hits := res.Hits
	if hits == nil {
		hits = []map[string]interface{}{}
	}
	return &Result{
		Index:            index,
		Hits:             hits,
		NbHits:           res.NbHits,
		Page:             res.Page,
		NbPages:          res.NbPages,
		HitsPerPage:      res.HitsPerPage,
		Facets:           res.Facets,
		ProcessingTimeMS: res.ProcessingTimeMS,
	}
}
