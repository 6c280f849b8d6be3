package search

import (
	"context"
	"sync"
)

type fakeBackend struct {
	mu      sync.Mutex
	queries []Query
	saved   map[string][]any
	deleted map[string][]string
	results []*Result
	err     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{saved: map[string][]any{}, deleted: map[string][]string{}}
}

func (f *fakeBackend) Search(_ context.Context, q Query) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Index: q.Index, Hits: []map[string]any{{"objectID": "1"}}, NbHits: 1, Page: q.Page, HitsPerPage: q.HitsPerPage}, nil
}

func (f *fakeBackend) MultiSearch(_ context.Context, qs []Query) ([]*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, qs...)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeBackend) Save(_ context.Context, index string, records []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved[index] = append(f.saved[index], records...)
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, index string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted[index] = append(f.deleted[index], ids...)
	return nil
}
