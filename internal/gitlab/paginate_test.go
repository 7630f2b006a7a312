package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
)

// pagedHandler serves pages of pipeline nodes keyed by the "after" cursor.
// pages[i] holds the node ids of page i; the cursor for page i+1 is "c<i+1>".
func pagedHandler(t *testing.T, pages [][]int, seen *[]map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if seen != nil {
			*seen = append(*seen, req.Variables)
		}

		page := 0
		if after, ok := req.Variables["after"].(string); ok {
			_, _ = fmt.Sscanf(after, "c%d", &page)
		}

		nodes := make([]string, 0, len(pages[page]))
		for _, id := range pages[page] {
			nodes = append(nodes, fmt.Sprintf(`{"id":"gid://gitlab/Ci::Pipeline/%d"}`, id))
		}
		hasNext := page < len(pages)-1
		cursor := "null"
		if hasNext {
			cursor = fmt.Sprintf(`"c%d"`, page+1)
		}
		fmt.Fprintf(w, `{"data":{"project":{"pipelines":{"pageInfo":{"hasNextPage":%t,"endCursor":%s},"nodes":[%s]}}}}`,
			hasNext, cursor, strings.Join(nodes, ","))
	}
}

func collectIDs(t *testing.T, p *Paginator, vars map[string]any) ([]int64, error) {
	t.Helper()

	var ids []int64
	for raw, err := range p.Nodes(context.Background(), PipelinesQuery, vars) {
		if err != nil {
			return ids, err
		}
		var node PipelineNode
		if err := json.Unmarshal(raw, &node); err != nil {
			t.Fatalf("failed to decode node: %v", err)
		}
		id, err := node.ID.LocalID()
		if err != nil {
			t.Fatalf("LocalID failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func TestPaginator_UnionOfAllPages(t *testing.T) {
	var seen []map[string]any
	client := newTestClient(t, pagedHandler(t, [][]int{{1, 2}, {3, 4}, {5}}, &seen))

	p := NewPaginator(client)
	p.PageSize = 2

	var pages []int
	p.OnPage = func(q Query, page, nodes int) {
		pages = append(pages, nodes)
	}

	ids, err := collectIDs(t, p, map[string]any{"project": "acme/widget", "updated_after": "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("pagination failed: %v", err)
	}

	want := []int64{1, 2, 3, 4, 5}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if fmt.Sprint(pages) != "[2 2 1]" {
		t.Errorf("page sizes = %v", pages)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(seen))
	}
	if seen[0]["after"] != nil {
		t.Errorf("first page must start from a null cursor, got %v", seen[0]["after"])
	}
	if seen[2]["after"] != "c2" {
		t.Errorf("third page cursor = %v", seen[2]["after"])
	}
	for i, vars := range seen {
		if vars["updated_after"] != "2024-01-01T00:00:00Z" || vars["project"] != "acme/widget" {
			t.Errorf("request %d lost filter variables: %v", i, vars)
		}
		if vars["first"] != float64(2) {
			t.Errorf("request %d first = %v", i, vars["first"])
		}
	}
}

func TestPaginator_EmptyResult(t *testing.T) {
	client := newTestClient(t, pagedHandler(t, [][]int{{}}, nil))

	ids, err := collectIDs(t, NewPaginator(client), nil)
	if err != nil {
		t.Fatalf("pagination failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no nodes, got %v", ids)
	}
}

func TestPaginator_DuplicatesPassThrough(t *testing.T) {
	client := newTestClient(t, pagedHandler(t, [][]int{{1, 2}, {2, 3}}, nil))

	ids, err := collectIDs(t, NewPaginator(client), nil)
	if err != nil {
		t.Fatalf("pagination failed: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2 2 3]" {
		t.Errorf("ids = %v", ids)
	}
}

func TestPaginator_EarlyBreakStopsFetching(t *testing.T) {
	var calls atomic.Int32
	handler := pagedHandler(t, [][]int{{1}, {2}, {3}}, nil)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	})

	for _, err := range NewPaginator(client).Nodes(context.Background(), PipelinesQuery, nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
}

func TestPaginator_ScopeNotFound(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"project":null}}`))
	})

	_, err := collectIDs(t, NewPaginator(client), nil)
	if !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("expected scope not found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("scope not found must not be retried, got %d attempts", calls.Load())
	}
}

func TestPaginator_MalformedPageRetriedPerPage(t *testing.T) {
	var calls atomic.Int32
	handler := pagedHandler(t, [][]int{{1}, {2}}, nil)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		// First page succeeds, then the second page fails four times before succeeding.
		if n >= 2 && n <= 5 {
			_, _ = w.Write([]byte(`{"data":{"project":{"pipelines":{"nodes":[]}}}}`))
			return
		}
		handler(w, r)
	})

	ids, err := collectIDs(t, NewPaginator(client), nil)
	if err != nil {
		t.Fatalf("pagination failed: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2]" {
		t.Errorf("ids = %v", ids)
	}
	if calls.Load() != 6 {
		t.Errorf("expected 6 requests, got %d", calls.Load())
	}
}

func TestNodesOf_MalformedNodeRetriedPerPage(t *testing.T) {
	var calls atomic.Int32
	handler := pagedHandler(t, [][]int{{1}, {2}}, nil)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The second page first answers with a node whose id is a number.
		if n := calls.Add(1); n == 2 {
			_, _ = w.Write([]byte(`{"data":{"project":{"pipelines":{"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[{"id":2}]}}}}`))
			return
		}
		handler(w, r)
	})

	var ids []int64
	for node, err := range NodesOf[PipelineNode](context.Background(), NewPaginator(client), PipelinesQuery, nil) {
		if err != nil {
			t.Fatalf("pagination failed: %v", err)
		}
		id, err := node.ID.LocalID()
		if err != nil {
			t.Fatalf("LocalID failed: %v", err)
		}
		ids = append(ids, id)
	}
	if fmt.Sprint(ids) != "[1 2]" {
		t.Errorf("ids = %v", ids)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
}

func TestNodesOf_MalformedNodeExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"project":{"pipelines":{"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[{"id":["x"]}]}}}}`))
	})

	var yielded int
	var err error
	for _, e := range NodesOf[PipelineNode](context.Background(), NewPaginator(client), PipelinesQuery, nil) {
		if e != nil {
			err = e
			break
		}
		yielded++
	}
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if yielded != 0 {
		t.Errorf("yielded %d nodes of a malformed page", yielded)
	}
	if calls.Load() != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, calls.Load())
	}
}

func TestPaginator_NextPageWithoutCursor(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"project":{"pipelines":{"pageInfo":{"hasNextPage":true,"endCursor":null},"nodes":[]}}}}`))
	})

	_, err := collectIDs(t, NewPaginator(client), nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if calls.Load() != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, calls.Load())
	}
}

func TestPaginator_NoConnection(t *testing.T) {
	for _, err := range NewPaginator(nil).Nodes(context.Background(), ProjectQuery, nil) {
		if err == nil {
			t.Fatal("expected error for query without connection")
		}
	}
}

func TestDecodeConnection_Deployments(t *testing.T) {
	data := json.RawMessage(`{"project":{"environment":{"deployments":{"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[{"id":"gid://gitlab/Deployment/7"}]}}}}`)

	var conn connection
	if err := decodeConnection(data, DeploymentsQuery.Connection, &conn); err != nil {
		t.Fatalf("decodeConnection failed: %v", err)
	}
	if len(*conn.Nodes) != 1 {
		t.Errorf("expected 1 node, got %d", len(*conn.Nodes))
	}

	missingEnv := json.RawMessage(`{"project":{"environment":null}}`)
	err := decodeConnection(missingEnv, DeploymentsQuery.Connection, &conn)
	if !errors.Is(err, ErrScopeNotFound) {
		t.Errorf("expected scope not found for null environment, got %v", err)
	}
}
