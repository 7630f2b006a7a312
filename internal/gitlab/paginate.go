package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"strings"

	"github.com/squiddy/gitlab-to-sqlite/internal/metrics"
)

// DefaultPageSize is the number of nodes requested per page.
const DefaultPageSize = 100

// Paginator drives an Executor across a cursor-paginated connection.
type Paginator struct {
	Client Executor

	// PageSize is sent as $first. Defaults to DefaultPageSize.
	PageSize int

	// OnPage, if set, is called after each page is decoded and before its
	// nodes are yielded.
	OnPage func(q Query, page int, nodes int)
}

// NewPaginator returns a paginator over client.
func NewPaginator(client Executor) *Paginator {
	return &Paginator{Client: client, PageSize: DefaultPageSize}
}

type connection struct {
	PageInfo *PageInfo          `json:"pageInfo"`
	Nodes    *[]json.RawMessage `json:"nodes"`
}

// Nodes returns the lazy sequence of every node of q's connection.
//
// Each iteration fetches one page with the current cursor, yields its nodes,
// then advances from pageInfo until hasNextPage is false. The first error is
// yielded once and ends the sequence. The sequence is not restartable: a new
// call starts again from a null cursor; vars, not the cursor, bound the set.
func (p *Paginator) Nodes(ctx context.Context, q Query, vars map[string]any) iter.Seq2[json.RawMessage, error] {
	return walk(ctx, p, q, vars, func(raw json.RawMessage) (json.RawMessage, error) {
		return raw, nil
	})
}

// NodesOf is Nodes with every node decoded into T. Nodes are decoded as
// part of their page's round trip, so a node of the wrong shape makes the
// page malformed and it is retried like any other malformed response.
func NodesOf[T any](ctx context.Context, p *Paginator, q Query, vars map[string]any) iter.Seq2[*T, error] {
	return walk(ctx, p, q, vars, func(raw json.RawMessage) (*T, error) {
		node := new(T)
		if err := json.Unmarshal(raw, node); err != nil {
			return nil, fmt.Errorf("decode %s node: %w", q.Name, err)
		}
		return node, nil
	})
}

func walk[T any](ctx context.Context, p *Paginator, q Query, vars map[string]any, decodeNode func(json.RawMessage) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if len(q.Connection) == 0 {
			yield(zero, fmt.Errorf("query %s has no paginated connection", q.Name))
			return
		}

		size := p.PageSize
		if size <= 0 {
			size = DefaultPageSize
		}

		hasNextPage := true
		var after *string
		for page := 1; hasNextPage; page++ {
			pageVars := maps.Clone(vars)
			if pageVars == nil {
				pageVars = make(map[string]any)
			}
			pageVars["first"] = size
			if after != nil {
				pageVars["after"] = *after
			} else {
				pageVars["after"] = nil
			}

			var conn connection
			var nodes []T
			err := p.Client.Execute(ctx, q, pageVars, func(data json.RawMessage) error {
				if err := decodeConnection(data, q.Connection, &conn); err != nil {
					return err
				}
				nodes = make([]T, 0, len(*conn.Nodes))
				for _, raw := range *conn.Nodes {
					node, err := decodeNode(raw)
					if err != nil {
						return err
					}
					nodes = append(nodes, node)
				}
				return nil
			})
			if err != nil {
				yield(zero, err)
				return
			}

			metrics.PagesFetched.WithLabelValues(q.Name).Inc()
			if p.OnPage != nil {
				p.OnPage(q, page, len(nodes))
			}

			for _, node := range nodes {
				if !yield(node, nil) {
					return
				}
			}

			hasNextPage = conn.PageInfo.HasNextPage
			after = conn.PageInfo.EndCursor
		}
	}
}

// decodeConnection walks path inside data and decodes the connection at its end.
func decodeConnection(data json.RawMessage, path []string, conn *connection) error {
	*conn = connection{}
	cur := data
	for i, field := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return fmt.Errorf("decode %s: %w", strings.Join(path[:i], "."), err)
		}
		next, ok := obj[field]
		if !ok {
			return fmt.Errorf("missing field %s", strings.Join(path[:i+1], "."))
		}
		if string(next) == "null" {
			// A null scope object means the project or environment does not exist.
			if i < len(path)-1 {
				return NewError(KindScopeNotFound, "", fmt.Errorf("%s is null", strings.Join(path[:i+1], ".")))
			}
			return errors.New("connection is null")
		}
		cur = next
	}

	if err := json.Unmarshal(cur, conn); err != nil {
		return fmt.Errorf("decode connection: %w", err)
	}
	if conn.PageInfo == nil {
		return errors.New("page is missing pageInfo")
	}
	if conn.Nodes == nil {
		return errors.New("page is missing nodes")
	}
	if conn.PageInfo.HasNextPage && (conn.PageInfo.EndCursor == nil || *conn.PageInfo.EndCursor == "") {
		return errors.New("page reports a next page without an end cursor")
	}
	return nil
}
