// Package loadtest measures watermark reads against a mirror that a sync
// is writing to at the same time.
//
// A mirror is populated with synthetic pipelines of one project through the
// entity upserter, then readers resolve the pipelines watermark concurrently
// while a writer keeps appending newer pipelines, the way a dashboard or a
// second sync reads a database the daemon is updating.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squiddy/gitlab-to-sqlite/internal/gitlab"
	"github.com/squiddy/gitlab-to-sqlite/internal/store"
	"github.com/squiddy/gitlab-to-sqlite/internal/upsert"
	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

// ProjectPath is the full path of the synthetic project.
const ProjectPath = "loadtest/widget"

const projectID = 1

// baseTime is the creation time of the first synthetic pipeline. Each
// following pipeline is one minute newer.
var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Mirror is a populated database for load testing.
type Mirror struct {
	DB              *store.DB
	JobsPerPipeline int

	upserter *upsert.Upserter
	resolver *watermark.Resolver
	// next is the local id of the next pipeline to write.
	next atomic.Int64
}

// LatencyStats captures the latency of the watermark reads of a run.
type LatencyStats struct {
	Min          time.Duration `json:"min"`
	Max          time.Duration `json:"max"`
	Mean         time.Duration `json:"mean"`
	P50          time.Duration `json:"p50"`
	P95          time.Duration `json:"p95"`
	P99          time.Duration `json:"p99"`
	TotalQueries int           `json:"total_queries"`
	Errors       int           `json:"errors"`
	// Writes is the number of pipelines saved while the readers ran.
	Writes int `json:"writes"`
}

// Populate creates a mirror at path holding numPipelines pipelines with
// jobsPerPipeline jobs each.
func Populate(ctx context.Context, path string, numPipelines, jobsPerPipeline int) (*Mirror, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	m := &Mirror{
		DB:              db,
		JobsPerPipeline: jobsPerPipeline,
		upserter:        upsert.New(db, "https://gitlab.example.com"),
		resolver:        watermark.NewResolver(db),
	}
	m.next.Store(1)

	project := &gitlab.ProjectNode{
		ID:       gitlab.GlobalID(fmt.Sprintf("gid://gitlab/Project/%d", projectID)),
		Group:    &gitlab.Ref{ID: "gid://gitlab/Group/1"},
		Name:     "widget",
		Path:     "widget",
		FullPath: ProjectPath,
	}
	if _, err := m.upserter.SaveProject(ctx, project); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to save project: %w", err)
	}

	for range numPipelines {
		if _, err := m.writeNext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return m, nil
}

// Close closes the mirror's database.
func (m *Mirror) Close() error {
	return m.DB.Close()
}

// Pipelines returns the number of pipelines written so far.
func (m *Mirror) Pipelines() int {
	return int(m.next.Load() - 1)
}

// Latest returns the updated-at timestamp of the newest pipeline written.
func (m *Mirror) Latest() watermark.Watermark {
	n := m.next.Load() - 1
	if n == 0 {
		return watermark.None
	}
	return watermark.At(updatedAt(n))
}

func updatedAt(id int64) string {
	return baseTime.Add(time.Duration(id) * time.Minute).Format(time.RFC3339)
}

// writeNext saves the next synthetic pipeline and returns its id.
func (m *Mirror) writeNext(ctx context.Context) (int64, error) {
	id := m.next.Load()
	node := syntheticPipeline(id, m.JobsPerPipeline)
	if _, err := m.upserter.SavePipeline(ctx, node); err != nil {
		return 0, fmt.Errorf("failed to save pipeline %d: %w", id, err)
	}
	m.next.Add(1)
	return id, nil
}

func syntheticPipeline(id int64, jobs int) *gitlab.PipelineNode {
	created := baseTime.Add(time.Duration(id-1) * time.Minute).Format(time.RFC3339)
	updated := updatedAt(id)
	status := "SUCCESS"
	ref := "main"

	node := &gitlab.PipelineNode{
		ID:        gitlab.GlobalID(fmt.Sprintf("gid://gitlab/Ci::Pipeline/%d", id)),
		Project:   gitlab.Ref{ID: gitlab.GlobalID(fmt.Sprintf("gid://gitlab/Project/%d", projectID))},
		CreatedAt: &created,
		UpdatedAt: &updated,
		Status:    &status,
		Ref:       &ref,
	}
	for j := range jobs {
		jobID := id*1000 + int64(j)
		name := fmt.Sprintf("job-%d", j)
		webPath := fmt.Sprintf("/%s/-/jobs/%d", ProjectPath, jobID)
		node.Jobs.Nodes = append(node.Jobs.Nodes, gitlab.JobNode{
			ID:        gitlab.GlobalID(fmt.Sprintf("gid://gitlab/Ci::Build/%d", jobID)),
			Name:      &name,
			CreatedAt: &created,
			Status:    &status,
			WebPath:   &webPath,
		})
	}
	return node
}

// RunConcurrentReaders resolves the pipelines watermark from numReaders
// goroutines, queriesPerReader times each, while one writer keeps saving
// newer pipelines. It returns the read latencies.
func (m *Mirror) RunConcurrentReaders(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	scope := watermark.Scope{ProjectPath: ProjectPath}

	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()

	var writes int
	var writeErr error
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for writeCtx.Err() == nil {
			if _, err := m.writeNext(writeCtx); err != nil {
				if writeCtx.Err() == nil {
					writeErr = err
				}
				return
			}
			writes++
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var all []time.Duration
	var errs []error

	for i := range numReaders {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			durations := make([]time.Duration, 0, queriesPerReader)
			for j := range queriesPerReader {
				start := time.Now()
				_, err := m.resolver.Resolve(ctx, watermark.Pipelines, scope)
				durations = append(durations, time.Since(start))
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("reader %d query %d failed: %w", reader, j, err))
					mu.Unlock()
					break
				}
			}
			mu.Lock()
			all = append(all, durations...)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	stopWriter()
	<-writerDone

	if writeErr != nil {
		return nil, writeErr
	}
	if len(all) == 0 {
		return nil, errors.New("no queries completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	stats.Writes = writes
	if len(errs) > 0 {
		return stats, errors.Join(errs...)
	}
	return stats, nil
}

// VerifyMonotonicWatermark reads the pipelines watermark from numReaders
// goroutines for the given duration while a writer saves newer pipelines.
// Every reader must see a watermark that never moves backwards and never
// runs ahead of what was written.
func (m *Mirror) VerifyMonotonicWatermark(ctx context.Context, numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	scope := watermark.Scope{ProjectPath: ProjectPath}
	errc := make(chan error, numReaders+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if _, err := m.writeNext(ctx); err != nil {
				if ctx.Err() == nil {
					errc <- err
				}
				return
			}
		}
	}()

	for i := range numReaders {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			last := watermark.None
			for ctx.Err() == nil {
				wm, err := m.resolver.Resolve(ctx, watermark.Pipelines, scope)
				if err != nil {
					if ctx.Err() == nil {
						errc <- fmt.Errorf("reader %d read failed: %w", reader, err)
					}
					return
				}
				if last.Max(wm) != wm {
					errc <- fmt.Errorf("reader %d saw watermark move back from %s to %s", reader, last, wm)
					return
				}
				// The pipeline being written may be committed before next
				// moves past it.
				if upper := watermark.At(updatedAt(m.next.Load())); wm.Max(upper) != upper {
					errc <- fmt.Errorf("reader %d saw watermark %s ahead of written %s", reader, wm, upper)
					return
				}
				last = wm
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errc)
	return <-errc
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// Fprint writes the statistics to w.
func (s *LatencyStats) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Writes:        %d\n", s.Writes)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
