package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clonefreq/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of clonotypes handed to one worker.
const DefaultBatchSize = 256

// Batch is a contiguous slice of the enumerated clonotypes.
type Batch struct {
	Offset int
	Keys   []domain.Clonotype
}

// Partition splits keys into contiguous, disjoint batches that cover the input
// exactly. A non-positive size falls back to DefaultBatchSize.
func Partition(keys []domain.Clonotype, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(keys) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(keys)+size-1)/size)
	for off := 0; off < len(keys); off += size {
		end := off + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, Batch{Offset: off, Keys: keys[off:end:end]})
	}
	return batches
}

// RunSummary aggregates the batches of one run.
type RunSummary struct {
	StudyID    string
	SampleSize int
	Clonotypes int
	Batches    []BatchResult
	Emitted    int
	Skipped    map[string]int
	Duration   time.Duration
}

// SkippedTotal sums skips over every reason.
func (r RunSummary) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// Run computes frequencies for every clonotype of the study and writes them
// through sink. Batches run concurrently and Run returns once all of them have
// finished. Per-clonotype failures do not fail the run; an unknown study, a
// failed cohort count or a failed enumeration does, before anything is written.
func (s *Service) Run(ctx context.Context, params RunParams, sink Sink) (RunSummary, error) {
	start := s.clock.Now()
	summary := RunSummary{StudyID: params.StudyID, Skipped: make(map[string]int)}
	study, err := s.Study(params.StudyID)
	if err != nil {
		return summary, err
	}
	if !study.Builtin {
		s.logger.Warn("study has not been validated against this pipeline", "study_id", study.ID,
			"chain_collection", study.ChainCollection, "frequency_collection", study.FrequencyCollection)
	}
	s.logger.Info("run started", "study_id", study.ID, "cancer_type_id", params.CancerTypeID, "driver", s.repo.Driver())

	size, err := s.CohortSize(ctx, study.ID, params.CancerTypeID)
	if err != nil {
		return summary, err
	}
	if size == 0 {
		s.logger.Warn("cohort is empty", "study_id", study.ID, "cancer_type_id", params.CancerTypeID)
	}
	s.logger.Info("sample size", "study_id", study.ID, "sample_size", size)
	s.metrics.ObserveCohort(study.ID, size)
	params.SampleSize = size
	summary.SampleSize = size

	keys, err := s.EnumerateClonotypes(ctx, study.ID)
	if err != nil {
		return summary, err
	}
	summary.Clonotypes = len(keys)
	batches := Partition(keys, params.BatchSize)
	s.logger.Info("total clonotypes", "study_id", study.ID, "clonotypes", len(keys), "batches", len(batches))

	results := make([]BatchResult, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	if params.MaxWorkers > 0 {
		g.SetLimit(params.MaxWorkers)
	}
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = s.runBatch(gctx, params, study, batch, sink)
			return nil
		})
	}
	_ = g.Wait()

	summary.Batches = results
	for _, r := range results {
		summary.Emitted += r.Emitted
		for reason, n := range r.Skipped {
			summary.Skipped[reason] += n
		}
	}
	summary.Duration = s.clock.Now().Sub(start)
	s.logger.Info("run finished", "study_id", study.ID, "emitted", summary.Emitted,
		"skipped", summary.SkippedTotal(), "duration", summary.Duration.String())
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run %s interrupted: %w", study.ID, err)
	}
	return summary, nil
}

func (s *Service) runBatch(ctx context.Context, params RunParams, study domain.Study, batch Batch, sink Sink) BatchResult {
	w, err := sink.Open(ctx, study, batch.Offset)
	if err != nil {
		res := BatchResult{Offset: batch.Offset, Size: len(batch.Keys), Skipped: map[string]int{SkipPersist: len(batch.Keys)}}
		perr := &domain.PersistenceError{Collection: study.FrequencyCollection, Err: err}
		res.Failures = []error{perr}
		if errors.Is(err, context.Canceled) {
			res.Skipped = map[string]int{SkipCancelled: len(batch.Keys)}
		}
		s.logger.Error("open batch writer", "study_id", study.ID, "offset", batch.Offset, "error", err)
		s.metrics.ObserveBatch(study.ID, res)
		return res
	}
	s.logger.Debug("batch started", "study_id", study.ID, "offset", batch.Offset, "size", len(batch.Keys))
	return s.ComputeAndEmit(ctx, params, batch, w)
}
