package core

import (
	"context"
	"errors"
	"time"

	"clonefreq/pkg/domain"
)

// Skip reasons reported in BatchResult.Skipped and to metrics.
const (
	SkipMalformed = "malformed"
	SkipResolve   = "resolve"
	SkipPersist   = "persist"
	SkipCancelled = "cancelled"
)

// BatchWriter receives the records of one batch.
type BatchWriter interface {
	Write(ctx context.Context, rec domain.FrequencyRecord) error
	// Close flushes buffered records. A failed Close loses every record the
	// writer accepted.
	Close(ctx context.Context) error
}

// Sink opens a writer per batch.
type Sink interface {
	Open(ctx context.Context, study domain.Study, offset int) (BatchWriter, error)
}

// RunParams is the shared, read-only context of a run.
type RunParams struct {
	StudyID      string
	CancerTypeID string
	// BatchSize defaults to DefaultBatchSize when not positive.
	BatchSize int
	// MaxWorkers caps concurrent batches; zero runs one goroutine per batch.
	MaxWorkers int
	// SampleSize is filled by Run from the cohort sizer.
	SampleSize int
}

// BatchResult summarises one batch.
type BatchResult struct {
	Offset   int
	Size     int
	Emitted  int
	Skipped  map[string]int
	Failures []error
	Duration time.Duration
}

// SkippedTotal sums skips over every reason.
func (r BatchResult) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

func (r *BatchResult) skip(reason string, err error) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[reason]++
	if err != nil {
		r.Failures = append(r.Failures, err)
	}
}

// ComputeAndEmit builds and writes one frequency record per clonotype of the
// batch. A failing clonotype is logged, counted and skipped; the batch goes on.
// The writer is closed before returning.
func (s *Service) ComputeAndEmit(ctx context.Context, run RunParams, batch Batch, sink BatchWriter) BatchResult {
	start := s.clock.Now()
	res := BatchResult{Offset: batch.Offset, Size: len(batch.Keys)}
	study, err := s.Study(run.StudyID)
	if err != nil {
		for range batch.Keys {
			res.skip(SkipResolve, nil)
		}
		res.Failures = append(res.Failures, err)
		_ = sink.Close(ctx)
		return s.finishBatch(run.StudyID, res, start)
	}

	for i, raw := range batch.Keys {
		if ctx.Err() != nil {
			for range batch.Keys[i:] {
				res.skip(SkipCancelled, nil)
			}
			res.Failures = append(res.Failures, ctx.Err())
			break
		}
		key := raw.Trimmed()
		if err := key.Validate(); err != nil {
			s.skipClonotype(&res, SkipMalformed, study.ID, key, err)
			continue
		}
		ids, err := s.resolve(ctx, study, key.VGene, key.AASeqCDR3, run.CancerTypeID)
		if err != nil {
			s.skipClonotype(&res, SkipResolve, study.ID, key, err)
			continue
		}
		s.logger.Debug("resolved samples", "study_id", study.ID, "clonotype", key.String(), "sample_ids", ids)
		rec := domain.FrequencyRecord{
			ID:         s.newID(),
			VGene:      key.CanonicalVGene(),
			AASeqCDR3:  key.AASeqCDR3,
			NSeqCDR3:   key.NSeqCDR3,
			Count:      len(ids),
			SampleSize: run.SampleSize,
			SampleIDs:  ids,
		}
		err = s.retry.Do(ctx, func(ctx context.Context) error { return sink.Write(ctx, rec) })
		if err != nil {
			perr := &domain.PersistenceError{Collection: study.FrequencyCollection, RecordID: rec.ID, Err: err}
			s.skipClonotype(&res, SkipPersist, study.ID, key, perr)
			continue
		}
		res.Emitted++
		s.logger.Debug("frequency emitted", "study_id", study.ID, "id", rec.ID, "vgene", rec.VGene, "count", rec.Count)
	}

	if err := sink.Close(ctx); err != nil {
		lost := res.Emitted
		res.Emitted = 0
		if res.Skipped == nil {
			res.Skipped = make(map[string]int)
		}
		res.Skipped[SkipPersist] += lost
		res.Failures = append(res.Failures, &domain.PersistenceError{Collection: study.FrequencyCollection, Err: err})
		s.logger.Error("batch flush failed", "study_id", study.ID, "offset", batch.Offset, "records", lost, "error", err)
	}
	return s.finishBatch(study.ID, res, start)
}

func (s *Service) skipClonotype(res *BatchResult, reason, studyID string, key domain.Clonotype, err error) {
	cerr := &domain.ClonotypeError{StudyID: studyID, Key: key, Err: err}
	res.skip(reason, cerr)
	if errors.Is(err, context.Canceled) {
		s.logger.Warn("clonotype cancelled", "study_id", studyID, "clonotype", key.String())
		return
	}
	s.logger.Error("clonotype skipped", "study_id", studyID, "clonotype", key.String(), "reason", reason, "error", err)
}

func (s *Service) finishBatch(studyID string, res BatchResult, start time.Time) BatchResult {
	res.Duration = s.clock.Now().Sub(start)
	s.metrics.ObserveBatch(studyID, res)
	return res
}
