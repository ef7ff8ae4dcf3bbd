// Package core implements the clonotype frequency pipeline: enumerate a study's
// clonotypes, size its cohort, resolve each clonotype to the samples it occurs
// in and emit one frequency record per clonotype through a sink.
package core

import (
	"context"
	"errors"
	"fmt"

	"clonefreq/pkg/domain"
)

// Service runs the pipeline against a repository. It is safe for concurrent use.
type Service struct {
	repo     domain.Repository
	registry *domain.StudyRegistry
	logger   Logger
	metrics  MetricsRecorder
	clock    Clock
	retry    RetryPolicy
	newID    func() string
}

// NewService constructs a service backed by the supplied repository.
func NewService(repo domain.Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		registry: domain.NewStudyRegistry(),
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		clock:    systemClock{},
		retry:    DefaultRetryPolicy(),
		newID:    defaultID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository returns the underlying storage implementation.
func (s *Service) Repository() domain.Repository { return s.repo }

// Registry returns the study registry in use.
func (s *Service) Registry() *domain.StudyRegistry { return s.registry }

// Study resolves a study identifier, logging unknown ones.
func (s *Service) Study(studyID string) (domain.Study, error) {
	study, err := s.registry.Lookup(studyID)
	if err != nil {
		s.logger.Warn("unknown study", "study_id", studyID)
		return domain.Study{}, err
	}
	return study, nil
}

// ResolveSampleIDs returns the sorted distinct samples containing a chain with
// exactly this VGene and aaSeqCDR3. nSeqCDR3 does not take part in the match.
func (s *Service) ResolveSampleIDs(ctx context.Context, studyID, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error) {
	study, err := s.Study(studyID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, study, vgene, aaSeqCDR3, cancerTypeID)
}

func (s *Service) resolve(ctx context.Context, study domain.Study, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error) {
	var ids []string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.repo.ResolveSampleIDs(ctx, study, vgene, aaSeqCDR3, cancerTypeID)
		return err
	})
	if err != nil {
		return nil, &domain.ResolveError{StudyID: study.ID, VGene: vgene, AASeqCDR3: aaSeqCDR3, Err: err}
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CohortSize counts the samples whose patient belongs to the study, optionally
// restricted to a cancer type.
func (s *Service) CohortSize(ctx context.Context, studyID, cancerTypeID string) (int, error) {
	if _, err := s.Study(studyID); err != nil {
		return 0, err
	}
	n, err := s.repo.CountSamples(ctx, studyID, cancerTypeID)
	if err != nil {
		return 0, fmt.Errorf("cohort size for %s: %w", studyID, err)
	}
	return n, nil
}

// EnumerateClonotypes lists the distinct clonotype keys of the study's chain
// collection in a stable order. Keys are compared after trimming, so stored
// values that differ only by surrounding whitespace yield a single key.
func (s *Service) EnumerateClonotypes(ctx context.Context, studyID string) ([]domain.Clonotype, error) {
	study, err := s.Study(studyID)
	if err != nil {
		return nil, err
	}
	raw, err := s.repo.DistinctClonotypes(ctx, study)
	if err != nil {
		return nil, fmt.Errorf("enumerate clonotypes for %s: %w", studyID, err)
	}
	seen := make(map[domain.Clonotype]struct{}, len(raw))
	keys := make([]domain.Clonotype, 0, len(raw))
	for _, k := range raw {
		k = k.Trimmed()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	domain.SortClonotypes(keys)
	return keys, nil
}

// LookupFrequencies returns stored records whose VGene starts with prefix
// (case-insensitive) and whose count is at least minCount.
func (s *Service) LookupFrequencies(ctx context.Context, studyID, vgenePrefix string, minCount int) ([]domain.FrequencyRecord, error) {
	study, err := s.Study(studyID)
	if err != nil {
		return nil, err
	}
	if minCount < 0 {
		return nil, errors.New("min count must not be negative")
	}
	recs, err := s.repo.FindFrequencies(ctx, study, domain.FrequencyQuery{VGenePrefix: vgenePrefix, MinCount: minCount})
	if err != nil {
		return nil, fmt.Errorf("lookup frequencies for %s: %w", studyID, err)
	}
	return recs, nil
}
