// Package sink implements the destinations a run writes frequency records to:
// the study's frequency collection, or one blob object per batch.
package sink

import (
	"context"
	"fmt"

	"clonefreq/internal/core"
	"clonefreq/pkg/domain"
)

// Kind selects a sink implementation.
type Kind string

const (
	KindStore Kind = "store"
	KindFile  Kind = "file"
)

// ParseKind validates a configured sink kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindStore:
		return KindStore, nil
	case KindFile:
		return KindFile, nil
	}
	return "", fmt.Errorf("unknown sink %q", s)
}

// StoreSink inserts every record into the study's frequency collection.
type StoreSink struct {
	repo domain.FrequencyStore
}

var _ core.Sink = (*StoreSink)(nil)

// NewStoreSink writes through repo, which must be safe for concurrent use.
func NewStoreSink(repo domain.FrequencyStore) *StoreSink {
	return &StoreSink{repo: repo}
}

// Open returns a writer bound to study. Records are written immediately, so
// offset is unused.
func (s *StoreSink) Open(_ context.Context, study domain.Study, _ int) (core.BatchWriter, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("store sink: nil repository")
	}
	return &storeWriter{repo: s.repo, study: study}, nil
}

type storeWriter struct {
	repo  domain.FrequencyStore
	study domain.Study
}

func (w *storeWriter) Write(ctx context.Context, rec domain.FrequencyRecord) error {
	return w.repo.InsertFrequency(ctx, w.study, rec)
}

func (w *storeWriter) Close(context.Context) error { return nil }
