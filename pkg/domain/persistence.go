package domain

import "context"

// FrequencyQuery filters stored frequency records.
type FrequencyQuery struct {
	// VGenePrefix matches case-insensitively against the start of VGene.
	VGenePrefix string
	// MinCount excludes records with a lower count; zero disables the filter.
	MinCount int
}

// ChainReader exposes the read side of the relation chain.
type ChainReader interface {
	// DistinctClonotypes groups the study's chain collection by clonotype key.
	DistinctClonotypes(ctx context.Context, study Study) ([]Clonotype, error)
	// ResolveSampleIDs walks chain → assay → sample → patient for chains
	// matching vgene and aaSeqCDR3 exactly and returns distinct sample ids.
	// An empty cancerTypeID disables the cancer-type filter.
	ResolveSampleIDs(ctx context.Context, study Study, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error)
	// CountSamples counts samples whose patient belongs to studyID.
	CountSamples(ctx context.Context, studyID, cancerTypeID string) (int, error)
}

// FrequencyStore persists and queries frequency records.
type FrequencyStore interface {
	InsertFrequency(ctx context.Context, study Study, rec FrequencyRecord) error
	FindFrequencies(ctx context.Context, study Study, q FrequencyQuery) ([]FrequencyRecord, error)
}

// Loader writes relational data. Existing ids are replaced.
type Loader interface {
	Load(ctx context.Context, study Study, data Dataset) error
}

// Repository is the full contract a storage backend implements. Implementations
// must be safe for concurrent use by multiple batches.
type Repository interface {
	ChainReader
	FrequencyStore
	Loader
	Driver() string
	Close(ctx context.Context) error
}
