package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownStudy is matched by errors.Is for any UnknownStudyError.
var ErrUnknownStudy = errors.New("unknown study")

// UnknownStudyError is returned when a study identifier is not registered.
type UnknownStudyError struct {
	StudyID string
}

func (e *UnknownStudyError) Error() string {
	return fmt.Sprintf("unknown study %q", e.StudyID)
}

// Is reports equivalence with ErrUnknownStudy.
func (e *UnknownStudyError) Is(target error) bool { return target == ErrUnknownStudy }

// ConnectionError reports a storage backend that could not be reached or
// authenticated. It is fatal to a run.
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ResolveError wraps a storage failure while resolving sample membership, so it
// can never be mistaken for an empty result.
type ResolveError struct {
	StudyID   string
	VGene     string
	AASeqCDR3 string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve samples for %s/%s in %s: %v", e.VGene, e.AASeqCDR3, e.StudyID, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// PersistenceError reports a frequency record that could not be written.
type PersistenceError struct {
	Collection string
	RecordID   string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("write frequency %s to %s: %v", e.RecordID, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ClonotypeError isolates a failure to a single clonotype of a batch.
type ClonotypeError struct {
	StudyID string
	Key     Clonotype
	Err     error
}

func (e *ClonotypeError) Error() string {
	return fmt.Sprintf("clonotype %s in %s: %v", e.Key, e.StudyID, e.Err)
}

func (e *ClonotypeError) Unwrap() error { return e.Err }
