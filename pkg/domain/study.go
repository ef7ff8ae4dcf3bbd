package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Study maps a study identifier onto its chain and frequency collections.
type Study struct {
	ID                  string `json:"id" yaml:"id"`
	ChainCollection     string `json:"chain_collection" yaml:"chain_collection"`
	FrequencyCollection string `json:"frequency_collection" yaml:"frequency_collection"`
	// Builtin marks the studies the pipeline has been validated against.
	Builtin bool `json:"-" yaml:"-"`
}

// Built-in study identifiers.
const (
	StudyTLML   = "TLML"
	StudyTARGET = "TARGET"
)

const frequencySuffix = "_frequency"

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewStudy derives collection names from the identifier when not provided.
func NewStudy(id, chainCollection, frequencyCollection string) (Study, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Study{}, fmt.Errorf("study id required")
	}
	if chainCollection == "" {
		chainCollection = id
	}
	if frequencyCollection == "" {
		frequencyCollection = chainCollection + frequencySuffix
	}
	for _, name := range []string{chainCollection, frequencyCollection} {
		if !collectionName.MatchString(name) {
			return Study{}, fmt.Errorf("study %s: invalid collection name %q", id, name)
		}
	}
	return Study{ID: id, ChainCollection: chainCollection, FrequencyCollection: frequencyCollection}, nil
}

// StudyRegistry resolves study identifiers. It is safe for concurrent use.
type StudyRegistry struct {
	mu      sync.RWMutex
	studies map[string]Study
}

// NewStudyRegistry returns a registry holding the built-in TLML and TARGET studies.
func NewStudyRegistry() *StudyRegistry {
	r := &StudyRegistry{studies: make(map[string]Study)}
	for _, id := range []string{StudyTLML, StudyTARGET} {
		s, _ := NewStudy(id, "", "")
		s.Builtin = true
		r.studies[id] = s
	}
	return r
}

// Register adds or replaces a study definition.
func (r *StudyRegistry) Register(s Study) error {
	if s.ID == "" || s.ChainCollection == "" || s.FrequencyCollection == "" {
		return fmt.Errorf("incomplete study definition %+v", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.studies[s.ID]; ok && existing.Builtin {
		s.Builtin = existing.ChainCollection == s.ChainCollection && existing.FrequencyCollection == s.FrequencyCollection
	}
	r.studies[s.ID] = s
	return nil
}

// Lookup returns the study or an UnknownStudyError.
func (r *StudyRegistry) Lookup(id string) (Study, error) {
	r.mu.RLock()
	s, ok := r.studies[id]
	r.mu.RUnlock()
	if !ok {
		return Study{}, &UnknownStudyError{StudyID: id}
	}
	return s, nil
}

// Studies lists registered studies ordered by identifier.
func (r *StudyRegistry) Studies() []Study {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Study, 0, len(r.studies))
	for _, s := range r.studies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
