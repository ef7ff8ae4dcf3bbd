// Package memory provides an in-memory repository used for tests, dry runs and
// the import then run round trip without an external database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"clonefreq/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store satisfies the repository interface.
var _ domain.Repository = (*Store)(nil)

// Driver is the storage driver name reported by the in-memory repository.
const Driver = "memory"

type memoryState struct {
	patients    map[string]domain.Patient
	samples     map[string]domain.Sample
	assays      map[string]domain.Assay
	chains      map[string]map[string]domain.ChainRecord
	frequencies map[string][]domain.FrequencyRecord
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Patients    []domain.Patient                    `json:"patients"`
	Samples     []domain.Sample                     `json:"samples"`
	Assays      []domain.Assay                      `json:"assays"`
	Chains      map[string][]domain.ChainRecord     `json:"chains"`
	Frequencies map[string][]domain.FrequencyRecord `json:"frequencies"`
}

func newMemoryState() memoryState {
	return memoryState{
		patients:    make(map[string]domain.Patient),
		samples:     make(map[string]domain.Sample),
		assays:      make(map[string]domain.Assay),
		chains:      make(map[string]map[string]domain.ChainRecord),
		frequencies: make(map[string][]domain.FrequencyRecord),
	}
}

// Store is a mutex-guarded repository backed by maps.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore constructs an empty in-memory repository.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// Driver reports the backend name.
func (s *Store) Driver() string { return Driver }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for _, p := range snapshot.Patients {
		state.patients[p.ID] = p
	}
	for _, smp := range snapshot.Samples {
		state.samples[smp.ID] = smp
	}
	for _, a := range snapshot.Assays {
		state.assays[a.ID] = a
	}
	for collection, chains := range snapshot.Chains {
		bucket := make(map[string]domain.ChainRecord, len(chains))
		for _, c := range chains {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			bucket[c.ID] = c
		}
		state.chains[collection] = bucket
	}
	for collection, recs := range snapshot.Frequencies {
		state.frequencies[collection] = cloneFrequencies(recs)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ExportState clones the current store state with every slice ordered by id.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Chains:      make(map[string][]domain.ChainRecord, len(s.state.chains)),
		Frequencies: make(map[string][]domain.FrequencyRecord, len(s.state.frequencies)),
	}
	for _, p := range s.state.patients {
		out.Patients = append(out.Patients, p)
	}
	for _, smp := range s.state.samples {
		out.Samples = append(out.Samples, smp)
	}
	for _, a := range s.state.assays {
		out.Assays = append(out.Assays, a)
	}
	for collection, bucket := range s.state.chains {
		chains := make([]domain.ChainRecord, 0, len(bucket))
		for _, c := range bucket {
			chains = append(chains, c)
		}
		sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
		out.Chains[collection] = chains
	}
	for collection, recs := range s.state.frequencies {
		out.Frequencies[collection] = cloneFrequencies(recs)
	}
	sort.Slice(out.Patients, func(i, j int) bool { return out.Patients[i].ID < out.Patients[j].ID })
	sort.Slice(out.Samples, func(i, j int) bool { return out.Samples[i].ID < out.Samples[j].ID })
	sort.Slice(out.Assays, func(i, j int) bool { return out.Assays[i].ID < out.Assays[j].ID })
	return out
}

// Load upserts the dataset. Chains without an id receive a generated one.
func (s *Store) Load(ctx context.Context, study domain.Study, data domain.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range data.Patients {
		s.state.patients[p.ID] = p
	}
	for _, smp := range data.Samples {
		s.state.samples[smp.ID] = smp
	}
	for _, a := range data.Assays {
		s.state.assays[a.ID] = a
	}
	if len(data.Chains) == 0 {
		return nil
	}
	bucket, ok := s.state.chains[study.ChainCollection]
	if !ok {
		bucket = make(map[string]domain.ChainRecord, len(data.Chains))
		s.state.chains[study.ChainCollection] = bucket
	}
	for _, c := range data.Chains {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		bucket[c.ID] = c
	}
	return nil
}

// DistinctClonotypes groups the study's chains by their untrimmed key.
func (s *Store) DistinctClonotypes(ctx context.Context, study domain.Study) ([]domain.Clonotype, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	seen := make(map[domain.Clonotype]struct{})
	for _, c := range s.state.chains[study.ChainCollection] {
		seen[c.Clonotype()] = struct{}{}
	}
	s.mu.RUnlock()
	keys := make([]domain.Clonotype, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	domain.SortClonotypes(keys)
	return keys, nil
}

// ResolveSampleIDs inner-joins matching chains through assay, sample and patient.
func (s *Store) ResolveSampleIDs(ctx context.Context, study domain.Study, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{})
	for _, c := range s.state.chains[study.ChainCollection] {
		if c.VGene != vgene || c.AASeqCDR3 != aaSeqCDR3 {
			continue
		}
		assay, ok := s.state.assays[c.AssayID]
		if !ok {
			continue
		}
		sample, ok := s.state.samples[assay.SampleID]
		if !ok {
			continue
		}
		if _, ok := s.state.patients[sample.PatientID]; !ok {
			continue
		}
		if cancerTypeID != "" && sample.CancerTypeID != cancerTypeID {
			continue
		}
		ids[sample.ID] = struct{}{}
	}
	return sortedKeys(ids), nil
}

// CountSamples counts samples joined to a patient of the study.
func (s *Store) CountSamples(ctx context.Context, studyID, cancerTypeID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, smp := range s.state.samples {
		p, ok := s.state.patients[smp.PatientID]
		if !ok || p.StudyID != studyID {
			continue
		}
		if cancerTypeID != "" && smp.CancerTypeID != cancerTypeID {
			continue
		}
		n++
	}
	return n, nil
}

// InsertFrequency appends a record; ids must be unique per collection.
func (s *Store) InsertFrequency(ctx context.Context, study domain.Study, rec domain.FrequencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.frequencies[study.FrequencyCollection] {
		if existing.ID == rec.ID {
			return fmt.Errorf("frequency %s already exists in %s", rec.ID, study.FrequencyCollection)
		}
	}
	rec.SampleIDs = append([]string(nil), rec.SampleIDs...)
	s.state.frequencies[study.FrequencyCollection] = append(s.state.frequencies[study.FrequencyCollection], rec)
	return nil
}

// FindFrequencies filters stored records by VGene prefix and minimum count.
func (s *Store) FindFrequencies(ctx context.Context, study domain.Study, q domain.FrequencyQuery) ([]domain.FrequencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := strings.ToLower(q.VGenePrefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FrequencyRecord
	for _, rec := range s.state.frequencies[study.FrequencyCollection] {
		if !strings.HasPrefix(strings.ToLower(rec.VGene), prefix) {
			continue
		}
		if q.MinCount > 0 && rec.Count < q.MinCount {
			continue
		}
		rec.SampleIDs = append([]string(nil), rec.SampleIDs...)
		out = append(out, rec)
	}
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneFrequencies(in []domain.FrequencyRecord) []domain.FrequencyRecord {
	out := make([]domain.FrequencyRecord, len(in))
	for i, rec := range in {
		rec.SampleIDs = append([]string(nil), rec.SampleIDs...)
		out[i] = rec
	}
	return out
}
