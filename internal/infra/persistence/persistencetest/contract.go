// Package persistencetest holds the fixture dataset and the behavioural contract
// every repository backend is tested against.
package persistencetest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"clonefreq/pkg/domain"
)

// Fixture keys shared by backend tests.
var (
	KeyShared      = domain.Clonotype{VGene: "TRBV20-1,TRBV20-2", AASeqCDR3: "CASSLGQAYEQYF", NSeqCDR3: "tgtgccagcagttta"}
	KeySharedAlt   = domain.Clonotype{VGene: "TRBV20-1,TRBV20-2", AASeqCDR3: "CASSLGQAYEQYF", NSeqCDR3: "tgcgccagcagcctg"}
	KeyOrphan      = domain.Clonotype{VGene: "TRBV5-1", AASeqCDR3: "CASRPGLAGGRPEQYF", NSeqCDR3: "tgcgccagcaggccc"}
	KeyNoAssay     = domain.Clonotype{VGene: "TRBV7-9", AASeqCDR3: "CASSFRDTQYF", NSeqCDR3: "tgtgccagcagcttc"}
	KeyPadded      = domain.Clonotype{VGene: " TRBV6-5 ", AASeqCDR3: "CASGGTGELFF", NSeqCDR3: "tgtgccagtggg"}
	KeyTargetOnly  = domain.Clonotype{VGene: "TRBV9", AASeqCDR3: "CASSVAGGTDTQYF", NSeqCDR3: "tgtgccagcagcgta"}
	StudyTLML, _   = domain.NewStudy(domain.StudyTLML, "", "")
	StudyTARGET, _ = domain.NewStudy(domain.StudyTARGET, "", "")
)

// TLMLDataset returns a small TLML cohort exercising every join edge:
// duplicate chains in one sample, two assays of one sample, an orphan sample,
// a chain whose assay is missing and a whitespace-padded key.
func TLMLDataset() domain.Dataset {
	chain := func(id, assay string, k domain.Clonotype) domain.ChainRecord {
		return domain.ChainRecord{ID: id, AssayID: assay, VGene: k.VGene, AASeqCDR3: k.AASeqCDR3, NSeqCDR3: k.NSeqCDR3}
	}
	return domain.Dataset{
		Patients: []domain.Patient{
			{ID: "P1", StudyID: domain.StudyTLML},
			{ID: "P2", StudyID: domain.StudyTLML},
		},
		Samples: []domain.Sample{
			{ID: "S1", PatientID: "P1", CancerTypeID: "NBL"},
			{ID: "S2", PatientID: "P2", CancerTypeID: "AML"},
			{ID: "S4", PatientID: "P1", CancerTypeID: "NBL"},
			{ID: "S5", PatientID: "PX"},
		},
		Assays: []domain.Assay{
			{ID: "A1", SampleID: "S1"},
			{ID: "A1b", SampleID: "S1"},
			{ID: "A2", SampleID: "S2"},
			{ID: "A5", SampleID: "S5"},
		},
		Chains: []domain.ChainRecord{
			chain("c1", "A1", KeyShared),
			chain("c2", "A1", KeyShared),
			chain("c3", "A1b", KeyShared),
			chain("c4", "A2", KeyShared),
			chain("c5", "A2", KeySharedAlt),
			chain("c6", "A5", KeyOrphan),
			chain("c7", "A-missing", KeyNoAssay),
			chain("c8", "A2", KeyPadded),
		},
	}
}

// TARGETDataset returns a single-sample TARGET cohort.
func TARGETDataset() domain.Dataset {
	return domain.Dataset{
		Patients: []domain.Patient{{ID: "P3", StudyID: domain.StudyTARGET}},
		Samples:  []domain.Sample{{ID: "S3", PatientID: "P3", CancerTypeID: "NBL"}},
		Assays:   []domain.Assay{{ID: "A3", SampleID: "S3"}},
		Chains: []domain.ChainRecord{
			{ID: "t1", AssayID: "A3", VGene: KeyTargetOnly.VGene, AASeqCDR3: KeyTargetOnly.AASeqCDR3, NSeqCDR3: KeyTargetOnly.NSeqCDR3},
		},
	}
}

// Seed loads both fixture datasets into repo.
func Seed(t testing.TB, repo domain.Repository) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Load(ctx, StudyTLML, TLMLDataset()); err != nil {
		t.Fatalf("load TLML: %v", err)
	}
	if err := repo.Load(ctx, StudyTARGET, TARGETDataset()); err != nil {
		t.Fatalf("load TARGET: %v", err)
	}
}

// RunContract exercises a freshly constructed, empty repository.
func RunContract(t *testing.T, newRepo func(t *testing.T) domain.Repository) {
	t.Run("empty study enumerates nothing", func(t *testing.T) {
		repo := newRepo(t)
		keys, err := repo.DistinctClonotypes(context.Background(), StudyTLML)
		if err != nil {
			t.Fatalf("distinct: %v", err)
		}
		if len(keys) != 0 {
			t.Fatalf("expected no clonotypes, got %+v", keys)
		}
	})

	t.Run("distinct clonotypes", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo)
		keys, err := repo.DistinctClonotypes(context.Background(), StudyTLML)
		if err != nil {
			t.Fatalf("distinct: %v", err)
		}
		want := []domain.Clonotype{KeyShared, KeySharedAlt, KeyOrphan, KeyNoAssay, KeyPadded}
		domain.SortClonotypes(want)
		if !reflect.DeepEqual(keys, want) {
			t.Fatalf("unexpected clonotypes\n got %+v\nwant %+v", keys, want)
		}
		target, err := repo.DistinctClonotypes(context.Background(), StudyTARGET)
		if err != nil {
			t.Fatalf("distinct TARGET: %v", err)
		}
		if len(target) != 1 || target[0] != KeyTargetOnly {
			t.Fatalf("unexpected TARGET clonotypes %+v", target)
		}
	})

	t.Run("resolve sample ids", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo)
		cases := []struct {
			name   string
			key    domain.Clonotype
			cancer string
			want   []string
		}{
			{"distinct samples", KeyShared, "", []string{"S1", "S2"}},
			{"nSeq ignored by match", KeySharedAlt, "", []string{"S1", "S2"}},
			{"cancer NBL", KeyShared, "NBL", []string{"S1"}},
			{"cancer AML", KeyShared, "AML", []string{"S2"}},
			{"cancer without samples", KeyShared, "XYZ", nil},
			{"orphan sample dropped", KeyOrphan, "", nil},
			{"missing assay dropped", KeyNoAssay, "", nil},
			{"trimmed key misses padded chain", KeyPadded.Trimmed(), "", nil},
			{"other study not visible", KeyTargetOnly, "", nil},
		}
		for _, tc := range cases {
			got, err := repo.ResolveSampleIDs(context.Background(), StudyTLML, tc.key.VGene, tc.key.AASeqCDR3, tc.cancer)
			if err != nil {
				t.Fatalf("%s: resolve: %v", tc.name, err)
			}
			if len(got) == 0 && len(tc.want) == 0 {
				continue
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
			}
		}
	})

	t.Run("count samples", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo)
		cases := []struct {
			study, cancer string
			want          int
		}{
			{domain.StudyTLML, "", 3},
			{domain.StudyTLML, "NBL", 2},
			{domain.StudyTLML, "AML", 1},
			{domain.StudyTARGET, "", 1},
			{"FOO", "", 0},
		}
		for _, tc := range cases {
			got, err := repo.CountSamples(context.Background(), tc.study, tc.cancer)
			if err != nil {
				t.Fatalf("count %s/%s: %v", tc.study, tc.cancer, err)
			}
			if got != tc.want {
				t.Fatalf("count %s/%s = %d want %d", tc.study, tc.cancer, got, tc.want)
			}
		}
	})

	t.Run("insert and find frequencies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		recs := []domain.FrequencyRecord{
			{ID: "f1", VGene: "TRBV20-1", AASeqCDR3: "CASSL", NSeqCDR3: "tgt", Count: 2, SampleSize: 3, SampleIDs: []string{"S1", "S2"}},
			{ID: "f2", VGene: "TRBV20-1", AASeqCDR3: "CASSA", NSeqCDR3: "tga", Count: 1, SampleSize: 3, SampleIDs: []string{"S1"}},
			{ID: "f3", VGene: "TRBV5-1", AASeqCDR3: "CASRP", NSeqCDR3: "tgc", Count: 0, SampleSize: 3, SampleIDs: []string{}},
		}
		for _, rec := range recs {
			if err := repo.InsertFrequency(ctx, StudyTLML, rec); err != nil {
				t.Fatalf("insert %s: %v", rec.ID, err)
			}
		}
		if err := repo.InsertFrequency(ctx, StudyTLML, recs[0]); err == nil {
			t.Fatalf("expected duplicate id to fail")
		}
		got, err := repo.FindFrequencies(ctx, StudyTLML, domain.FrequencyQuery{VGenePrefix: "trbv20"})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 TRBV20 records, got %+v", got)
		}
		got, err = repo.FindFrequencies(ctx, StudyTLML, domain.FrequencyQuery{VGenePrefix: "TRBV20", MinCount: 2})
		if err != nil {
			t.Fatalf("find min count: %v", err)
		}
		if len(got) != 1 || got[0].ID != "f1" || !reflect.DeepEqual(got[0].SampleIDs, []string{"S1", "S2"}) || got[0].SampleSize != 3 {
			t.Fatalf("unexpected min-count result %+v", got)
		}
		other, err := repo.FindFrequencies(ctx, StudyTARGET, domain.FrequencyQuery{})
		if err != nil {
			t.Fatalf("find TARGET: %v", err)
		}
		if len(other) != 0 {
			t.Fatalf("frequencies leaked across studies: %+v", other)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := repo.ResolveSampleIDs(ctx, StudyTLML, "TRBV1", "CASS", "")
		if err == nil || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
