package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"clonefreq/internal/infra/persistence/persistencetest"
	"clonefreq/pkg/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResolveSampleIDsCountsDistinctSamples(t *testing.T) {
	svc := NewService(seededStore(t))
	k := persistencetest.KeyShared
	ids, err := svc.ResolveSampleIDs(context.Background(), domain.StudyTLML, k.VGene, k.AASeqCDR3, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// three chains in S1 (two assays) and one in S2
	if !reflect.DeepEqual(ids, []string{"S1", "S2"}) {
		t.Fatalf("unexpected ids %v", ids)
	}
	ids, err = svc.ResolveSampleIDs(context.Background(), domain.StudyTLML, "TRBV99", "CASSNONE", "")
	if err != nil {
		t.Fatalf("resolve unmatched: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", ids)
	}
}

func TestUnknownStudyIsExplicitError(t *testing.T) {
	svc := NewService(seededStore(t))
	ctx := context.Background()
	if _, err := svc.ResolveSampleIDs(ctx, "FOO", "TRBV1", "CASS", ""); !errors.Is(err, domain.ErrUnknownStudy) {
		t.Fatalf("resolver: expected ErrUnknownStudy, got %v", err)
	}
	if _, err := svc.EnumerateClonotypes(ctx, "FOO"); !errors.Is(err, domain.ErrUnknownStudy) {
		t.Fatalf("enumerator: expected ErrUnknownStudy, got %v", err)
	}
	if _, err := svc.CohortSize(ctx, "FOO", ""); !errors.Is(err, domain.ErrUnknownStudy) {
		t.Fatalf("sizer: expected ErrUnknownStudy, got %v", err)
	}
	if _, err := svc.LookupFrequencies(ctx, "FOO", "", 0); !errors.Is(err, domain.ErrUnknownStudy) {
		t.Fatalf("lookup: expected ErrUnknownStudy, got %v", err)
	}
}

func TestResolverFailureIsNotEmptySet(t *testing.T) {
	k := persistencetest.KeyShared
	repo := &faultyRepo{Repository: seededStore(t), failAA: map[string]int{k.AASeqCDR3: -1}}
	svc := NewService(repo)
	ids, err := svc.ResolveSampleIDs(context.Background(), domain.StudyTLML, k.VGene, k.AASeqCDR3, "")
	var rerr *domain.ResolveError
	if !errors.As(err, &rerr) || ids != nil {
		t.Fatalf("expected ResolveError and nil ids, got %v %v", ids, err)
	}
}

func TestCohortSize(t *testing.T) {
	svc := NewService(seededStore(t))
	cases := []struct {
		study, cancer string
		want          int
	}{
		{domain.StudyTLML, "", 3},
		{domain.StudyTLML, "NBL", 2},
		{domain.StudyTARGET, "", 1},
		{domain.StudyTARGET, "AML", 0},
	}
	for _, tc := range cases {
		got, err := svc.CohortSize(context.Background(), tc.study, tc.cancer)
		if err != nil {
			t.Fatalf("cohort %s/%s: %v", tc.study, tc.cancer, err)
		}
		if got != tc.want {
			t.Fatalf("cohort %s/%s = %d want %d", tc.study, tc.cancer, got, tc.want)
		}
	}
}

func TestEnumerateClonotypesIsSortedAndStable(t *testing.T) {
	svc := NewService(seededStore(t))
	first, err := svc.EnumerateClonotypes(context.Background(), domain.StudyTLML)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	second, _ := svc.EnumerateClonotypes(context.Background(), domain.StudyTLML)
	if len(first) != 5 || !reflect.DeepEqual(first, second) {
		t.Fatalf("unstable enumeration %v vs %v", first, second)
	}
	for i := 1; i < len(first); i++ {
		if !first[i-1].Less(first[i]) {
			t.Fatalf("not sorted at %d: %v", i, first)
		}
	}
}

func TestConfiguredStudyIsUsable(t *testing.T) {
	reg := domain.NewStudyRegistry()
	extra, err := domain.NewStudy("PEDS", "peds_chain", "")
	if err != nil {
		t.Fatalf("new study: %v", err)
	}
	if err := reg.Register(extra); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := seededStore(t)
	data := persistencetest.TARGETDataset()
	data.Patients[0].StudyID = "PEDS"
	if err := store.Load(context.Background(), extra, data); err != nil {
		t.Fatalf("load: %v", err)
	}
	log := &captureLogger{}
	svc := NewService(store, WithRegistry(reg), WithLogger(log))
	sink := &collectSink{}
	summary, err := svc.Run(context.Background(), RunParams{StudyID: "PEDS"}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Emitted != 1 || summary.SampleSize != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !log.has("w:study has not been validated against this pipeline") {
		t.Fatalf("expected untested study warning, got %v", log.calls)
	}
}

func TestLookupFrequencies(t *testing.T) {
	store := seededStore(t)
	svc := NewService(store, WithIDGenerator(func() string { return "" }))
	for i, rec := range []domain.FrequencyRecord{
		{ID: "f1", VGene: "TRBV20-1", AASeqCDR3: "A", Count: 4, SampleSize: 9, SampleIDs: []string{}},
		{ID: "f2", VGene: "trbv20-1", AASeqCDR3: "B", Count: 1, SampleSize: 9, SampleIDs: []string{}},
		{ID: "f3", VGene: "TRBV5-1", AASeqCDR3: "C", Count: 9, SampleSize: 9, SampleIDs: []string{}},
	} {
		if err := store.InsertFrequency(context.Background(), persistencetest.StudyTLML, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	got, err := svc.LookupFrequencies(context.Background(), domain.StudyTLML, "TrBv20", 0)
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %v %v", got, err)
	}
	got, err = svc.LookupFrequencies(context.Background(), domain.StudyTLML, "TRBV20", 2)
	if err != nil || len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("expected f1 only, got %v %v", got, err)
	}
	if _, err := svc.LookupFrequencies(context.Background(), domain.StudyTLML, "", -1); err == nil {
		t.Fatalf("expected negative min count to fail")
	}
}

func TestRetryPolicy(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 3}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errInjected
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got %v after %d", err, calls)
	}

	calls = 0
	err = RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errInjected
	})
	if !errors.Is(err, errInjected) || calls != 1 {
		t.Fatalf("zero policy must try once, got %v after %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls = 0
	err = RetryPolicy{Attempts: 5, Backoff: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errInjected
	})
	if !errors.Is(err, errInjected) || calls != 1 {
		t.Fatalf("cancellation must stop the backoff wait, got %v after %d", err, calls)
	}
}

func TestPrometheusMetricsRecordRun(t *testing.T) {
	metrics := NewPrometheusMetrics()
	repo := &faultyRepo{Repository: seededStore(t), failAA: map[string]int{persistencetest.KeyOrphan.AASeqCDR3: -1}}
	svc := NewService(repo, WithMetrics(metrics))
	if _, err := svc.Run(context.Background(), RunParams{StudyID: domain.StudyTLML, BatchSize: 2}, &collectSink{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := testutil.ToFloat64(metrics.emitted.WithLabelValues(domain.StudyTLML)); got != 4 {
		t.Fatalf("emitted = %v want 4", got)
	}
	if got := testutil.ToFloat64(metrics.skipped.WithLabelValues(domain.StudyTLML, SkipResolve)); got != 1 {
		t.Fatalf("skipped = %v want 1", got)
	}
	if got := testutil.ToFloat64(metrics.cohort.WithLabelValues(domain.StudyTLML)); got != 3 {
		t.Fatalf("cohort = %v want 3", got)
	}
	path := filepath.Join(t.TempDir(), "clonefreq.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(raw), "clonefreq_batch_duration_seconds_count") {
		t.Fatalf("textfile missing histogram:\n%s", raw)
	}
}

func TestNoopLoggerAndMetrics(t *testing.T) {
	var l Logger = noopLogger{}
	l.Debug("d", "k", 1)
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	var m MetricsRecorder = noopMetrics{}
	m.ObserveCohort("TLML", 1)
	m.ObserveBatch("TLML", BatchResult{})
	svc := NewService(seededStore(t), WithLogger(nil), WithMetrics(nil), WithClock(nil), WithRegistry(nil), WithIDGenerator(nil))
	if svc.logger == nil || svc.metrics == nil || svc.clock == nil || svc.registry == nil || svc.newID == nil {
		t.Fatalf("nil options must keep defaults")
	}
	if svc.Repository() == nil || svc.Registry() == nil {
		t.Fatalf("accessors returned nil")
	}
}
