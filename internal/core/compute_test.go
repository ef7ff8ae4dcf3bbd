package core

import (
	"context"
	"testing"
	"time"

	"clonefreq/pkg/domain"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestComputeAndEmitBuildsRecords(t *testing.T) {
	ids := []string{"id-1", "id-2", "id-3"}
	next := 0
	svc := NewService(seededStore(t), WithClock(&stepClock{}), WithIDGenerator(func() string {
		id := ids[next]
		next++
		return id
	}))
	sink := &collectSink{}
	w, _ := sink.Open(context.Background(), domain.Study{}, 0)
	batch := Batch{Offset: 7, Keys: []domain.Clonotype{
		{VGene: " TRBV20-1,TRBV20-2 ", AASeqCDR3: " CASSLGQAYEQYF ", NSeqCDR3: " tgtgccagcagttta "},
		{VGene: "", AASeqCDR3: "CASS", NSeqCDR3: "tgt"},
		{VGene: "TRBV5-1", AASeqCDR3: "   ", NSeqCDR3: "tgt"},
	}}
	res := svc.ComputeAndEmit(context.Background(), RunParams{StudyID: domain.StudyTLML, SampleSize: 3}, batch, w)
	if res.Offset != 7 || res.Size != 3 || res.Emitted != 1 || res.Skipped[SkipMalformed] != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Duration != time.Second {
		t.Fatalf("expected duration from clock, got %v", res.Duration)
	}
	recs := sink.snapshot()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %+v", recs)
	}
	want := domain.FrequencyRecord{
		ID:         "id-1",
		VGene:      "TRBV20-1",
		AASeqCDR3:  "CASSLGQAYEQYF",
		NSeqCDR3:   "tgtgccagcagttta",
		Count:      2,
		SampleSize: 3,
		SampleIDs:  []string{"S1", "S2"},
	}
	got := recs[0]
	if got.ID != want.ID || got.VGene != want.VGene || got.AASeqCDR3 != want.AASeqCDR3 || got.NSeqCDR3 != want.NSeqCDR3 ||
		got.Count != want.Count || got.SampleSize != want.SampleSize || len(got.SampleIDs) != 2 {
		t.Fatalf("unexpected record\n got %+v\nwant %+v", got, want)
	}
}

func TestComputeAndEmitUnknownStudySkipsBatch(t *testing.T) {
	svc := NewService(seededStore(t))
	sink := &collectSink{}
	w, _ := sink.Open(context.Background(), domain.Study{}, 0)
	res := svc.ComputeAndEmit(context.Background(), RunParams{StudyID: "TRAGET"}, Batch{Keys: makeKeys(3)}, w)
	if res.Emitted != 0 || res.SkippedTotal() != 3 || len(res.Failures) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestComputeAndEmitStopsOnCancel(t *testing.T) {
	svc := NewService(seededStore(t))
	sink := &collectSink{}
	w, _ := sink.Open(context.Background(), domain.Study{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := svc.ComputeAndEmit(ctx, RunParams{StudyID: domain.StudyTLML}, Batch{Keys: makeKeys(4)}, w)
	if res.Skipped[SkipCancelled] != 4 || res.Emitted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}
