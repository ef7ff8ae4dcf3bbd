package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"clonefreq/internal/blob"
	"clonefreq/pkg/domain"
)

type recordingStore struct {
	domain.FrequencyStore
	inserted map[string][]domain.FrequencyRecord
	fail     error
}

func (r *recordingStore) InsertFrequency(_ context.Context, study domain.Study, rec domain.FrequencyRecord) error {
	if r.fail != nil {
		return r.fail
	}
	if r.inserted == nil {
		r.inserted = make(map[string][]domain.FrequencyRecord)
	}
	r.inserted[study.FrequencyCollection] = append(r.inserted[study.FrequencyCollection], rec)
	return nil
}

func testStudy(t *testing.T, id string) domain.Study {
	t.Helper()
	s, err := domain.NewStudy(id, "", "")
	if err != nil {
		t.Fatalf("study: %v", err)
	}
	return s
}

func sampleRecords() []domain.FrequencyRecord {
	return []domain.FrequencyRecord{
		{ID: "r1", VGene: "TRBV20-1", AASeqCDR3: "CASSLG", NSeqCDR3: "TGT", Count: 2, SampleSize: 3, SampleIDs: []string{"S1", "S2"}},
		{ID: "r2", VGene: "TRBV5-1", AASeqCDR3: "CASRR", NSeqCDR3: "TGC", Count: 0, SampleSize: 3},
	}
}

func readObject(t *testing.T, store blob.Store, key string) string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(body)
}

func TestStoreSinkWritesToStudyCollection(t *testing.T) {
	ctx := context.Background()
	repo := &recordingStore{}
	s := NewStoreSink(repo)
	for _, id := range []string{domain.StudyTLML, domain.StudyTARGET} {
		w, err := s.Open(ctx, testStudy(t, id), 0)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := w.Write(ctx, sampleRecords()[0]); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if len(repo.inserted["TLML_frequency"]) != 1 || len(repo.inserted["TARGET_frequency"]) != 1 {
		t.Fatalf("records not routed per study: %+v", repo.inserted)
	}
	repo.fail = errors.New("insert failed")
	w, _ := s.Open(ctx, testStudy(t, domain.StudyTLML), 0)
	if err := w.Write(ctx, sampleRecords()[0]); err == nil {
		t.Fatalf("expected write error to surface")
	}
	if _, err := NewStoreSink(nil).Open(ctx, testStudy(t, domain.StudyTLML), 0); err == nil {
		t.Fatalf("expected nil repository error")
	}
}

func TestFileSinkStatements(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	s, err := NewFileSink(store, FileOptions{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, err := s.Open(ctx, testStudy(t, domain.StudyTARGET), 256)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, rec := range sampleRecords() {
		if err := w.Write(ctx, rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, _, err := store.Get(ctx, "default.out_256"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("object must not exist before close, got %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	body := readObject(t, store, "default.out_256")
	lines := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 statements, got %q", body)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "db.TARGET_frequency.insert(") || !strings.HasSuffix(line, ");") {
			t.Fatalf("unexpected statement %q", line)
		}
	}
	doc := strings.TrimSuffix(strings.TrimPrefix(lines[1], "db.TARGET_frequency.insert("), ");")
	var got map[string]any
	if err := json.Unmarshal([]byte(doc), &got); err != nil {
		t.Fatalf("statement body is not json: %v", err)
	}
	if got["count"] != float64(0) || got["sample_size"] != float64(3) {
		t.Fatalf("counts must be numeric: %v", got)
	}
	if ids, ok := got["sample_ids"].([]any); !ok || len(ids) != 0 {
		t.Fatalf("empty sample ids must encode as [], got %v", got["sample_ids"])
	}
}

func TestFileSinkTSVRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	s, err := NewFileSink(store, FileOptions{Base: "freq.tsv", Format: "TSV"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, _ := s.Open(ctx, testStudy(t, domain.StudyTLML), 0)
	for _, rec := range sampleRecords() {
		_ = w.Write(ctx, rec)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	body := readObject(t, store, "freq.tsv_0")
	if !strings.HasPrefix(body, "_id\tVGene\taaSeqCDR3\tnSeqCDR3\tcount\tsample_size\tsample_ids\n") {
		t.Fatalf("unexpected header in %q", body)
	}
	recs, err := ParseTSV([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 2 || recs[0].Count != 2 || strings.Join(recs[0].SampleIDs, ",") != "S1,S2" || len(recs[1].SampleIDs) != 0 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestFileSinkEmptyBatchAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	s, _ := NewFileSink(store, FileOptions{})
	study := testStudy(t, domain.StudyTLML)
	w, _ := s.Open(ctx, study, 0)
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close empty: %v", err)
	}
	if body := readObject(t, store, "default.out_0"); body != "" {
		t.Fatalf("expected empty object, got %q", body)
	}
	w, _ = s.Open(ctx, study, 0)
	if err := w.Close(ctx); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists without overwrite, got %v", err)
	}
	s, _ = NewFileSink(store, FileOptions{Overwrite: true})
	w, _ = s.Open(ctx, study, 0)
	_ = w.Write(ctx, sampleRecords()[0])
	if err := w.Close(ctx); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if body := readObject(t, store, "default.out_0"); !strings.Contains(body, `"_id":"r1"`) {
		t.Fatalf("object not replaced: %q", body)
	}
}

func TestFileSinkOnS3(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMockS3ForTests("runs")
	s, _ := NewFileSink(store, FileOptions{Format: FormatTSV})
	w, _ := s.Open(ctx, testStudy(t, domain.StudyTLML), 512)
	_ = w.Write(ctx, sampleRecords()[0])
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if body := readObject(t, store, "default.out_512"); !bytes.Contains([]byte(body), []byte("TRBV20-1\tCASSLG")) {
		t.Fatalf("unexpected s3 object %q", body)
	}
}

func TestParseOptions(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindStore {
		t.Fatalf("default kind: %v %v", k, err)
	}
	if _, err := ParseKind("kafka"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if f, err := ParseFormat(""); err != nil || f != FormatStatements {
		t.Fatalf("default format: %v %v", f, err)
	}
	if _, err := NewFileSink(blob.NewMemory(), FileOptions{Format: "parquet"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
	if _, err := NewFileSink(nil, FileOptions{}); err == nil {
		t.Fatalf("expected nil store error")
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := NewFileSink(blob.NewMemory(), FileOptions{})
	if _, err := s.Open(cancelled, domain.Study{ID: "TLML"}, 0); err == nil {
		t.Fatalf("expected cancelled open to fail")
	}
}
