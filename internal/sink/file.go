package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"clonefreq/internal/blob"
	"clonefreq/internal/core"
	"clonefreq/pkg/domain"
)

// Format selects the encoding of a batch object.
type Format string

const (
	// FormatStatements writes one `db.<collection>.insert({...});` line per
	// record, replayable with a mongo shell.
	FormatStatements Format = "statements"
	// FormatTSV writes a header row followed by one tab-separated row per record.
	FormatTSV Format = "tsv"
)

// DefaultBase is the object name prefix when none is configured.
const DefaultBase = "default.out"

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatStatements:
		return FormatStatements, nil
	case FormatTSV:
		return FormatTSV, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

func (f Format) contentType() string {
	if f == FormatTSV {
		return "text/tab-separated-values"
	}
	return "text/plain"
}

// FileOptions configures a FileSink.
type FileOptions struct {
	// Base names objects `<Base>_<offset>`.
	Base   string
	Format Format
	// Overwrite replaces objects left by an earlier run.
	Overwrite bool
}

// FileSink buffers each batch and stores it as a single blob object on Close.
type FileSink struct {
	store blob.Store
	opts  FileOptions
}

var _ core.Sink = (*FileSink)(nil)

// NewFileSink returns a sink writing to store.
func NewFileSink(store blob.Store, opts FileOptions) (*FileSink, error) {
	if store == nil {
		return nil, fmt.Errorf("file sink: nil blob store")
	}
	if opts.Base == "" {
		opts.Base = DefaultBase
	}
	f, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = f
	return &FileSink{store: store, opts: opts}, nil
}

// Key returns the object key of the batch starting at offset.
func (s *FileSink) Key(offset int) string {
	return s.opts.Base + "_" + strconv.Itoa(offset)
}

// Open starts buffering a batch.
func (s *FileSink) Open(ctx context.Context, study domain.Study, offset int) (core.BatchWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fileWriter{sink: s, study: study, key: s.Key(offset)}, nil
}

type fileWriter struct {
	sink    *FileSink
	study   domain.Study
	key     string
	records []domain.FrequencyRecord
}

func (w *fileWriter) Write(_ context.Context, rec domain.FrequencyRecord) error {
	w.records = append(w.records, rec)
	return nil
}

// Close renders the buffered records and stores the object. An empty batch
// still produces an object so every batch leaves a trace.
func (w *fileWriter) Close(ctx context.Context) error {
	var body []byte
	var err error
	switch w.sink.opts.Format {
	case FormatTSV:
		body, err = renderTSV(w.records)
	default:
		body, err = renderStatements(w.study.FrequencyCollection, w.records)
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", w.key, err)
	}
	_, err = w.sink.store.Put(ctx, w.key, bytes.NewReader(body), blob.PutOptions{
		ContentType: w.sink.opts.Format.contentType(),
		Metadata:    map[string]string{"study_id": w.study.ID, "records": strconv.Itoa(len(w.records))},
		Overwrite:   w.sink.opts.Overwrite,
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", w.key, err)
	}
	return nil
}

func renderStatements(collection string, records []domain.FrequencyRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		if rec.SampleIDs == nil {
			rec.SampleIDs = []string{}
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "db.%s.insert(%s);\n", collection, doc)
	}
	return buf.Bytes(), nil
}

// tsvRow is the flat column layout of a frequency record.
type tsvRow struct {
	ID         string `csv:"_id"`
	VGene      string `csv:"VGene"`
	AASeqCDR3  string `csv:"aaSeqCDR3"`
	NSeqCDR3   string `csv:"nSeqCDR3"`
	Count      int    `csv:"count"`
	SampleSize int    `csv:"sample_size"`
	SampleIDs  string `csv:"sample_ids"`
}

func renderTSV(records []domain.FrequencyRecord) ([]byte, error) {
	rows := make([]tsvRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, tsvRow{
			ID:         rec.ID,
			VGene:      rec.VGene,
			AASeqCDR3:  rec.AASeqCDR3,
			NSeqCDR3:   rec.NSeqCDR3,
			Count:      rec.Count,
			SampleSize: rec.SampleSize,
			SampleIDs:  strings.Join(rec.SampleIDs, ","),
		})
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ParseTSV decodes an object written in FormatTSV.
func ParseTSV(body []byte) ([]domain.FrequencyRecord, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = '\t'
	var rows []tsvRow
	if err := gocsv.UnmarshalCSV(r, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.FrequencyRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.FrequencyRecord{
			ID:         row.ID,
			VGene:      row.VGene,
			AASeqCDR3:  row.AASeqCDR3,
			NSeqCDR3:   row.NSeqCDR3,
			Count:      row.Count,
			SampleSize: row.SampleSize,
			SampleIDs:  []string{},
		}
		if row.SampleIDs != "" {
			rec.SampleIDs = strings.Split(row.SampleIDs, ",")
		}
		out = append(out, rec)
	}
	return out, nil
}
