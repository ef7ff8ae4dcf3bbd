// Package importer loads a flattened clone table into a repository so a run can
// be reproduced without a pre-populated document store.
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"clonefreq/internal/core"
	"clonefreq/pkg/domain"
)

// Row is one line of the clone table. Every chain row repeats its assay,
// sample and patient.
type Row struct {
	PatientID    string `csv:"patient_id"`
	StudyID      string `csv:"study_id"`
	SampleID     string `csv:"sample_id"`
	CancerTypeID string `csv:"cancer_type_id"`
	AssayID      string `csv:"assay_id"`
	ChainID      string `csv:"chain_id"`
	VGene        string `csv:"VGene"`
	AASeqCDR3    string `csv:"aaSeqCDR3"`
	NSeqCDR3     string `csv:"nSeqCDR3"`
}

// Rejection explains why a row was not loaded. Line counts the header as 1.
type Rejection struct {
	Line   int
	Reason string
}

// Report summarises an import.
type Report struct {
	Rows     int
	Patients int
	Samples  int
	Assays   int
	Chains   int
	Rejected []Rejection
}

// chainNamespace seeds ids for rows without a chain_id, so re-importing the
// same table replaces rather than duplicates chains.
var chainNamespace = uuid.MustParse("6f1c1f0e-5b8e-4d43-9a0c-8f1b6f4a2d11")

// ReadRows decodes a tab-separated clone table.
func ReadRows(r io.Reader) ([]Row, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = '\t'
	cr.LazyQuotes = true
	var rows []Row
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, fmt.Errorf("decode clone table: %w", err)
	}
	return rows, nil
}

// Build converts rows into a dataset for study. Rows of other studies, rows
// missing a join key and rows contradicting an earlier row are rejected.
func Build(study domain.Study, rows []Row) (domain.Dataset, Report) {
	var data domain.Dataset
	rep := Report{Rows: len(rows)}
	patients := make(map[string]domain.Patient)
	samples := make(map[string]domain.Sample)
	assays := make(map[string]domain.Assay)
	chains := make(map[string]struct{})

	for i, row := range rows {
		line := i + 2
		reject := func(format string, args ...any) {
			rep.Rejected = append(rep.Rejected, Rejection{Line: line, Reason: fmt.Sprintf(format, args...)})
		}
		row = trimRow(row)
		if row.StudyID != study.ID {
			reject("study %q does not match %q", row.StudyID, study.ID)
			continue
		}
		if row.PatientID == "" || row.SampleID == "" || row.AssayID == "" {
			reject("patient_id, sample_id and assay_id are required")
			continue
		}
		if err := (domain.Clonotype{VGene: row.VGene, AASeqCDR3: row.AASeqCDR3, NSeqCDR3: row.NSeqCDR3}).Trimmed().Validate(); err != nil {
			reject("%v", err)
			continue
		}
		if s, ok := samples[row.SampleID]; ok && (s.PatientID != row.PatientID || s.CancerTypeID != row.CancerTypeID) {
			reject("sample %s already assigned to patient %s", row.SampleID, s.PatientID)
			continue
		}
		if a, ok := assays[row.AssayID]; ok && a.SampleID != row.SampleID {
			reject("assay %s already assigned to sample %s", row.AssayID, a.SampleID)
			continue
		}
		chainID := row.ChainID
		if chainID == "" {
			chainID = uuid.NewSHA1(chainNamespace, []byte(fmt.Sprintf("%s\x00%s\x00%d", study.ID, row.AssayID, line))).String()
		}
		if _, dup := chains[chainID]; dup {
			reject("duplicate chain_id %s", chainID)
			continue
		}
		chains[chainID] = struct{}{}

		if _, ok := patients[row.PatientID]; !ok {
			p := domain.Patient{ID: row.PatientID, StudyID: row.StudyID}
			patients[p.ID] = p
			data.Patients = append(data.Patients, p)
		}
		if _, ok := samples[row.SampleID]; !ok {
			s := domain.Sample{ID: row.SampleID, PatientID: row.PatientID, CancerTypeID: row.CancerTypeID}
			samples[s.ID] = s
			data.Samples = append(data.Samples, s)
		}
		if _, ok := assays[row.AssayID]; !ok {
			a := domain.Assay{ID: row.AssayID, SampleID: row.SampleID}
			assays[a.ID] = a
			data.Assays = append(data.Assays, a)
		}
		data.Chains = append(data.Chains, domain.ChainRecord{
			ID:        chainID,
			AssayID:   row.AssayID,
			VGene:     row.VGene,
			AASeqCDR3: row.AASeqCDR3,
			NSeqCDR3:  row.NSeqCDR3,
		})
	}
	rep.Patients = len(data.Patients)
	rep.Samples = len(data.Samples)
	rep.Assays = len(data.Assays)
	rep.Chains = len(data.Chains)
	return data, rep
}

// trimRow strips whitespace from the join keys. Sequence columns are stored
// as given.
func trimRow(r Row) Row {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.StudyID = strings.TrimSpace(r.StudyID)
	r.SampleID = strings.TrimSpace(r.SampleID)
	r.CancerTypeID = strings.TrimSpace(r.CancerTypeID)
	r.AssayID = strings.TrimSpace(r.AssayID)
	r.ChainID = strings.TrimSpace(r.ChainID)
	return r
}

// Importer loads clone tables through a repository Loader.
type Importer struct {
	loader   domain.Loader
	registry *domain.StudyRegistry
	logger   core.Logger
}

// New returns an importer. A nil registry holds the built-in studies only.
func New(loader domain.Loader, registry *domain.StudyRegistry, logger core.Logger) *Importer {
	if registry == nil {
		registry = domain.NewStudyRegistry()
	}
	return &Importer{loader: loader, registry: registry, logger: logger}
}

// Import reads r and loads the accepted rows into studyID's collections.
func (im *Importer) Import(ctx context.Context, studyID string, r io.Reader) (Report, error) {
	study, err := im.registry.Lookup(studyID)
	if err != nil {
		return Report{}, err
	}
	rows, err := ReadRows(r)
	if err != nil {
		return Report{}, err
	}
	data, rep := Build(study, rows)
	for _, rej := range rep.Rejected {
		im.log().Warn("row rejected", "study_id", study.ID, "line", rej.Line, "reason", rej.Reason)
	}
	if data.Empty() {
		im.log().Warn("nothing to import", "study_id", study.ID, "rows", rep.Rows)
		return rep, nil
	}
	if err := im.loader.Load(ctx, study, data); err != nil {
		return rep, fmt.Errorf("load %s: %w", study.ID, err)
	}
	im.log().Info("import complete", "study_id", study.ID, "rows", rep.Rows, "chains", rep.Chains,
		"samples", rep.Samples, "rejected", len(rep.Rejected))
	return rep, nil
}

func (im *Importer) log() core.Logger {
	if im.logger == nil {
		return core.NopLogger()
	}
	return im.logger
}
