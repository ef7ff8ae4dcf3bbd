// Package sqlstore implements the repository contract on top of database/sql
// through sqlx. The sqlite and postgres packages only open connections and pick
// the dialect; every query lives here.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"clonefreq/internal/schema/sqlbundle"
	"clonefreq/pkg/domain"

	"github.com/jmoiron/sqlx"
)

// Compile-time contract assertion ensuring the store satisfies the repository interface.
var _ domain.Repository = (*Store)(nil)

// Store is a SQL-backed repository. *sqlx.DB is a connection pool, so the
// store is safe for concurrent use by many batches.
type Store struct {
	db      *sqlx.DB
	dialect sqlbundle.Dialect
	driver  string

	mu      sync.Mutex
	ensured map[string]bool
}

type frequencyRow struct {
	ID         string `db:"id"`
	VGene      string `db:"v_gene"`
	AASeqCDR3  string `db:"aa_seq_cdr3"`
	NSeqCDR3   string `db:"n_seq_cdr3"`
	Count      int    `db:"count"`
	SampleSize int    `db:"sample_size"`
	SampleIDs  string `db:"sample_ids"`
}

// New applies the shared DDL plus the tables of the supplied studies.
func New(ctx context.Context, db *sqlx.DB, dialect sqlbundle.Dialect, driver string, studies []domain.Study) (*Store, error) {
	ddl, err := sqlbundle.Base(dialect)
	if err != nil {
		return nil, err
	}
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	s := &Store{db: db, dialect: dialect, driver: driver, ensured: make(map[string]bool)}
	for _, study := range studies {
		if err := s.ensureStudy(ctx, study); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DB exposes the underlying pool for integration testing hooks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Driver reports the backend name.
func (s *Store) Driver() string { return s.driver }

// Close releases the pool.
func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) ensureStudy(ctx context.Context, study domain.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[study.ID] {
		return nil
	}
	for _, stmt := range sqlbundle.StudyTables(study) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables for %s: %w", study.ID, err)
		}
	}
	s.ensured[study.ID] = true
	return nil
}

// DistinctClonotypes groups the study's chain table by clonotype key.
func (s *Store) DistinctClonotypes(ctx context.Context, study domain.Study) ([]domain.Clonotype, error) {
	if err := s.ensureStudy(ctx, study); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT DISTINCT v_gene, aa_seq_cdr3, n_seq_cdr3 FROM %s`, sqlbundle.QuoteIdent(study.ChainCollection))
	var keys []domain.Clonotype
	if err := s.db.SelectContext(ctx, &keys, q); err != nil {
		return nil, fmt.Errorf("distinct clonotypes in %s: %w", study.ChainCollection, err)
	}
	if keys == nil {
		keys = []domain.Clonotype{}
	}
	domain.SortClonotypes(keys)
	return keys, nil
}

// ResolveSampleIDs walks chain → assay → sample → patient with inner joins.
func (s *Store) ResolveSampleIDs(ctx context.Context, study domain.Study, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error) {
	if err := s.ensureStudy(ctx, study); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT DISTINCT s.id FROM %s c
JOIN assay a ON a.id = c.assay_id
JOIN sample s ON s.id = a.sample_id
JOIN patient p ON p.id = s.patient_id
WHERE c.v_gene = ? AND c.aa_seq_cdr3 = ?`, sqlbundle.QuoteIdent(study.ChainCollection))
	args := []any{vgene, aaSeqCDR3}
	if cancerTypeID != "" {
		b.WriteString(` AND s.cancer_type_id = ?`)
		args = append(args, cancerTypeID)
	}
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("resolve samples in %s: %w", study.ChainCollection, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// CountSamples counts samples whose patient belongs to studyID.
func (s *Store) CountSamples(ctx context.Context, studyID, cancerTypeID string) (int, error) {
	q := `SELECT COUNT(*) FROM sample s JOIN patient p ON p.id = s.patient_id WHERE p.study_id = ?`
	args := []any{studyID}
	if cancerTypeID != "" {
		q += ` AND s.cancer_type_id = ?`
		args = append(args, cancerTypeID)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count samples for %s: %w", studyID, err)
	}
	return n, nil
}

// InsertFrequency writes one record; a duplicate id violates the primary key.
func (s *Store) InsertFrequency(ctx context.Context, study domain.Study, rec domain.FrequencyRecord) error {
	if err := s.ensureStudy(ctx, study); err != nil {
		return err
	}
	ids := rec.SampleIDs
	if ids == nil {
		ids = []string{}
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode sample ids: %w", err)
	}
	row := frequencyRow{
		ID:         rec.ID,
		VGene:      rec.VGene,
		AASeqCDR3:  rec.AASeqCDR3,
		NSeqCDR3:   rec.NSeqCDR3,
		Count:      rec.Count,
		SampleSize: rec.SampleSize,
		SampleIDs:  string(payload),
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, v_gene, aa_seq_cdr3, n_seq_cdr3, count, sample_size, sample_ids)
VALUES (:id, :v_gene, :aa_seq_cdr3, :n_seq_cdr3, :count, :sample_size, :sample_ids)`, sqlbundle.QuoteIdent(study.FrequencyCollection))
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert frequency %s: %w", rec.ID, err)
	}
	return nil
}

// FindFrequencies filters by case-insensitive VGene prefix and minimum count.
func (s *Store) FindFrequencies(ctx context.Context, study domain.Study, fq domain.FrequencyQuery) ([]domain.FrequencyRecord, error) {
	if err := s.ensureStudy(ctx, study); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, v_gene, aa_seq_cdr3, n_seq_cdr3, count, sample_size, sample_ids FROM %s
WHERE LOWER(v_gene) LIKE ? ESCAPE '\'`, sqlbundle.QuoteIdent(study.FrequencyCollection))
	args := []any{likePrefix(strings.ToLower(fq.VGenePrefix))}
	if fq.MinCount > 0 {
		q += ` AND count >= ?`
		args = append(args, fq.MinCount)
	}
	q += ` ORDER BY v_gene, id`
	var rows []frequencyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("find frequencies in %s: %w", study.FrequencyCollection, err)
	}
	out := make([]domain.FrequencyRecord, 0, len(rows))
	for _, r := range rows {
		var ids []string
		if err := json.Unmarshal([]byte(r.SampleIDs), &ids); err != nil {
			return nil, fmt.Errorf("decode sample ids of %s: %w", r.ID, err)
		}
		out = append(out, domain.FrequencyRecord{
			ID:         r.ID,
			VGene:      r.VGene,
			AASeqCDR3:  r.AASeqCDR3,
			NSeqCDR3:   r.NSeqCDR3,
			Count:      r.Count,
			SampleSize: r.SampleSize,
			SampleIDs:  ids,
		})
	}
	return out, nil
}

// Load upserts the dataset in a single transaction.
func (s *Store) Load(ctx context.Context, study domain.Study, data domain.Dataset) (retErr error) {
	if err := s.ensureStudy(ctx, study); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range data.Patients {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO patient (id, study_id) VALUES (:id, :study_id)
ON CONFLICT (id) DO UPDATE SET study_id = excluded.study_id`, p); err != nil {
			return fmt.Errorf("upsert patient %s: %w", p.ID, err)
		}
	}
	for _, smp := range data.Samples {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO sample (id, patient_id, cancer_type_id) VALUES (:id, :patient_id, :cancer_type_id)
ON CONFLICT (id) DO UPDATE SET patient_id = excluded.patient_id, cancer_type_id = excluded.cancer_type_id`, smp); err != nil {
			return fmt.Errorf("upsert sample %s: %w", smp.ID, err)
		}
	}
	for _, a := range data.Assays {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO assay (id, sample_id) VALUES (:id, :sample_id)
ON CONFLICT (id) DO UPDATE SET sample_id = excluded.sample_id`, a); err != nil {
			return fmt.Errorf("upsert assay %s: %w", a.ID, err)
		}
	}
	chainInsert := fmt.Sprintf(`INSERT INTO %s (id, assay_id, v_gene, aa_seq_cdr3, n_seq_cdr3)
VALUES (:id, :assay_id, :v_gene, :aa_seq_cdr3, :n_seq_cdr3)
ON CONFLICT (id) DO UPDATE SET assay_id = excluded.assay_id, v_gene = excluded.v_gene,
    aa_seq_cdr3 = excluded.aa_seq_cdr3, n_seq_cdr3 = excluded.n_seq_cdr3`, sqlbundle.QuoteIdent(study.ChainCollection))
	for _, c := range data.Chains {
		if c.ID == "" {
			return fmt.Errorf("chain on assay %s has no id", c.AssayID)
		}
		if _, err := tx.NamedExecContext(ctx, chainInsert, c); err != nil {
			return fmt.Errorf("upsert chain %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
