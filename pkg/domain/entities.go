// Package domain defines the repertoire entities, the clonotype key, the study
// registry and the persistence contracts shared by clonefreq backends.
package domain

// EntityType identifies a collection in the relation chain.
type EntityType string

// Collections of the fixed chain → assay → sample → patient topology.
const (
	EntityChain     EntityType = "chain"
	EntityAssay     EntityType = "assay"
	EntitySample    EntityType = "sample"
	EntityPatient   EntityType = "patient"
	EntityFrequency EntityType = "frequency"
)

// ChainRecord is one sequenced receptor chain observed in an assay. VGene may
// hold a comma-joined list of candidate segments.
type ChainRecord struct {
	ID        string `json:"_id" bson:"_id" db:"id"`
	AssayID   string `json:"assay_id" bson:"assay_id" db:"assay_id"`
	VGene     string `json:"VGene" bson:"VGene" db:"v_gene"`
	AASeqCDR3 string `json:"aaSeqCDR3" bson:"aaSeqCDR3" db:"aa_seq_cdr3"`
	NSeqCDR3  string `json:"nSeqCDR3" bson:"nSeqCDR3" db:"n_seq_cdr3"`
}

// Clonotype returns the grouping key of the chain.
func (c ChainRecord) Clonotype() Clonotype {
	return Clonotype{VGene: c.VGene, AASeqCDR3: c.AASeqCDR3, NSeqCDR3: c.NSeqCDR3}
}

// Assay links chain records to the sample they were sequenced from.
type Assay struct {
	ID       string `json:"_id" bson:"_id" db:"id"`
	SampleID string `json:"sample_id" bson:"sample_id" db:"sample_id"`
}

// Sample belongs to a patient and is optionally tagged with a cancer type.
type Sample struct {
	ID           string `json:"_id" bson:"_id" db:"id"`
	PatientID    string `json:"patient_id" bson:"patient_id" db:"patient_id"`
	CancerTypeID string `json:"cancer_type_id,omitempty" bson:"cancer_type_id,omitempty" db:"cancer_type_id"`
}

// Patient is enrolled in exactly one study.
type Patient struct {
	ID      string `json:"_id" bson:"_id" db:"id"`
	StudyID string `json:"study_id" bson:"study_id" db:"study_id"`
}

// FrequencyRecord is the derived observation for one clonotype in one run.
// Records are written once and never updated.
type FrequencyRecord struct {
	ID         string   `json:"_id" bson:"_id"`
	VGene      string   `json:"VGene" bson:"VGene"`
	AASeqCDR3  string   `json:"aaSeqCDR3" bson:"aaSeqCDR3"`
	NSeqCDR3   string   `json:"nSeqCDR3" bson:"nSeqCDR3"`
	Count      int      `json:"count" bson:"count"`
	SampleSize int      `json:"sample_size" bson:"sample_size"`
	SampleIDs  []string `json:"sample_ids" bson:"sample_ids"`
}

// Clonotype returns the key the record was computed for.
func (r FrequencyRecord) Clonotype() Clonotype {
	return Clonotype{VGene: r.VGene, AASeqCDR3: r.AASeqCDR3, NSeqCDR3: r.NSeqCDR3}
}

// Dataset is a unit of relational data handed to a Loader.
type Dataset struct {
	Patients []Patient
	Samples  []Sample
	Assays   []Assay
	Chains   []ChainRecord
}

// Empty reports whether the dataset carries no rows.
func (d Dataset) Empty() bool {
	return len(d.Patients) == 0 && len(d.Samples) == 0 && len(d.Assays) == 0 && len(d.Chains) == 0
}
