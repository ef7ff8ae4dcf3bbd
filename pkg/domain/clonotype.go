package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Clonotype is the (VGene, aaSeqCDR3, nSeqCDR3) grouping key. Identity is
// case-sensitive; callers trim before comparing.
type Clonotype struct {
	VGene     string `json:"VGene" bson:"VGene" db:"v_gene"`
	AASeqCDR3 string `json:"aaSeqCDR3" bson:"aaSeqCDR3" db:"aa_seq_cdr3"`
	NSeqCDR3  string `json:"nSeqCDR3" bson:"nSeqCDR3" db:"n_seq_cdr3"`
}

// Trimmed strips surrounding whitespace from every field.
func (c Clonotype) Trimmed() Clonotype {
	return Clonotype{
		VGene:     strings.TrimSpace(c.VGene),
		AASeqCDR3: strings.TrimSpace(c.AASeqCDR3),
		NSeqCDR3:  strings.TrimSpace(c.NSeqCDR3),
	}
}

// CanonicalVGene returns the first comma-delimited segment of VGene.
func (c Clonotype) CanonicalVGene() string {
	return CanonicalVGene(c.VGene)
}

// Validate reports keys that cannot be matched against chain records.
func (c Clonotype) Validate() error {
	if c.VGene == "" {
		return fmt.Errorf("empty VGene")
	}
	if c.AASeqCDR3 == "" {
		return fmt.Errorf("empty aaSeqCDR3")
	}
	return nil
}

func (c Clonotype) String() string {
	return c.VGene + "|" + c.AASeqCDR3 + "|" + c.NSeqCDR3
}

// CanonicalVGene returns the substring of vgene before the first comma.
func CanonicalVGene(vgene string) string {
	if i := strings.IndexByte(vgene, ','); i >= 0 {
		return vgene[:i]
	}
	return vgene
}

// Less orders clonotypes by VGene, then aaSeqCDR3, then nSeqCDR3.
func (c Clonotype) Less(o Clonotype) bool {
	if c.VGene != o.VGene {
		return c.VGene < o.VGene
	}
	if c.AASeqCDR3 != o.AASeqCDR3 {
		return c.AASeqCDR3 < o.AASeqCDR3
	}
	return c.NSeqCDR3 < o.NSeqCDR3
}

// SortClonotypes sorts keys in place so enumeration order is stable.
func SortClonotypes(keys []Clonotype) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
