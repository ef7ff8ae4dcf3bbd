package domain

import "testing"

func TestCanonicalVGene(t *testing.T) {
	cases := map[string]string{
		"TRBV20-1,TRBV20-2": "TRBV20-1",
		"TRBV5-1":           "TRBV5-1",
		"":                  "",
		",TRBV7-9":          "",
		"TRBV6-5,":          "TRBV6-5",
	}
	for in, want := range cases {
		if got := CanonicalVGene(in); got != want {
			t.Fatalf("CanonicalVGene(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClonotypeTrimmedKeepsCase(t *testing.T) {
	key := Clonotype{VGene: "  TRBV20-1 ", AASeqCDR3: "\tCASSaGF\n", NSeqCDR3: " tgtgcc "}.Trimmed()
	want := Clonotype{VGene: "TRBV20-1", AASeqCDR3: "CASSaGF", NSeqCDR3: "tgtgcc"}
	if key != want {
		t.Fatalf("unexpected trimmed key %+v", key)
	}
}

func TestClonotypeValidate(t *testing.T) {
	if err := (Clonotype{VGene: "TRBV1", AASeqCDR3: "CASS"}).Validate(); err != nil {
		t.Fatalf("expected valid key: %v", err)
	}
	if err := (Clonotype{AASeqCDR3: "CASS"}).Validate(); err == nil {
		t.Fatalf("expected empty VGene to fail")
	}
	if err := (Clonotype{VGene: "TRBV1"}).Validate(); err == nil {
		t.Fatalf("expected empty aaSeqCDR3 to fail")
	}
}

func TestSortClonotypes(t *testing.T) {
	keys := []Clonotype{
		{VGene: "B", AASeqCDR3: "A", NSeqCDR3: "A"},
		{VGene: "A", AASeqCDR3: "B", NSeqCDR3: "A"},
		{VGene: "A", AASeqCDR3: "A", NSeqCDR3: "B"},
		{VGene: "A", AASeqCDR3: "A", NSeqCDR3: "A"},
	}
	SortClonotypes(keys)
	for i := 1; i < len(keys); i++ {
		if keys[i].Less(keys[i-1]) {
			t.Fatalf("keys not sorted at %d: %+v", i, keys)
		}
	}
	if keys[0].NSeqCDR3 != "A" || keys[0].AASeqCDR3 != "A" || keys[0].VGene != "A" {
		t.Fatalf("unexpected first key %+v", keys[0])
	}
}
