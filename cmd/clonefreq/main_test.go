package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clonefreq/internal/sink"
)

const cloneTable = "patient_id\tstudy_id\tsample_id\tcancer_type_id\tassay_id\tchain_id\tVGene\taaSeqCDR3\tnSeqCDR3\n" +
	"P1\tTLML\tS1\tNBL\tA1\tc1\tTRBV20-1,TRBV20-2\tCASSLG\ttgt\n" +
	"P1\tTLML\tS1\tNBL\tA1\tc2\tTRBV20-1,TRBV20-2\tCASSLG\ttgt\n" +
	"P2\tTLML\tS2\tAML\tA2\tc3\tTRBV20-1,TRBV20-2\tCASSLG\ttgt\n" +
	"P2\tTLML\tS2\tAML\tA2\tc4\tTRBV5-1\tCASRR\ttgc\n"

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestImportRunLookupOnSQLite(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	table := filepath.Join(dir, "clones.tsv")
	if err := os.WriteFile(table, []byte(cloneTable), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	prom := filepath.Join(dir, "clonefreq.prom")
	cfgPath := filepath.Join(dir, "clonefreq.yaml")
	cfgBody := "storage:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "immds.db") + "\nlog:\n  console: false\nmetrics:\n  textfile: " + prom + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	common := []string{"--config", cfgPath, "-s", "TLML", "-o", out}

	code, stdout, stderr := invoke(t, append([]string{"import", table}, common...)...)
	if code != 0 || !strings.Contains(stdout, "chains=4") {
		t.Fatalf("import exit %d: %s %s", code, stdout, stderr)
	}

	code, stdout, stderr = invoke(t, append([]string{"run", "--sink", "file", "--format", "tsv", "-f", "freq"}, common...)...)
	if code != 0 {
		t.Fatalf("run exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "sample_size=2") || !strings.Contains(stdout, "emitted=2") || !strings.Contains(stdout, "skipped=0") {
		t.Fatalf("unexpected summary %q", stdout)
	}
	body, err := os.ReadFile(filepath.Join(out, "freq_0"))
	if err != nil {
		t.Fatalf("read batch file: %v", err)
	}
	recs, err := sink.ParseTSV(body)
	if err != nil {
		t.Fatalf("parse batch file: %v", err)
	}
	if len(recs) != 2 || recs[0].VGene != "TRBV20-1" || recs[0].Count != 2 || recs[1].Count != 1 || recs[1].SampleSize != 2 {
		t.Fatalf("unexpected records %+v", recs)
	}
	if _, err := os.Stat(filepath.Join(out, "immds_freq.log")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	metrics, err := os.ReadFile(prom)
	if err != nil || !strings.Contains(string(metrics), `clonefreq_records_emitted_total{study="TLML"} 2`) {
		t.Fatalf("unexpected metrics textfile %q %v", metrics, err)
	}

	code, _, stderr = invoke(t, append([]string{"run"}, common...)...)
	if code != 0 {
		t.Fatalf("store run exit %d: %s", code, stderr)
	}
	code, stdout, stderr = invoke(t, append([]string{"lookup", "--vgene", "trbv20", "--min-count", "2"}, common...)...)
	if code != 0 {
		t.Fatalf("lookup exit %d: %s", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"VGene":"TRBV20-1"`) || !strings.Contains(lines[0], `"count":2`) {
		t.Fatalf("unexpected lookup output %q", stdout)
	}
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		args []string
		want int
	}{
		{"missing study", []string{"run", "--storage", "memory", "-o", dir}, 2},
		{"unknown flag", []string{"run", "--nope"}, 2},
		{"unknown command", []string{"bogus"}, 2},
		{"import without table", []string{"import", "-s", "TLML", "--storage", "memory", "-o", dir}, 2},
		{"bad storage driver", []string{"run", "-s", "TLML", "--storage", "cassandra", "-o", dir}, 2},
		{"unknown study", []string{"run", "-s", "TRAGET", "--storage", "memory", "-o", dir, "--log-level", "error"}, 1},
		{"missing table file", []string{"import", filepath.Join(dir, "none.tsv"), "-s", "TLML", "--storage", "memory", "-o", dir}, 1},
		{"empty memory study", []string{"run", "-s", "TARGET", "--storage", "memory", "-o", dir, "--log-level", "error"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, stdout, stderr := invoke(t, tc.args...)
			if code != tc.want {
				t.Fatalf("exit %d want %d: %s %s", code, tc.want, stdout, stderr)
			}
		})
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"clonefreq", "--help"}
	main()
	os.Args = []string{"clonefreq", "run", "--nope"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] != 2 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}
