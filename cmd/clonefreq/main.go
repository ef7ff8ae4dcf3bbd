// Command clonefreq computes per-clonotype sample frequencies for a study and
// writes them to the study's frequency collection or to batch files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"clonefreq/internal/blob"
	"clonefreq/internal/config"
	"clonefreq/internal/core"
	"clonefreq/internal/importer"
	"clonefreq/internal/logging"
	"clonefreq/internal/sink"
	"clonefreq/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func cli(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "clonefreq: %v\n", err)
	var uerr usageError
	if errors.As(err, &uerr) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

// flagValues mirrors the command-line overrides applied on top of file and env.
type flagValues struct {
	configPath   string
	hostname     string
	port         int
	output       string
	file         string
	user         string
	password     string
	studyID      string
	cancerTypeID string
	storage      string
	sqlitePath   string
	sinkKind     string
	format       string
	batchSize    int
	maxWorkers   int
	logLevel     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	fv := &flagValues{}
	root := &cobra.Command{
		Use:           "clonefreq",
		Short:         "Compute clonotype sample frequencies for a study",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "path to a YAML config file")
	pf.StringVarP(&fv.hostname, "hostname", "n", "", "document store host")
	pf.IntVar(&fv.port, "port", 0, "document store port")
	pf.StringVarP(&fv.output, "output", "o", "", "output directory for batch files and the log")
	pf.StringVarP(&fv.file, "file", "f", "", "batch file base name")
	pf.StringVarP(&fv.user, "user", "u", "", "storage user")
	pf.StringVarP(&fv.password, "password", "p", "", "storage password")
	pf.StringVarP(&fv.studyID, "study_id", "s", "", "study identifier (TLML, TARGET or configured)")
	pf.StringVarP(&fv.cancerTypeID, "cancer_type_id", "c", "", "restrict samples to a cancer type")
	pf.StringVar(&fv.storage, "storage", "", "storage driver: mongo|postgres|sqlite|memory")
	pf.StringVar(&fv.sqlitePath, "sqlite-path", "", "sqlite database file")
	pf.IntVar(&fv.batchSize, "batch-size", 0, "clonotypes per batch")
	pf.StringVar(&fv.logLevel, "log-level", "", "console log level")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Compute and emit frequency records",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFrequencies(cmd, fv)
		},
	}
	runCmd.Flags().StringVar(&fv.sinkKind, "sink", "", "record destination: store|file")
	runCmd.Flags().StringVar(&fv.format, "format", "", "batch file format: statements|tsv")
	runCmd.Flags().IntVar(&fv.maxWorkers, "max-workers", 0, "cap on concurrent batches (0 = one per batch)")

	var vgenePrefix string
	var minCount int
	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "List stored frequency records by VGene prefix and minimum count",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return lookupFrequencies(cmd, fv, vgenePrefix, minCount)
		},
	}
	lookupCmd.Flags().StringVar(&vgenePrefix, "vgene", "", "case-insensitive VGene prefix")
	lookupCmd.Flags().IntVar(&minCount, "min-count", 0, "minimum count")

	importCmd := &cobra.Command{
		Use:   "import <clone-table.tsv|->",
		Short: "Load a flattened clone table into the configured storage",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importTable(cmd, fv, args[0])
		},
	}

	root.AddCommand(runCmd, lookupCmd, importCmd)
	return root
}

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// loadConfig layers flags over the config file and environment.
func loadConfig(cmd *cobra.Command, fv *flagValues) (config.Config, error) {
	cfg, err := config.Load(fv.configPath)
	if err != nil {
		return config.Config{}, usageError{err}
	}
	changed := cmd.Flags().Changed
	set := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	set("hostname", &cfg.Storage.Host, fv.hostname)
	set("output", &cfg.Output.Dir, fv.output)
	set("file", &cfg.Output.Filename, fv.file)
	set("user", &cfg.Storage.User, fv.user)
	set("password", &cfg.Storage.Password, fv.password)
	set("study_id", &cfg.Run.StudyID, fv.studyID)
	set("cancer_type_id", &cfg.Run.CancerTypeID, fv.cancerTypeID)
	set("storage", &cfg.Storage.Driver, fv.storage)
	set("sqlite-path", &cfg.Storage.SQLitePath, fv.sqlitePath)
	set("sink", &cfg.Output.Sink, fv.sinkKind)
	set("format", &cfg.Output.Format, fv.format)
	set("log-level", &cfg.Log.Level, fv.logLevel)
	if changed("port") {
		cfg.Storage.Port = fv.port
	}
	if changed("batch-size") {
		cfg.Run.BatchSize = fv.batchSize
	}
	if changed("max-workers") {
		cfg.Run.MaxWorkers = fv.maxWorkers
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, usageError{err}
	}
	return cfg, nil
}

// session bundles what every subcommand opens and must release.
type session struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *core.PrometheusMetrics
	repo    domain.Repository
	svc     *core.Service
}

func openSession(cmd *cobra.Command, fv *flagValues) (*session, error) {
	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:         cfg.Log.Level,
		File:          cfg.LogFile(),
		Console:       cfg.Log.Console,
		ConsoleWriter: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		_ = logger.Close()
		return nil, usageError{err}
	}
	ctx := cmd.Context()
	repo, err := core.OpenRepository(ctx, cfg.StorageOptions(), registry.Studies())
	if err != nil {
		logger.Error("storage unavailable", "driver", cfg.Storage.Driver, "error", err)
		_ = logger.Close()
		return nil, err
	}
	metrics := core.NewPrometheusMetrics()
	svc := core.NewService(repo,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithRetry(cfg.Run.Retry),
		core.WithRegistry(registry),
	)
	logger.Info("session opened", "driver", repo.Driver(), "study_id", cfg.Run.StudyID)
	return &session{cfg: cfg, logger: logger, metrics: metrics, repo: repo, svc: svc}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.repo.Close(ctx); err != nil {
		s.logger.Warn("close storage", "error", err)
	}
	_ = s.logger.Close()
}

func (s *session) sink(ctx context.Context) (core.Sink, error) {
	kind, err := sink.ParseKind(s.cfg.Output.Sink)
	if err != nil {
		return nil, err
	}
	if kind == sink.KindStore {
		return sink.NewStoreSink(s.repo), nil
	}
	store, err := blob.Open(ctx, s.cfg.BlobConfig())
	if err != nil {
		return nil, err
	}
	return sink.NewFileSink(store, s.cfg.FileOptions())
}

func runFrequencies(cmd *cobra.Command, fv *flagValues) error {
	s, err := openSession(cmd, fv)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer s.close(ctx)

	out, err := s.sink(ctx)
	if err != nil {
		return err
	}
	summary, err := s.svc.Run(ctx, s.cfg.RunParams(), out)
	if s.cfg.Metrics.Textfile != "" {
		if werr := s.metrics.WriteTextfile(s.cfg.Metrics.Textfile); werr != nil {
			s.logger.Warn("metrics export failed", "path", s.cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "study=%s sample_size=%d clonotypes=%d batches=%d emitted=%d skipped=%d duration=%s\n",
		summary.StudyID, summary.SampleSize, summary.Clonotypes, len(summary.Batches), summary.Emitted,
		summary.SkippedTotal(), summary.Duration)
	reasons := make([]string, 0, len(summary.Skipped))
	for reason := range summary.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "skipped %s=%d\n", reason, summary.Skipped[reason])
	}
	return nil
}

func lookupFrequencies(cmd *cobra.Command, fv *flagValues, prefix string, minCount int) error {
	s, err := openSession(cmd, fv)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer s.close(ctx)

	recs, err := s.svc.LookupFrequencies(ctx, s.cfg.Run.StudyID, prefix, minCount)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func importTable(cmd *cobra.Command, fv *flagValues, path string) error {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- operator supplied input table
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	s, err := openSession(cmd, fv)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer s.close(ctx)

	im := importer.New(s.repo, s.svc.Registry(), s.logger)
	rep, err := im.Import(ctx, s.cfg.Run.StudyID, in)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rows=%d patients=%d samples=%d assays=%d chains=%d rejected=%d\n",
		rep.Rows, rep.Patients, rep.Samples, rep.Assays, rep.Chains, len(rep.Rejected))
	return nil
}
