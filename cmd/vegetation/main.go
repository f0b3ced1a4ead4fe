// Command vegetation compares an AHN-2 and an AHN-3 tile pair, segments
// the tree crowns of both surveys and reports which crowns moved, grew,
// disappeared or appeared.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mcserep/PointCloudTools/internal/config"
	"github.com/mcserep/PointCloudTools/internal/fsutil"
	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/pipeline"
	"github.com/mcserep/PointCloudTools/internal/vegetation/raster"
	"github.com/mcserep/PointCloudTools/internal/vegetation/storage/sqlite"
	"github.com/mcserep/PointCloudTools/internal/version"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitInvalidInput = 1
	exitFailure      = 2
)

const reportFile = "report.json"

type cliOptions struct {
	ahn2DTM, ahn2DSM string
	ahn3DTM, ahn3DSM string
	configPath       string
	outputDir        string
	dbPath           string
	parallel         bool
	verbose          bool
	quiet            bool
	showVersion      bool
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("vegetation", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Compares an AHN-2 and AHN-3 tile pair and filters out changes in vegetation.")
		fmt.Fprintln(stderr, "\nUsage: vegetation [flags]")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.ahn2DTM, "ahn2-dtm", "", "AHN-2 terrain grid (JSON)")
	fs.StringVar(&opts.ahn2DSM, "ahn2-dsm", "", "AHN-2 surface grid (JSON)")
	fs.StringVar(&opts.ahn3DTM, "ahn3-dtm", "", "AHN-3 terrain grid (JSON)")
	fs.StringVar(&opts.ahn3DSM, "ahn3-dsm", "", "AHN-3 surface grid (JSON)")
	fs.StringVar(&opts.configPath, "config", "", "Tuning config file (JSON); defaults apply when empty")
	fs.StringVar(&opts.outputDir, "output-dir", ".", "Result directory path")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database to record the run in (optional)")
	fs.BoolVar(&opts.parallel, "parallel", false, "Segment AHN-2 and AHN-3 concurrently")
	fs.BoolVar(&opts.verbose, "verbose", false, "Verbose progress output")
	fs.BoolVar(&opts.quiet, "quiet", false, "Suppress progress output")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// validate reports every argument problem on stderr and returns false if
// there was at least one. The output directory is created when missing.
func (o *cliOptions) validate(fsys fsutil.FileSystem, stderr io.Writer) bool {
	ok := true
	fail := func(msg string) {
		fmt.Fprintln(stderr, msg)
		ok = false
	}

	inputs := []struct {
		path, name string
	}{
		{o.ahn2DTM, "AHN-2 terrain"},
		{o.ahn2DSM, "AHN-2 surface"},
		{o.ahn3DTM, "AHN-3 terrain"},
		{o.ahn3DSM, "AHN-3 surface"},
	}
	for _, in := range inputs {
		switch {
		case in.path == "":
			fail(in.name + " input file is mandatory.")
		case !fsutil.Exists(fsys, in.path):
			fail("The " + in.name + " input file does not exist.")
		}
	}

	if o.configPath != "" && !fsutil.Exists(fsys, o.configPath) {
		fail("The config file does not exist.")
	}

	if fsutil.Exists(fsys, o.outputDir) {
		if !fsutil.IsDir(fsys, o.outputDir) {
			fail("The given output path exists but is not a directory.")
		}
	} else if err := fsys.MkdirAll(o.outputDir, 0o755); err != nil {
		fail("Failed to create output directory.")
	}

	if !ok {
		fmt.Fprintln(stderr, "Use the -help option for description.")
	}
	return ok
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], fsutil.OSFileSystem{}, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, fsys fsutil.FileSystem, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitSuccess
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidInput
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "vegetation %s (git %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return exitSuccess
	}

	previous := monitoring.Logf
	defer func() { monitoring.Logf = previous }()
	if opts.quiet {
		monitoring.SetLogger(nil)
	} else {
		monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
	}

	if !opts.validate(fsys, stderr) {
		return exitInvalidInput
	}

	cfg := config.EmptyVegetationConfig()
	if opts.configPath != "" {
		if cfg, err = config.LoadVegetationConfigFS(fsys, opts.configPath); err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return exitInvalidInput
		}
	}
	popts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidInput
	}
	popts.ParallelEpochs = popts.ParallelEpochs || opts.parallel
	switch {
	case opts.quiet:
		popts.Progress = nil
	case opts.verbose:
		popts.Progress = monitoring.TextProgress("[vegetation]")
	default:
		popts.EpochProgress = func(string) monitoring.ProgressFunc {
			return monitoring.StepProgress("[vegetation]", 0.1)
		}
	}

	if !opts.quiet {
		fmt.Fprintln(stdout, "=== AHN Vegetation Filter ===")
	}

	ahn2, err := readEpoch(fsys, "ahn2", opts.ahn2DTM, opts.ahn2DSM)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidInput
	}
	ahn3, err := readEpoch(fsys, "ahn3", opts.ahn3DTM, opts.ahn3DSM)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidInput
	}

	report, err := pipeline.Compare(ctx, ahn2, ahn3, popts)
	if err != nil {
		fmt.Fprintf(stderr, "Comparison failed: %v\n", err)
		return exitFailure
	}

	if err := writeOutputs(fsys, opts.outputDir, report); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	if opts.dbPath != "" {
		runID, err := persist(opts.dbPath, report, cfg)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailure
		}
		monitoring.Logf("[vegetation] recorded run %s in %s", runID, opts.dbPath)
	}

	printSummary(stdout, report)
	return exitSuccess
}

func readGrid(fsys fsutil.FileSystem, path string) (*raster.Grid, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return raster.ReadJSON(f)
}

func readEpoch(fsys fsutil.FileSystem, name, dtmPath, dsmPath string) (pipeline.Epoch, error) {
	dtm, err := readGrid(fsys, dtmPath)
	if err != nil {
		return pipeline.Epoch{}, fmt.Errorf("failed to read %s terrain: %w", name, err)
	}
	dsm, err := readGrid(fsys, dsmPath)
	if err != nil {
		return pipeline.Epoch{}, fmt.Errorf("failed to read %s surface: %w", name, err)
	}
	return pipeline.Epoch{Name: name, DTM: dtm, DSM: dsm}, nil
}

// writeOutputs writes report.json and the canopy height model of each
// epoch into dir.
func writeOutputs(fsys fsutil.FileSystem, dir string, report *pipeline.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := writeFile(fsys, filepath.Join(dir, reportFile), func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	}); err != nil {
		return err
	}

	for _, res := range []*pipeline.EpochResult{report.A, report.B} {
		if res == nil || res.CHM == nil {
			continue
		}
		chm := res.CHM
		name := filepath.Join(dir, "chm_"+res.Name+".json")
		if err := writeFile(fsys, name, func(w io.Writer) error {
			return raster.WriteJSON(w, chm)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fsys fsutil.FileSystem, name string, write func(io.Writer) error) error {
	f, err := fsys.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	return nil
}

func persist(path string, report *pipeline.Report, cfg *config.VegetationConfig) (string, error) {
	params, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return sqlite.NewRunStore(db).Insert(report, params)
}

func printSummary(w io.Writer, r *pipeline.Report) {
	s := r.Summary
	fmt.Fprintf(w, "Crowns:        %s=%d %s=%d\n", r.EpochA, s.CrownsA, r.EpochB, s.CrownsB)
	fmt.Fprintf(w, "Matched:       %d (strategy %s)\n", s.Matched, r.Strategy)
	fmt.Fprintf(w, "Lost:          %d\n", s.Lost)
	fmt.Fprintf(w, "New:           %d\n", s.New)
	fmt.Fprintf(w, "Shift:         mean %.2f m, std-dev %.2f m\n", s.MeanShift, s.StdDevShift)
	fmt.Fprintf(w, "Height change: mean %.2f m, std-dev %.2f m\n", s.MeanHeightChange, s.StdDevHeightChange)
	fmt.Fprintf(w, "Area change:   %d cells\n", s.TotalAreaChange)
}
