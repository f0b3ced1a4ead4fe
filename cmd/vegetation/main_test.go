package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcserep/PointCloudTools/internal/fsutil"
	"github.com/mcserep/PointCloudTools/internal/testutil"
	"github.com/mcserep/PointCloudTools/internal/vegetation/pipeline"
	"github.com/mcserep/PointCloudTools/internal/vegetation/raster"
	"github.com/mcserep/PointCloudTools/internal/vegetation/storage/sqlite"
	"github.com/mcserep/PointCloudTools/internal/version"
)

const terrain = 5.0

func addGrid(t *testing.T, fsys *fsutil.MemoryFileSystem, name string, g *raster.Grid) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, raster.WriteJSON(&buf, g))
	fsys.AddFile(name, buf.Bytes())
}

func addEpoch(t *testing.T, fsys *fsutil.MemoryFileSystem, name string, crowns ...testutil.Crown) {
	t.Helper()
	chm := testutil.CrownGrid(t, 66, 17, crowns...)
	addGrid(t, fsys, "/in/"+name+"_dtm.json", testutil.FlatGrid(t, 66, 17, terrain))
	addGrid(t, fsys, "/in/"+name+"_dsm.json", testutil.Offset(t, chm, terrain))
}

// surveyFS holds an AHN-2/AHN-3 pair where one crown shifts and grows, one
// is unchanged, one disappears and one appears.
func surveyFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	addEpoch(t, fsys, "ahn2",
		testutil.Crown{X: 8, Y: 8, Height: 10, Radius: 4},
		testutil.Crown{X: 24, Y: 8, Height: 12, Radius: 4},
		testutil.Crown{X: 40, Y: 8, Height: 9, Radius: 4},
	)
	addEpoch(t, fsys, "ahn3",
		testutil.Crown{X: 9, Y: 8, Height: 11, Radius: 4},
		testutil.Crown{X: 24, Y: 8, Height: 12, Radius: 4},
		testutil.Crown{X: 56, Y: 8, Height: 9, Radius: 4},
	)
	return fsys
}

func inputArgs(extra ...string) []string {
	args := []string{
		"-ahn2-dtm", "/in/ahn2_dtm.json",
		"-ahn2-dsm", "/in/ahn2_dsm.json",
		"-ahn3-dtm", "/in/ahn3_dtm.json",
		"-ahn3-dsm", "/in/ahn3_dsm.json",
		"-output-dir", "/out",
	}
	return append(args, extra...)
}

func runCLI(fsys fsutil.FileSystem, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, fsys, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func readReport(t *testing.T, fsys *fsutil.MemoryFileSystem) pipeline.Report {
	t.Helper()
	data, ok := fsys.File("/out/report.json")
	require.True(t, ok, "report.json written")
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestRunComparesEpochs(t *testing.T) {
	fsys := surveyFS(t)

	code, stdout, stderr := runCLI(fsys, inputArgs()...)
	require.Equal(t, exitSuccess, code, stderr)

	assert.Contains(t, stdout, "=== AHN Vegetation Filter ===")
	assert.Contains(t, stdout, "Matched:       2 (strategy mutual)")
	assert.Contains(t, stdout, "Lost:          1")
	assert.Contains(t, stdout, "New:           1")

	report := readReport(t, fsys)
	assert.Equal(t, "ahn2", report.EpochA)
	assert.Equal(t, "ahn3", report.EpochB)
	assert.Equal(t, 2, report.Summary.Matched)
	require.Len(t, report.Lost, 1)
	assert.Equal(t, pipeline.Position{X: 40, Y: 8}, report.Lost[0].Center)
	require.Len(t, report.New, 1)
	assert.Equal(t, pipeline.Position{X: 56, Y: 8}, report.New[0].Center)

	for _, name := range []string{"/out/chm_ahn2.json", "/out/chm_ahn3.json"} {
		data, ok := fsys.File(name)
		require.True(t, ok, name)
		chm, err := raster.ReadJSON(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 66, chm.Width())
		assert.Equal(t, 17, chm.Height())
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	seq := surveyFS(t)
	code, _, stderr := runCLI(seq, inputArgs("-quiet")...)
	require.Equal(t, exitSuccess, code, stderr)

	par := surveyFS(t)
	code, _, stderr = runCLI(par, inputArgs("-quiet", "-parallel")...)
	require.Equal(t, exitSuccess, code, stderr)

	assert.Equal(t, readReport(t, seq), readReport(t, par))
}

func TestRunParallelStepProgressReportsBothEpochs(t *testing.T) {
	fsys := surveyFS(t)
	code, _, stderr := runCLI(fsys, inputArgs("-parallel")...)
	require.Equal(t, exitSuccess, code, stderr)

	assert.Contains(t, stderr, "[vegetation] 100% ahn2: ")
	assert.Contains(t, stderr, "[vegetation] 100% ahn3: ")
}

func TestRunQuiet(t *testing.T) {
	fsys := surveyFS(t)
	code, stdout, stderr := runCLI(fsys, inputArgs("-quiet")...)
	require.Equal(t, exitSuccess, code)
	assert.NotContains(t, stdout, "===")
	assert.Contains(t, stdout, "Matched:")
	assert.Empty(t, stderr)
}

func TestRunVerboseLogsProgress(t *testing.T) {
	fsys := surveyFS(t)
	code, _, stderr := runCLI(fsys, inputArgs("-verbose")...)
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, stderr, "[vegetation]")
	assert.Contains(t, stderr, "ahn2: ")
	assert.Contains(t, stderr, "ahn3: ")
}

func TestRunWithConfig(t *testing.T) {
	fsys := surveyFS(t)
	fsys.AddFile("/cfg/tuning.json", []byte(`{"match_strategy": "optimal"}`))

	code, stdout, stderr := runCLI(fsys, inputArgs("-quiet", "-config", "/cfg/tuning.json")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, stdout, "strategy optimal")
	assert.Equal(t, "optimal", readReport(t, fsys).Strategy)
}

func TestRunRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		want    string
	}{
		{name: "wrong extension", path: "/cfg/tuning.yaml", content: `{}`, want: ".json extension"},
		{name: "invalid JSON", path: "/cfg/tuning.json", content: `{`, want: "failed to parse config JSON"},
		{name: "invalid value", path: "/cfg/tuning.json", content: `{"match_strategy": "greedy"}`, want: "greedy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := surveyFS(t)
			fsys.AddFile(tt.path, []byte(tt.content))

			code, _, stderr := runCLI(fsys, inputArgs("-config", tt.path)...)
			assert.Equal(t, exitInvalidInput, code)
			assert.Contains(t, stderr, tt.want)
			_, written := fsys.File("/out/report.json")
			assert.False(t, written)
		})
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fsys *fsutil.MemoryFileSystem)
		args  []string
		want  []string
	}{
		{
			name: "no inputs",
			args: []string{"-output-dir", "/out"},
			want: []string{
				"AHN-2 terrain input file is mandatory.",
				"AHN-2 surface input file is mandatory.",
				"AHN-3 terrain input file is mandatory.",
				"AHN-3 surface input file is mandatory.",
				"Use the -help option for description.",
			},
		},
		{
			name: "missing input file",
			args: []string{
				"-ahn2-dtm", "/in/ahn2_dtm.json",
				"-ahn2-dsm", "/in/ahn2_dsm.json",
				"-ahn3-dtm", "/in/ahn3_dtm.json",
				"-ahn3-dsm", "/in/nope.json",
				"-output-dir", "/out",
			},
			want: []string{"The AHN-3 surface input file does not exist."},
		},
		{
			name:  "output path is a file",
			setup: func(fsys *fsutil.MemoryFileSystem) { fsys.AddFile("/out", []byte("x")) },
			args:  inputArgs(),
			want:  []string{"The given output path exists but is not a directory."},
		},
		{
			name: "missing config",
			args: inputArgs("-config", "/cfg/none.json"),
			want: []string{"The config file does not exist."},
		},
		{
			name: "positional arguments",
			args: inputArgs("extra"),
			want: []string{"unexpected arguments"},
		},
		{
			name: "unknown flag",
			args: inputArgs("-hausdorff"),
			want: []string{"flag provided but not defined"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := surveyFS(t)
			if tt.setup != nil {
				tt.setup(fsys)
			}
			code, stdout, stderr := runCLI(fsys, tt.args...)
			assert.Equal(t, exitInvalidInput, code)
			assert.NotContains(t, stdout, "Matched:")
			for _, want := range tt.want {
				assert.Contains(t, stderr, want)
			}
		})
	}
}

func TestRunCreatesOutputDir(t *testing.T) {
	fsys := surveyFS(t)
	args := inputArgs("-quiet")
	args[len(args)-2] = "/results/2024"

	code, _, stderr := runCLI(fsys, args...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.True(t, fsutil.IsDir(fsys, "/results/2024"))
	_, ok := fsys.File("/results/2024/report.json")
	assert.True(t, ok)
}

func TestRunRecordsToDatabase(t *testing.T) {
	fsys := surveyFS(t)
	dbPath := filepath.Join(t.TempDir(), "vegetation.db")

	code, _, stderr := runCLI(fsys, inputArgs("-quiet", "-db", dbPath)...)
	require.Equal(t, exitSuccess, code, stderr)

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	runs, err := sqlite.NewRunStore(db).List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "mutual", runs[0].Strategy)
	assert.Equal(t, 2, runs[0].Summary.Matched)
	assert.JSONEq(t, `{}`, string(runs[0].ParamsJSON))
}

func TestRunCancelled(t *testing.T) {
	fsys := surveyFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, inputArgs("-quiet"), fsys, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "Comparison failed")
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(fsutil.NewMemoryFileSystem(), "-version")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, stdout, version.Version)
}

func TestRunHelp(t *testing.T) {
	code, stdout, stderr := runCLI(fsutil.NewMemoryFileSystem(), "-help")
	assert.Equal(t, exitSuccess, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "-ahn2-dtm")
	assert.Contains(t, stderr, "filters out changes in vegetation")
}
