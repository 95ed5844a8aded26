// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/encbench/internal/codec"
	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/source"
	"github.com/ManuGH/encbench/internal/stats"
	"github.com/ManuGH/encbench/internal/stats/store"
	"github.com/ManuGH/encbench/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fakeTest(id, codecName string, frames int) config.Test {
	t := config.Test{
		Common: config.Common{ID: id},
		Input: config.Input{
			Filepath:      source.FakeInputPath,
			Resolution:    "64x48",
			Framerate:     30,
			PlayoutFrames: frames,
		},
		Configure: config.Configure{
			Codec:   codecName,
			Bitrate: "500k",
		},
		Setup: config.Setup{Mode: config.ModeAsync},
	}
	config.ApplyDefaults(&t, 0)
	return t
}

func readReport(t *testing.T, path string) stats.Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r stats.Report
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestRunContinuesAfterSetupFailure(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	suite := config.Suite{
		OutputDir: dir,
		Tests: []config.Test{
			fakeTest("missing", "c2.nonexistent.encoder", 10),
			fakeTest("good", "c2.fake.vp8.encoder", 10),
		},
	}

	sum, err := New(suite, Options{Store: db, Version: "test"}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 2)
	assert.Equal(t, 1, sum.Failed())

	bad := sum.Outcomes[0]
	assert.Equal(t, "missing", bad.TestID)
	require.ErrorIs(t, bad.Err, codec.ErrNotFound)
	require.NotEmpty(t, bad.ReportPath)
	assert.Contains(t, readReport(t, bad.ReportPath).Error, "nonexistent")

	good := sum.Outcomes[1]
	require.NoError(t, good.Err)
	assert.NotEqual(t, bad.RunID, good.RunID)
	assert.Equal(t, int64(10), good.Result.Counters.Encoded)
	rep := readReport(t, good.ReportPath)
	assert.Empty(t, rep.Error)
	assert.Equal(t, "test", rep.Version)
	assert.Len(t, rep.Frames, 10)

	runs, err := db.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byTest := map[string]store.Run{}
	for _, r := range runs {
		byTest[r.TestID] = r
	}
	assert.NotEmpty(t, byTest["missing"].Error)
	assert.Empty(t, byTest["good"].Error)
	assert.Equal(t, 10, byTest["good"].Frames)
}

func TestRunOnlySelectedTests(t *testing.T) {
	suite := config.Suite{
		OutputDir: t.TempDir(),
		Tests: []config.Test{
			fakeTest("a", "c2.fake.vp8.encoder", 3),
			fakeTest("b", "c2.fake.vp8.encoder", 3),
			fakeTest("c", "c2.fake.vp8.encoder", 3),
		},
	}

	sum, err := New(suite, Options{Only: []string{"c", "a"}}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 2)
	assert.Equal(t, "a", sum.Outcomes[0].TestID)
	assert.Equal(t, "c", sum.Outcomes[1].TestID)
	assert.Zero(t, sum.Failed())
}

func TestRunUnknownModeHasNoReport(t *testing.T) {
	test := fakeTest("odd", "c2.fake.vp8.encoder", 3)
	test.Setup.Mode = "bogus"
	suite := config.Suite{OutputDir: t.TempDir(), Tests: []config.Test{test}}

	sum, err := New(suite, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 1)
	assert.Error(t, sum.Outcomes[0].Err)
	assert.Empty(t, sum.Outcomes[0].ReportPath)
	assert.Equal(t, 1, sum.Failed())
}

func TestRunStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	suite := config.Suite{
		OutputDir: t.TempDir(),
		Tests:     []config.Test{fakeTest("a", "c2.fake.vp8.encoder", 3)},
	}

	sum, err := New(suite, Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Outcomes)
}

func TestShippedSmokeSuite(t *testing.T) {
	path := filepath.Join(testutil.MustRepoRoot(t), "configs", "smoke.yaml")
	suite, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	suite.OutputDir = t.TempDir()

	sum, err := New(suite, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, len(suite.Tests))
	assert.Zero(t, sum.Failed())
	for _, o := range sum.Outcomes {
		require.NoError(t, o.Err, o.TestID)
		assert.Empty(t, o.Result.Forced, o.TestID)
		assert.Positive(t, o.Result.Counters.Encoded, o.TestID)
		assert.FileExists(t, o.ReportPath)
	}
}
