// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/encbench/internal/version"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeSuite(t *testing.T, dir, codecName string) string {
	t.Helper()
	suite := fmt.Sprintf(`output_dir: %s
tests:
  - common:
      id: smoke
    input:
      filepath: fake_input
      resolution: 64x48
      playout_frames: 5
    configure:
      codec: %s
      bitrate: 500k
`, dir, codecName)
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list", "--encoders")
	require.NoError(t, err)
	assert.Contains(t, out, "c2.fake.vp8.encoder")
	assert.Contains(t, out, "sw.raw.encoder")
	assert.NotContains(t, out, "c2.fake.vp8.decoder")

	_, err = execute(t, "list", "--encoders", "--decoders")
	assert.Error(t, err)
}

func TestRunAndResults(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "results.db")
	suite := writeSuite(t, dir, "c2.fake.vp8.encoder")

	out, err := execute(t, "run", suite, "--results-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "smoke")
	assert.Contains(t, out, dir)

	reports, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	out, err = execute(t, "results", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "smoke")

	out, err = execute(t, "results", "--db", db, "--check")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestRunReportsFailedTests(t *testing.T) {
	dir := t.TempDir()
	suite := writeSuite(t, dir, "c2.nonexistent.encoder")

	out, err := execute(t, "run", suite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 tests failed")
	assert.Contains(t, out, "codec not found")
}

func TestRunRejectsInvalidSuite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tests:\n  - bogus: 1\n"), 0o600))

	_, err := execute(t, "run", path)
	assert.Error(t, err)
}

func TestResultsRequiresDatabase(t *testing.T) {
	t.Setenv("ENCBENCH_RESULTS_DB", "")
	_, err := execute(t, "results")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results database")
}

func TestMetricsRouter(t *testing.T) {
	h := newMetricsRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "encbench_runs_active")
}
