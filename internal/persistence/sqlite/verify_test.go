// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestVerifyIntegrityHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE runs (id TEXT PRIMARY KEY, frames INTEGER);")
	require.NoError(t, err)
	for i := range 50 {
		_, err = db.Exec("INSERT INTO runs (id, frames) VALUES (?, ?);", fmt.Sprintf("run-%d", i), i)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(path, false)
	require.NoError(t, err)
	assert.Nil(t, issues)

	issues, err = VerifyIntegrity(path, true)
	require.NoError(t, err)
	assert.Nil(t, issues)
}
