package dbopen_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lumenwatch/agentdetect/dbopen"
)

func TestOpenAppliesSchemaAndPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`))

	_, err := db.Exec(`INSERT INTO kv(k, v) VALUES ('a', '1')`)
	require.NoError(t, err)

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	require.Equal(t, 1, fk)
}

func TestOpenMkdirAllCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tab.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())
}

func TestOpenRejectsBadSchema(t *testing.T) {
	_, err := dbopen.Open(":memory:", dbopen.WithSchema(`CREATE NONSENSE`))
	require.Error(t, err)
}

func TestIsBusy(t *testing.T) {
	require.True(t, dbopen.IsBusy(errors.New("SQLITE_BUSY: database is locked")))
	require.True(t, dbopen.IsBusy(errors.New("database is locked")))
	require.False(t, dbopen.IsBusy(errors.New("no such table: kv")))
	require.False(t, dbopen.IsBusy(nil))
}

func TestExecRunsStatement(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))

	_, err := dbopen.Exec(context.Background(), db, `INSERT INTO kv(k, v) VALUES (?, ?)`, "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRow(`SELECT v FROM kv WHERE k = 'a'`).Scan(&v))
	require.Equal(t, "1", v)
}

func TestExecSurfacesNonBusyError(t *testing.T) {
	db := dbopen.OpenMemory(t)
	_, err := dbopen.Exec(context.Background(), db, `INSERT INTO missing(k) VALUES (1)`)
	require.Error(t, err)
}
