package duckling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	db, err := Open(Memory, nil)
	require.NoError(t, err)
	assert.Equal(t, Memory, db.Path())
	assert.Equal(t, DatabaseResource, db.Handle().Kind)
	require.NoError(t, db.Close())

	db, err = Open("", nil)
	require.NoError(t, err)
	assert.Equal(t, Memory, db.Path(), "an empty path opens an in-memory database")
	require.NoError(t, db.Close())
}

func TestOpenFailures(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "x.duckdb"), nil)
	assert.ErrorIs(t, err, ErrOpenFailure)

	_, err = Open(Memory, &Config{AccessMode: "sometimes"})
	assert.ErrorIs(t, err, ErrOpenFailure)

	notADatabase := filepath.Join(t.TempDir(), "notes.duckdb")
	require.NoError(t, os.WriteFile(notADatabase, []byte("this is not a database file, it is a grocery list"), 0o600))
	_, err = Open(notADatabase, nil)
	assert.ErrorIs(t, err, ErrOpenFailure)

	_, err = Open(Memory, &Config{Settings: map[string]string{"no_such_setting": "1"}})
	assert.ErrorIs(t, err, ErrOpenFailure)
}

func TestOpenFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.duckdb")

	db, err := Open(path, nil)
	require.NoError(t, err)
	conn, err := db.Connect()
	require.NoError(t, err)
	mustExec(t, conn, "CREATE TABLE kv (k VARCHAR, v INTEGER)")
	mustExec(t, conn, "INSERT INTO kv VALUES ('a', 1), ('b', 2)")
	require.NoError(t, conn.Close())
	require.NoError(t, db.Close())

	db, err = Open(path, &Config{AccessMode: "read_only"})
	require.NoError(t, err)
	defer db.Close()
	conn2, err := db.Connect()
	require.NoError(t, err)
	defer conn2.Close()

	assert.Equal(t, int64(2), countRows(t, conn2, "kv"))
	err = conn2.Exec("INSERT INTO kv VALUES ('c', 3)")
	assert.Error(t, err, "read-only database rejects writes")
}

func TestDatabaseCloseWhileConnectionsOpen(t *testing.T) {
	db, err := Open(Memory, nil)
	require.NoError(t, err)

	c1, err := db.Connect()
	require.NoError(t, err)
	c2, err := db.Connect()
	require.NoError(t, err)

	err = db.Close()
	assert.ErrorIs(t, err, ErrResourceBusy)

	require.NoError(t, c1.Close())
	rows := queryAll(t, c2, "SELECT 42")
	assert.Equal(t, int64(42), rows[0][0].Int(), "closing a sibling leaves the other connection working")

	assert.ErrorIs(t, db.Close(), ErrResourceBusy)
	require.NoError(t, c2.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Close(), ErrClosedHandle, "second close reports a closed handle")
	_, err = db.Connect()
	assert.ErrorIs(t, err, ErrClosedHandle)
	_, err = db.NumberOfThreads()
	assert.ErrorIs(t, err, ErrClosedHandle)
}

func TestNumberOfThreads(t *testing.T) {
	db, _ := openMemory(t, &Config{Threads: 3})

	n, err := db.NumberOfThreads()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, db.Config().Threads)
}

func TestOpenRemoteHTTPDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remote.duckdb")

	db, err := Open(path, nil)
	require.NoError(t, err)
	conn, err := db.Connect()
	require.NoError(t, err)
	mustExec(t, conn, "CREATE TABLE sales AS SELECT range AS id FROM range(25)")
	require.NoError(t, conn.Close())
	require.NoError(t, db.Close())

	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()

	cache := t.TempDir()
	remote, err := OpenContext(context.Background(), srv.URL+"/remote.duckdb", &Config{Remote: RemoteConfig{CacheDir: cache}})
	require.NoError(t, err)
	assert.Equal(t, "read_only", remote.Config().AccessMode, "remote databases open read-only unless configured")

	rc, err := remote.Connect()
	require.NoError(t, err)
	assert.Equal(t, int64(25), countRows(t, rc, "sales"))
	require.NoError(t, rc.Close())

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, remote.Close())
	entries, err = os.ReadDir(cache)
	require.NoError(t, err)
	assert.Empty(t, entries, "the downloaded copy is removed on close")
}
