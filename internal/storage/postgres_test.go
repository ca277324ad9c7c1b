package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDriver captures executed statements so schema bootstrap can be
// checked without a live database.
type recordingDriver struct {
	execs *[]string
}

func (d recordingDriver) Open(name string) (driver.Conn, error) {
	return &recordingConn{execs: d.execs}, nil
}

type recordingConn struct {
	execs *[]string
}

func (c *recordingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	*c.execs = append(*c.execs, query)
	return driver.RowsAffected(0), nil
}

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func TestEnsureSchema_AppliesDDL(t *testing.T) {
	var execs []string
	sql.Register("schema-recorder", recordingDriver{execs: &execs})

	db, err := sql.Open("schema-recorder", "")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(context.Background(), db))

	require.Len(t, execs, 1)
	assert.Contains(t, execs[0], "CREATE TABLE IF NOT EXISTS invoices")
	assert.Contains(t, execs[0], "CREATE TABLE IF NOT EXISTS notifications")
	assert.Contains(t, execs[0], "CREATE INDEX IF NOT EXISTS invoices_sdi_id_idx")
}
