package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdered(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, 1, migrations[0].version)
	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].version, migrations[i].version)
	}
	require.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS users")
	require.Contains(t, migrations[0].sql, "ledger_event_log")
}
