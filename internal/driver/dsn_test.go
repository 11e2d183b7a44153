package driver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ydb-platform/ydb-go-topic/internal/driver"
)

func TestParseConnectionStringPathDatabase(t *testing.T) {
	p, err := driver.ParseConnectionString("grpc://localhost:2136/local")
	require.NoError(t, err)
	require.Equal(t, "localhost", p.Host)
	require.EqualValues(t, 2136, p.Port)
	require.Equal(t, "local", p.Database)
	require.False(t, p.TLS)
}

func TestParseConnectionStringQueryDatabaseAndDefaultTLSPort(t *testing.T) {
	p, err := driver.ParseConnectionString("grpcs://ydb.example.com?database=/root/db")
	require.NoError(t, err)
	require.EqualValues(t, 2135, p.Port)
	require.Equal(t, "root/db", p.Database)
	require.True(t, p.TLS)
}

func TestParseConnectionStringRejectsUnknownScheme(t *testing.T) {
	_, err := driver.ParseConnectionString("http://localhost")
	require.Error(t, err)
}
