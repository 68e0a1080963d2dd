package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	assert.Equal(t,
		"postgres://postgres@localhost:5432/stridewatch",
		ConnString(NewDBPoolParams{DBHost: "localhost", DBPort: "5432", DBName: "stridewatch"}),
	)

	connString := ConnString(NewDBPoolParams{
		DBHost:     "db",
		DBPort:     "6543",
		DBName:     "stridewatch",
		DBUser:     "stride",
		DBPassword: "p@ss:word",
	})
	cfg, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	assert.Equal(t, "stride", cfg.ConnConfig.User)
	assert.Equal(t, "p@ss:word", cfg.ConnConfig.Password)
	assert.Equal(t, "db", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(6543), cfg.ConnConfig.Port)
	assert.Equal(t, "stridewatch", cfg.ConnConfig.Database)
}
