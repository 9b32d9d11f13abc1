package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestPoolOptionsApply(t *testing.T) {
	config, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/ledger")
	require.NoError(t, err)
	defaults := config.MaxConns

	PoolOptions{}.apply(config)
	require.Equal(t, defaults, config.MaxConns)

	PoolOptions{MaxConns: 7, MaxConnIdleTime: time.Minute, ApplicationName: "stockledger"}.apply(config)
	require.Equal(t, int32(7), config.MaxConns)
	require.Equal(t, time.Minute, config.MaxConnIdleTime)
	require.Equal(t, "stockledger", config.ConnConfig.RuntimeParams["application_name"])
}
