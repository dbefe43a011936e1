package configs

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env
	for _, k := range []string{"DB_DRIVER", "PORT", "AMOUNT_TOLERANCE", "KAFKA_BROKERS", "VNPAY_TMNCODE", "RATE_LIMIT"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "", cfg.DBDriver, "set-but-empty wins over the default")
	assert.Equal(t, "0.01", cfg.AmountTolerance.String())
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.RateLimit)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitEvery)
	assert.Empty(t, cfg.Gateways.EngineKeys(), "no provider has credentials")
}

func TestLoadConfig_FromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("AMOUNT_TOLERANCE", "1")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RATE_LIMIT", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("MOMO_PARTNER_CODE", "MOMO")
	t.Setenv("MOMO_ACCESS_KEY", "ak")
	t.Setenv("MOMO_SECRET_KEY", "sk")
	t.Setenv("GATEWAY_TIMEOUT", "-5s")

	cfg := LoadConfig()
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.AmountTolerance.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateLimitEvery)
	assert.Len(t, cfg.Gateways.EngineKeys(), 1)
	assert.Positive(t, cfg.Gateways.Timeout, "negative durations fall back")
}

func TestOpenDatabase_UnknownDriver(t *testing.T) {
	_, err := OpenDatabase("mysql", "x")
	require.Error(t, err)
}

func TestSetupDatabase_Idempotent(t *testing.T) {
	db, err := OpenDatabase("sqlite", "file::memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // one in-memory database per connection
	require.NoError(t, SetupDatabase(db))
	require.NoError(t, SetupDatabase(db))
	require.NoError(t, SeedDemoOrders(db))
	require.NoError(t, SeedDemoOrders(db))

	var n int64
	require.NoError(t, db.Table("orders").Count(&n).Error)
	assert.EqualValues(t, 3, n)
}

func TestNewLogger_Level(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, NewLogger("warn", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("nonsense", false).GetLevel())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
