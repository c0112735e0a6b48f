package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/config"
)

type workerConfig struct {
	Queue    string        `env:"QUEUE" envDefault:"default"`
	Workers  int           `env:"WORKERS" envDefault:"1"`
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
}

type requiredConfig struct {
	DSN string `env:"CONFIG_TEST_REQUIRED_DSN,required"`
}

type cachedConfig struct {
	Value string `env:"CONFIG_TEST_CACHED" envDefault:"first"`
}

type fileConfig struct {
	Value string   `env:"CONFIG_TEST_FILE_VALUE"`
	List  []string `env:"CONFIG_TEST_LIST" envSeparator:","`
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Parse[workerConfig](config.WithEnvironment(map[string]string{}))
		require.NoError(t, err)
		assert.Equal(t, workerConfig{Queue: "default", Workers: 1, Interval: 30 * time.Second}, cfg)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Parse[workerConfig](
			config.WithPrefix("MAILER_"),
			config.WithEnvironment(map[string]string{
				"MAILER_QUEUE":    "mail",
				"MAILER_WORKERS":  "4",
				"MAILER_INTERVAL": "1m",
				"QUEUE":           "ignored",
			}))
		require.NoError(t, err)
		assert.Equal(t, workerConfig{Queue: "mail", Workers: 4, Interval: time.Minute}, cfg)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Parallel()

		_, err := config.Parse[workerConfig](config.WithEnvironment(map[string]string{"WORKERS": "many"}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("required value", func(t *testing.T) {
		t.Parallel()

		_, err := config.Parse[requiredConfig](config.WithEnvironment(map[string]string{}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})
}

func TestLoad(t *testing.T) {
	t.Setenv("CONFIG_TEST_CACHED", "first")
	config.ResetCache()
	t.Cleanup(config.ResetCache)

	var cfg cachedConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "first", cfg.Value)

	t.Setenv("CONFIG_TEST_CACHED", "second")

	var again cachedConfig
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "first", again.Value, "cached value expected")

	config.ResetCache()
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "second", again.Value)

	assert.ErrorIs(t, config.Load[cachedConfig](nil), config.ErrNilPointer)
}

func TestMustLoad(t *testing.T) {
	config.ResetCache()
	t.Cleanup(config.ResetCache)

	var cfg requiredConfig
	assert.Panics(t, func() { config.MustLoad(&cfg) })
}

func TestLoadEnv(t *testing.T) {
	for _, key := range []string{"CONFIG_TEST_FILE_VALUE", "CONFIG_TEST_LIST"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	require.NoError(t, config.LoadEnv("testdata/test.env"))

	cfg, err := config.Parse[fileConfig]()
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Value)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.List)

	assert.ErrorIs(t, config.LoadEnv("testdata/missing.env"), config.ErrLoadingEnvFile)
}
