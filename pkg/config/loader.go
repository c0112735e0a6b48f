package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// configCache stores one parsed value per configuration type
type configCache struct {
	mu     sync.Mutex
	values map[string]any
}

var (
	globalCache = &configCache{values: make(map[string]any)}

	defaultEnvLoaded sync.Once
)

// Option adjusts how a configuration struct is parsed
type Option func(*loadOptions)

type loadOptions struct {
	prefix      string
	environment map[string]string
}

// WithPrefix prepends prefix to every env key of the struct, e.g. "WORKER_"
func WithPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.prefix = prefix
	}
}

// WithEnvironment parses from the given map instead of the process environment
func WithEnvironment(vars map[string]string) Option {
	return func(o *loadOptions) {
		o.environment = vars
	}
}

// LoadEnv reads env files into the process environment. Variables that are
// already set win over the files. Without arguments ".env" is read and a
// missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses environment variables into v. Each configuration type is parsed
// once; later calls for the same type get the cached copy.
//
// The default .env file is read before the first parse.
//
// Example:
//
//	var cfg jobqueue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvLoaded.Do(func() { _ = LoadEnv() })

	key := typeKey[T]()

	globalCache.mu.Lock()
	defer globalCache.mu.Unlock()

	if cached, ok := globalCache.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	parsed, err := Parse[T](opts...)
	if err != nil {
		return err
	}
	globalCache.values[key] = parsed
	*v = parsed
	return nil
}

// MustLoad works like Load but panics if configuration loading fails
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Parse parses a fresh T without touching the cache
func Parse[T any](opts ...Option) (T, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var v T
	err := env.ParseWithOptions(&v, env.Options{
		Prefix:      o.prefix,
		Environment: o.environment,
	})
	if err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	return v, nil
}

// ResetCache forgets every cached configuration
func ResetCache() {
	globalCache.mu.Lock()
	defer globalCache.mu.Unlock()
	clear(globalCache.values)
}

func typeKey[T any]() string {
	t := reflect.TypeFor[T]()
	return t.PkgPath() + "." + t.String()
}
