// Package config loads configuration structs from environment variables.
//
// Structs declare their variables with caarlos0/env tags:
//
//	type Config struct {
//		Driver string `env:"QUEUE_DRIVER" envDefault:"database"`
//	}
//
// Load reads the .env file once through godotenv, parses the struct and caches
// the result per type. Parse skips the cache, which is what tests and tools
// that build several variants of the same struct want. LoadEnv reads extra env
// files, for example one passed on the command line.
package config
