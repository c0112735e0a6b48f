package admin

import "time"

// Config holds listener settings for the admin endpoint
type Config struct {
	Addr            string        `env:"ADMIN_ADDR" envDefault:":8090"`          // Addr is the address the server listens on. Empty disables the endpoint.
	ReadTimeout     time.Duration `env:"ADMIN_READ_TIMEOUT" envDefault:"10s"`    // ReadTimeout is the maximum duration for reading the entire request.
	WriteTimeout    time.Duration `env:"ADMIN_WRITE_TIMEOUT" envDefault:"30s"`   // WriteTimeout is the maximum duration before timing out writes of the response.
	IdleTimeout     time.Duration `env:"ADMIN_IDLE_TIMEOUT" envDefault:"60s"`    // IdleTimeout is the keep-alive idle limit.
	ShutdownTimeout time.Duration `env:"ADMIN_SHUTDOWN_TIMEOUT" envDefault:"5s"` // ShutdownTimeout is the time allowed for graceful shutdown.
}
