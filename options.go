package redisq

import (
	"time"

	"redisq/internal/clog"
	"redisq/internal/conn"
)

// config accumulates everything an Option can set before Connect/
// ConnectLazy builds the pool, mirroring trex/factories.py's connect()
// keyword arguments translated into the functional-options idiom.
type config struct {
	network  string
	addr     string
	poolSize int
	db       int
	password string
	charset  string
	reconnect bool
	logLevel clog.Level
	timeout  time.Duration
}

func defaultConfig() config {
	return config{
		network:   "tcp",
		addr:      "localhost:6379",
		poolSize:  1,
		db:        -1,
		charset:   "utf-8",
		reconnect: true,
		logLevel:  clog.InfoLevel,
	}
}

func (c config) connConfig() conn.Config {
	return conn.Config{
		Network:  c.network,
		Addr:     c.addr,
		DB:       c.db,
		Password: c.password,
		Charset:  c.charset,
		Timeout:  c.timeout,
	}
}

// Option configures a Handler/ShardedHandler at Connect time.
type Option func(*config)

// WithAddr sets the TCP endpoint (host:port). Mutually exclusive with
// WithUnixSocket; whichever is applied last wins.
func WithAddr(addr string) Option {
	return func(c *config) { c.network = "tcp"; c.addr = addr }
}

// WithUnixSocket sets a Unix domain socket path as the endpoint.
func WithUnixSocket(path string) Option {
	return func(c *config) { c.network = "unix"; c.addr = path }
}

// WithPoolSize sets the number of connections the pool maintains.
func WithPoolSize(n int) Option {
	return func(c *config) { c.poolSize = n }
}

// WithDB selects the database index via SELECT during handshake.
func WithDB(db int) Option {
	return func(c *config) { c.db = db }
}

// WithPassword enables AUTH during handshake.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// WithCharset sets the charset used to decode bulk strings into Go
// strings ("utf-8" or "" for raw bytes).
func WithCharset(charset string) Option {
	return func(c *config) { c.charset = charset }
}

// WithReconnect toggles automatic reconnection on connection loss.
func WithReconnect(enabled bool) Option {
	return func(c *config) { c.reconnect = enabled }
}

// WithLogLevel sets the verbosity of the package-level logger.
func WithLogLevel(level clog.Level) Option {
	return func(c *config) { c.logLevel = level }
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}
