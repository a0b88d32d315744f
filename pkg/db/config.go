package db

import "net"

// Config carries the billing database settings. Type selects the gorm
// dialect: postgres in production, sqlite for local runs where Name is
// the file path (or :memory:).
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	// Pool limits. Zero keeps the database/sql default. The lifetime
	// and idle-time values are in seconds.
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

// Addr joins host and port for drivers that take a single endpoint.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
