package driver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ConnectionParams is the parsed form of spec §6's connection string
// grammar: grpc[s]://host[:port][/database][?database=...].
type ConnectionParams struct {
	Host     string
	Port     uint16
	Database string
	TLS      bool
}

// ParseConnectionString parses a YDB connection string. Scheme selects
// TLS; database comes from the path if non-empty, else the "database"
// query parameter. Port defaults to 2135 (TLS) or 2136 (plaintext).
func ParseConnectionString(raw string) (ConnectionParams, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectionParams{}, fmt.Errorf("driver: invalid connection string: %w", err)
	}

	var tls bool
	switch u.Scheme {
	case "grpcs":
		tls = true
	case "grpc":
		tls = false
	default:
		return ConnectionParams{}, fmt.Errorf("driver: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return ConnectionParams{}, fmt.Errorf("driver: connection string missing host")
	}

	port := uint16(2136)
	if tls {
		port = 2135
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return ConnectionParams{}, fmt.Errorf("driver: invalid port %q: %w", p, err)
		}
		port = uint16(n)
	}

	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		database = strings.TrimPrefix(u.Query().Get("database"), "/")
	}

	return ConnectionParams{Host: host, Port: port, Database: database, TLS: tls}, nil
}

func (p ConnectionParams) Target() string {
	return p.Host + ":" + strconv.Itoa(int(p.Port))
}
