package repository

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/callshield/internal/domain"
)

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// postgresDSN renders the connection fields as a postgres:// URL so that
// credentials with spaces or quotes survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	if cfg.PostgresURL != "" {
		return cfg.PostgresURL
	}

	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "callshield"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	switch {
	case cfg.PostgresUser != "" && cfg.PostgresPassword != "":
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	case cfg.PostgresUser != "":
		u.User = url.User(cfg.PostgresUser)
	}
	return u.String()
}
