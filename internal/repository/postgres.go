package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

const (
	postgresApplication    = "prudence"
	postgresConnectTimeout = 10 * time.Second
	postgresMaxOpenConns   = 25
	postgresMaxIdleConns   = 5
	postgresConnLifetime   = 30 * time.Minute
)

// openPostgres opens a PostgreSQL pool through lib/pq. Pool limits the
// config leaves at zero get server-sized defaults; New applies the
// configured ones afterwards.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	if cfg.MaxOpenConns == 0 {
		db.SetMaxOpenConns(postgresMaxOpenConns)
	}
	if cfg.MaxIdleConns == 0 {
		db.SetMaxIdleConns(postgresMaxIdleConns)
	}
	if cfg.ConnMaxLifetime == 0 {
		db.SetConnMaxLifetime(postgresConnLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "postgres: ping %s", describeTarget(cfg))
	}
	return db, nil
}

// postgresDSN builds a lib/pq key=value connection string.
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
		dbname = "prudence"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	params := [][2]string{
		{"host", host},
		{"port", strconv.Itoa(port)},
		{"dbname", dbname},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"sslmode", sslmode},
		{"connect_timeout", strconv.Itoa(int(connectTimeout(cfg).Seconds()))},
		{"application_name", postgresApplication},
		{"search_path", cfg.PostgresSchema},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+quoteDSNValue(p[1]))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes v when lib/pq would otherwise split or misread it.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func connectTimeout(cfg domain.RepositoryConfig) time.Duration {
	if cfg.PostgresConnectTimeout > 0 {
		return cfg.PostgresConnectTimeout
	}
	return postgresConnectTimeout
}

// describeTarget names the database for errors without leaking credentials.
func describeTarget(cfg domain.RepositoryConfig) string {
	if cfg.PostgresURL != "" {
		return "(postgres_url)"
	}
	return fmt.Sprintf("%s:%d/%s", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)
}
