package repository

import (
	"testing"
	"time"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      domain.RepositoryConfig
		expected string
	}{
		{
			name: "defaults",
			cfg:  domain.RepositoryConfig{},
			expected: "host=localhost port=5432 dbname=prudence sslmode=disable " +
				"connect_timeout=10 application_name=prudence",
		},
		{
			name: "configured",
			cfg: domain.RepositoryConfig{
				PostgresHost:           "db.internal",
				PostgresPort:           6432,
				PostgresDB:             "supervision",
				PostgresUser:           "scorer",
				PostgresPassword:       "s3cret",
				PostgresSSLMode:        "verify-full",
				PostgresSchema:         "prudence",
				PostgresConnectTimeout: 3 * time.Second,
			},
			expected: "host=db.internal port=6432 dbname=supervision user=scorer password=s3cret " +
				"sslmode=verify-full connect_timeout=3 application_name=prudence search_path=prudence",
		},
		{
			name: "quotes awkward values",
			cfg: domain.RepositoryConfig{
				PostgresUser:     "scorer",
				PostgresPassword: `it's a pass\word`,
			},
			expected: `host=localhost port=5432 dbname=prudence user=scorer password='it\'s a pass\\word' ` +
				"sslmode=disable connect_timeout=10 application_name=prudence",
		},
		{
			name: "url wins",
			cfg: domain.RepositoryConfig{
				PostgresURL:  "postgres://scorer@db/prudence?sslmode=require",
				PostgresHost: "ignored",
			},
			expected: "postgres://scorer@db/prudence?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, postgresDSN(tt.cfg))
		})
	}
}

func TestDescribeTargetHidesCredentials(t *testing.T) {
	cfg := domain.RepositoryConfig{
		PostgresURL: "postgres://scorer:s3cret@db/prudence",
	}
	assert.NotContains(t, describeTarget(cfg), "s3cret")

	cfg = domain.RepositoryConfig{PostgresHost: "db", PostgresPort: 5432, PostgresDB: "prudence", PostgresPassword: "s3cret"}
	assert.Equal(t, "db:5432/prudence", describeTarget(cfg))
}
