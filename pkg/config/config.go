// Package config loads service configuration from the environment.
//
// Environment variables:
//   - POSTGRES_URI, or POSTGRESQL_DB_USER/PASS/NAME/HOST/PORT
//   - POSTGRESQL_DB_TABLE (reported to tool callers as the default table)
//   - DUCKDB_PATH (local database when no PostgreSQL is configured)
//   - VECTOR_BACKEND: chroma (default) or pgvector
//   - CHROMADB_HOST, CHROMADB_PORT (8000), CHROMADB_COLLECTION_NAME,
//     CHROMADB_TENANT, CHROMADB_DATABASE
//   - PGVECTOR_TABLE
//   - TEXT_EMBEDDING_MODEL_URL, TEXT_EMBEDDING_MODEL_NAME, TEXT_EMBEDDING_API_KEY
//   - ANTHROPIC_API_KEY, ANTHROPIC_MODEL
//   - ARTIFACT_ROOT, ARTIFACT_S3_BUCKET, ARTIFACT_S3_PREFIX, plus S3_REGION,
//     S3_ENDPOINT, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY (AWS_* fallbacks)
//   - LEDGER_BACKEND: memory (default) or postgres
//   - MCP_LISTEN_ADDR, METRICS_ADDR, MCP_ALLOWED_TOKENS, MCP_AUTH_DISABLED
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	VectorBackendChroma   = "chroma"
	VectorBackendPGVector = "pgvector"

	LedgerBackendMemory   = "memory"
	LedgerBackendPostgres = "postgres"

	defaultChromaPort    = 8000
	defaultArtifactRoot  = "artifacts"
	defaultListenAddr    = "0.0.0.0:8010"
	defaultMetricsAddr   = "0.0.0.0:0"
	defaultS3Region      = "us-east-1"
	defaultPGVectorTable = "schema_documents"
)

// Error lists every missing or invalid setting found by Validate.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

type Config struct {
	PostgresURI  string
	DuckDBPath   string
	DefaultTable string

	VectorBackend    string
	ChromaHost       string
	ChromaPort       int
	ChromaCollection string
	ChromaTenant     string
	ChromaDatabase   string
	PGVectorTable    string

	EmbeddingURL    string
	EmbeddingModel  string
	EmbeddingAPIKey string

	AnthropicAPIKey string
	AnthropicModel  string

	ArtifactRoot      string
	ArtifactS3Bucket  string
	ArtifactS3Prefix  string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	LedgerBackend string

	ListenAddr    string
	MetricsAddr   string
	AllowedTokens []string
	AuthDisabled  bool

	// Filled by Load for Validate.
	pgParts    map[string]string
	badPortRaw string
}

// LoadDotenv loads variables from the given files without overriding ones
// already set. With no files it reads .env and ignores its absence.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads the process environment.
func Load() *Config {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv.
func LoadFrom(getenv func(string) string) *Config {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	either := func(primary, secondary, fallback string) string {
		return env(primary, env(secondary, fallback))
	}

	c := &Config{
		PostgresURI: env("POSTGRES_URI", ""),
		DuckDBPath:  env("DUCKDB_PATH", ""),

		DefaultTable: env("POSTGRESQL_DB_TABLE", ""),

		VectorBackend:    strings.ToLower(env("VECTOR_BACKEND", VectorBackendChroma)),
		ChromaHost:       env("CHROMADB_HOST", ""),
		ChromaPort:       defaultChromaPort,
		ChromaCollection: env("CHROMADB_COLLECTION_NAME", ""),
		ChromaTenant:     env("CHROMADB_TENANT", ""),
		ChromaDatabase:   env("CHROMADB_DATABASE", ""),
		PGVectorTable:    env("PGVECTOR_TABLE", defaultPGVectorTable),

		EmbeddingURL:    env("TEXT_EMBEDDING_MODEL_URL", ""),
		EmbeddingModel:  env("TEXT_EMBEDDING_MODEL_NAME", ""),
		EmbeddingAPIKey: env("TEXT_EMBEDDING_API_KEY", ""),

		AnthropicAPIKey: env("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  env("ANTHROPIC_MODEL", ""),

		ArtifactRoot:      env("ARTIFACT_ROOT", ""),
		ArtifactS3Bucket:  env("ARTIFACT_S3_BUCKET", ""),
		ArtifactS3Prefix:  env("ARTIFACT_S3_PREFIX", ""),
		S3Region:          either("S3_REGION", "AWS_REGION", defaultS3Region),
		S3Endpoint:        either("S3_ENDPOINT", "AWS_ENDPOINT_URL", ""),
		S3AccessKeyID:     either("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: either("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY", ""),

		LedgerBackend: strings.ToLower(env("LEDGER_BACKEND", LedgerBackendMemory)),

		ListenAddr:   env("MCP_LISTEN_ADDR", defaultListenAddr),
		MetricsAddr:  env("METRICS_ADDR", defaultMetricsAddr),
		AuthDisabled: env("MCP_AUTH_DISABLED", "") == "true",
	}

	if raw := env("CHROMADB_PORT", ""); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			c.ChromaPort = port
		} else {
			c.badPortRaw = raw
		}
	}

	if !c.AuthDisabled {
		for token := range strings.SplitSeq(env("MCP_ALLOWED_TOKENS", ""), ",") {
			if token = strings.TrimSpace(token); token != "" {
				c.AllowedTokens = append(c.AllowedTokens, token)
			}
		}
	}

	if c.PostgresURI == "" {
		c.pgParts = map[string]string{}
		for _, key := range []string{"POSTGRESQL_DB_USER", "POSTGRESQL_DB_PASS", "POSTGRESQL_DB_NAME", "POSTGRESQL_DB_HOST", "POSTGRESQL_DB_PORT"} {
			if v := env(key, ""); v != "" {
				c.pgParts[key] = v
			}
		}
		if len(c.pgParts) == 5 {
			c.PostgresURI = (&url.URL{
				Scheme: "postgres",
				User:   url.UserPassword(c.pgParts["POSTGRESQL_DB_USER"], c.pgParts["POSTGRESQL_DB_PASS"]),
				Host:   net.JoinHostPort(c.pgParts["POSTGRESQL_DB_HOST"], c.pgParts["POSTGRESQL_DB_PORT"]),
				Path:   "/" + c.pgParts["POSTGRESQL_DB_NAME"],
			}).String()
		}
	}

	if c.ArtifactRoot == "" && c.ArtifactS3Bucket == "" {
		c.ArtifactRoot = defaultArtifactRoot
	}
	return c
}

// Validate reports every missing or invalid setting at once. The model key
// is checked separately by RequireLLM.
func (c *Config) Validate() error {
	e := &Error{}

	if c.PostgresURI == "" && c.DuckDBPath == "" {
		for _, key := range []string{"POSTGRESQL_DB_USER", "POSTGRESQL_DB_PASS", "POSTGRESQL_DB_NAME", "POSTGRESQL_DB_HOST", "POSTGRESQL_DB_PORT"} {
			if _, ok := c.pgParts[key]; !ok {
				e.Missing = append(e.Missing, key)
			}
		}
	}

	switch c.VectorBackend {
	case VectorBackendChroma:
		if c.ChromaHost == "" {
			e.Missing = append(e.Missing, "CHROMADB_HOST")
		}
		if c.ChromaCollection == "" {
			e.Missing = append(e.Missing, "CHROMADB_COLLECTION_NAME")
		}
		if c.badPortRaw != "" {
			e.Invalid = append(e.Invalid, fmt.Sprintf("CHROMADB_PORT %q is not a port number", c.badPortRaw))
		}
	case VectorBackendPGVector:
		if c.PostgresURI == "" {
			e.Invalid = append(e.Invalid, "VECTOR_BACKEND=pgvector requires PostgreSQL")
		}
	default:
		e.Invalid = append(e.Invalid, fmt.Sprintf("VECTOR_BACKEND %q is not one of chroma, pgvector", c.VectorBackend))
	}

	if c.EmbeddingURL == "" {
		e.Missing = append(e.Missing, "TEXT_EMBEDDING_MODEL_URL")
	}
	if c.EmbeddingModel == "" {
		e.Missing = append(e.Missing, "TEXT_EMBEDDING_MODEL_NAME")
	}

	switch c.LedgerBackend {
	case LedgerBackendMemory:
	case LedgerBackendPostgres:
		if c.PostgresURI == "" {
			e.Invalid = append(e.Invalid, "LEDGER_BACKEND=postgres requires PostgreSQL")
		}
	default:
		e.Invalid = append(e.Invalid, fmt.Sprintf("LEDGER_BACKEND %q is not one of memory, postgres", c.LedgerBackend))
	}

	if len(e.Missing) > 0 || len(e.Invalid) > 0 {
		return e
	}
	return nil
}

// RequireLLM reports a missing model key.
func (c *Config) RequireLLM() error {
	if c.AnthropicAPIKey == "" {
		return &Error{Missing: []string{"ANTHROPIC_API_KEY"}}
	}
	return nil
}

// ChromaURL is the base URL of the Chroma server.
func (c *Config) ChromaURL() string {
	return "http://" + net.JoinHostPort(c.ChromaHost, strconv.Itoa(c.ChromaPort))
}

// UsesPostgres reports whether queries run against PostgreSQL rather than
// the local DuckDB database.
func (c *Config) UsesPostgres() bool {
	return c.PostgresURI != ""
}

// RedactPostgresURI hides the password of a PostgreSQL URI for logging.
func RedactPostgresURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); !ok {
		return uri
	}
	u.User = url.UserPassword(u.User.Username(), "REDACTED")
	return u.String()
}
