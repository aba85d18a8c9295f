package config

import "os"

// Config holds control-plane configuration.
type Config struct {
	DataDir          string
	LogLevel         string
	LedgerBackend    string // "file" | "postgres"
	DatabaseURL      string
	EvidenceDBPath   string
	OverrideSecret   string
	SuccessPredicate string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := os.Getenv("AES_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	logLevel := os.Getenv("AES_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("AES_LEDGER_BACKEND")
	if backend == "" {
		backend = "file"
	}

	dbURL := os.Getenv("AES_DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://aes@localhost:5432/aes?sslmode=disable"
	}

	evidencePath := os.Getenv("AES_EVIDENCE_DB")
	if evidencePath == "" {
		evidencePath = dataDir + "/evidence.db"
	}

	return &Config{
		DataDir:          dataDir,
		LogLevel:         logLevel,
		LedgerBackend:    backend,
		DatabaseURL:      dbURL,
		EvidenceDBPath:   evidencePath,
		OverrideSecret:   os.Getenv("AES_OVERRIDE_SECRET"),
		SuccessPredicate: os.Getenv("AES_SUCCESS_PREDICATE"),
	}
}
