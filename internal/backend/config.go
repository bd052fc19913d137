package backend

import (
	"fmt"

	"finanse/internal/config"
	"finanse/internal/storage/postgres"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:         backendType,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		Postgres: postgres.Config{
			Host:        appConfig.PostgresHost,
			Port:        appConfig.PostgresPort,
			Database:    appConfig.PostgresDB,
			User:        appConfig.PostgresUser,
			Password:    appConfig.PostgresPassword,
			SSLMode:     appConfig.PostgresSSLMode,
			MaxConns:    appConfig.PostgresMaxConns,
			LockTimeout: appConfig.PostgresLockTimeout,
		},
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required for postgres backend")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required for postgres backend")
		}
	case MemoryBackend:
		// Nothing to check: the memory store is not persisted
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, PostgresBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
