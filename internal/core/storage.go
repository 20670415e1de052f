package core

import (
	"context"
	"fmt"
	"os"

	"graphcore/internal/infra/persistence/memory"
	"graphcore/internal/infra/persistence/postgres"
	"graphcore/internal/infra/persistence/sqlite"
	"graphcore/pkg/domain"
)

// StorageDriver identifies a concrete storage provider implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenStorageProvider selects a storage provider using environment variables.
// Defaults to memory when unset.
//
//	GRAPHCORE_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	GRAPHCORE_SQLITE_PATH: path to sqlite file (default ./graphcore.db)
//	GRAPHCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStorageProvider(ctx context.Context) (domain.StorageProvider, error) {
	driver := os.Getenv("GRAPHCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageMemory)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		s, err := sqlite.NewStore(os.Getenv("GRAPHCORE_SQLITE_PATH"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		s, err := postgres.NewStore(ctx, os.Getenv("GRAPHCORE_POSTGRES_DSN"))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
