package storage

import (
	"context"
	"fmt"

	"github.com/provenlab/provex/internal/provex/config"
	"github.com/provenlab/provex/internal/provex/core"
)

// Engine names accepted in profiles.
const (
	EngineSQLite = "sqlite"
	EngineNeo4j  = "neo4j"
)

// Open connects to the storage backend named by the profile.
func Open(ctx context.Context, profile config.Profile) (Backend, error) {
	switch profile.Engine {
	case EngineSQLite:
		return NewSQLite(ctx, profile.Path)
	case EngineNeo4j:
		return NewNeo4j(ctx, Neo4jConfig{
			URI:      profile.URI,
			Username: profile.Username,
			Password: profile.Password,
			Database: profile.Database,
		})
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownBackend, profile.Engine)
	}
}
