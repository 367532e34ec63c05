package deploy

import (
	"context"

	"github.com/artpar/dbstack/internal/shell/postgres"
)

// =============================================================================
// SQL Seam
// =============================================================================

// SQLConn is the slice of a database connection the workflows use. It is
// satisfied by *postgres.Conn and by fakes in tests.
type SQLConn interface {
	Close() error
	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (string, error)
	Setting(ctx context.Context, name string) (string, error)
	PasswordEncryption(ctx context.Context) (string, error)
	RoleExists(ctx context.Context, name string) (bool, error)
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateRole(ctx context.Context, name, password string) error
	CreateDatabase(ctx context.Context, name, owner string) error
	GrantDatabase(ctx context.Context, database, role string) error
	RevokePublicConnect(ctx context.Context, database string) error
	SetPasswordEncryption(ctx context.Context, method string) error
	RoundTrip(ctx context.Context, table string) error
}

// Connector opens a SQLConn for a DSN. Production code uses
// PostgresConnector; tests substitute fakes.
type Connector func(ctx context.Context, dsn string) (SQLConn, error)

// PostgresConnector is the production Connector.
func PostgresConnector(ctx context.Context, dsn string) (SQLConn, error) {
	return postgres.Connect(ctx, dsn)
}
