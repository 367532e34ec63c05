// Package postgres wraps the SQL surface dbstack needs: principal
// connections, server settings, role/database management for the one-time
// initialization routine, and the verifier's round-trip probe.
package postgres

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Connection
// =============================================================================

// Conn is a connection bound to one principal and one database.
type Conn struct {
	db *sqlx.DB
}

// Connect opens a connection and verifies it with a ping. The caller owns
// the returned Conn and must Close it.
func Connect(ctx context.Context, dsn string) (*Conn, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &Conn{db: db}, nil
}

// Close closes the connection pool.
func (c *Conn) Close() error {
	return c.db.Close()
}

// Ping runs the trivial authenticated query.
func (c *Conn) Ping(ctx context.Context) error {
	var one int
	if err := c.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("trivial query failed: %w", err)
	}
	return nil
}

// ServerVersion returns the server version string.
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.db.GetContext(ctx, &v, "SHOW server_version"); err != nil {
		return "", err
	}
	return v, nil
}

// Setting returns the current value of a server configuration parameter.
func (c *Conn) Setting(ctx context.Context, name string) (string, error) {
	var v string
	if err := c.db.GetContext(ctx, &v, "SELECT current_setting($1)", name); err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	return v, nil
}

// PasswordEncryption returns the negotiated password encryption mode.
func (c *Conn) PasswordEncryption(ctx context.Context) (string, error) {
	return c.Setting(ctx, "password_encryption")
}

// =============================================================================
// Roles and Databases
// =============================================================================

// RoleExists reports whether a role of the given name exists.
func (c *Conn) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", name)
	return exists, err
}

// DatabaseExists reports whether a database of the given name exists.
func (c *Conn) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name)
	return exists, err
}

// CreateRole creates a login role. Identifiers cannot be bound as
// parameters, so both values go through quoting.
func (c *Conn) CreateRole(ctx context.Context, name, password string) error {
	stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s",
		QuoteIdentifier(name), QuoteLiteral(password))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create role %s: %w", name, err)
	}
	return nil
}

// CreateDatabase creates a database owned by the given role.
func (c *Conn) CreateDatabase(ctx context.Context, name, owner string) error {
	stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
		QuoteIdentifier(name), QuoteIdentifier(owner))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}

// GrantDatabase grants full privileges on a database to a role.
func (c *Conn) GrantDatabase(ctx context.Context, database, role string) error {
	stmt := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		QuoteIdentifier(database), QuoteIdentifier(role))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to grant %s on %s: %w", role, database, err)
	}
	return nil
}

// RevokePublicConnect removes the default CONNECT privilege on a database.
// This is what keeps the application principal out of the administrative
// database.
func (c *Conn) RevokePublicConnect(ctx context.Context, database string) error {
	stmt := fmt.Sprintf("REVOKE CONNECT ON DATABASE %s FROM PUBLIC",
		QuoteIdentifier(database))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to revoke public connect on %s: %w", database, err)
	}
	return nil
}

// SetPasswordEncryption sets the cluster-wide password encryption method and
// reloads the server configuration.
func (c *Conn) SetPasswordEncryption(ctx context.Context, method string) error {
	stmt := fmt.Sprintf("ALTER SYSTEM SET password_encryption = %s", QuoteLiteral(method))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to set password_encryption: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "SELECT pg_reload_conf()"); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	return nil
}

// =============================================================================
// Round Trip
// =============================================================================

// RoundTrip creates the named throwaway table, writes one row, reads it
// back, and drops the table. The drop runs on every exit path.
func (c *Conn) RoundTrip(ctx context.Context, table string) error {
	ident := QuoteIdentifier(table)

	if _, err := c.db.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE %s (id SERIAL PRIMARY KEY, note TEXT NOT NULL)", ident)); err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	defer c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident))

	if _, err := c.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (note) VALUES ($1)", ident), "persistence probe"); err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	var note string
	if err := c.db.GetContext(ctx, &note,
		fmt.Sprintf("SELECT note FROM %s LIMIT 1", ident)); err != nil {
		return fmt.Errorf("select failed: %w", err)
	}
	if note != "persistence probe" {
		return fmt.Errorf("read back %q, want %q", note, "persistence probe")
	}

	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", ident)); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}
	return nil
}

// =============================================================================
// Quoting
// =============================================================================

// QuoteIdentifier double-quotes a SQL identifier, escaping embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral single-quotes a SQL string literal, escaping embedded quotes.
func QuoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
