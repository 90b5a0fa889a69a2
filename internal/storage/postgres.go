package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/lib/pq"
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c *Credentials) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName)
}

// PostgresStore shares checkout state between several checkout-flow instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cred.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RunMigrations() error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "checkout_flow_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	return runMigrations("migrations/postgres", "postgres", driver)
}

func (s *PostgresStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := validate(scope, key); err != nil {
		return nil, err
	}

	query := `SELECT value FROM checkout_kv WHERE scope = $1 AND key = $2`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout value: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, scope, key string, value []byte) error {
	if err := validate(scope, key); err != nil {
		return err
	}

	query := `INSERT INTO checkout_kv (scope, key, value, updated_at)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, scope, key, value); err != nil {
		return fmt.Errorf("upsert checkout value: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, scope string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query := `DELETE FROM checkout_kv WHERE scope = $1 AND key = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, scope, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete checkout values: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
