package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/moonhollow/werewolf-arena/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Database bundles the postgres pool and the redis client.
type Database struct {
	PG    *pgxpool.Pool
	Redis *redis.Client
}

// New connects to postgres and redis and verifies both with a ping.
func New(ctx context.Context, cfg *config.Config) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Database{PG: pool, Redis: rdb}, nil
}

// Migrate applies the embedded schema. Statements are idempotent, so running
// it on every startup is safe.
func (db *Database) Migrate(ctx context.Context) error {
	if _, err := db.PG.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Health reports per-backend reachability.
func (db *Database) Health(ctx context.Context) map[string]string {
	health := make(map[string]string)

	if err := db.PG.Ping(ctx); err != nil {
		health["postgres"] = "unhealthy: " + err.Error()
	} else {
		health["postgres"] = "healthy"
	}

	if err := db.Redis.Ping(ctx).Err(); err != nil {
		health["redis"] = "unhealthy: " + err.Error()
	} else {
		health["redis"] = "healthy"
	}

	return health
}

// Close releases both connections.
func (db *Database) Close() {
	if db.PG != nil {
		db.PG.Close()
	}
	if db.Redis != nil {
		db.Redis.Close()
	}
}
