// pkg/db/db.go
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"hullclient/pkg/config"
	"hullclient/pkg/logger"
)

// Connect opens and pings a Postgres pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// MustConnect returns nil when DATABASE_URL is unset; connection failures are
// fatal.
func MustConnect(cfg config.Config, log logger.Sugared) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	pool, err := Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("pg connect", "err", err)
	}
	log.Infow("postgres ready", "host", redactDSN(cfg.DatabaseURL))
	return pool
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// MustRedis returns nil when REDIS_URL is unset; connection failures are
// fatal.
func MustRedis(cfg config.Config, log logger.Sugared) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	cli, err := ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis connect", "err", err)
	}
	log.Infow("redis ready", "addr", cli.Options().Addr)
	return cli
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		return "***@" + dsn[i+1:]
	}
	return dsn
}
