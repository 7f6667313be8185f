package testkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Stack is the backing infrastructure of one integration run: the Postgres
// snapshot store and the Redis instance that the shared rates copy and the
// refresh queue both live in.
type Stack struct {
	mu    sync.Mutex
	cfg   Config
	pg    *PostgresModule
	redis *RedisModule

	db  *sql.DB
	rdb *redis.Client
}

// MigrateFunc prepares the snapshot schema on a freshly opened database.
type MigrateFunc func(db *sql.DB) error

var (
	shared     *Stack
	sharedOnce sync.Once
)

// Shared returns the stack used by Main.
func Shared() *Stack {
	sharedOnce.Do(func() {
		shared = &Stack{cfg: LoadConfig()}
	})
	return shared
}

// Start brings up Postgres and Redis (containers or RATESVC_TEST_* overrides),
// opens the snapshot database, applies migrate and connects to Redis.
func (s *Stack) Start(ctx context.Context, migrate MigrateFunc) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return errors.New("stack already started")
	}
	defer func() {
		if err != nil {
			s.stopLocked(ctx)
		}
	}()

	if s.pg, err = StartPostgres(ctx, &s.cfg); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	if s.redis, err = StartRedis(ctx, &s.cfg); err != nil {
		return fmt.Errorf("rates redis: %w", err)
	}

	if s.db, err = OpenDB(ctx, s.pg.DSN()); err != nil {
		return err
	}
	if migrate != nil {
		if err = migrate(s.db); err != nil {
			return fmt.Errorf("migrate snapshot store: %w", err)
		}
	}

	s.rdb = redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	if err = s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping rates redis: %w", err)
	}
	return nil
}

// Stop closes connections and removes the containers. With
// RATESVC_TEST_KEEP_CONTAINERS set the containers stay up and the overrides
// that point a later run at them are printed instead.
func (s *Stack) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Stack) stopLocked(ctx context.Context) {
	if s.rdb != nil {
		_ = s.rdb.Close()
		s.rdb = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}

	if s.cfg.KeepContainers {
		if s.pg != nil {
			fmt.Fprintln(os.Stderr, "RATESVC_TEST_PG_DSN="+s.pg.DSN())
		}
		if s.redis != nil {
			fmt.Fprintln(os.Stderr, "RATESVC_TEST_REDIS_ADDR="+s.redis.Addr())
		}
		s.pg, s.redis = nil, nil
		return
	}

	if s.redis != nil {
		if err := s.redis.Terminate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "terminate redis:", err)
		}
		s.redis = nil
	}
	if s.pg != nil {
		if err := s.pg.Terminate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "terminate postgres:", err)
		}
		s.pg = nil
	}
}

// DB is the migrated snapshot database.
func (s *Stack) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Redis is a client for the shared rates Redis.
func (s *Stack) Redis() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rdb
}

// RedisAddr is the host:port of the shared rates Redis, for asynq clients.
func (s *Stack) RedisAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redis == nil {
		return ""
	}
	return s.redis.Addr()
}

// Reset empties the snapshot history and flushes Redis so each test starts
// without stored rates, cached tables or queued refreshes.
func (s *Stack) Reset(ctx context.Context) error {
	db, rdb := s.DB(), s.Redis()
	if db == nil || rdb == nil {
		return errors.New("stack not started")
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE rate_snapshots"); err != nil {
		return fmt.Errorf("truncate rate_snapshots: %w", err)
	}
	return rdb.FlushDB(ctx).Err()
}

// Main starts the shared stack, runs the package tests and stops it.
// Call it from TestMain.
func Main(m *testing.M, migrate MigrateFunc) {
	ctx := context.Background()
	stack := Shared()

	if err := stack.Start(ctx, migrate); err != nil {
		fmt.Fprintf(os.Stderr, "integration stack: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	stack.Stop(ctx)
	os.Exit(code)
}
