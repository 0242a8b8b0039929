// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var nameReplacer = strings.NewReplacer("/", "_", " ", "_")

// Open returns a shared-cache sqlite database private to t with models migrated.
// A single connection keeps concurrent transactions serialized like row locks would.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()
	return open(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", nameReplacer.Replace(t.Name())), models...)
}

// OpenFile is Open backed by a file under t.TempDir(). Use it when a test
// makes database/sql discard the connection (a cancelled or timed-out
// transaction), which would drop an in-memory database with it.
func OpenFile(t testing.TB, models ...any) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), nameReplacer.Replace(t.Name())+".db")
	return open(t, "file:"+path+"?_pragma=busy_timeout(5000)", models...)
}

func open(t testing.TB, dsn string, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
