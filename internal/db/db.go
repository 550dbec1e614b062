package db

import (
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/credential"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Open picks a driver from the DSN shape: "sqlite:" or "file:" prefixes use
// the embedded SQLite driver, anything else is treated as a MySQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = gormsqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		dialector = gormsqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return gdb, nil
}

// Connect opens the database and migrates the relay tables, exiting on failure.
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		logger.Fatal("failed to connect database", err)
	}
	if err := Migrate(gdb); err != nil {
		logger.Fatal("failed to migrate database", err)
	}
	logger.Infow("database connected", "driver", gdb.Dialector.Name())
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Chat{},
		&chat.Message{},
		&chat.Job{},
		&credential.APIKey{},
		&quota.RequestLimit{},
	)
}
