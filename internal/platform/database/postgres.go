package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"aca_backend/internal/platform/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	connMaxIdleTime = time.Minute
	pingTimeout     = 10 * time.Second
)

var DB *sql.DB

// Connect opens the pgx-backed pool, tags its sessions with the service name
// and applies pending migrations.
func Connect() {
	connCfg, err := pgx.ParseConfig(config.AppConfig.DBConnStr)
	if err != nil {
		log.Fatalf("Error parsing database config: %v", err)
	}
	connCfg.RuntimeParams["application_name"] = "aca_backend"

	DB = stdlib.OpenDB(*connCfg)
	DB.SetMaxOpenConns(maxOpenConns)
	DB.SetMaxIdleConns(maxIdleConns)
	DB.SetConnMaxLifetime(connMaxLifetime)
	DB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := DB.PingContext(ctx); err != nil {
		log.Fatalf("Error connecting to database %s at %s:%d: %v", connCfg.Database, connCfg.Host, connCfg.Port, err)
	}

	fmt.Printf("Connected to PostgreSQL database %s at %s:%d\n", connCfg.Database, connCfg.Host, connCfg.Port)

	if err := Migrate(config.AppConfig.DBMigrationURL); err != nil {
		log.Fatalf("Error migrating database: %v", err)
	}
}

func Close() {
	if DB != nil {
		DB.Close()
		fmt.Println("Database connection closed.")
	}
}
