package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var Bolt *bbolt.DB

// OpenBolt opens (or creates) the embedded database file, creating parent
// directories as needed.
func OpenBolt(path string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	return db, nil
}

func ConnectBolt(path string) error {
	db, err := OpenBolt(path)
	if err != nil {
		return err
	}
	Bolt = db
	fmt.Println("Successfully opened bolt database at", path)
	return nil
}

func CloseBolt() {
	if Bolt != nil {
		Bolt.Close()
		fmt.Println("Bolt database closed.")
	}
}
