package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"

	ArtifactBackendLocal = "local"
	ArtifactBackendB2    = "b2"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	RunnerURL            string
	RunnerCallbackSecret string
	RunnerTimeout        time.Duration

	SubmissionsDir string
	ResultsDir     string
	MaxUploadSize  int64

	DBDriver           string
	DBFile             string
	DBHost             string
	DBPort             string
	DBUser             string
	DBPassword         string
	DBName             string
	DBSslMode          string
	DBConnStr          string
	DBMigrationURL     string
	SnapshotImportFile string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DispatchQueueName      string
	DispatchLockPrefix     string
	DispatchLockTTLSeconds int
	DispatchMaxAttempts    int
	DispatchBackoff        time.Duration
	DispatchMaxBackoff     time.Duration
	ReconcileInterval      time.Duration
	DispatchInProcess      bool

	ArtifactBackend  string
	B2AccountID      string
	B2ApplicationKey string
	B2Bucket         string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort: getEnv("PORT", "3000"),
		JWTKey:  []byte(getEnv("JWT_SECRET", "dev_secret_change_me")),
		JWTExp:  time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 12)) * time.Hour,

		RunnerURL:            strings.TrimRight(getEnv("RUNNER_URL", "http://localhost:5001"), "/"),
		RunnerCallbackSecret: getEnv("RUNNER_CALLBACK_SECRET", ""),
		RunnerTimeout:        time.Duration(getEnvAsInt("RUNNER_TIMEOUT_SECONDS", 90)) * time.Second,

		SubmissionsDir: getEnv("SUBMISSIONS_DIR", "./data/submissions"),
		ResultsDir:     getEnv("RESULTS_DIR", "./data/results"),
		MaxUploadSize:  getEnvAsBytes("MAX_UPLOAD_SIZE", 32<<20),

		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", DriverBolt)),
		DBFile:             getEnv("DB_FILE", "./data/aca.db"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "aca"),
		DBPassword:         getEnv("DB_PASSWORD", "aca"),
		DBName:             getEnv("DB_NAME", "aca"),
		DBSslMode:          getEnv("DB_SSLMODE", "disable"),
		SnapshotImportFile: getEnv("SNAPSHOT_IMPORT_FILE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		DispatchQueueName:      getEnv("DISPATCH_QUEUE_NAME", "aca_dispatch_queue"),
		DispatchLockPrefix:     getEnv("DISPATCH_LOCK_PREFIX", "aca_dispatch_lock"),
		DispatchLockTTLSeconds: getEnvAsInt("DISPATCH_LOCK_TTL_SECONDS", 120),
		DispatchMaxAttempts:    getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchBackoff:        time.Duration(getEnvAsInt("DISPATCH_BACKOFF_SECONDS", 2)) * time.Second,
		DispatchMaxBackoff:     time.Duration(getEnvAsInt("DISPATCH_MAX_BACKOFF_SECONDS", 300)) * time.Second,
		ReconcileInterval:      time.Duration(getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 15)) * time.Second,
		DispatchInProcess:      getEnvAsBool("DISPATCH_IN_PROCESS", true),

		ArtifactBackend:  strings.ToLower(getEnv("ARTIFACT_BACKEND", ArtifactBackendLocal)),
		B2AccountID:      getEnv("B2_ACCOUNT_ID", ""),
		B2ApplicationKey: getEnv("B2_APPLICATION_KEY", ""),
		B2Bucket:         getEnv("B2_BUCKET", ""),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode

	// golang-migrate's pgx/v5 driver registers the pgx5 scheme.
	AppConfig.DBMigrationURL = "pgx5://" + AppConfig.DBUser + ":" + AppConfig.DBPassword +
		"@" + AppConfig.DBHost + ":" + AppConfig.DBPort + "/" + AppConfig.DBName +
		"?sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsBytes accepts human sizes such as "32MB" or "512 KiB".
func getEnvAsBytes(key string, fallback int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := humanize.ParseBytes(valueStr)
	if err != nil || value == 0 {
		log.Printf("WARN: invalid %s=%q, using %s", key, valueStr, humanize.Bytes(uint64(fallback)))
		return fallback
	}
	return int64(value)
}
