package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"textflow/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// BrokerConfig holds credentials for the external connection broker that
// performs the actual OAuth/API-key handshake with CRM providers.
type BrokerConfig struct {
	APIURL    string `json:"api_url"`
	SecretKey string `json:"-"`
	OwnerTag  string `json:"owner_tag"` // prefix for broker owner ids, e.g. "textflow"
}

type Config struct {
	Environment    string       `json:"environment"`
	Google         OAuthConfig  `json:"google"`
	Broker         BrokerConfig `json:"broker"`
	UIBaseURL      string       `json:"ui_base_url"`
	EncryptionKey  string       `json:"-"`
	ServerPort     string       `json:"server_port"`
	DBHost         string       `json:"db_host"`
	DBPort         string       `json:"db_port"`
	DBUser         string       `json:"db_user"`
	DBPassword     string       `json:"-"`
	DBName         string       `json:"db_name"`
	DBSSLMode      string       `json:"db_ssl_mode"`
	DBMaxIdleConns int          `json:"db_max_idle_conns"`
	DBMaxOpenConns int          `json:"db_max_open_conns"`
	RateLimitSync  int          `json:"rate_limit_sync"`
	Redis          RedisConfig  `json:"redis"`
	SMTPHost       string       `json:"smtp_host"`
	SMTPPort       string       `json:"smtp_port"`
	SMTPUsername   string       `json:"smtp_username"`
	SMTPPassword   string       `json:"-"`
	FromEmail      string       `json:"from_email"`

	// Background auto-sync
	SyncWorkerEnabled  bool          `json:"sync_worker_enabled"`
	SyncWorkerInterval time.Duration `json:"sync_worker_interval"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		Broker: BrokerConfig{
			APIURL:    getEnv("BROKER_API_URL", "https://api.connectbroker.io"),
			SecretKey: getEnv("BROKER_SECRET_KEY", ""),
			OwnerTag:  getEnv("BROKER_OWNER_TAG", "textflow"),
		},
		UIBaseURL:      getEnv("UI_BASE_URL", "http://localhost:3000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "textflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		RateLimitSync:  getEnvAsInt("RATE_LIMIT_SYNC_CONTACTS", 5),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "no-reply@textflow.app"),

		SyncWorkerEnabled:  getEnv("SYNC_WORKER_ENABLED", "true") == "true",
		SyncWorkerInterval: getEnvAsDuration("SYNC_WORKER_INTERVAL", 6*time.Hour),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.Broker.SecretKey == "" {
		return fmt.Errorf("BROKER_SECRET_KEY is required for CRM integrations")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.Google.ClientID == "" || AppConfig.Google.ClientSecret == "" {
			return fmt.Errorf("Google OAuth credentials are required in production")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Broker API: %s (key set: %t)",
		AppConfig.Broker.APIURL,
		AppConfig.Broker.SecretKey != "")
}
