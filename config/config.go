package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseDriver   string
	SQLitePath       string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	BaseURL      string
	Zipcode      string
	Distance     int
	ListingLimit int

	ScrapeDelay     time.Duration
	MaxRetries      int
	PageLoadTimeout time.Duration
	ReadyTimeout    time.Duration
	Headless        bool
	ChromeBin       string

	CSVOutputPath string
	LogLevel      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		DatabaseDriver:   strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		SQLitePath:       getEnv("SQLITE_PATH", "./contractors.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "contractors"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		BaseURL:      getEnv("BASE_URL", "https://www.gaf.com/en-us/roofing-contractors/residential"),
		Zipcode:      getEnv("ZIPCODE", "10013"),
		Distance:     getEnvInt("DISTANCE", 25),
		ListingLimit: getEnvInt("LISTING_LIMIT", 10),

		ScrapeDelay:     time.Duration(getEnvInt("SCRAPE_DELAY_MS", 2000)) * time.Millisecond,
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		PageLoadTimeout: getEnvDuration("PAGE_LOAD_TIMEOUT_S", 60*time.Second),
		ReadyTimeout:    getEnvDuration("READY_TIMEOUT_S", 30*time.Second),
		Headless:        getEnvBool("HEADLESS", true),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		CSVOutputPath: lookupEnv("CSV_OUTPUT_PATH", "./output/raw_contractors.csv"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DatabaseDriver != "postgres" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// lookupEnv is getEnv for keys where an explicit empty value means "off".
func lookupEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
