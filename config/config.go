// Package config はアプリケーション設定を管理します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// バックエンドの種類
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Config はアプリケーション全体の設定を保持します。
type Config struct {
	// データディレクトリのパス
	DataDir string

	// HTTPサーバーのポート
	Port string

	// API認証キー
	APIKey string

	// ストアのバックエンド (sqlite, bolt, memory, mongo)
	Backend       string
	MongoURI      string
	MongoDatabase string

	// ストアの容量上限 (バイト)
	QuotaBytes int64

	// 期限と優先度の計算に使うタイムゾーン
	Location *time.Location

	// 自動同期の間隔。0の場合は自動同期しない
	SyncInterval time.Duration

	// 外部APIへのリクエストのタイムアウトと毎秒のリクエスト数の上限
	RequestTimeout time.Duration
	RateLimit      float64

	// 再同期の際に完了状態を引き継ぐかどうか
	PreserveCompletion bool

	LogLevel string

	// Canvas
	CanvasURL   string
	CanvasToken string

	// Google Classroom
	GoogleAccessToken  string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string
	ClassroomEndpoint  string
}

// LoadDotEnv はpathの.envファイルを読み込みます。ファイルがない場合は何もしません。
// すでに設定されている環境変数は上書きしません。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// NewConfig は環境変数から設定を読み込み、Configインスタンスを生成します。
func NewConfig() (*Config, error) {
	cfg := &Config{
		DataDir:            getEnv("STUDYFLOW_DATA_DIR", filepath.Join(".", "data")),
		Port:               getEnv("STUDYFLOW_SERVER_PORT", "8080"),
		APIKey:             os.Getenv("STUDYFLOW_API_KEY"),
		Backend:            getEnv("STUDYFLOW_BACKEND", BackendSQLite),
		MongoURI:           os.Getenv("STUDYFLOW_MONGODB_URI"),
		MongoDatabase:      getEnv("STUDYFLOW_MONGODB_DATABASE", "studyflow"),
		LogLevel:           getEnv("STUDYFLOW_LOG_LEVEL", "info"),
		CanvasURL:          os.Getenv("CANVAS_URL"),
		CanvasToken:        os.Getenv("CANVAS_TOKEN"),
		GoogleAccessToken:  os.Getenv("GOOGLE_ACCESS_TOKEN"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
		ClassroomEndpoint:  os.Getenv("GOOGLE_CLASSROOM_ENDPOINT"),
	}

	var err error
	if cfg.QuotaBytes, err = getInt64("STUDYFLOW_QUOTA_BYTES", 10<<20); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getDuration("STUDYFLOW_SYNC_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("STUDYFLOW_REQUEST_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getFloat("STUDYFLOW_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.PreserveCompletion, err = getBool("STUDYFLOW_PRESERVE_COMPLETION", false); err != nil {
		return nil, err
	}

	cfg.Location = time.Local
	if tz := os.Getenv("STUDYFLOW_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid STUDYFLOW_TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	switch cfg.Backend {
	case BackendSQLite, BackendBolt, BackendMemory:
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("STUDYFLOW_MONGODB_URI is required for the mongo backend")
		}
	default:
		return nil, fmt.Errorf("invalid STUDYFLOW_BACKEND %q: use sqlite, bolt, memory or mongo", cfg.Backend)
	}
	if cfg.QuotaBytes <= 0 {
		return nil, errors.New("STUDYFLOW_QUOTA_BYTES must be positive")
	}
	if cfg.SyncInterval < 0 || cfg.RequestTimeout < 0 || cfg.RateLimit < 0 {
		return nil, errors.New("durations and rate limit must not be negative")
	}

	return cfg, nil
}

// CanvasConfigured はCanvasの接続情報が設定されているかどうかを返します。
func (c *Config) CanvasConfigured() bool {
	return c.CanvasURL != "" && c.CanvasToken != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
