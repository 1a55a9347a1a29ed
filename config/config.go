// Package config loads service settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type (
	Config struct {
		StorageType    string
		DataSourceName string
		DatabaseURL    string

		ObjectStorageType string
		LocalStoragePath  string
		PublicBaseURL     string

		S3Bucket        string
		S3PublicBaseURL string

		MinioEndpoint  string
		MinioAccessKey string
		MinioSecretKey string
		MinioBucket    string
		MinioUseSSL    bool

		Gemini GeminiConfig
		Auth   AuthConfig

		DragMarkerKey   string
		DefaultCategory string
	}

	GeminiConfig struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}

	AuthConfig struct {
		JWTSecret string

		GitHubClientID     string
		GitHubClientSecret string
		GitHubRedirectURL  string

		OIDCIssuerURL    string
		OIDCClientID     string
		OIDCClientSecret string
		OIDCRedirectURL  string
	}
)

const (
	DefaultDragMarkerKey   = "bio-render-url"
	DefaultCategory        = "Uncategorized"
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel     = "gemini-1.5-pro"
	DefaultGeminiTimeout   = 2 * time.Minute
	DefaultPublicBaseURL   = "http://localhost:3002"
	DefaultLocalObjectPath = "./data/objects"
)

// Load reads .env (if any) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) *Config {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		StorageType:    get("STORAGE_TYPE", "memory"),
		DataSourceName: get("DATA_SOURCE_NAME", "picture-library.db"),
		DatabaseURL:    get("DATABASE_URL", ""),

		ObjectStorageType: get("OBJECT_STORAGE_TYPE", "memory"),
		LocalStoragePath:  get("LOCAL_STORAGE_PATH", DefaultLocalObjectPath),
		PublicBaseURL:     strings.TrimRight(get("PUBLIC_BASE_URL", DefaultPublicBaseURL), "/"),

		S3Bucket:        get("S3_BUCKET_NAME", ""),
		S3PublicBaseURL: strings.TrimRight(get("S3_PUBLIC_BASE_URL", ""), "/"),

		MinioEndpoint:  get("MINIO_ENDPOINT", ""),
		MinioAccessKey: get("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: get("MINIO_SECRET_KEY", ""),
		MinioBucket:    get("MINIO_BUCKET", "bio-icons"),

		Gemini: GeminiConfig{
			APIKey:  get("GEMINI_API_KEY", ""),
			BaseURL: strings.TrimRight(get("GEMINI_BASE_URL", DefaultGeminiBaseURL), "/"),
			Model:   get("GEMINI_MODEL", DefaultGeminiModel),
			Timeout: DefaultGeminiTimeout,
		},
		Auth: AuthConfig{
			JWTSecret:          get("JWT_SECRET", ""),
			GitHubClientID:     get("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: get("GITHUB_CLIENT_SECRET", ""),
			GitHubRedirectURL:  get("GITHUB_REDIRECT_URL", ""),
			OIDCIssuerURL:      get("OIDC_ISSUER_URL", ""),
			OIDCClientID:       get("OIDC_CLIENT_ID", ""),
			OIDCClientSecret:   get("OIDC_CLIENT_SECRET", ""),
			OIDCRedirectURL:    get("OIDC_REDIRECT_URL", ""),
		},

		DragMarkerKey:   get("DRAG_MARKER_KEY", DefaultDragMarkerKey),
		DefaultCategory: get("DEFAULT_CATEGORY", DefaultCategory),
	}

	if v := get("MINIO_USE_SSL", ""); v != "" {
		ssl, err := strconv.ParseBool(v)
		if err != nil {
			logrus.WithField("value", v).Warn("MINIO_USE_SSL is not a boolean, using false")
		}
		cfg.MinioUseSSL = ssl
	}
	if v := get("GEMINI_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logrus.WithField("value", v).Warn("GEMINI_TIMEOUT is not a duration, using default")
		} else {
			cfg.Gemini.Timeout = d
		}
	}

	if cfg.Gemini.APIKey == "" {
		logrus.Warn("GEMINI_API_KEY is not set. AI generation will be rejected.")
	}
	if cfg.Auth.JWTSecret == "" {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
	return cfg
}
