package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string // empty: fetch-miss log disabled
	RedisAddr   string // empty: review cache disabled
	RedisDB     int
	RedisPass   string
	MeliBase    string
	SiteID      string
	AccessToken string
	MeliRPS     int
	MaxLimit    int
	Concurrency int // in-flight review fetch cap
	CacheTTL    time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		MySQLDSN:    env("MYSQL_DSN", ""),
		RedisAddr:   env("REDIS_ADDR", ""),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		MeliBase:    env("ML_BASE_URL", "https://api.mercadolibre.com"),
		SiteID:      env("ML_SITE_ID", "MLB"),
		AccessToken: env("ML_ACCESS_TOKEN", ""),
		MeliRPS:     atoi("ML_RPS", 5),
		MaxLimit:    atoi("MAX_LIMIT", 50),
		Concurrency: atoi("REVIEWS_CONCURRENCY", 8),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
	}
	if c.AccessToken == "" {
		log.Warn().Msg("ML_ACCESS_TOKEN is empty; reviews may be forbidden upstream")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
