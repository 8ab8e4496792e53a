package main

import (
	"context"
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "github.com/Milesbeckerle/mercado-livre-api/internal/adapters/http_server"
	"github.com/Milesbeckerle/mercado-livre-api/internal/adapters/meli"
	"github.com/Milesbeckerle/mercado-livre-api/internal/adapters/observability"
	redisad "github.com/Milesbeckerle/mercado-livre-api/internal/adapters/redis"
	"github.com/Milesbeckerle/mercado-livre-api/internal/app"
	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
	"github.com/Milesbeckerle/mercado-livre-api/internal/shared"
	mysqlrepo "github.com/Milesbeckerle/mercado-livre-api/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve(cfg.MetricsAddr)

	client, err := meli.New(cfg.MeliBase, cfg.SiteID, cfg.AccessToken, cfg.MeliRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize meli client")
	}

	// optional review cache
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		cache = redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		log.Info().Str("addr", cfg.RedisAddr).Msg("review cache enabled")
	}

	// optional fetch-miss log
	var misses domain.FetchLog
	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		if err := db.Ping(); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		repo := mysqlrepo.New(db)
		if err := repo.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
		misses = repo
		log.Info().Msg("fetch-miss log enabled")
	}

	svc := app.NewSearchService(client, cache, misses, cfg.MaxLimit, cfg.Concurrency, cfg.CacheTTL)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{S: svc, Misses: misses})

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("site", cfg.SiteID).
		Int("max_limit", cfg.MaxLimit).
		Int("concurrency", cfg.Concurrency).
		Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
