package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
	"github.com/robalobadob/memory/apps/go-server/internal/events"
	"github.com/robalobadob/memory/apps/go-server/internal/httpserver"
	"github.com/robalobadob/memory/apps/go-server/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	images, err := deck.Source(cfg.ImagesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open images")
	}
	// Fail fast on an unusable image set; the same checks run again per board.
	if _, err := deck.NewBuilder(images, nil).Build(); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ImagesDir).Msg("image set cannot deal a board")
	}

	db, err := openDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := migrate(db, os.DirFS(cfg.MigrationsDir)); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate")
	}

	pub, err := events.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer pub.Close()

	mem := store.NewMemoryStore()
	defer mem.CloseAll()

	srv := httpserver.New(mem, db, httpserver.Config{
		Images: images,
		Boards: deck.NewBuilder(images, nil),
		Delay:  cfg.MismatchDelay,
		Tick:   cfg.TickInterval,
		Events: pub,
	})
	log.Info().Str("port", cfg.Port).Bool("nats", cfg.NATSURL != "").Msg("starting go-server")
	if err := srv.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
