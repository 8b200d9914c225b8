package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"Moonveil/internal/game"
)

func main() {
	cfg, err := game.DefaultConfig()
	if err != nil {
		log.Fatal(err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP address to listen on")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory holding maps, keys, logs and the database")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database")
	flag.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Game loop frequency in ticks per second")
	flag.StringVar(&cfg.MOTD, "motd", cfg.MOTD, "Message of the day sent to connecting clients")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := game.ListenAndServe(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}
