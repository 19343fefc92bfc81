package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/internal/core/state"
	"github.com/trailsync/trailsync/internal/core/systems/motion"
	"github.com/trailsync/trailsync/internal/core/tss"
	"github.com/trailsync/trailsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	seed := flag.Uint64("seed", 1, "world seed shared by all participants")
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Println("Error loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	base := state.New(motion.Dispatch, state.WithSeed(*seed))
	if _, err := base.Store().Add(entity.New(&motion.Transform{})); err != nil {
		fmt.Println("Error seeding world:", err)
		os.Exit(1)
	}

	sim, err := tss.New(base, append([]command.Frame(nil), cfg.Engine.Delays...), nil)
	if err != nil {
		fmt.Println("Error building synchronizer:", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(cfg, sim)
	if err != nil {
		fmt.Println("Error creating server:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(ctx); err != nil {
		fmt.Println("Error starting server:", err)
		os.Exit(1)
	}

	<-stopCh
	cancel()
	if err := srv.Stop(context.Background()); err != nil {
		fmt.Println("Error stopping server:", err)
	}
}
