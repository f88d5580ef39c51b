package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"github.com/telescrawl/telescrawl/pkg/session"
	"github.com/telescrawl/telescrawl/pkg/viz"
)

// The headless collaboration daemon: hosts or joins a shared canvas and
// keeps it converged with its peers. Rendering and input live in separate
// frontends that attach through the session API; this binary is what they
// embed and what you run to smoke-test the engine.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg := session.Config{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse env config: %w", err)
	}

	joinVar := flag.String("join", "", "ticket of an existing session to join")
	offlineVar := flag.Bool("offline", cfg.Offline, "disable all connection attempts and broadcasts")
	listenVar := flag.String("listen", cfg.Listen, "the address to listen on for peers")
	nameVar := flag.String("name", cfg.Name, "display name carried in presence updates")
	discoverVar := flag.Bool("discover", cfg.Discovery, "advertise and browse for peers via mdns")
	historyVar := flag.String("history-svg", "", "render the operation history DAG to this file on shutdown")
	flag.Parse()

	cfg.Offline = *offlineVar
	cfg.Listen = *listenVar
	cfg.Name = *nameVar
	cfg.Discovery = *discoverVar
	if flag.NArg() > 0 {
		cfg.StoragePath = flag.Arg(0)
	}

	mgr := session.NewManager(cfg)
	var s *session.Session
	var err error
	if *joinVar != "" {
		s, err = mgr.Join(*joinVar)
	} else {
		s, err = mgr.Create()
	}
	if err != nil {
		return err
	}
	defer s.Close()

	slog.Info("session started", "doc", s.DocID(), "actor", s.Actor(), "offline", s.Offline())
	if !s.Offline() {
		slog.Info("share this ticket to invite peers", "ticket", s.Ticket())
	}

	s.Subscribe(func() {
		snap := s.Snapshot()
		slog.Info("canvas changed", "cells", snap.CellCount(), "shapes", len(snap.Shapes()))
	})

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)

	if *historyVar != "" {
		if err := viz.RenderHistorySvg(s.History(), *historyVar); err != nil {
			slog.Error("failed to render history", "err", err)
		} else {
			slog.Info("rendered history", "path", "file://"+*historyVar)
		}
	}
	return nil
}
