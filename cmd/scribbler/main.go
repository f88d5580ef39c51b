package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/session"
)

// A tiny load generator: joins a ticket and scribbles random characters
// onto the shared canvas while wiggling its cursor, useful for watching
// convergence and presence behave under concurrent edits.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	joinVar := flag.String("join", "", "ticket of the session to scribble on")
	nameVar := flag.String("name", "scribbler", "display name")
	flag.Parse()
	if *joinVar == "" {
		return fmt.Errorf("a -join ticket is required")
	}

	cfg := session.Config{
		Listen:           "127.0.0.1:0",
		Name:             *nameVar,
		PresenceInterval: 250 * time.Millisecond,
		PresenceTTL:      5 * time.Second,
		SaveInterval:     5 * time.Second,
	}
	s, err := session.NewManager(cfg).Join(*joinVar)
	if err != nil {
		return err
	}
	defer s.Close()
	slog.Info("joined", "doc", s.DocID(), "actor", s.Actor())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scribbleContinuously(ctx, s)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	return nil
}

func scribbleContinuously(ctx context.Context, s *session.Session) {
	glyphs := []string{"#", "*", "+", "o", ".", "@"}
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(3)))
		select {
		case <-t.C:
			at := op.Point{X: rand.Intn(40), Y: rand.Intn(12)}
			ch := glyphs[rand.Intn(len(glyphs))]
			s.Submit([]op.Payload{{
				Kind:  op.PayloadSetCells,
				Cells: []op.CellPut{{At: at, Cell: &op.Cell{Ch: ch}}},
			}})
			s.PublishPresence(at, "freehand")
			slog.Info("scribbled", "at", at, "ch", ch, "cells", s.Snapshot().CellCount())
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scribbler")
			return
		}
	}
}
