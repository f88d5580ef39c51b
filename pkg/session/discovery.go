package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const mdnsService = "_telescrawl._tcp"

// advertise registers this session on the local network so peers sharing
// the same document can find each other without exchanging a ticket by
// hand. Best effort: mDNS failures never affect the session.
func advertise(ctx context.Context, docID, addr string) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		slog.Warn("failed to parse listen address for discovery", "err", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		slog.Warn("failed to parse listen port for discovery", "err", err)
		return
	}
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("telescrawl-%s-%d", host, os.Getpid()),
		mdnsService,
		"local.",
		port,
		[]string{"doc=" + docID},
		nil,
	)
	if err != nil {
		slog.Warn("failed to register mdns service", "err", err)
		return
	}
	slog.Info("mdns service registered", "doc", docID, "port", port)
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
}

// browse looks for other sessions advertising the same document and emits
// their endpoints on the returned channel until the context ends.
func browse(ctx context.Context, docID string) (<-chan string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	endpoints := make(chan string)
	go func() {
		defer close(endpoints)
		for entry := range entries {
			if !hasDocTag(entry.Text, docID) || len(entry.AddrIPv4) == 0 {
				continue
			}
			ep := net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port))
			slog.Info("mdns discovered peer", "instance", entry.Instance, "endpoint", ep)
			select {
			case endpoints <- ep:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, mdnsService, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse mdns: %w", err)
	}
	return endpoints, nil
}

func hasDocTag(txt []string, docID string) bool {
	for _, t := range txt {
		if t == "doc="+docID {
			return true
		}
	}
	return false
}
