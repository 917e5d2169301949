package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// Intiface Central advertises its engine over mDNS when "broadcast server" is on.
const (
	intifaceService = "_intiface_engine._tcp"
	intifaceDomain  = "local."
)

var errNoIntifaceFound = errors.New("no intiface server advertised")

// discoverIntiface browses mDNS for an Intiface engine and returns the websocket
// URL of the first one that announces an IPv4 address.
func discoverIntiface(ctx context.Context, timeout time.Duration, logger *slog.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("init mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if u, ok := intifaceURL(entry); ok {
				logger.Info("discovered intiface server", "instance", entry.Instance, "url", u)
				select {
				case found <- u:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, intifaceService, intifaceDomain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", intifaceService, err)
	}

	<-ctx.Done()
	select {
	case u := <-found:
		return u, nil
	default:
		return "", errNoIntifaceFound
	}
}

func intifaceURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 || entry.Port <= 0 {
		return "", false
	}
	host := net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port))
	return "ws://" + host, true
}
