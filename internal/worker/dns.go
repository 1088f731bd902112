package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// DNSRefresher keeps the upstream DNS cache warm and drops hosts that were
// not looked up since the previous refresh.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

// NewDNSRefresher creates a DNSRefresher for resolver.
func NewDNSRefresher(resolver *dnscache.Resolver, interval time.Duration) *DNSRefresher {
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes every interval until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}
