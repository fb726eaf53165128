// Package discovery finds block peers through DNS SRV records and connects
// the transport to them.
//
// Peers publish _blockpeer._tcp.{domain} records. A scope names the domain
// to search; the directory's default domain is used when the scope is empty.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
)

// DNSResolver defines the interface for SRV lookups.
// This allows tests to mock DNS resolution.
type DNSResolver interface {
	// LookupSRV looks up SRV records for the given service, proto, and name.
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// netResolver wraps the standard library resolver.
type netResolver struct{}

func (netResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	return net.DefaultResolver.LookupSRV(ctx, service, proto, name)
}

// DefaultDNSResolver is the production resolver using the net package.
var DefaultDNSResolver DNSResolver = netResolver{}

// SRVBlockPeer is the SRV service name peers publish: _blockpeer._tcp.{domain}
const SRVBlockPeer = "blockpeer"

// ResolveEndpoints resolves the SRV records of domain into host:port
// endpoints sorted by priority (ascending) then weight (descending).
func ResolveEndpoints(ctx context.Context, resolver DNSResolver, service, domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDNSLookupFailed)
	}
	if service == "" {
		return nil, fmt.Errorf("%w: empty service", ErrDNSLookupFailed)
	}

	_, addrs, err := resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: SRV lookup for _%s._tcp.%s: %w", ErrDNSLookupFailed, service, domain, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no SRV records for _%s._tcp.%s", ErrNoEndpoints, service, domain)
	}

	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})

	endpoints := make([]string, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, srv := range addrs {
		host := strings.TrimSuffix(srv.Target, ".")
		ep := net.JoinHostPort(host, fmt.Sprint(srv.Port))
		if host == "" || seen[ep] {
			continue
		}
		seen[ep] = true
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: only empty SRV targets for _%s._tcp.%s", ErrNoEndpoints, service, domain)
	}
	return endpoints, nil
}
