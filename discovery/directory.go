package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxParallelDials = 4

// Connector opens a transport connection to a host:port endpoint.
// Connecting to an endpoint that is already connected must be a no-op.
type Connector interface {
	Connect(ctx context.Context, addr string) error
}

// DNSDirectory is a peer directory backed by DNS SRV records.
type DNSDirectory struct {
	Resolver  DNSResolver
	Connector Connector
	// Domain is searched when DiscoverAndConnect is given an empty scope.
	Domain string
	// Service overrides SRVBlockPeer.
	Service string
	Logger  *logrus.Logger
}

// NewDNSDirectory creates a directory. A nil resolver uses DefaultDNSResolver.
func NewDNSDirectory(domain string, resolver DNSResolver, connector Connector, log *logrus.Logger) *DNSDirectory {
	if resolver == nil {
		resolver = DefaultDNSResolver
	}
	if log == nil {
		log = logrus.New()
	}
	return &DNSDirectory{Resolver: resolver, Connector: connector, Domain: domain, Service: SRVBlockPeer, Logger: log}
}

// Endpoints returns the advertised endpoints for scope.
func (d *DNSDirectory) Endpoints(ctx context.Context, scope string) ([]string, error) {
	domain := scope
	if domain == "" {
		domain = d.Domain
	}
	if domain == "" {
		return nil, ErrNoDomain
	}
	service := d.Service
	if service == "" {
		service = SRVBlockPeer
	}
	return ResolveEndpoints(ctx, d.Resolver, service, domain)
}

// DiscoverAndConnect looks up peers for scope and connects to each of them.
// It succeeds if at least one endpoint connected.
func (d *DNSDirectory) DiscoverAndConnect(ctx context.Context, scope string) error {
	endpoints, err := d.Endpoints(ctx, scope)
	if err != nil {
		return err
	}

	var (
		mu        sync.Mutex
		connected int
		errs      []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDials)
	for _, ep := range endpoints {
		g.Go(func() error {
			err := d.Connector.Connect(gctx, ep)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ep, err))
				d.Logger.WithFields(logrus.Fields{"peer": ep}).WithError(err).Debug("discovery: connect failed")
				return nil
			}
			connected++
			return nil
		})
	}
	_ = g.Wait()

	d.Logger.WithFields(logrus.Fields{
		"scope":     scope,
		"endpoints": len(endpoints),
		"connected": connected,
	}).Debug("discovery: round finished")

	if connected == 0 {
		return fmt.Errorf("%w: %w", ErrNoPeersConnected, errors.Join(errs...))
	}
	return nil
}
