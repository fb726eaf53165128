package discovery

import "errors"

var (
	// ErrDNSLookupFailed indicates a DNS query failed.
	ErrDNSLookupFailed = errors.New("discovery: DNS lookup failed")

	// ErrNoEndpoints indicates no SRV records were found for the scope.
	ErrNoEndpoints = errors.New("discovery: no endpoints found")

	// ErrDNSSECValidationFailed indicates the upstream resolver did not
	// authenticate the answer.
	ErrDNSSECValidationFailed = errors.New("discovery: DNSSEC validation failed")

	// ErrNoPeersConnected indicates every discovered endpoint failed to connect.
	ErrNoPeersConnected = errors.New("discovery: no peers connected")

	// ErrNoDomain indicates neither a scope nor a default domain was given.
	ErrNoDomain = errors.New("discovery: no domain to search")
)
