package validate

import (
	"context"
	"net"
	"net/url"
)

// MaxURLLength is the hard cap on URL length.
const MaxURLLength = 2048

// reservedNetworks is the private/reserved CIDR table an SSRF guard must
// fail-closed against, grounded directly on
// internal/adapter/inbound/httpgw/ssrf.go's privateNetworks table plus the
// additional carrier-grade-NAT and "this network" ranges worth blocking.
var reservedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918 private
		"172.16.0.0/12",  // RFC 1918 private
		"192.168.0.0/16", // RFC 1918 private
		"169.254.0.0/16", // link-local (cloud metadata services)
		"100.64.0.0/10",  // carrier-grade NAT
		"0.0.0.0/8",      // "this network"
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("validate: invalid reserved CIDR " + cidr)
		}
		reservedNetworks = append(reservedNetworks, network)
	}
}

// IsReservedIP reports whether ip falls inside a loopback, link-local,
// multicast, or private/reserved range.
func IsReservedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, n := range reservedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS lookups so SSRF checks can be driven with a
// scripted resolver in tests, mirroring its
// DNSResolver.WithLookupFunc option (internal/domain/action/dns_resolver.go).
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// NetResolver is the production Resolver backed by net.DefaultResolver.
type NetResolver struct{}

func (NetResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// CheckSSRF resolves host and fails closed: any lookup error, an empty
// result set, or any resolved address landing in a reserved range blocks
// the request.
func CheckSSRF(ctx context.Context, resolver Resolver, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if IsReservedIP(ip) {
			return &BlockedError{Reason: "SSRF blocked: " + host + " is a reserved/private address"}
		}
		return nil
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return &BlockedError{Reason: "SSRF blocked: DNS resolution failed for " + host}
	}
	if len(addrs) == 0 {
		return &BlockedError{Reason: "SSRF blocked: no addresses resolved for " + host}
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil || IsReservedIP(ip) {
			return &BlockedError{Reason: "SSRF blocked: " + host + " resolves to a reserved/private address (" + addr + ")"}
		}
	}
	return nil
}

// ValidateURL enforces length, scheme, and SSRF checks before a URL is
// handed to any outbound fetch.
func ValidateURL(ctx context.Context, resolver Resolver, raw string) error {
	if len(raw) > MaxURLLength {
		return &SizeExceededError{Field: "url", Limit: MaxURLLength, Got: len(raw)}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("invalid_url", "could not parse URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &BlockedError{Reason: "scheme " + u.Scheme + " is not allowed (only http/https)"}
	}
	if u.Hostname() == "" {
		return NewValidationError("invalid_url", "URL has no hostname")
	}

	return CheckSSRF(ctx, resolver, u.Hostname())
}
