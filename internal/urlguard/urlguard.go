// Package urlguard gates candidate URLs before they reach the fetch pipeline.
// Feed and article URLs are attacker-influenced (OPML imports, user-submitted
// saves), so every fetchable URL must resolve to public address space unless
// the operator explicitly opts out.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ValidationError reports why a URL was rejected. It is fatal to the
// triggering call and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("url validation failed: %s", e.Reason)
}

// Resolver is satisfied by net.Resolver; tests inject a fake.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Validator struct {
	resolver Resolver

	// AllowPrivateNetworks is the operator override for deployments that
	// intentionally fetch from internal hosts.
	allowPrivate bool
}

func New(allowPrivate bool) *Validator {
	return &Validator{
		resolver:     net.DefaultResolver,
		allowPrivate: allowPrivate,
	}
}

// NewWithResolver builds a validator with a custom DNS resolver.
func NewWithResolver(resolver Resolver, allowPrivate bool) *Validator {
	return &Validator{resolver: resolver, allowPrivate: allowPrivate}
}

// Validate classifies a candidate URL as fetchable or blocked. The DNS check
// runs on every call and is never cached: answers legitimately change, and a
// cached "safe" verdict would reopen the rebinding hole.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Reason: "URL cannot be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Reason: "invalid URL format"}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Reason: "only HTTP and HTTPS schemes allowed"}
	}

	if parsed.Host == "" {
		return &ValidationError{Reason: "missing host in URL"}
	}

	if v.allowPrivate {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())

	// Normalize internationalized hostnames before resolution so punycode
	// tricks cannot smuggle a different host past the check.
	asciiHost, err := idna.ToASCII(hostname)
	if err != nil {
		return &ValidationError{Reason: "invalid internationalized domain name"}
	}

	var ips []net.IP
	if ip := net.ParseIP(asciiHost); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := v.resolver.LookupIPAddr(ctx, asciiHost)
		if err != nil {
			// Fail closed: an unresolvable host is a rejection, not a
			// retryable condition.
			return &ValidationError{Reason: fmt.Sprintf("DNS resolution failed for %s", hostname)}
		}
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
	}

	if len(ips) == 0 {
		return &ValidationError{Reason: fmt.Sprintf("no addresses resolved for %s", hostname)}
	}

	for _, ip := range ips {
		if isBlockedIP(ip) {
			return &ValidationError{Reason: fmt.Sprintf("host %s resolves to blocked address %s", hostname, ip)}
		}
	}

	return nil
}

// isBlockedIP reports whether an address falls in private, loopback,
// link-local, unique-local, or unspecified space.
func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// Unique-local IPv6 (fc00::/7); IsPrivate covers fc00::/7 only from
	// go1.17 for addresses with the L bit set, so check the range directly.
	if ip.To4() == nil && len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}
	// 0.0.0.0/8
	if v4 := ip.To4(); v4 != nil && v4[0] == 0 {
		return true
	}
	return false
}
