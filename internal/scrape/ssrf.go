package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrBlockedURL marks URLs that must not be fetched: bad schemes, missing
// hosts, and anything resolving to a non-public address.
var ErrBlockedURL = errors.New("blocked url")

// ValidateURL checks that a URL is safe to fetch from the public internet.
// Every resolved address must be globally routable.
func ValidateURL(ctx context.Context, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("%w: missing hostname", ErrBlockedURL)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %q", ErrBlockedURL, hostname)
	}

	for _, addr := range addrs {
		if blockedIP(addr.IP) {
			return fmt.Errorf("%w: address %s", ErrBlockedURL, addr.IP)
		}
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		!ip.IsGlobalUnicast()
}
