package endpoint

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// ResolveHost performs an explicit A-record lookup of host against server
// (host:port), rather than relying on net.Dial's implicit resolution.
// Grounded on dnsclient/client.go's habit of driving github.com/miekg/dns
// directly: a long-running daemon reconnecting under load must not wedge
// an entire folder task behind a slow or unreachable recursive resolver.
// If server is empty, ResolveHost falls back to the system resolver.
func ResolveHost(host, server string) (net.IP, error) {
	if server == "" {
		addrs, err := net.LookupHost(host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("endpoint: no addresses found for %q", host)
		}
		return net.ParseIP(addrs[0]), nil
	}

	client := new(dns.Client)
	query := new(dns.Msg)
	query.RecursionDesired = true
	query.SetQuestion(dns.Fqdn(host), dns.TypeA)
	response, _, err := client.Exchange(query, server)
	if err != nil {
		return nil, fmt.Errorf("endpoint: resolving %q via %s: %w", host, server, err)
	}
	for _, answer := range response.Answer {
		if a, ok := answer.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("endpoint: %q did not resolve to an A record via %s", host, server)
}
