package serviceresolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// DefaultServerAddr is the systemd-resolved stub resolver.
const DefaultServerAddr = "127.0.0.53:53"

// ErrNoEndpoints is returned when the SRV query succeeds but yields no
// usable endpoints.
var ErrNoEndpoints = errors.New("no service endpoints resolved")

// Endpoint is one resolved service endpoint candidate.
type Endpoint struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// Addr returns the endpoint as a dialable host:port address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Resolver resolves provisioning service endpoints from DNS SRV records.
// The zero value queries the systemd-resolved stub resolver.
type Resolver struct {
	// ServerAddr is the DNS server to query as host:port. Empty means
	// DefaultServerAddr.
	ServerAddr string

	// Timeout bounds each DNS exchange. Zero uses the dns client default.
	Timeout time.Duration
}

// ServiceName builds the conventional SRV owner name for a service and
// protocol under a domain, e.g. ServiceName("iotprov", "tcp",
// "example.com") yields "_iotprov._tcp.example.com.".
func ServiceName(service, proto, domain string) string {
	return dns.Fqdn(fmt.Sprintf("_%s._%s.%s", service, proto, domain))
}

// Resolve queries the SRV record set for name and returns the endpoints
// sorted by priority (ascending), then weight (descending). The name is
// normalized to a fully qualified domain name before querying.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]Endpoint, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: service name is empty", interfaces.ErrInvalidArgument)
	}

	serverAddr := r.ServerAddr
	if serverAddr == "" {
		serverAddr = DefaultServerAddr
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	client := &dns.Client{Timeout: r.Timeout}
	in, _, err := client.ExchangeContext(ctx, m, serverAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dns exchange with %s failed: %v", interfaces.ErrIOFailure, serverAddr, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: %s query answered %s", ErrNoEndpoints, name, dns.RcodeToString[in.Rcode])
	}

	endpoints := make([]Endpoint, 0, len(in.Answer))
	for _, answer := range in.Answer {
		srv, ok := answer.(*dns.SRV)
		if !ok {
			continue
		}
		endpoints = append(endpoints, Endpoint{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s has no srv records", ErrNoEndpoints, name)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Priority != endpoints[j].Priority {
			return endpoints[i].Priority < endpoints[j].Priority
		}
		return endpoints[i].Weight > endpoints[j].Weight
	})
	return endpoints, nil
}
