// Package resolve checks that a freshly written AAAA record is visible to a
// resolver before anything that depends on it is reconfigured.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

const resolvConf = "/etc/resolv.conf"

// ErrNotPropagated is returned when the record did not show the expected
// address before the deadline.
var ErrNotPropagated = errors.New("record not propagated")

// Checker polls one nameserver for the AAAA record of fqdn.
type Checker struct {
	fqdn     string
	server   string
	interval time.Duration
	timeout  time.Duration
	client   *dns.Client
}

// NewChecker builds a Checker. An empty nameserver means the first server
// listed in /etc/resolv.conf; a nameserver without a port uses 53.
func NewChecker(fqdn, nameserver string, interval, timeout time.Duration) (*Checker, error) {
	server, err := serverAddress(nameserver)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		fqdn:     dns.Fqdn(fqdn),
		server:   server,
		interval: interval,
		timeout:  timeout,
		client:   &dns.Client{Net: "udp", Timeout: interval},
	}, nil
}

func serverAddress(nameserver string) (string, error) {
	if nameserver == "" {
		cfg, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", resolvConf, err)
		}
		if len(cfg.Servers) == 0 {
			return "", fmt.Errorf("no nameservers in %s", resolvConf)
		}
		return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
	}
	if _, _, err := net.SplitHostPort(nameserver); err == nil {
		return nameserver, nil
	}
	return net.JoinHostPort(nameserver, "53"), nil
}

// Lookup returns the AAAA addresses currently served for the record.
func (c *Checker) Lookup(ctx context.Context) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(c.fqdn, dns.TypeAAAA)
	m.RecursionDesired = true

	r, _, err := c.client.ExchangeContext(ctx, m, c.server)
	if err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s AAAA: %s", c.fqdn, dns.RcodeToString[r.Rcode])
	}

	var out []netip.Addr
	for _, rr := range r.Answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			if addr, ok := netip.AddrFromSlice(aaaa.AAAA); ok {
				out = append(out, addr.Unmap())
			}
		}
	}
	return out, nil
}

// WaitFor polls until the record answers with address or the checker's
// timeout expires.
func (c *Checker) WaitFor(ctx context.Context, address string) error {
	want, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("parse %q: %w", address, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		addrs, err := c.Lookup(ctx)
		if err != nil {
			log.WithError(err).WithField("record", c.fqdn).Debug("Propagation lookup failed")
		}
		for _, a := range addrs {
			if a == want {
				log.WithFields(log.Fields{
					"record":  c.fqdn,
					"address": address,
				}).Debug("Record has propagated")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s did not answer %s via %s within %s", ErrNotPropagated, c.fqdn, address, c.server, c.timeout)
		case <-ticker.C:
		}
	}
}
