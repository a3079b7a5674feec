package wgpeer

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	log "github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// DeviceConfigurer is the part of *wgctrl.Client the updater needs.
type DeviceConfigurer interface {
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Close() error
}

// CtrlUpdater re-points a peer through the kernel WireGuard API, resolving
// the hostname itself on every call.
type CtrlUpdater struct {
	iface    string
	key      wgtypes.Key
	hostname string
	port     int

	lookup func(ctx context.Context, host string) ([]netip.Addr, error)
	dial   func() (DeviceConfigurer, error)
}

func NewCtrlUpdater(iface, pubkey, hostname string, port int) (*CtrlUpdater, error) {
	key, err := wgtypes.ParseKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	if port <= 0 {
		port = DefaultPort
	}
	return &CtrlUpdater{
		iface:    iface,
		key:      key,
		hostname: hostname,
		port:     port,
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
		dial: func() (DeviceConfigurer, error) {
			return wgctrl.New()
		},
	}, nil
}

func (u *CtrlUpdater) UpdatePeer(ctx context.Context) error {
	addrs, err := u.lookup(ctx, u.hostname)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrPeerUpdate, u.hostname, err)
	}
	endpoint, ok := pickEndpoint(addrs, u.port)
	if !ok {
		return fmt.Errorf("%w: %s has no addresses", ErrPeerUpdate, u.hostname)
	}

	client, err := u.dial()
	if err != nil {
		return fmt.Errorf("%w: open wireguard control: %w", ErrPeerUpdate, err)
	}
	defer client.Close()

	log.WithFields(log.Fields{
		"interface": u.iface,
		"peer":      u.key.String(),
		"endpoint":  endpoint.String(),
	}).Trace("Configuring wg peer endpoint")

	err = client.ConfigureDevice(u.iface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:  u.key,
			UpdateOnly: true,
			Endpoint:   endpoint,
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: configure %s: %w", ErrPeerUpdate, u.iface, err)
	}
	return nil
}

// pickEndpoint prefers an IPv6 address, falling back to the first one.
func pickEndpoint(addrs []netip.Addr, port int) (*net.UDPAddr, bool) {
	if len(addrs) == 0 {
		return nil, false
	}
	chosen := addrs[0]
	for _, a := range addrs {
		if a.Is6() && !a.Is4In6() {
			chosen = a
			break
		}
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(chosen.Unmap(), uint16(port))), true
}
