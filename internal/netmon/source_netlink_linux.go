//go:build linux

package netmon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type netlinkSource struct {
	iface string
}

// NewNetlinkSource watches address changes on iface over rtnetlink. Existing
// addresses are reported first, as if they had just been added, so the
// current address is published after a restart.
func NewNetlinkSource(iface string) (Source, error) {
	if iface == "" {
		return nil, errors.New("netlink source needs an interface name")
	}
	return &netlinkSource{iface: iface}, nil
}

func (s *netlinkSource) Name() string {
	return "netlink:" + s.iface
}

func (s *netlinkSource) Start(ctx context.Context, emit func(line string)) error {
	link, err := netlink.LinkByName(s.iface)
	if err != nil {
		return fmt.Errorf("look up interface %s: %w", s.iface, err)
	}
	index := link.Attrs().Index

	addrCh := make(chan netlink.AddrUpdate)
	addrDone := make(chan struct{})
	defer close(addrDone)

	err = netlink.AddrSubscribeWithOptions(addrCh, addrDone, netlink.AddrSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			log.WithError(err).WithField("interface", s.iface).Warn("Netlink address subscription error")
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case update, ok := <-addrCh:
			if !ok {
				return errors.New("netlink address subscription closed")
			}
			if update.LinkIndex != index {
				continue
			}
			emit(formatAddrUpdate(index, s.iface, update))
		}
	}
}

// formatAddrUpdate renders an update the way `ip monitor address label`
// prints it, so both sources share one grammar.
func formatAddrUpdate(index int, iface string, update netlink.AddrUpdate) string {
	var b strings.Builder
	b.WriteString("[ADDR]")
	if !update.NewAddr {
		b.WriteString("Deleted ")
	}
	fmt.Fprintf(&b, "%d: %s    ", index, iface)

	family := "inet6"
	if update.LinkAddress.IP.To4() != nil {
		family = "inet"
	}
	ones, _ := update.LinkAddress.Mask.Size()
	fmt.Fprintf(&b, "%s %s/%d scope %s", family, update.LinkAddress.IP, ones, scopeName(update.Scope))

	if update.Flags&unix.IFA_F_TEMPORARY != 0 {
		b.WriteString(" temporary")
	}
	if update.Flags&unix.IFA_F_PERMANENT == 0 && family == "inet6" {
		b.WriteString(" dynamic")
	}
	if update.Flags&unix.IFA_F_TENTATIVE != 0 {
		b.WriteString(" tentative")
	}
	if update.Flags&unix.IFA_F_NOPREFIXROUTE != 0 {
		b.WriteString(" noprefixroute")
	}
	return b.String()
}

func scopeName(scope int) string {
	switch scope {
	case unix.RT_SCOPE_UNIVERSE:
		return "global"
	case unix.RT_SCOPE_LINK:
		return "link"
	case unix.RT_SCOPE_HOST:
		return "host"
	case unix.RT_SCOPE_SITE:
		return "site"
	default:
		return strconv.Itoa(scope)
	}
}
