//go:build !linux

package netmon

import "errors"

// NewNetlinkSource is only available on Linux.
func NewNetlinkSource(iface string) (Source, error) {
	return nil, errors.New("netlink source is only supported on linux")
}
