package wgpeer

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type fakeDevice struct {
	name    string
	configs []wgtypes.Config
	err     error
	closed  bool
}

func (f *fakeDevice) ConfigureDevice(name string, cfg wgtypes.Config) error {
	f.name = name
	f.configs = append(f.configs, cfg)
	return f.err
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func newTestCtrlUpdater(t *testing.T, addrs []netip.Addr, dev *fakeDevice) *CtrlUpdater {
	t.Helper()
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	u, err := NewCtrlUpdater("wg0", priv.PublicKey().String(), "peer.example.com", 51820)
	require.NoError(t, err)
	u.lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
		assert.Equal(t, "peer.example.com", host)
		return addrs, nil
	}
	u.dial = func() (DeviceConfigurer, error) { return dev, nil }
	return u
}

func TestNewCtrlUpdater_BadKey(t *testing.T) {
	_, err := NewCtrlUpdater("wg0", "not-a-key", "peer.example.com", 51820)
	require.Error(t, err)
}

func TestCtrlUpdater_ConfiguresPeer(t *testing.T) {
	dev := &fakeDevice{}
	u := newTestCtrlUpdater(t, []netip.Addr{
		netip.MustParseAddr("203.0.113.7"),
		netip.MustParseAddr("2001:db8::7"),
	}, dev)

	require.NoError(t, u.UpdatePeer(context.Background()))

	assert.Equal(t, "wg0", dev.name)
	assert.True(t, dev.closed)
	require.Len(t, dev.configs, 1)
	require.Len(t, dev.configs[0].Peers, 1)

	peer := dev.configs[0].Peers[0]
	assert.Equal(t, u.key, peer.PublicKey)
	assert.True(t, peer.UpdateOnly)
	require.NotNil(t, peer.Endpoint)
	assert.Equal(t, "[2001:db8::7]:51820", peer.Endpoint.String())
}

func TestCtrlUpdater_LookupFailure(t *testing.T) {
	dev := &fakeDevice{}
	u := newTestCtrlUpdater(t, nil, dev)
	u.lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
		return nil, errors.New("no such host")
	}

	err := u.UpdatePeer(context.Background())
	assert.ErrorIs(t, err, ErrPeerUpdate)
	assert.Empty(t, dev.configs)
}

func TestCtrlUpdater_NoAddresses(t *testing.T) {
	dev := &fakeDevice{}
	u := newTestCtrlUpdater(t, nil, dev)

	err := u.UpdatePeer(context.Background())
	assert.ErrorIs(t, err, ErrPeerUpdate)
	assert.Empty(t, dev.configs)
}

func TestCtrlUpdater_ConfigureFailure(t *testing.T) {
	dev := &fakeDevice{err: errors.New("file does not exist")}
	u := newTestCtrlUpdater(t, []netip.Addr{netip.MustParseAddr("2001:db8::7")}, dev)

	err := u.UpdatePeer(context.Background())
	assert.ErrorIs(t, err, ErrPeerUpdate)
	assert.True(t, dev.closed)
}

func TestPickEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"v6 only", []string{"2001:db8::1"}, "[2001:db8::1]:51820"},
		{"v4 only", []string{"192.0.2.1"}, "192.0.2.1:51820"},
		{"prefers v6", []string{"192.0.2.1", "2001:db8::1"}, "[2001:db8::1]:51820"},
		{"mapped v4 is not v6", []string{"::ffff:192.0.2.1"}, "192.0.2.1:51820"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var addrs []netip.Addr
			for _, a := range tt.addrs {
				addrs = append(addrs, netip.MustParseAddr(a))
			}
			ep, ok := pickEndpoint(addrs, 51820)
			require.True(t, ok)
			assert.Equal(t, tt.want, ep.String())
		})
	}

	_, ok := pickEndpoint(nil, 51820)
	assert.False(t, ok)
}
