package wgpeer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultPort is the WireGuard listen port of the remote peer.
const DefaultPort = 51820

// ErrPeerUpdate is wrapped by every error an updater returns.
var ErrPeerUpdate = errors.New("wireguard peer update failed")

// CommandError is a wg invocation that ran and exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s exited with status %d: %s", ErrPeerUpdate, strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

func (e *CommandError) Unwrap() error { return ErrPeerUpdate }

// Runner executes a command and returns what it wrote to stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// CommandUpdater re-points a peer with `wg set`. wg resolves the hostname
// itself at invocation time; the observed address is never passed in.
type CommandUpdater struct {
	binary   string
	iface    string
	pubkey   string
	hostname string
	port     int
	runner   Runner
}

func NewCommandUpdater(binary, iface, pubkey, hostname string, port int) *CommandUpdater {
	if binary == "" {
		binary = "wg"
	}
	if port <= 0 {
		port = DefaultPort
	}
	return &CommandUpdater{
		binary:   binary,
		iface:    iface,
		pubkey:   pubkey,
		hostname: hostname,
		port:     port,
		runner:   execRunner{},
	}
}

// Endpoint is the host:port handed to wg.
func (u *CommandUpdater) Endpoint() string {
	return net.JoinHostPort(u.hostname, strconv.Itoa(u.port))
}

// Args is the wg argument vector, without the binary.
func (u *CommandUpdater) Args() []string {
	return []string{"set", u.iface, "peer", u.pubkey, "endpoint", u.Endpoint()}
}

func (u *CommandUpdater) UpdatePeer(ctx context.Context) error {
	args := u.Args()
	log.WithFields(log.Fields{
		"interface": u.iface,
		"peer":      u.pubkey,
		"endpoint":  u.Endpoint(),
	}).Trace("Updating wg endpoint")

	stderr, err := u.runner.Run(ctx, u.binary, args...)
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Args:     append([]string{u.binary}, args...),
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(string(stderr)),
		}
	}
	return fmt.Errorf("%w: run %s: %w", ErrPeerUpdate, u.binary, err)
}
