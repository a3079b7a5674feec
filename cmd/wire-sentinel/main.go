package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/wire-sentinel/internal/api"
	"github.com/dmdmdm-nz/wire-sentinel/internal/config"
	"github.com/dmdmdm-nz/wire-sentinel/internal/livedns"
	"github.com/dmdmdm-nz/wire-sentinel/internal/logging"
	"github.com/dmdmdm-nz/wire-sentinel/internal/netmon"
	"github.com/dmdmdm-nz/wire-sentinel/internal/resolve"
	"github.com/dmdmdm-nz/wire-sentinel/internal/router"
	"github.com/dmdmdm-nz/wire-sentinel/internal/runtime"
	"github.com/dmdmdm-nz/wire-sentinel/internal/wgpeer"
	"github.com/dmdmdm-nz/wire-sentinel/pkg/cli"
	"github.com/dmdmdm-nz/wire-sentinel/pkg/version"
)

func main() {
	flags := cli.ParseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	level := flags.LogLevel
	if level == "" {
		level = cfg.Log.Level
	}
	logCloser, err := logging.Setup(level, cfg.Log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up logging")
	}
	defer logCloser.Close()

	log.Info(version.String())
	log.Infof("Config: File=%s", flags.ConfigPath)
	log.Infof("Config: Interface=%s Source=%s", cfg.Core.InternalInterface, cfg.Monitor.Source)
	log.Infof("Config: Record=%s WireGuard=%s Backend=%s", cfg.FQDN(), cfg.Core.WGInterface, cfg.WireGuard.Backend)
	log.Infof("Config: RouterMode=%s API=%v", cfg.Router.Mode, cfg.API.Enabled)

	if os.Geteuid() != 0 {
		log.Warn("wire-sentinel is not running as root; updating the WireGuard peer will likely fail.")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("wire-sentinel stopped")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	peer, err := newPeerUpdater(cfg)
	if err != nil {
		return err
	}
	var checker router.PropagationChecker
	if cfg.DNS.PropagationCheck {
		c, err := resolve.NewChecker(cfg.FQDN(), cfg.DNS.PropagationNameserver, cfg.DNS.PropagationInterval, cfg.DNS.PropagationTimeout)
		if err != nil {
			return fmt.Errorf("propagation checker: %w", err)
		}
		checker = c
	}
	mode, err := router.ParseMode(cfg.Router.Mode)
	if err != nil {
		return err
	}

	dns := livedns.NewClient(cfg.DNS.APIURL, cfg.Core.BearerToken, cfg.Core.Domain, cfg.Core.OwnHostname, cfg.DNS.TTL, cfg.DNS.Timeout)
	netmonSvc := netmon.NewService(source, cfg.Monitor.QueueSize)
	routerSvc := router.NewService(mode, dns, peer, checker)

	// Wire subscriptions BEFORE starting producers to avoid missing anything.
	changes, unsub := netmonSvc.Subscribe()
	routerSvc.AttachNetmon(changes, unsub)
	if mode == router.ModeFanout {
		peerChanges, peerUnsub := netmonSvc.Subscribe()
		routerSvc.AttachPeerStream(peerChanges, peerUnsub)
	}

	super := runtime.NewSupervisor()
	super.Add("router", func(ctx context.Context) error { return routerSvc.Start(ctx) }, routerSvc.Close)
	if cfg.API.Enabled {
		apiSvc := api.NewService(cfg.API.Host, cfg.API.Port)
		apiSvc.AttachRouter(routerSvc)
		super.Add("api", func(ctx context.Context) error { return apiSvc.Start(ctx) }, apiSvc.Close)
	}
	// netmon goes last so it is closed first on shutdown.
	super.Add("netmon", func(ctx context.Context) error { return netmonSvc.Start(ctx) }, netmonSvc.Close)

	if err := super.Start(ctx); err != nil {
		return fmt.Errorf("supervisor start failed: %w", err)
	}
	log.Info("wire-sentinel is running.")

	err = super.Wait(ctx)
	log.Info("wire-sentinel is shutting down.")
	return err
}

func newSource(cfg *config.Config) (netmon.Source, error) {
	switch cfg.Monitor.Source {
	case "netlink":
		return netmon.NewNetlinkSource(cfg.Core.InternalInterface)
	default:
		return netmon.NewIPMonitorSource(cfg.Core.InternalInterface), nil
	}
}

func newPeerUpdater(cfg *config.Config) (router.PeerUpdater, error) {
	switch cfg.WireGuard.Backend {
	case "wgctrl":
		u, err := wgpeer.NewCtrlUpdater(cfg.Core.WGInterface, cfg.Core.PeerPubkey, cfg.Core.PeerHostname, cfg.WireGuard.Port)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return wgpeer.NewCommandUpdater(cfg.WireGuard.WGBinary, cfg.Core.WGInterface, cfg.Core.PeerPubkey, cfg.Core.PeerHostname, cfg.WireGuard.Port), nil
	}
}
