// Command dragit runs the dragit peer-to-peer file transfer core: mDNS
// discovery, the /discovery/1.0 capability exchange, and the
// /transfer/1.1 send/receive state machines, exposed to a UI task over
// three bounded channels (spec §5, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/esavier/dragit/config"
	"github.com/esavier/dragit/discovery"
	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/identity"
	"github.com/esavier/dragit/log"
	"github.com/esavier/dragit/peer"
	"github.com/esavier/dragit/swarm"
)

var logger = log.Named("cmd/dragit")

var (
	downloadsDirFlag = cli.StringFlag{
		Name:  "downloads-dir",
		Usage: "directory accepted inbound transfers are written to (defaults to the config store's value)",
	}
	portFlag = cli.IntFlag{
		Name:  "port",
		Usage: "TCP port to listen on for both the raw and WebSocket transport (0 = ephemeral)",
		Value: 0,
	}
	identityFileFlag = cli.StringFlag{
		Name:  "identity-file",
		Usage: "persist the Ed25519 identity key here across restarts (default: regenerate every start, per spec)",
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the dragit TOML config file",
		Value: defaultConfigPath(),
	}
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dragit.toml"
	}
	return filepath.Join(home, ".dragit", "config.toml")
}

func main() {
	app := cli.NewApp()
	app.Name = "dragit"
	app.Usage = "peer-to-peer LAN file transfer core"
	app.Flags = []cli.Flag{downloadsDirFlag, portFlag, identityFileFlag, configFileFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Errorw("exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	store := config.Open(ctx.String(configFileFlag.Name))
	cfg, err := store.Load()
	if err != nil {
		return fmt.Errorf("dragit: load config: %w", err)
	}
	if dir := ctx.String(downloadsDirFlag.Name); dir != "" {
		cfg.DownloadsDir = dir
	}
	if p := ctx.Int(portFlag.Name); p != 0 {
		cfg.Port = p
	}
	if err := store.Save(cfg); err != nil {
		return fmt.Errorf("dragit: save config: %w", err)
	}

	ident, err := loadIdentity(ctx.String(identityFileFlag.Name))
	if err != nil {
		return fmt.Errorf("dragit: identity: %w", err)
	}

	hostname, _ := os.Hostname()
	self := discovery.Self{Hostname: hostname, OS: localOS()}

	driver, err := swarm.New(ident, store, cfg.Port, self)
	if err != nil {
		return fmt.Errorf("dragit: start swarm: %w", err)
	}
	defer driver.Close()

	logger.Infow("dragit running", "peer", driver.ID(), "downloads_dir", cfg.DownloadsDir)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutting down")
		cancel()
	}()

	logEvents(runCtx, driver)
	driver.Run(runCtx)
	return nil
}

// logEvents drains PeerEvents to the structured logger as a stand-in UI
// consumer; a real UI task would read driver.Channels().Events() itself
// instead (spec §6's external collaborator boundary).
func logEvents(ctx context.Context, driver *swarm.Driver) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-driver.Channels().Events():
				logPeerEvent(ev)
			}
		}
	}()
}

func logPeerEvent(ev event.PeerEvent) {
	switch ev.Kind {
	case event.PeersUpdated:
		logger.Infow("peers updated", "count", len(ev.Peers))
	case event.FileIncoming:
		logger.Infow("file incoming", "name", ev.Name, "size", ev.Size, "hash", ev.Hash)
	case event.TransferProgress:
		logger.Debugw("transfer progress", "done", ev.Done, "total", ev.Total, "direction", ev.Direction.String())
	case event.WaitingForAnswer:
		logger.Infow("waiting for answer", "name", ev.Name)
	case event.TransferRejected:
		logger.Infow("transfer rejected", "name", ev.Name)
	case event.TransferCompleted:
		logger.Infow("transfer completed", "name", ev.Name)
	case event.FileCorrect:
		logger.Infow("file verified", "name", ev.Name)
	case event.FileIncorrect:
		logger.Warnw("file hash mismatch", "name", ev.Name)
	case event.Error:
		logger.Warnw("error event", "kind", ev.ErrKind.String(), "message", ev.Message)
	}
}

func loadIdentity(path string) (identity.Identity, error) {
	if path == "" {
		return identity.Generate()
	}
	return identity.LoadOrGenerate(path)
}

func localOS() peer.OperatingSystem {
	switch runtime.GOOS {
	case "linux":
		return peer.Linux
	case "windows":
		return peer.Windows
	case "darwin":
		return peer.Macos
	default:
		return peer.Other
	}
}
