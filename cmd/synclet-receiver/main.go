// Command synclet-receiver listens for one incoming sender connection,
// reconciles its working directory against the sender, then serves the
// live protocol loop.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Raqibreyaz/synclet/internal/auth"
	"github.com/Raqibreyaz/synclet/internal/config"
	"github.com/Raqibreyaz/synclet/internal/progress"
	"github.com/Raqibreyaz/synclet/internal/protocol"
	"github.com/Raqibreyaz/synclet/internal/reconcile"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/snapstore"
	"github.com/Raqibreyaz/synclet/internal/wire"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

type liveProvider struct {
	root   string
	ignore []string
}

func (p liveProvider) Current() snapshot.DirSnapshot {
	snap, err := snapshot.ScanDir(p.root, p.ignore)
	if err != nil {
		log.Error("receiver: rescan for snapshot request failed: %v", err)
		return snapshot.NewDirSnapshot()
	}
	return snap
}

func (p liveProvider) Fingerprint() string {
	return snapshot.Fingerprint(p.Current())
}

func main() {
	var cfgName string
	var debug bool

	root := &cobra.Command{
		Use:   "synclet-receiver",
		Short: "Accept a synclet sender connection and mirror its working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(log.LevelDebug)
			}
			log.SetTag("receiver")

			config.SetMode(config.ReceiverMode)
			config.CreateConfigDir()
			cfg := config.Init(cfgName)

			return run(cfg)
		},
	}

	root.Flags().StringVar(&cfgName, "config", "receiver", "config file name to load (without extension)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.PeerConfig) error {
	addr := net.JoinHostPort("", cfg.Port())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	log.Info("receiver: listening on %s, working dir %s", addr, cfg.Session.WorkingDir)

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept connection: %w", err)
	}
	defer conn.Close()

	log.Info("receiver: sender connected from %s", conn.RemoteAddr())

	root := cfg.Session.WorkingDir
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("ensure working dir %s: %w", root, err)
	}

	sess := protocol.NewSession(wire.New(conn), root)
	sess.Progress = progress.NewReporter(func(line string) { fmt.Fprintln(os.Stderr, line) })
	provider := liveProvider{root: root, ignore: cfg.Session.IgnoredFiles}

	if err := sess.AwaitHandshakeOtp(auth.Get().ValidateOtp); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info("receiver: handshake accepted")

	cachePath := filepath.Join(root, cfg.PeerSnapFile())
	cache := snapstore.New(cachePath)
	if err := cache.Load(); err != nil {
		log.Warn("receiver: could not load peer cache at %s: %v", cachePath, err)
	}

	curr, err := snapshot.ScanDir(root, cfg.Session.IgnoredFiles)
	if err != nil {
		return fmt.Errorf("scan working dir: %w", err)
	}

	if err := reconcile.Run(sess, cache, curr); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	log.Info("receiver: reconciliation complete, entering live mode")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("receiver: shutting down")
		conn.Close()
	}()

	serveErr := sess.Serve(provider, func() {})
	if serveErr != nil {
		log.Warn("receiver: connection closed: %v", serveErr)
	}

	final, err := snapshot.ScanDir(root, cfg.Session.IgnoredFiles)
	if err == nil {
		if saveErr := cache.Save(final, snapshot.Fingerprint(final)); saveErr != nil {
			log.Warn("receiver: could not persist peer cache on exit: %v", saveErr)
		}
	}

	return nil
}
