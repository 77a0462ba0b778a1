// Command synclet-sender dials a receiver, reconciles, then watches its
// working directory and streams changes live.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Raqibreyaz/synclet/internal/config"
	"github.com/Raqibreyaz/synclet/internal/progress"
	"github.com/Raqibreyaz/synclet/internal/protocol"
	"github.com/Raqibreyaz/synclet/internal/reconcile"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/snapstore"
	"github.com/Raqibreyaz/synclet/internal/watch"
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
		log.Error("sender: rescan for snapshot request failed: %v", err)
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
		Use:   "synclet-sender",
		Short: "Connect to a synclet receiver and keep a working directory in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(log.LevelDebug)
			}
			log.SetTag("sender")

			config.SetMode(config.SenderMode)
			config.CreateConfigDir()
			cfg := config.Init(cfgName)

			return run(cfg)
		},
	}

	root.Flags().StringVar(&cfgName, "config", "sender", "config file name to load (without extension)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.PeerConfig) error {
	addr := net.JoinHostPort(cfg.Session.Host.URL, cfg.Port())
	log.Info("sender: dialing %s", addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	workRoot := cfg.Session.WorkingDir
	if workRoot == "" {
		workRoot = "."
	}

	sess := protocol.NewSession(wire.New(conn), workRoot)
	sess.Progress = progress.NewReporter(func(line string) { fmt.Fprintln(os.Stderr, line) })
	provider := liveProvider{root: workRoot, ignore: cfg.Session.IgnoredFiles}

	if err := sess.SendHandshakeOtp(cfg.Session.Client.Token); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info("sender: handshake accepted")

	cachePath := filepath.Join(workRoot, cfg.PeerSnapFile())
	cache := snapstore.New(cachePath)
	if err := cache.Load(); err != nil {
		log.Warn("sender: could not load peer cache at %s: %v", cachePath, err)
	}

	curr, err := snapshot.ScanDir(workRoot, cfg.Session.IgnoredFiles)
	if err != nil {
		return fmt.Errorf("scan working dir: %w", err)
	}

	if err := reconcile.Run(sess, cache, curr); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	log.Info("sender: reconciliation complete, entering live mode")

	adapter, err := watch.New(workRoot)
	if err != nil {
		return fmt.Errorf("start filesystem watcher: %w", err)
	}
	defer adapter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("sender: shutting down")
		cancel()
		conn.Close()
	}()

	go func() {
		if err := adapter.Run(ctx); err != nil {
			log.Error("sender: watcher stopped: %v", err)
		}
	}()

	snapMu := cachedSnapshot{snap: curr}

	for ev := range adapter.Out {
		if err := handleEvent(sess, &snapMu, workRoot, ev); err != nil {
			log.Error("sender: %s %s: %v", ev.Kind, ev.Path, err)
		}
	}

	final := snapMu.get()
	if saveErr := cache.Save(final, snapshot.Fingerprint(final)); saveErr != nil {
		log.Warn("sender: could not persist peer cache on exit: %v", saveErr)
	}

	return nil
}

// cachedSnapshot holds the sender's view of its own working tree between
// rescans. handleEvent updates a file's entry whenever a modify event
// pushes that file's content, so PushModifiedChunks diffs against what
// was last sent for it. Create, remove and move events leave the cached
// snapshot unchanged.
type cachedSnapshot struct {
	snap snapshot.DirSnapshot
}

func (c *cachedSnapshot) get() snapshot.DirSnapshot { return c.snap }

func handleEvent(sess *protocol.Session, cached *cachedSnapshot, workRoot string, ev watch.Event) error {
	switch ev.Kind {
	case watch.EventCreate:
		if ev.IsDir {
			return sess.PushDirCreate(ev.Path)
		}
		if err := sess.PushFileCreate(ev.Path); err != nil {
			return err
		}
		return sess.SendFileFull(ev.Path)

	case watch.EventRemove:
		if ev.IsDir {
			return sess.PushDirRemove(ev.Path)
		}
		return sess.PushFileRemove(ev.Path)

	case watch.EventMove:
		if ev.IsDir {
			return sess.PushDirMoved(ev.OldPath, ev.Path)
		}
		return sess.PushFileMoved(ev.OldPath, ev.Path)

	case watch.EventModify:
		fresh, err := snapshot.BuildFileSnapshot(filepath.Join(workRoot, ev.Path), ev.Path)
		if err != nil {
			return err
		}

		prev, ok := cached.snap.Files[ev.Path]
		if !ok {
			if err := sess.PushFileCreate(ev.Path); err != nil {
				return err
			}
			cached.snap.Files[ev.Path] = fresh
			return sess.SendFileFull(ev.Path)
		}

		mod := snapshot.GetFileModification(fresh, prev)
		if len(mod.Ops) == 0 {
			return nil
		}
		cached.snap.Files[ev.Path] = fresh
		return sess.PushModifiedChunks(ev.Path, mod)
	}
	return nil
}
