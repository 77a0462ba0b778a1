// Package reconcile implements the startup convergence algorithm: it
// runs once per connection, before the live Event Adapter loop, and
// brings both peers' working trees to equal content.
package reconcile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Raqibreyaz/synclet/internal/protocol"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/snapstore"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

// Run executes the decision tree once and leaves cache holding the new
// peer_snap_cache on success. curr is the already-scanned local
// DirSnapshot.
func Run(sess *protocol.Session, cache *snapstore.Cache, curr snapshot.DirSnapshot) error {
	localFp := snapshot.Fingerprint(curr)

	fetchedFp, err := sess.RequestSnapVersion()
	if err != nil {
		return fmt.Errorf("reconcile: fetch peer fingerprint: %w", err)
	}

	if fetchedFp == localFp {
		log.Info("reconcile: already converged at %s", localFp)
		if cache.Fingerprint() != localFp {
			if err := cache.Save(curr, localFp); err != nil {
				return fmt.Errorf("reconcile: refresh stale cache: %w", err)
			}
		}
		return nil
	}

	peerSnap, wasCachePresent := cache.Snapshot()
	wasCacheCurrent := wasCachePresent && cache.Fingerprint() == fetchedFp

	if !wasCacheCurrent {
		log.Info("reconcile: peer cache stale or absent, fetching full peer snapshot")
		fetched, err := sess.RequestSnap()
		if err != nil {
			return fmt.Errorf("reconcile: fetch peer snapshot: %w", err)
		}
		dirs, err := sess.RequestDirList()
		if err != nil {
			return fmt.Errorf("reconcile: fetch peer dir list: %w", err)
		}
		fetched.Dirs = dirs
		peerSnap = fetched
	}

	fileChanges := snapshot.CompareSnapshots(curr, peerSnap)
	dirsAdded, dirsRemoved := snapshot.CompareDirLists(curr.Dirs, peerSnap.Dirs)

	if err := applyDirs(sess, dirsAdded, dirsRemoved, wasCacheCurrent); err != nil {
		return err
	}
	if !wasCacheCurrent {
		// applyDirs just brought the local directory set in line with
		// the peer's, since the peer's view was authoritative.
		curr.Dirs = append([]string(nil), peerSnap.Dirs...)
	}
	if err := applyFiles(sess, curr, peerSnap, fileChanges, wasCacheCurrent); err != nil {
		return err
	}

	// curr.Files may have been updated in place by applyFiles for any
	// file that was pulled, so its fingerprint must be recomputed here
	// rather than reusing localFp from before reconciliation.
	finalFp := snapshot.Fingerprint(curr)

	if err := cache.Save(curr, finalFp); err != nil {
		return fmt.Errorf("reconcile: save new peer cache: %w", err)
	}

	confirmFp, err := sess.RequestSnapVersion()
	if err != nil {
		return fmt.Errorf("reconcile: confirm convergence: %w", err)
	}
	if confirmFp != finalFp {
		return fmt.Errorf("reconcile: convergence check failed: local=%s peer=%s", finalFp, confirmFp)
	}

	return nil
}

// applyDirs implements step 5's added/removed directory branches: when
// the peer cache was current, a local-only directory is genuinely new
// and must be pushed; when the cache was stale, the peer's view is
// authoritative, so a dir curr has that the peer doesn't is treated as
// not actually on the peer -- remove it locally -- and vice versa for a
// dir the peer has that curr doesn't.
func applyDirs(sess *protocol.Session, added, removed []string, wasCacheCurrent bool) error {
	if wasCacheCurrent {
		if err := sess.PushDirsCreate(added); err != nil {
			return fmt.Errorf("reconcile: push created dirs: %w", err)
		}
		if err := sess.PushDirsRemove(removed); err != nil {
			return fmt.Errorf("reconcile: push removed dirs: %w", err)
		}
		return nil
	}

	for _, dir := range added {
		if err := os.RemoveAll(filepath.Join(sess.Root, dir)); err != nil {
			return fmt.Errorf("reconcile: remove locally-only dir %s not present on peer: %w", dir, err)
		}
	}
	for _, dir := range removed {
		if err := os.MkdirAll(filepath.Join(sess.Root, dir), 0755); err != nil {
			return fmt.Errorf("reconcile: create peer-only dir %s locally: %w", dir, err)
		}
	}
	return nil
}

func applyFiles(sess *protocol.Session, curr, peerSnap snapshot.DirSnapshot, changes snapshot.DirChanges, wasCacheCurrent bool) error {
	if len(changes.CreatedFiles) > 0 {
		names := make([]string, len(changes.CreatedFiles))
		for i, f := range changes.CreatedFiles {
			names[i] = f.Filename
		}
		if err := sess.PushFilesCreate(names); err != nil {
			return fmt.Errorf("reconcile: announce created files: %w", err)
		}
		for _, name := range names {
			if err := sess.SendFileFull(name); err != nil {
				return fmt.Errorf("reconcile: push content of %s: %w", name, err)
			}
		}
	}

	if len(changes.RemovedFiles) > 0 {
		if wasCacheCurrent {
			if err := sess.PushFilesRemove(changes.RemovedFiles); err != nil {
				return fmt.Errorf("reconcile: push removed files: %w", err)
			}
		} else {
			if err := sess.RequestDownloadFiles(changes.RemovedFiles); err != nil {
				return fmt.Errorf("reconcile: pull files missing locally: %w", err)
			}
			for _, name := range changes.RemovedFiles {
				fresh, err := snapshot.BuildFileSnapshot(filepath.Join(sess.Root, name), name)
				if err != nil {
					return fmt.Errorf("reconcile: rescan pulled file %s: %w", name, err)
				}
				curr.Files[name] = fresh
			}
		}
	}

	for _, mod := range changes.ModifiedFiles {
		currFile := curr.Files[mod.Filename]
		peerFile := peerSnap.Files[mod.Filename]

		// Ties favor the pusher: local wins when mtimes are equal.
		if currFile.Mtime >= peerFile.Mtime {
			if err := sess.PushModifiedChunks(mod.Filename, mod); err != nil {
				return fmt.Errorf("reconcile: push modification of %s: %w", mod.Filename, err)
			}
		} else {
			// mod was computed as curr(new) vs peer(old); pulling needs
			// the opposite direction, with the peer's copy as the new
			// side, so ops describe byte ranges in the peer's file the
			// way PullModification expects.
			pullMod := snapshot.GetFileModification(peerFile, currFile)
			if err := sess.PullModification(mod.Filename, pullMod); err != nil {
				return fmt.Errorf("reconcile: pull modification of %s: %w", mod.Filename, err)
			}
			fresh, err := snapshot.BuildFileSnapshot(filepath.Join(sess.Root, mod.Filename), mod.Filename)
			if err != nil {
				return fmt.Errorf("reconcile: rescan pulled modification of %s: %w", mod.Filename, err)
			}
			curr.Files[mod.Filename] = fresh
		}
	}

	return nil
}
