package search

import (
	"context"
	"errors"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Refresh reloads the reader set when the manifest changed and hot-reloads
// deletions otherwise. Concurrent calls are coalesced.
func (s *Searcher) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx, true)
	})
	return err
}

// maybeMaintain runs maintenance for the first query after an idle period.
func (s *Searcher) maybeMaintain(ctx context.Context) {
	now := time.Now().UnixNano()
	last := s.lastQuery.Swap(now)
	if s.opts.IdleInterval < 0 || time.Duration(now-last) < s.opts.IdleInterval {
		return
	}
	if err := s.maintain(ctx); err != nil && !errors.Is(err, engine.ErrClosed) {
		s.logger.Warn("maintenance", "error", err)
	}
}

func (s *Searcher) maintain(ctx context.Context) error {
	_, err, _ := s.group.Do("maintain", func() (any, error) {
		return nil, s.refresh(ctx, false)
	})
	return err
}

func (s *Searcher) maintenanceLoop(interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if err := s.maintain(context.Background()); err != nil && !errors.Is(err, engine.ErrClosed) {
				s.logger.Warn("maintenance", "error", err)
			}
		}
	}
}

// refresh compares the manifest modification time with the loaded one.
// A change, or force, loads the manifest and swaps readers if its version
// moved. Otherwise only deletion bitmaps are reread.
func (s *Searcher) refresh(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	cur, closed := s.snap, s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return engine.ErrClosed
	}

	modTime, err := s.st.Manifests().ModTime()
	switch {
	case errors.Is(err, os.ErrNotExist):
		modTime = time.Time{}
	case err != nil:
		return err
	}

	// Commits made through the same storage are seen even when they land
	// within the timestamp granularity of the file system.
	if force || !modTime.Equal(cur.modTime) || s.st.Manifests().Version() != cur.man.Version {
		m, err := s.st.LoadManifest()
		if err != nil {
			return err
		}
		if m.Version != cur.man.Version {
			return s.reload(ctx, cur, m, modTime)
		}
		s.mu.Lock()
		if s.snap == cur {
			s.snap = &snapshot{man: cur.man, readers: cur.readers, modTime: modTime}
		}
		s.mu.Unlock()
	}
	return s.reloadDeletions(cur)
}

// reload opens the segments of m that cur lacks, swaps the snapshot and
// closes readers that dropped out.
func (s *Searcher) reload(ctx context.Context, cur *snapshot, m *manifest.Manifest, modTime time.Time) error {
	start := time.Now()
	byID := make(map[uint64]*segment.Reader, len(cur.readers))
	for _, r := range cur.readers {
		byID[r.ID()] = r
	}

	var fresh []uint64
	for _, info := range m.Segments {
		if _, ok := byID[info.ID]; !ok {
			fresh = append(fresh, info.ID)
		}
	}
	// Declare new segments before opening them so cleanups keep the files.
	if len(fresh) > 0 {
		if err := s.st.Registry().Retain(fresh...); err != nil {
			return err
		}
	}

	opened := make([]*segment.Reader, len(m.Segments))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.OpenParallelism)
	for i, info := range m.Segments {
		if r, ok := byID[info.ID]; ok {
			opened[i] = r
			continue
		}
		g.Go(func() error {
			r, err := s.st.OpenSegment(info, s.ectx.Buffers)
			if err != nil {
				if errors.Is(err, segment.ErrCorrupt) {
					s.logger.Warn("corrupt segment dropped", "segment", info.ID, "error", err)
				} else {
					s.logger.Warn("segment dropped", "segment", info.ID, "error", err)
				}
				_ = s.st.Registry().Release(info.ID)
				return nil
			}
			opened[i] = r
			return nil
		})
	}
	_ = g.Wait()

	next := &snapshot{man: m, modTime: modTime}
	keep := make(map[uint64]struct{}, len(m.Segments))
	for _, r := range opened {
		if r != nil {
			next.readers = append(next.readers, r)
			keep[r.ID()] = struct{}{}
		}
	}

	done, err := s.exclusive()
	if err != nil {
		for _, r := range next.readers {
			if _, old := byID[r.ID()]; !old {
				_ = r.Close()
				_ = s.st.Registry().Release(r.ID())
			}
		}
		return err
	}
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	s.invalidate()
	done(StateActive)

	var dropped []uint64
	for id, r := range byID {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := r.Close(); err != nil {
			s.logger.Warn("close reader", "segment", id, "error", err)
		}
		dropped = append(dropped, id)
	}
	if len(dropped) > 0 {
		slices.Sort(dropped)
		if err := s.st.Registry().Release(dropped...); err != nil {
			s.logger.Warn("release segments", "error", err)
		}
	}

	elapsed := time.Since(start)
	s.ectx.Metrics.OnRefresh(elapsed, len(next.readers), nil)
	s.logger.Info("searcher refreshed", "version", m.Version, "segments", len(next.readers),
		"opened", len(fresh), "dropped", len(dropped), "elapsed", elapsed)
	return nil
}

// reloadDeletions rereads changed deletion bitmaps and invalidates the
// cache if any changed.
func (s *Searcher) reloadDeletions(cur *snapshot) error {
	changed := false
	var errs []error
	for _, r := range cur.readers {
		c, err := r.ReloadDeletions()
		if err != nil {
			s.logger.Warn("reload deletions", "segment", r.ID(), "error", err)
			errs = append(errs, err)
			continue
		}
		changed = changed || c
	}
	if changed {
		s.invalidate()
		s.logger.Debug("deletions reloaded")
	}
	return errors.Join(errs...)
}
