package replica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/hash"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

const (
	manifestBlob  = "MANIFEST"
	indexPrefix   = "EXPORT-"
	indexSuffix   = ".yaml"
	segmentPrefix = "segments/"

	// DefaultParallelism is the number of files transferred concurrently.
	DefaultParallelism = 4
)

var (
	// ErrNoExport is returned by Restore when the blob store holds no manifest.
	ErrNoExport = errors.New("replica: no export found")
	// ErrChecksum is returned when a downloaded file does not match its index entry.
	ErrChecksum = errors.New("replica: checksum mismatch")
)

// Options configures Export and Restore.
type Options struct {
	// Parallelism bounds concurrent file transfers. Zero uses DefaultParallelism.
	Parallelism int
	// Logger receives progress messages. Nil discards them.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Info summarizes a transfer.
type Info struct {
	Version  uint64
	Segments int
	Files    int
	Bytes    int64
	Reused   int
	Elapsed  time.Duration
}

// File is one entry of an export index.
type File struct {
	Name   string `yaml:"name"`
	Size   int64  `yaml:"size"`
	CRC32C uint32 `yaml:"crc32c"`
}

// Index lists the files referenced by one exported manifest version.
type Index struct {
	Version    uint64    `yaml:"version"`
	ExportedAt time.Time `yaml:"exported_at"`
	Files      []File    `yaml:"files"`
}

func (ix *Index) lookup() map[string]File {
	out := make(map[string]File, len(ix.Files))
	for _, f := range ix.Files {
		out[f.Name] = f
	}
	return out
}

func indexName(version uint64) string {
	return indexPrefix + strconv.FormatUint(version, 10) + indexSuffix
}

func segmentBlob(id uint64, ext string) string {
	return segmentPrefix + segment.FileName(id, ext)
}

// Export copies the current manifest and its segments to store. The
// duplicate lock is held throughout so cleanups keep the files alive and no
// new writer starts.
func Export(ctx context.Context, st *storage.Storage, store blobstore.Store, opts Options) (Info, error) {
	opts = opts.withDefaults()
	start := time.Now()

	locks := st.Locks()
	if err := locks.Acquire(ctx, lock.Duplicate); err != nil {
		return Info{}, err
	}
	defer func() {
		if err := locks.Release(lock.Duplicate); err != nil {
			opts.Logger.Warn("release duplicate lock", "error", err)
		}
	}()

	m, err := st.LoadManifest()
	if err != nil {
		return Info{}, err
	}

	type job struct {
		local string
		blob  string
	}
	var jobs []job
	for _, info := range m.Segments {
		dir := st.SegmentDir(info.Dir)
		for _, ext := range segment.Extensions {
			p := segment.Path(dir, info.ID, ext)
			if ext == segment.ExtDeletions && !exists(st, p) {
				continue
			}
			jobs = append(jobs, job{local: p, blob: segmentBlob(info.ID, ext)})
		}
	}

	files := make([]File, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, j := range jobs {
		g.Go(func() error {
			f, err := upload(gctx, st, store, j.local, j.blob)
			if err != nil {
				return fmt.Errorf("replica: export %s: %w", j.blob, err)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Info{}, err
	}

	idx := Index{Version: m.Version, ExportedAt: time.Now().UTC(), Files: files}
	data, err := yaml.Marshal(&idx)
	if err != nil {
		return Info{}, err
	}
	if err := store.Put(ctx, indexName(m.Version), data); err != nil {
		return Info{}, err
	}

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return Info{}, err
	}
	if err := store.Put(ctx, manifestBlob, buf.Bytes()); err != nil {
		return Info{}, err
	}

	if err := prune(ctx, store, idx); err != nil {
		opts.Logger.Warn("prune stale export blobs", "error", err)
	}

	info := Info{Version: m.Version, Segments: len(m.Segments), Files: len(files), Elapsed: time.Since(start)}
	for _, f := range files {
		info.Bytes += f.Size
	}
	opts.Logger.Info("collection exported", "version", info.Version, "segments", info.Segments,
		"files", info.Files, "bytes", info.Bytes, "elapsed", info.Elapsed)
	return info, nil
}

func exists(st *storage.Storage, p string) bool {
	_, err := st.FS().Stat(p)
	return err == nil
}

// upload streams one local file into the store while computing its checksum.
func upload(ctx context.Context, st *storage.Storage, store blobstore.Store, local, name string) (File, error) {
	src, err := st.FS().OpenFile(local, os.O_RDONLY, 0)
	if err != nil {
		return File{}, err
	}
	defer func() { _ = src.Close() }()

	dst, err := store.Create(ctx, name)
	if err != nil {
		return File{}, err
	}
	h := hash.NewCRC32C()
	n, err := io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		_ = dst.Abort()
		return File{}, err
	}
	if err := dst.Close(); err != nil {
		return File{}, err
	}
	return File{Name: name, Size: n, CRC32C: h.Sum32()}, nil
}

// prune removes segment blobs and indexes that the current index does not
// reference.
func prune(ctx context.Context, store blobstore.Store, idx Index) error {
	live := idx.lookup()
	names, err := store.List(ctx, "")
	if err != nil {
		return err
	}
	current := indexName(idx.Version)
	var errs []error
	for _, name := range names {
		stale := false
		switch {
		case strings.HasPrefix(name, segmentPrefix):
			_, ok := live[name]
			stale = !ok
		case strings.HasPrefix(name, indexPrefix) && strings.HasSuffix(name, indexSuffix):
			stale = name != current
		}
		if stale {
			if err := store.Delete(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Restore replaces the local collection with the export held in store. The
// replicate and index locks are held throughout, so the caller must close
// its writer first.
func Restore(ctx context.Context, st *storage.Storage, store blobstore.Store, opts Options) (Info, error) {
	opts = opts.withDefaults()
	start := time.Now()

	locks := st.Locks()
	if err := locks.Acquire(ctx, lock.Replicate); err != nil {
		return Info{}, err
	}
	defer func() {
		if err := locks.Release(lock.Replicate); err != nil {
			opts.Logger.Warn("release replicate lock", "error", err)
		}
	}()
	if err := locks.TryAcquire(lock.Index); err != nil {
		return Info{}, err
	}
	defer func() {
		if err := locks.Release(lock.Index); err != nil {
			opts.Logger.Warn("release index lock", "error", err)
		}
	}()

	data, err := blobstore.Get(ctx, store, manifestBlob)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Info{}, ErrNoExport
	}
	if err != nil {
		return Info{}, err
	}
	remote, err := manifest.ReadBinary(bytes.NewReader(data))
	if err != nil {
		return Info{}, err
	}
	data, err = blobstore.Get(ctx, store, indexName(remote.Version))
	if err != nil {
		return Info{}, fmt.Errorf("replica: read index of version %d: %w", remote.Version, err)
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return Info{}, fmt.Errorf("replica: decode index: %w", err)
	}
	files := idx.lookup()

	local, err := st.LoadManifest()
	if err != nil {
		return Info{}, err
	}

	// Segments that cannot be reused are downloaded under fresh ids when
	// their exported id may already name other files here, so open readers
	// of the local collection never see different content under an old id.
	type plan struct {
		blobID uint64
		reuse  bool
	}
	plans := make([]plan, len(remote.Segments))
	next := max(remote.NextSegmentID, local.NextSegmentID)
	for i, seg := range remote.Segments {
		dir, reuse := reusable(st, local, seg, files)
		if !reuse {
			dir = uint32(st.Dirs().Pick())
			if seg.ID < local.NextSegmentID {
				remote.Segments[i].ID = next
				next++
			}
		}
		remote.Segments[i].Dir = dir
		plans[i] = plan{blobID: seg.ID, reuse: reuse}
	}
	remote.NextSegmentID = next

	// Declare the incoming segments before writing any file so a concurrent
	// cleanup does not treat them as orphans.
	ids := remote.SegmentIDs()
	if len(ids) > 0 {
		if err := st.Registry().Retain(ids...); err != nil {
			return Info{}, err
		}
		defer func() {
			if err := st.Registry().Release(ids...); err != nil {
				opts.Logger.Warn("release restored segments", "error", err)
			}
		}()
	}

	var (
		info = Info{Version: remote.Version, Segments: len(remote.Segments)}
		jobs []restoreJob
	)
	for i, seg := range remote.Segments {
		p := plans[i]
		target := st.SegmentDir(seg.Dir)

		for _, ext := range segment.Extensions {
			name := segmentBlob(p.blobID, ext)
			f, ok := files[name]
			switch {
			case !ok && ext == segment.ExtDeletions:
				if err := st.FS().Remove(segment.Path(target, seg.ID, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
					return Info{}, err
				}
				continue
			case !ok:
				return Info{}, fmt.Errorf("%w: %s missing from index", segment.ErrCorrupt, name)
			case p.reuse && ext != segment.ExtDeletions:
				info.Reused++
				continue
			}
			jobs = append(jobs, restoreJob{file: f, path: segment.Path(target, seg.ID, ext)})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for _, j := range jobs {
		g.Go(func() error {
			if err := download(gctx, st, store, j); err != nil {
				return fmt.Errorf("replica: restore %s: %w", j.file.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Info{}, err
	}
	for _, j := range jobs {
		info.Files++
		info.Bytes += j.file.Size
	}

	if err := st.Manifests().Flush(remote); err != nil {
		return Info{}, err
	}
	info.Version = remote.Version
	if _, err := st.RemoveDeletables(remote); err != nil {
		opts.Logger.Warn("remove replaced segments", "error", err)
	}

	info.Elapsed = time.Since(start)
	opts.Logger.Info("collection restored", "version", info.Version, "segments", info.Segments,
		"files", info.Files, "reused", info.Reused, "bytes", info.Bytes, "elapsed", info.Elapsed)
	return info, nil
}

// reusable reports whether the local copy of seg can be kept: the same id is
// live locally with the same document count and the immutable files have the
// exported sizes.
func reusable(st *storage.Storage, local *manifest.Manifest, seg manifest.SegmentInfo, files map[string]File) (uint32, bool) {
	have, ok := local.Segment(seg.ID)
	if !ok || have.DocCount != seg.DocCount {
		return 0, false
	}
	dir := st.SegmentDir(have.Dir)
	for _, ext := range segment.Extensions {
		if ext == segment.ExtDeletions {
			continue
		}
		f, ok := files[segmentBlob(seg.ID, ext)]
		if !ok {
			return 0, false
		}
		fi, err := st.FS().Stat(segment.Path(dir, seg.ID, ext))
		if err != nil || fi.Size() != f.Size {
			return 0, false
		}
	}
	return have.Dir, true
}

type restoreJob struct {
	file File
	path string
}

// download writes one blob to a temporary file, verifies it and renames it
// into place.
func download(ctx context.Context, st *storage.Storage, store blobstore.Store, j restoreJob) error {
	fsys := st.FS()
	if err := fsys.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}

	b, err := store.Open(ctx, j.file.Name)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	tmp := j.path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	h := hash.NewCRC32C()
	n, err := blobstore.ReadAll(ctx, io.MultiWriter(f, h), b)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && (n != j.file.Size || h.Sum32() != j.file.CRC32C) {
		err = fmt.Errorf("%w: %s", ErrChecksum, j.file.Name)
	}
	if err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return fsys.Rename(tmp, j.path)
}
