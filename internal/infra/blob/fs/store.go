// Package fs stores objects as plain files under a root directory.
//
// Objects written through the Store carry a JSON sidecar (key + ".meta") with
// content type, metadata and content hash. Files placed under the root by
// other tools, such as raw uploads synced from devices, have no sidecar and
// are served with what the file system knows about them.
package fs

import (
	"context"
	"io"
	iofs "io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"chunkledger/internal/blob/core"
)

const (
	metaSuffix = ".meta"
	tmpPrefix  = ".tmp-"
)

// Store implements core.Store on the local filesystem. Writes go through a
// temp file and rename so readers never observe a partial chunk.
type Store struct {
	root string
}

// New returns a filesystem-backed blob store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create blob root %s", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// sanitizeKey rejects keys that would escape the root or collide with sidecars.
func sanitizeKey(key string) (string, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return "", errors.New("empty key")
	case strings.Contains(key, ".."):
		return "", errors.Errorf("invalid key %q contains '..'", key)
	case strings.HasPrefix(key, "/"):
		return "", errors.Errorf("invalid absolute key %q", key)
	case strings.HasSuffix(key, metaSuffix):
		return "", errors.Errorf("invalid key %q: reserved suffix %s", key, metaSuffix)
	case strings.HasPrefix(path.Base(key), tmpPrefix):
		return "", errors.Errorf("invalid key %q: reserved prefix %s", key, tmpPrefix)
	}
	return path.Clean(filepath.ToSlash(key)), nil
}

func (s *Store) pathFor(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + metaSuffix, nil
}

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"content_hash"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Put writes the object at key, replacing any previous content.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := core.NewContentHasher()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}

	now := time.Now().UTC()
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    cloneMD(opts.Metadata),
		ContentHash: core.EncodeContentHash(h.Sum(nil)),
		Size:        size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if prev, err := readMeta(metaPath); err == nil {
		mf.CreatedAt = prev.CreatedAt
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}
	if err := writeMeta(metaPath, mf); err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}
	return s.info(key, mf), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	dataPath, _, _ := s.pathFor(key)
	file, err := os.Open(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, errors.Wrapf(core.ErrNotFound, "blob %s", key)
	}
	if err != nil {
		return core.Info{}, nil, errors.Wrapf(err, "get %s", key)
	}
	return info, file, nil
}

// Head reads the sidecar, or stats the file when there is none.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	mf, err := readMeta(metaPath)
	if err == nil {
		return s.info(key, mf), nil
	}
	if !errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, errors.Wrapf(err, "head %s", key)
	}
	st, err := os.Stat(dataPath)
	if errors.Is(err, iofs.ErrNotExist) || (err == nil && st.IsDir()) {
		return core.Info{}, errors.Wrapf(core.ErrNotFound, "blob %s", key)
	}
	if err != nil {
		return core.Info{}, errors.Wrapf(err, "head %s", key)
	}
	return s.info(key, foreignMeta(dataPath, st)), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "delete %s", key)
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the directory holding prefix and returns objects whose key has
// prefix, ordered by key. Sidecars and in-flight temp files are skipped.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	start := s.root
	if dir := path.Dir(prefix + "x"); dir != "." {
		start = filepath.Join(s.root, filepath.FromSlash(dir))
	}
	var infos []core.Info
	err := filepath.WalkDir(start, func(p string, d iofs.DirEntry, err error) error {
		if errors.Is(err, iofs.ErrNotExist) && p == start {
			return iofs.SkipAll
		}
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		mf, err := readMeta(p + metaSuffix)
		if errors.Is(err, iofs.ErrNotExist) {
			st, serr := d.Info()
			if serr != nil {
				return serr
			}
			mf, err = foreignMeta(p, st), nil
		}
		if err != nil {
			return err
		}
		infos = append(infos, s.info(key, mf))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a stable local URL; the filesystem has nothing to sign.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && strings.ToUpper(opts.Method) != "GET" {
		return "", core.ErrUnsupported
	}
	if _, err := sanitizeKey(key); err != nil {
		return "", err
	}
	return s.localURL(key), nil
}

func (s *Store) localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}).String()
}

func (s *Store) info(key string, mf metaFile) core.Info {
	return core.Info{
		Key:          key,
		Size:         mf.Size,
		ContentType:  mf.ContentType,
		ETag:         mf.ContentHash,
		ContentHash:  mf.ContentHash,
		Metadata:     cloneMD(mf.Metadata),
		LastModified: mf.UpdatedAt,
		URL:          s.localURL(key),
	}
}

// foreignMeta describes a file written without a sidecar. Its content hash is unknown.
func foreignMeta(p string, st iofs.FileInfo) metaFile {
	mt := st.ModTime().UTC()
	return metaFile{
		ContentType: mime.TypeByExtension(filepath.Ext(p)),
		Size:        st.Size(),
		CreatedAt:   mt,
		UpdatedAt:   mt,
	}
}

func cloneMD(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeMeta(p string, mf metaFile) error {
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

func readMeta(p string) (metaFile, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, errors.Wrapf(err, "decode %s", p)
	}
	return mf, nil
}
