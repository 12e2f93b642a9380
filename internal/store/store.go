// Package store manages the on-disk layout of an outpack repository:
//
//	.outpack/config.json
//	.outpack/metadata/<id>
//	.outpack/location/<location>/<id>
//	.outpack/files/<algorithm>/<hex[:2]>/<hex[2:]>
//
// It is the only writer of packet metadata and feeds every packet it accepts
// into the metadata index.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/hash"
	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/metadata"
)

const outpackDir = ".outpack"

// IngestRecorder is told the outcome of every metadata file ingested
type IngestRecorder interface {
	RecordIngest(err error)
}

// Root is an opened outpack repository
type Root struct {
	path     string
	config   Config
	index    *index.Index
	logger   *zap.Logger
	recorder IngestRecorder

	// serialises writers; readers go straight to the filesystem
	mu sync.Mutex
}

// Option configures a Root
type Option func(*Root)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Root) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIngestRecorder sets the ingest metrics sink
func WithIngestRecorder(rec IngestRecorder) Option {
	return func(r *Root) {
		r.recorder = rec
	}
}

// InitOptions are the settings for a new repository
type InitOptions struct {
	PathArchive         *string
	UseFileStore        bool
	RequireCompleteTree bool
}

// Init creates a repository at path. Initialising an existing repository with
// the same settings is a no-op.
func Init(path string, opts InitOptions) error {
	cfg, err := NewConfig(opts.PathArchive, opts.UseFileStore, opts.RequireCompleteTree)
	if err != nil {
		return err
	}

	dir := filepath.Join(path, outpackDir)
	if _, err := os.Stat(dir); err == nil {
		prev, err := ReadConfig(path)
		if err != nil {
			return err
		}
		if !cfg.Core.Equal(prev.Core) {
			return errors.New("Trying to change config on reinitialisation")
		}
		return nil
	}

	dirs := []string{
		dir,
		filepath.Join(dir, "location", LocalLocation),
		filepath.Join(dir, "metadata"),
	}
	if opts.UseFileStore {
		dirs = append(dirs, filepath.Join(dir, "files"))
	}
	if opts.PathArchive != nil {
		dirs = append(dirs, filepath.Join(path, *opts.PathArchive))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}

	return WriteConfig(path, cfg)
}

// Preflight checks that path holds a repository the server can serve
func Preflight(path string) (Config, error) {
	if _, err := os.Stat(filepath.Join(path, outpackDir)); err != nil {
		return Config{}, fmt.Errorf("Outpack root not found at '%s'", path)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, fmt.Errorf("Failed to read outpack config from '%s': %w", path, err)
	}

	if err := CheckConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Open runs Preflight on path and returns a Root that adds packets to idx.
// The index is not populated; call LoadIndex.
func Open(path string, idx *index.Index, opts ...Option) (*Root, error) {
	cfg, err := Preflight(path)
	if err != nil {
		return nil, err
	}

	r := &Root{
		path:   path,
		config: cfg,
		index:  idx,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the repository root directory
func (r *Root) Path() string { return r.path }

// Config returns the repository configuration
func (r *Root) Config() Config { return r.config }

// Index returns the index packets are ingested into
func (r *Root) Index() *index.Index { return r.index }

// MetadataDir returns the directory holding one metadata file per packet
func (r *Root) MetadataDir() string {
	return filepath.Join(r.path, outpackDir, "metadata")
}

func (r *Root) metadataPath(id string) string {
	return filepath.Join(r.MetadataDir(), id)
}

func (r *Root) locationDir(name string) string {
	return filepath.Join(r.path, outpackDir, "location", name)
}

// LoadIndex ingests every metadata file on disk. It is the bootstrap path
// and is equivalent to Sync on an empty index.
func (r *Root) LoadIndex() (int, error) {
	start := time.Now()
	added, err := r.Sync()
	r.logger.Info("loaded metadata index",
		zap.Int("packets", r.index.Len()),
		zap.Int("added", added),
		zap.Duration("duration", time.Since(start)),
	)
	return added, err
}

// Sync ingests metadata files that are not yet in the index, for example
// ones written by another process. Files that fail to parse or ingest are
// reported together; the rest are still ingested.
func (r *Root) Sync() (int, error) {
	ids, err := r.IDs(false)
	if err != nil {
		return 0, err
	}

	var (
		added int
		errs  []error
	)
	for _, id := range ids {
		if r.index.Contains(id) {
			continue
		}

		err := r.ingestFile(id)
		if r.recorder != nil {
			r.recorder.RecordIngest(err)
		}
		if err != nil {
			r.logger.Warn("failed to ingest metadata", zap.String("id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		added++
	}

	return added, errors.Join(errs...)
}

func (r *Root) ingestFile(id string) error {
	p, err := r.ReadMetadata(id)
	if err != nil {
		return err
	}
	if p.ID != id {
		return fmt.Errorf("metadata file '%s' contains packet '%s'", id, p.ID)
	}
	return r.index.Ingest(p)
}

// ReadMetadata parses the stored metadata for id
func (r *Root) ReadMetadata(id string) (*metadata.Packet, error) {
	data, err := r.MetadataText(id)
	if err != nil {
		return nil, err
	}
	return metadata.Parse(data)
}

// MetadataText returns the stored metadata for id exactly as uploaded.
// Anything that is not a packet id is reported as not found.
func (r *Root) MetadataText(id string) ([]byte, error) {
	if !metadata.IsPacketID(id) {
		return nil, &NotFoundError{What: "packet", ID: id}
	}
	data, err := os.ReadFile(r.metadataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{What: "packet", ID: id}
	}
	return data, err
}

// IDs lists known packet ids in ascending order. With unpacked set, only
// packets present in the local location are listed.
func (r *Root) IDs(unpacked bool) ([]string, error) {
	dir := r.MetadataDir()
	if unpacked {
		dir = r.locationDir(LocalLocation)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && metadata.IsPacketID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MissingIDs returns the wanted ids that are not known (or not unpacked)
func (r *Root) MissingIDs(wanted []string, unpacked bool) ([]string, error) {
	known, err := r.IDs(unpacked)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(known))
	for _, id := range known {
		have[id] = true
	}

	missing := make([]string, 0)
	seen := make(map[string]bool)
	for _, w := range wanted {
		id, err := metadata.ValidID(w)
		if err != nil {
			return nil, &InvalidInputError{Message: fmt.Sprintf("Invalid packet id '%s'", w)}
		}
		if !have[id] && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	return missing, nil
}

// IDsDigest hashes the concatenation of all sorted packet ids. An empty
// algorithm uses the repository's configured one.
func (r *Root) IDsDigest(algorithm string) (string, error) {
	alg := r.config.Core.HashAlgorithm
	if algorithm != "" {
		parsed, err := hash.ParseAlgorithm(algorithm)
		if err != nil {
			return "", &InvalidInputError{Message: err.Error()}
		}
		alg = parsed
	}

	ids, err := r.IDs(false)
	if err != nil {
		return "", err
	}

	var buf []byte
	for _, id := range ids {
		buf = append(buf, id...)
	}
	return hash.Data(buf, alg).String(), nil
}

// AddPacket validates and stores uploaded metadata, records the packet in
// the local location and ingests it. The packet's files, and the packets it
// depends on, must already be present.
func (r *Root) AddPacket(data []byte, expected string) (*metadata.Packet, error) {
	want, err := hash.Parse(expected)
	if err != nil {
		return nil, &InvalidInputError{Message: err.Error()}
	}

	p, err := metadata.Parse(data)
	if err != nil {
		return nil, &InvalidInputError{Message: err.Error()}
	}

	missingFiles, err := r.MissingFiles(p.FileHashes())
	if err != nil {
		return nil, err
	}
	if len(missingFiles) > 0 {
		return nil, &InvalidInputError{Message: fmt.Sprintf(
			"Can't import metadata for %s, as files missing: \n %s", p.ID, joinComma(missingFiles))}
	}

	missingDeps, err := r.MissingIDs(p.DependencyIDs(), true)
	if err != nil {
		return nil, err
	}
	if len(missingDeps) > 0 {
		return nil, &InvalidInputError{Message: fmt.Sprintf(
			"Can't import metadata for %s, as dependencies missing: \n %s", p.ID, joinComma(missingDeps))}
	}

	if err := hash.ValidateData(data, want.String()); err != nil {
		return nil, &InvalidInputError{Message: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeMetadata(p, data); err != nil {
		return nil, err
	}
	if err := r.markKnown(p.ID, LocalLocation, want.String(), time.Now()); err != nil {
		return nil, err
	}

	err = r.index.Ingest(p)
	if r.recorder != nil {
		r.recorder.RecordIngest(err)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("packet added", zap.String("id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// writeMetadata stores data for p unless the packet is already stored.
// Metadata is immutable once written: a second upload must be byte-identical.
func (r *Root) writeMetadata(p *metadata.Packet, data []byte) error {
	existing, err := r.MetadataText(p.ID)
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return writeAtomic(r.metadataPath(p.ID), data)
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(existing, data) {
		return &index.DuplicateIDError{ID: p.ID}
	}
	return nil
}

// writeAtomic writes via a temporary file and rename so readers (including
// the metadata watcher) never see a partial file
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// NotFoundError is returned when a packet or file does not exist
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' does not exist", e.What, e.ID)
}

// InvalidInputError is returned when a request names malformed or
// inconsistent data
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }

// Stats implementation for metrics

// MetadataCount returns the number of packets in the index
func (r *Root) MetadataCount() int {
	return r.index.Len()
}

// PacketCount returns the number of packets unpacked locally
func (r *Root) PacketCount() int {
	ids, err := r.IDs(true)
	if err != nil {
		return 0
	}
	return len(ids)
}

// FileStats returns the number and total size of stored files
func (r *Root) FileStats() (int, int64) {
	var (
		count int
		size  int64
	)
	_ = filepath.WalkDir(filepath.Join(r.path, outpackDir, "files"), func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			count++
			size += info.Size()
		}
		return nil
	})
	return count, size
}

// jsonFile decodes a JSON file into v
func jsonFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
