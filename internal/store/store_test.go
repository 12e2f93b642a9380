package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrc-ide/outpack-server/internal/hash"
	"github.com/mrc-ide/outpack-server/internal/index"
)

const (
	idA = "20230101-000000-aaaaaaaa"
	idB = "20230102-000000-bbbbbbbb"
)

type countingRecorder struct {
	ok, failed int
}

func (c *countingRecorder) RecordIngest(err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func newRoot(t *testing.T, opts ...Option) *Root {
	t.Helper()
	path := t.TempDir()
	require.NoError(t, Init(path, InitOptions{UseFileStore: true, RequireCompleteTree: true}))
	root, err := Open(path, index.New(), opts...)
	require.NoError(t, err)
	return root
}

func packetJSON(id, name string, fileHash string, depends ...string) []byte {
	files := "[]"
	if fileHash != "" {
		files = fmt.Sprintf(`[{"path":"data.csv","size":12,"hash":%q}]`, fileHash)
	}
	deps := make([]string, len(depends))
	for i, d := range depends {
		deps[i] = fmt.Sprintf(`{"packet":%q,"query":"latest","files":[]}`, d)
	}
	return []byte(fmt.Sprintf(
		`{"schema_version":"0.1.1","id":%q,"name":%q,"parameters":{"x":1},"time":{"start":1,"end":2},"files":%s,"depends":[%s],"custom":null}`,
		id, name, files, strings.Join(deps, ",")))
}

func sha(data []byte) string {
	return hash.Data(data, hash.SHA256).String()
}

func TestInit(t *testing.T) {
	path := t.TempDir()
	require.NoError(t, Init(path, InitOptions{UseFileStore: true, RequireCompleteTree: true}))

	for _, dir := range []string{"metadata", "files", filepath.Join("location", "local")} {
		assert.DirExists(t, filepath.Join(path, ".outpack", dir))
	}

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, hash.SHA256, cfg.Core.HashAlgorithm)
	assert.True(t, cfg.Core.UseFileStore)
	require.Len(t, cfg.Location, 1)
	assert.Equal(t, LocalLocation, cfg.Location[0].Name)

	// same settings again is fine
	assert.NoError(t, Init(path, InitOptions{UseFileStore: true, RequireCompleteTree: true}))

	err = Init(path, InitOptions{UseFileStore: true})
	require.Error(t, err)
	assert.Equal(t, "Trying to change config on reinitialisation", err.Error())
}

func TestInitRequiresArchiveOrFileStore(t *testing.T) {
	err := Init(t.TempDir(), InitOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use_file_store must be true")
}

func TestPreflight(t *testing.T) {
	missing := t.TempDir()
	_, err := Preflight(missing)
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("Outpack root not found at '%s'", missing), err.Error())

	archive := "archive"
	path := t.TempDir()
	require.NoError(t, Init(path, InitOptions{PathArchive: &archive, UseFileStore: true, RequireCompleteTree: true}))
	_, err = Preflight(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "*not* use an archive")

	path = t.TempDir()
	require.NoError(t, Init(path, InitOptions{UseFileStore: true}))
	_, err = Preflight(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require a complete tree")
}

func TestPutFile(t *testing.T) {
	root := newRoot(t)
	data := []byte("a,b\n1,2\n")
	h := sha(data)

	ok, err := root.FileExists(h)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, root.PutFile(bytes.NewReader(data), h))
	require.NoError(t, root.PutFile(bytes.NewReader(data), h))

	path, err := root.FilePath(h)
	require.NoError(t, err)
	value := strings.TrimPrefix(h, "sha256:")
	assert.Equal(t, filepath.Join(root.Path(), ".outpack", "files", "sha256", value[:2], value[2:]), path)

	f, err := root.OpenFile(h)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	count, size := root.FileStats()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(len(data)), size)
}

func TestPutFileRejectsWrongHash(t *testing.T) {
	root := newRoot(t)
	err := root.PutFile(strings.NewReader("one"), sha([]byte("two")))
	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "Expected hash")

	count, _ := root.FileStats()
	assert.Equal(t, 0, count)

	_, err = root.OpenFile(sha([]byte("two")))
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestAddPacket(t *testing.T) {
	rec := &countingRecorder{}
	root := newRoot(t, WithIngestRecorder(rec))

	file := []byte("some data\n")
	fileHash := sha(file)
	data := packetJSON(idA, "data", fileHash)

	_, err := root.AddPacket(data, sha(data))
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("Can't import metadata for %s, as files missing: \n %s", idA, fileHash), err.Error())

	require.NoError(t, root.PutFile(bytes.NewReader(file), fileHash))

	_, err = root.AddPacket(data, sha([]byte("other")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected hash")

	p, err := root.AddPacket(data, sha(data))
	require.NoError(t, err)
	assert.Equal(t, idA, p.ID)
	assert.True(t, root.Index().Contains(idA))
	assert.Equal(t, 1, rec.ok)

	text, err := root.MetadataText(idA)
	require.NoError(t, err)
	assert.Equal(t, data, text)

	// uploading the same packet again is accepted
	_, err = root.AddPacket(data, sha(data))
	require.NoError(t, err)

	entries, err := root.Locations()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, idA, entries[0].Packet)
	assert.Equal(t, sha(data), entries[0].Hash)

	assert.Equal(t, 1, root.MetadataCount())
	assert.Equal(t, 1, root.PacketCount())
}

func TestAddPacketRequiresDependencies(t *testing.T) {
	root := newRoot(t)
	child := packetJSON(idB, "report", "", idA)

	_, err := root.AddPacket(child, sha(child))
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("Can't import metadata for %s, as dependencies missing: \n %s", idB, idA), err.Error())

	parent := packetJSON(idA, "data", "")
	_, err = root.AddPacket(parent, sha(parent))
	require.NoError(t, err)
	_, err = root.AddPacket(child, sha(child))
	require.NoError(t, err)

	ids, err := root.IDs(false)
	require.NoError(t, err)
	assert.Equal(t, []string{idA, idB}, ids)
}

func TestMissingIDs(t *testing.T) {
	root := newRoot(t)
	data := packetJSON(idA, "data", "")
	_, err := root.AddPacket(data, sha(data))
	require.NoError(t, err)

	missing, err := root.MissingIDs([]string{idA, " " + idB, idB}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, missing)

	_, err = root.MissingIDs([]string{"not-an-id"}, true)
	var invalid *InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestIDsDigest(t *testing.T) {
	root := newRoot(t)
	for _, id := range []string{idB, idA} {
		data := packetJSON(id, "data", "")
		_, err := root.AddPacket(data, sha(data))
		require.NoError(t, err)
	}

	digest, err := root.IDsDigest("")
	require.NoError(t, err)
	assert.Equal(t, sha([]byte(idA+idB)), digest)

	digest, err = root.IDsDigest("md5")
	require.NoError(t, err)
	assert.Equal(t, hash.Data([]byte(idA+idB), hash.MD5).String(), digest)

	_, err = root.IDsDigest("whirlpool")
	assert.Error(t, err)
}

func TestMetadataSince(t *testing.T) {
	root := newRoot(t)
	data := packetJSON(idA, "data", "")
	_, err := root.AddPacket(data, sha(data))
	require.NoError(t, err)

	all, err := root.MetadataSince(nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "data", all[0].Name)
	assert.Equal(t, 1.0, all[0].Parameters["x"].Num())

	entries, err := root.Locations()
	require.NoError(t, err)
	after := entries[0].Time
	none, err := root.MetadataSince(&after)
	require.NoError(t, err)
	assert.Empty(t, none)

	before := entries[0].Time - 1
	some, err := root.MetadataSince(&before)
	require.NoError(t, err)
	assert.Len(t, some, 1)
}

func TestSync(t *testing.T) {
	rec := &countingRecorder{}
	root := newRoot(t, WithIngestRecorder(rec))

	// written by another process
	dir := root.MetadataDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, idA), packetJSON(idA, "data", ""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, idB), []byte("{broken"), 0o644))

	added, err := root.LoadIndex()
	assert.Error(t, err)
	assert.Equal(t, 1, added)
	assert.True(t, root.Index().Contains(idA))
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.failed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, idB), packetJSON(idB, "data", ""), 0o644))
	added, err = root.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, root.Index().Len())

	added, err = root.Sync()
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestSyncRejectsMismatchedFileName(t *testing.T) {
	root := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root.MetadataDir(), idB), packetJSON(idA, "data", ""), 0o644))

	_, err := root.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains packet")
	assert.Equal(t, 0, root.Index().Len())
}

func TestReadMetadataNotFound(t *testing.T) {
	root := newRoot(t)
	_, err := root.ReadMetadata(idA)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "packet with id '20230101-000000-aaaaaaaa' does not exist", err.Error())
}

func TestAddPacketRejectsDifferentMetadataForSameID(t *testing.T) {
	root := newRoot(t)
	first := packetJSON(idA, "data", "")
	_, err := root.AddPacket(first, sha(first))
	require.NoError(t, err)

	second := packetJSON(idA, "other", "")
	_, err = root.AddPacket(second, sha(second))
	var dup *index.DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, idA, dup.ID)

	text, err := root.MetadataText(idA)
	require.NoError(t, err)
	assert.Equal(t, first, text)
}

func TestAddPacketRejectsChangeInUnmodelledField(t *testing.T) {
	root := newRoot(t)
	first := packetJSON(idA, "data", "")
	_, err := root.AddPacket(first, sha(first))
	require.NoError(t, err)

	// same packet as far as queries can see, but the stored bytes differ
	second := bytes.Replace(first, []byte("{"), []byte(`{"script":["other.R"],`), 1)
	_, err = root.AddPacket(second, sha(second))
	var dup *index.DuplicateIDError
	require.ErrorAs(t, err, &dup)

	text, err := root.MetadataText(idA)
	require.NoError(t, err)
	assert.Equal(t, first, text)

	entries, err := root.Locations()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sha(first), entries[0].Hash)
}

func TestMetadataTextRejectsNonIDs(t *testing.T) {
	root := newRoot(t)
	for _, id := range []string{"..", ".", "../config.json", "not-an-id", ""} {
		_, err := root.MetadataText(id)
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound, id)
	}
}
