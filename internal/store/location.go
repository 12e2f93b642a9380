package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mrc-ide/outpack-server/internal/metadata"
)

// LocationEntry records that a packet is available at a location
type LocationEntry struct {
	Packet string  `json:"packet"`
	Time   float64 `json:"time"`
	Hash   string  `json:"hash"`
}

// Locations returns every location entry across all locations, ordered by
// packet id
func (r *Root) Locations() ([]LocationEntry, error) {
	base := filepath.Join(r.path, outpackDir, "location")
	dirs, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	entries := make([]LocationEntry, 0)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		found, err := r.locationEntries(d.Name())
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Packet < entries[j].Packet
	})
	return entries, nil
}

func (r *Root) locationEntries(name string) ([]LocationEntry, error) {
	dir := r.locationDir(name)
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]LocationEntry, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !metadata.IsPacketID(f.Name()) {
			continue
		}
		var entry LocationEntry
		if err := jsonFile(filepath.Join(dir, f.Name()), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// markKnown records id at the given location. An existing entry is kept.
func (r *Root) markKnown(id, location, h string, when time.Time) error {
	path := filepath.Join(r.locationDir(location), id)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.Marshal(LocationEntry{
		Packet: id,
		Time:   float64(when.UnixNano()) / 1e9,
		Hash:   h,
	})
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// PackitPacket is the summary of a packet served to Packit
type PackitPacket struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	Parameters map[string]metadata.Value `json:"parameters"`
	Time       metadata.PacketTime       `json:"time"`
	Custom     json.RawMessage           `json:"custom,omitempty"`
}

// MetadataSince summarises packets unpacked locally after from (seconds
// since the epoch). A nil from returns every unpacked packet.
func (r *Root) MetadataSince(from *float64) ([]PackitPacket, error) {
	entries, err := r.locationEntries(LocalLocation)
	if err != nil {
		return nil, err
	}

	out := make([]PackitPacket, 0, len(entries))
	for _, e := range entries {
		if from != nil && e.Time <= *from {
			continue
		}
		p, err := r.ReadMetadata(e.Packet)
		if err != nil {
			return nil, err
		}
		out = append(out, PackitPacket{
			ID:         p.ID,
			Name:       p.Name,
			Parameters: p.Parameters,
			Time:       p.Time,
			Custom:     p.Custom,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
