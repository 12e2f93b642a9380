// Package index holds the in-memory metadata index that queries are
// evaluated against.
//
// Concurrency: the index is guarded by a reader-writer lock. Read holds the
// read lock for the duration of its callback, so one query evaluation sees a
// single consistent packet set across every scan it performs. Ingest takes the
// write lock; a packet is only visible once it is fully inserted into every
// derived structure.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/mrc-ide/outpack-server/internal/metadata"
)

// DuplicateIDError is returned when a packet id is ingested a second time with
// different metadata. The index is left unchanged.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("packet '%s' already exists with different metadata", e.ID)
}

// Listener is notified after a packet has been added to the index
type Listener func(p *metadata.Packet)

// Index is an append-only, id-ordered collection of packet metadata
type Index struct {
	mu   sync.RWMutex
	snap Snapshot

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Snapshot is a read-only view of the index. Slices returned by its methods
// belong to the index and must not be modified or retained after the Read
// callback returns.
type Snapshot struct {
	packets      []*metadata.Packet
	fingerprints map[string]string
	byID         map[string]*metadata.Packet
	byName       map[string][]*metadata.Packet
	byParameter  map[string][]*metadata.Packet
	generation   uint64
	// XOR of sha256(id, fingerprint) over every packet
	digest [sha256.Size]byte
}

// New creates an empty index
func New() *Index {
	return &Index{
		snap: Snapshot{
			packets:      make([]*metadata.Packet, 0),
			fingerprints: make(map[string]string),
			byID:         make(map[string]*metadata.Packet),
			byName:       make(map[string][]*metadata.Packet),
			byParameter:  make(map[string][]*metadata.Packet),
		},
	}
}

// Ingest adds a packet. Ingesting identical metadata for a known id is a
// no-op; different metadata under a known id returns *DuplicateIDError.
func (idx *Index) Ingest(p *metadata.Packet) error {
	if p == nil {
		return fmt.Errorf("cannot ingest nil packet")
	}
	if !metadata.IsPacketID(p.ID) {
		return fmt.Errorf("invalid packet id '%s'", p.ID)
	}

	fingerprint, err := p.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to encode packet '%s': %w", p.ID, err)
	}

	added, err := idx.insert(p, fingerprint)
	if err != nil || !added {
		return err
	}

	idx.notify(p)
	return nil
}

// Contains reports whether id is present in the index
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.snap.byID[id]
	return ok
}

func (idx *Index) insert(p *metadata.Packet, fingerprint string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := &idx.snap
	if existing, ok := s.fingerprints[p.ID]; ok {
		if existing == fingerprint {
			return false, nil
		}
		return false, &DuplicateIDError{ID: p.ID}
	}

	s.fingerprints[p.ID] = fingerprint
	entry := sha256.Sum256([]byte(p.ID + "\x00" + fingerprint))
	for i := range s.digest {
		s.digest[i] ^= entry[i]
	}
	s.byID[p.ID] = p
	s.packets = insertSorted(s.packets, p)
	s.byName[p.Name] = insertSorted(s.byName[p.Name], p)
	for key := range p.Parameters {
		s.byParameter[key] = insertSorted(s.byParameter[key], p)
	}
	s.generation++

	return true, nil
}

// insertSorted adds p to a slice kept in ascending id order. Ids are mostly
// created in time order, so the common case is an append.
func insertSorted(packets []*metadata.Packet, p *metadata.Packet) []*metadata.Packet {
	n := len(packets)
	if n == 0 || packets[n-1].ID < p.ID {
		return append(packets, p)
	}

	i := sort.Search(n, func(i int) bool { return packets[i].ID >= p.ID })
	packets = append(packets, nil)
	copy(packets[i+1:], packets[i:])
	packets[i] = p
	return packets
}

// Subscribe registers a listener called after every successful ingest.
// Listeners run on the ingesting goroutine, outside the index lock.
func (idx *Index) Subscribe(l Listener) {
	idx.listenersMu.Lock()
	defer idx.listenersMu.Unlock()
	idx.listeners = append(idx.listeners, l)
}

func (idx *Index) notify(p *metadata.Packet) {
	idx.listenersMu.RLock()
	listeners := idx.listeners
	idx.listenersMu.RUnlock()

	for _, l := range listeners {
		l(p)
	}
}

// Read runs fn with a consistent snapshot of the index. Ingestion is blocked
// until fn returns.
func (idx *Index) Read(fn func(s *Snapshot) error) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return fn(&idx.snap)
}

// Get returns the packet with the given id
func (idx *Index) Get(id string) (*metadata.Packet, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap.Get(id)
}

// All returns a copy of every packet in ascending id order
func (idx *Index) All() []*metadata.Packet {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return clone(idx.snap.packets)
}

// ByName returns a copy of the packets with the given name, in id order
func (idx *Index) ByName(name string) []*metadata.Packet {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return clone(idx.snap.byName[name])
}

// WithParameter returns a copy of the packets that set key, in id order
func (idx *Index) WithParameter(key string) []*metadata.Packet {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return clone(idx.snap.byParameter[key])
}

// IDs returns every packet id in ascending order
func (idx *Index) IDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, len(idx.snap.packets))
	for i, p := range idx.snap.packets {
		ids[i] = p.ID
	}
	return ids
}

// Len returns the number of packets
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.snap.packets)
}

// Generation returns a counter that changes whenever a packet is added
func (idx *Index) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap.generation
}

// Digest identifies the set of packets in the index. Indexes holding the
// same packets have the same digest whatever order they were ingested in.
func (idx *Index) Digest() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap.Digest()
}

func clone(packets []*metadata.Packet) []*metadata.Packet {
	out := make([]*metadata.Packet, len(packets))
	copy(out, packets)
	return out
}

// Get returns the packet with the given id
func (s *Snapshot) Get(id string) (*metadata.Packet, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// All returns every packet in ascending id order
func (s *Snapshot) All() []*metadata.Packet { return s.packets }

// ByName returns the packets with the given name, in id order
func (s *Snapshot) ByName(name string) []*metadata.Packet { return s.byName[name] }

// WithParameter returns the packets that set key, in id order
func (s *Snapshot) WithParameter(key string) []*metadata.Packet { return s.byParameter[key] }

// Len returns the number of packets
func (s *Snapshot) Len() int { return len(s.packets) }

// Generation returns the generation this snapshot was taken at
func (s *Snapshot) Generation() uint64 { return s.generation }

// Digest identifies the set of packets in this snapshot
func (s *Snapshot) Digest() string {
	return fmt.Sprintf("%d-%s", len(s.packets), hex.EncodeToString(s.digest[:16]))
}
