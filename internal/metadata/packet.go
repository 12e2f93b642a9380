// Package metadata defines the packet metadata model stored by an outpack repository.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var idPattern = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}-[0-9a-fA-F]{8}$`)

// Packet is an immutable record of a computation's inputs, outputs and metadata
type Packet struct {
	SchemaVersion string           `json:"schema_version,omitempty"`
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Parameters    map[string]Value `json:"parameters"`
	Time          PacketTime       `json:"time"`
	Files         []PacketFile     `json:"files"`
	Depends       []Dependency     `json:"depends"`
	Custom        json.RawMessage  `json:"custom,omitempty"`

	// digest of the bytes the packet was parsed from; metadata carries
	// fields (script, git, session) that Packet does not model
	digest string
}

// PacketTime holds start and end times in seconds since the epoch
type PacketTime struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PacketFile is one file produced by a packet
type PacketFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Dependency records a packet used as input, and the query that selected it
type Dependency struct {
	Packet string           `json:"packet"`
	Query  string           `json:"query,omitempty"`
	Files  []DependencyFile `json:"files"`
}

// DependencyFile maps a file in the dependency (There) to its local name (Here)
type DependencyFile struct {
	Here  string `json:"here"`
	There string `json:"there"`
}

// Parse decodes packet metadata JSON
func Parse(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid packet metadata: %w", err)
	}
	if !IsPacketID(p.ID) {
		return nil, fmt.Errorf("invalid packet id '%s'", p.ID)
	}
	sum := sha256.Sum256(data)
	p.digest = "sha256:" + hex.EncodeToString(sum[:])
	return &p, nil
}

// Parameter returns the value of a parameter, or Absent if it is not set
func (p *Packet) Parameter(key string) Value {
	if p == nil || p.Parameters == nil {
		return Absent()
	}
	return p.Parameters[key]
}

// ParameterKeys returns the packet's parameter names in sorted order
func (p *Packet) ParameterKeys() []string {
	keys := make([]string, 0, len(p.Parameters))
	for k := range p.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FileHashes returns the hashes of every file in the packet
func (p *Packet) FileHashes() []string {
	hashes := make([]string, len(p.Files))
	for i, f := range p.Files {
		hashes[i] = f.Hash
	}
	return hashes
}

// DependencyIDs returns the ids of every packet this one depends on
func (p *Packet) DependencyIDs() []string {
	ids := make([]string, len(p.Depends))
	for i, d := range p.Depends {
		ids[i] = d.Packet
	}
	return ids
}

// Fingerprint identifies the packet's payload so that two different payloads
// under the same id can be detected. Parsed packets are identified by the
// exact bytes they were parsed from; packets built in code by their JSON
// encoding, which is deterministic because encoding/json sorts map keys.
func (p *Packet) Fingerprint() (string, error) {
	if p.digest != "" {
		return p.digest, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IsPacketID reports whether s is a well-formed packet id
func IsPacketID(s string) bool {
	return idPattern.MatchString(s)
}

// ValidID trims surrounding whitespace and validates s as a packet id
func ValidID(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if !IsPacketID(trimmed) {
		return "", fmt.Errorf("invalid packet id '%s'", s)
	}
	return trimmed, nil
}
