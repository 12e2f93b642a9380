// Package hash implements the "algorithm:hex" content hashes used to address
// files and metadata in an outpack repository.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	gohash "hash"
	"io"
	"os"
	"strings"
)

// Algorithm names a supported hash function
type Algorithm string

// Supported algorithms
const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

var constructors = map[Algorithm]func() gohash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA384: sha512.New384,
	SHA512: sha512.New,
}

// ParseAlgorithm validates an algorithm name
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(name)
	if _, ok := constructors[alg]; !ok {
		return "", &Error{Message: fmt.Sprintf("Invalid hash algorithm '%s'", name)}
	}
	return alg, nil
}

func (a Algorithm) String() string { return string(a) }

// UnmarshalJSON rejects unknown algorithm names
func (a *Algorithm) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	alg, err := ParseAlgorithm(s)
	if err != nil {
		return err
	}
	*a = alg
	return nil
}

// Hash is a digest together with the algorithm that produced it
type Hash struct {
	Algorithm Algorithm
	Value     string
}

// Error is returned for malformed or mismatched hashes
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Parse parses "algorithm:hexdigest"
func Parse(s string) (Hash, error) {
	alg, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Hash{}, &Error{Message: fmt.Sprintf("Invalid hash format '%s'", s)}
	}
	algorithm, err := ParseAlgorithm(alg)
	if err != nil {
		return Hash{}, err
	}
	if len(value) < 3 || !isHex(value) {
		return Hash{}, &Error{Message: fmt.Sprintf("Invalid hash format '%s'", s)}
	}
	return Hash{Algorithm: algorithm, Value: strings.ToLower(value)}, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func (h Hash) String() string {
	return string(h.Algorithm) + ":" + h.Value
}

// Data hashes a byte slice
func Data(data []byte, alg Algorithm) Hash {
	h := constructors[alg]()
	h.Write(data)
	return Hash{Algorithm: alg, Value: hex.EncodeToString(h.Sum(nil))}
}

// Reader hashes everything read from r
func Reader(r io.Reader, alg Algorithm) (Hash, error) {
	h := constructors[alg]()
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, err
	}
	return Hash{Algorithm: alg, Value: hex.EncodeToString(h.Sum(nil))}, nil
}

// ValidateData checks that data hashes to expected
func ValidateData(data []byte, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}
	return compare(want, Data(data, want.Algorithm))
}

// ValidateFile checks that the file at path hashes to expected
func ValidateFile(path string, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := Reader(f, want.Algorithm)
	if err != nil {
		return err
	}
	return compare(want, got)
}

func compare(want, got Hash) error {
	if want.Value != got.Value {
		return &Error{Message: fmt.Sprintf("Expected hash '%s' but found '%s'", want, got)}
	}
	return nil
}
