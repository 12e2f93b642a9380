package hash

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	h, err := Parse("sha256:E9AA9F2212AB")
	require.NoError(t, err)
	assert.Equal(t, SHA256, h.Algorithm)
	assert.Equal(t, "e9aa9f2212ab", h.Value)
	assert.Equal(t, "sha256:e9aa9f2212ab", h.String())

	_, err = Parse("sha256")
	require.Error(t, err)
	assert.Equal(t, "Invalid hash format 'sha256'", err.Error())

	_, err = Parse("sha256:zz")
	assert.Error(t, err)

	_, err = Parse("whirlpool:abcdef")
	require.Error(t, err)
	assert.Equal(t, "Invalid hash algorithm 'whirlpool'", err.Error())

	var herr *Error
	assert.True(t, errors.As(err, &herr))
}

func TestData(t *testing.T) {
	data := []byte("Testing 123.")
	assert.Equal(t, "md5:6df8571d7b178e6fbb982ad0f5cd3bc1", Data(data, MD5).String())

	for alg := range constructors {
		h := Data(data, alg)
		assert.NoError(t, ValidateData(data, h.String()), "algorithm %s", alg)
	}
}

func TestValidateData(t *testing.T) {
	err := ValidateData([]byte("Testing 123."), "md5:abcde")
	require.Error(t, err)
	assert.Equal(t, "Expected hash 'md5:abcde' but found 'md5:6df8571d7b178e6fbb982ad0f5cd3bc1'", err.Error())

	assert.Error(t, ValidateData([]byte("x"), "badhash"))
}

func TestValidateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("Testing 123."), 0o644))

	assert.NoError(t, ValidateFile(path, "md5:6df8571d7b178e6fbb982ad0f5cd3bc1"))
	assert.Error(t, ValidateFile(path, "md5:6df8571d7b178e6fbb982ad0f5cd3bc2"))
	assert.Error(t, ValidateFile(filepath.Join(t.TempDir(), "missing"), "md5:6df8571d7b178e6fbb982ad0f5cd3bc1"))
}

func TestAlgorithmJSON(t *testing.T) {
	var alg Algorithm
	require.NoError(t, json.Unmarshal([]byte(`"sha1"`), &alg))
	assert.Equal(t, SHA1, alg)
	assert.Error(t, json.Unmarshal([]byte(`"crc32"`), &alg))

	data, err := json.Marshal(SHA512)
	require.NoError(t, err)
	assert.Equal(t, `"sha512"`, string(data))
}
