package metadata

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examplePacket = `{
  "schema_version": "0.0.1",
  "name": "computed-resource",
  "id": "20230427-150828-68772cee",
  "time": {"start": 1682608108.4139, "end": 1682608108.4309},
  "parameters": {"a": 1, "b": "x", "c": true, "d": null, "e": [1, 2]},
  "files": [{"path": "data.csv", "size": 51, "hash": "sha256:b189"}],
  "depends": [{"packet": "20170818-164847-7574883b", "query": "latest(name == \"upstream\")", "files": []}],
  "custom": {"orderly": {"role": []}}
}`

func TestParsePacket(t *testing.T) {
	p, err := Parse([]byte(examplePacket))
	require.NoError(t, err)

	assert.Equal(t, "20230427-150828-68772cee", p.ID)
	assert.Equal(t, "computed-resource", p.Name)
	assert.Equal(t, Number(1), p.Parameter("a"))
	assert.Equal(t, String("x"), p.Parameter("b"))
	assert.Equal(t, Bool(true), p.Parameter("c"))
	assert.True(t, p.Parameter("d").IsAbsent())
	assert.True(t, p.Parameter("e").IsAbsent())
	assert.True(t, p.Parameter("missing").IsAbsent())
	assert.Equal(t, []string{"sha256:b189"}, p.FileHashes())
	assert.Equal(t, []string{"20170818-164847-7574883b"}, p.DependencyIDs())
	assert.Equal(t, `latest(name == "upstream")`, p.Depends[0].Query)
	assert.JSONEq(t, `{"orderly": {"role": []}}`, string(p.Custom))
}

func TestParsePacketRejectsBadID(t *testing.T) {
	_, err := Parse([]byte(`{"id": "nope", "name": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid packet id")
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := Parse([]byte(examplePacket))
	require.NoError(t, err)
	b, err := Parse([]byte(examplePacket))
	require.NoError(t, err)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	built := &Packet{ID: a.ID, Name: a.Name}
	f1, err := built.Fingerprint()
	require.NoError(t, err)
	built.Name = "other"
	f2, err := built.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, f1, f2)
}

func TestFingerprintCoversUnmodelledFields(t *testing.T) {
	a, err := Parse([]byte(examplePacket))
	require.NoError(t, err)

	extended := strings.Replace(examplePacket, "{", `{"script": ["other.R"],`, 1)
	b, err := Parse([]byte(extended))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestValueEquality(t *testing.T) {
	assert.True(t, Number(10).Equal(Number(10)))
	assert.False(t, Number(10).Equal(Number(11.1)))
	assert.False(t, Number(1).Equal(Bool(true)))
	assert.False(t, String("1").Equal(Number(1)))
	assert.True(t, Absent().Equal(Absent()))
	assert.False(t, Absent().Equal(String("")))
}

func TestValueJSON(t *testing.T) {
	var params map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"x": 2.5, "y": "s", "z": false, "n": null}`), &params))
	assert.Equal(t, KindNumber, params["x"].Kind())
	assert.Equal(t, KindString, params["y"].Kind())
	assert.Equal(t, KindBool, params["z"].Kind())
	assert.Equal(t, KindAbsent, params["n"].Kind())

	out, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x": 2.5, "y": "s", "z": false, "n": null}`, string(out))
}

func TestValidID(t *testing.T) {
	id, err := ValidID(" 20170818-164830-33e0ab01 ")
	require.NoError(t, err)
	assert.Equal(t, "20170818-164830-33e0ab01", id)

	_, err = ValidID("20170818-164830-33e0ab0")
	assert.Error(t, err)
	assert.False(t, IsPacketID("1234"))
}
