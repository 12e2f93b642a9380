package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrc-ide/outpack-server/internal/cache"
	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/eval"
	"github.com/mrc-ide/outpack-server/internal/query/parser"
)

const (
	idA = "20230101-000000-aaaaaaaa"
	idB = "20230102-000000-bbbbbbbb"
	idC = "20230103-000000-cccccccc"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	cache    []string
}

func (r *recordingObserver) ObserveQuery(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) ObserveCache(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = append(r.cache, result)
}

func packet(id, name string, params map[string]metadata.Value, depends ...metadata.Dependency) *metadata.Packet {
	return &metadata.Packet{ID: id, Name: name, Parameters: params, Depends: depends}
}

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	idx := index.New()
	require.NoError(t, idx.Ingest(packet(idA, "data", map[string]metadata.Value{"x": metadata.Number(1)})))
	require.NoError(t, idx.Ingest(packet(idB, "data", map[string]metadata.Value{"x": metadata.Number(2)})))
	return idx
}

func TestEvaluateQuery(t *testing.T) {
	engine := NewEngine(newTestIndex(t))
	ctx := context.Background()

	sel, err := engine.EvaluateQuery(ctx, `latest(name == "data")`, eval.Context{})
	require.NoError(t, err)
	assert.Equal(t, eval.Selection{Kind: eval.SelectionSingle, IDs: []string{idB}}, sel)

	sel, err = engine.EvaluateQuery(ctx, `parameter:x == environment:want`, eval.Context{
		Environment: map[string]metadata.Value{"want": metadata.Number(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{idA}, sel.IDs)
}

func TestEvaluateQueryErrors(t *testing.T) {
	engine := NewEngine(newTestIndex(t))
	ctx := context.Background()

	_, err := engine.EvaluateQuery(ctx, `name == `, eval.Context{})
	var qerr *Error
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, KindParse, qerr.Kind)
	assert.True(t, IsParseError(err))
	var perr *parser.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 8, perr.Offset)
	assert.Contains(t, err.Error(), "Failed to parse query")

	_, err = engine.EvaluateQuery(ctx, `single(name == "data")`, eval.Context{})
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, KindEval, qerr.Kind)
	assert.True(t, errors.Is(err, eval.ErrAmbiguousMatch))
	assert.True(t, IsNoMatch(err))
	assert.False(t, IsParseError(err))

	_, err = engine.EvaluateQuery(ctx, `this:x == 1`, eval.Context{})
	assert.True(t, errors.Is(err, eval.ErrNoCurrentPacket))
	assert.False(t, IsNoMatch(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = engine.EvaluateQuery(cancelled, `latest`, eval.Context{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateQueryCachesUntilIngest(t *testing.T) {
	idx := newTestIndex(t)
	mem := cache.NewMemoryCache(cache.DefaultConfig())
	defer mem.Close()
	observer := &recordingObserver{}
	engine := NewEngine(idx, WithCache(mem, time.Minute), WithObserver(observer))
	ctx := context.Background()

	first, err := engine.EvaluateQuery(ctx, `name == "data"`, eval.Context{})
	require.NoError(t, err)

	// same query, different spelling
	second, err := engine.EvaluateQuery(ctx, `name=='data'`, eval.Context{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"miss", "hit"}, observer.cache)
	assert.Equal(t, 1, mem.Len())

	require.NoError(t, idx.Ingest(packet(idC, "data", nil)))

	third, err := engine.EvaluateQuery(ctx, `name == "data"`, eval.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{idA, idB, idC}, third.IDs)
	assert.Equal(t, []string{"miss", "hit", "miss"}, observer.cache)
	assert.Equal(t, []string{OutcomeOK, OutcomeOK}, observer.outcomes)
}

func TestEvaluateQuerySharedCacheKeepsIndexesApart(t *testing.T) {
	mem := cache.NewMemoryCache(cache.DefaultConfig())
	defer mem.Close()

	onlyA := index.New()
	require.NoError(t, onlyA.Ingest(packet(idA, "data", nil)))
	onlyB := index.New()
	require.NoError(t, onlyB.Ingest(packet(idB, "data", nil)))

	engineA := NewEngine(onlyA, WithCache(mem, time.Minute))
	engineB := NewEngine(onlyB, WithCache(mem, time.Minute))
	ctx := context.Background()

	sel, err := engineA.EvaluateQuery(ctx, `latest`, eval.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{idA}, sel.IDs)

	sel, err = engineB.EvaluateQuery(ctx, `latest`, eval.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, sel.IDs)
	assert.Equal(t, 2, mem.Len())
}

func TestEvaluateQueryDoesNotCacheThisBindings(t *testing.T) {
	mem := cache.NewMemoryCache(cache.DefaultConfig())
	defer mem.Close()
	engine := NewEngine(newTestIndex(t), WithCache(mem, time.Minute))

	this := packet(idC, "consumer", map[string]metadata.Value{"x": metadata.Number(2)})
	sel, err := engine.EvaluateQuery(context.Background(), `parameter:x == this:x`, eval.Context{This: this})
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, sel.IDs)
	assert.Equal(t, 0, mem.Len())
}

func TestEvaluateQueryWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := cache.NewRedisCacheWithClient(client, cache.DefaultConfig())
	defer rc.Close()

	observer := &recordingObserver{}
	engine := NewEngine(newTestIndex(t), WithCache(rc, time.Minute), WithObserver(observer))
	ctx := context.Background()

	env := map[string]metadata.Value{"x": metadata.Number(2)}
	_, err := engine.EvaluateQuery(ctx, `parameter:x == environment:x`, eval.Context{Environment: env})
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	sel, err := engine.EvaluateQuery(ctx, `parameter:x == environment:x`, eval.Context{Environment: env})
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, sel.IDs)

	// a string "2" is a different binding from the number 2
	sel, err = engine.EvaluateQuery(ctx, `parameter:x == environment:x`, eval.Context{
		Environment: map[string]metadata.Value{"x": metadata.String("2")},
	})
	require.NoError(t, err)
	assert.Empty(t, sel.IDs)
	assert.Equal(t, []string{"miss", "hit", "miss"}, observer.cache)

	// corrupt entries are discarded and recomputed
	for _, k := range mr.Keys() {
		require.NoError(t, mr.Set(k, "not json"))
	}
	sel, err = engine.EvaluateQuery(ctx, `parameter:x == environment:x`, eval.Context{Environment: env})
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, sel.IDs)
}

func TestResolveDependencies(t *testing.T) {
	idx := newTestIndex(t)
	consumer := packet(idC, "report", map[string]metadata.Value{"x": metadata.Number(1)},
		metadata.Dependency{Packet: idB, Query: `latest(name == "data")`},
		metadata.Dependency{Packet: idB, Query: `latest(name == "data" && parameter:x == this:x)`},
		metadata.Dependency{Packet: idA, Query: `single(name == "data")`},
		metadata.Dependency{Packet: idA},
	)
	require.NoError(t, idx.Ingest(consumer))

	engine := NewEngine(idx)
	results, err := engine.ResolveDependencies(context.Background(), idC)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Satisfied)
	assert.Equal(t, []string{idB}, results[0].Selection.IDs)

	// this:x is 1, so the query now selects A rather than the recorded B
	assert.False(t, results[1].Satisfied)
	assert.Equal(t, []string{idA}, results[1].Selection.IDs)

	assert.False(t, results[2].Satisfied)
	assert.Nil(t, results[2].Selection)
	assert.Contains(t, results[2].Error, "AmbiguousMatch")

	assert.True(t, results[3].Satisfied)

	_, err = engine.ResolveDependencies(context.Background(), "20990101-000000-00000000")
	assert.ErrorIs(t, err, ErrPacketNotFound)
}

func TestParseValue(t *testing.T) {
	assert.True(t, ParseValue("12").Equal(metadata.Number(12)))
	assert.True(t, ParseValue("-1.5").Equal(metadata.Number(-1.5)))
	assert.True(t, ParseValue("TRUE").Equal(metadata.Bool(true)))
	assert.True(t, ParseValue(`"12"`).Equal(metadata.String("12")))
	assert.True(t, ParseValue("hello world").Equal(metadata.String("hello world")))
	assert.True(t, ParseValue("").Equal(metadata.String("")))
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment([]string{"a=1", "b=text", "c=a=b"})
	require.NoError(t, err)
	assert.True(t, env["a"].Equal(metadata.Number(1)))
	assert.True(t, env["b"].Equal(metadata.String("text")))
	assert.True(t, env["c"].Equal(metadata.String("a=b")))

	_, err = ParseEnvironment([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseEnvironment([]string{"bad-key=1"})
	assert.Error(t, err)
}
