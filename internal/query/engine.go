// Package query is the entry point for evaluating outpack queries. It
// composes the parser and evaluator over a shared metadata index and caches
// results keyed by the index's content digest.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/cache"
	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/ast"
	"github.com/mrc-ide/outpack-server/internal/query/eval"
	"github.com/mrc-ide/outpack-server/internal/query/parser"
)

// Outcome labels passed to Observer.ObserveQuery
const (
	OutcomeOK         = "ok"
	OutcomeParseError = "parse_error"
	OutcomeEvalError  = "eval_error"
)

// Observer receives query timings and cache results
type Observer interface {
	ObserveQuery(outcome string, d time.Duration)
	ObserveCache(result string)
}

// ErrPacketNotFound is returned when an operation names an unknown packet
var ErrPacketNotFound = errors.New("packet not found")

// Engine evaluates query text against an index
type Engine struct {
	index    *index.Index
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	observer Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithCache enables result caching. Results that depend on a this: binding
// are never cached.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates an engine over idx
func NewEngine(idx *index.Index, opts ...Option) *Engine {
	e := &Engine{
		index:  idx,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index returns the index the engine evaluates against
func (e *Engine) Index() *index.Index {
	return e.index
}

// Parse parses query text without evaluating it
func (e *Engine) Parse(text string) (ast.Query, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, &Error{Kind: KindParse, Query: text, Err: err}
	}
	return q, nil
}

// EvaluateQuery parses and evaluates text. Errors are *Error values wrapping
// either a *parser.ParseError or an *eval.Error.
func (e *Engine) EvaluateQuery(ctx context.Context, text string, c eval.Context) (eval.Selection, error) {
	if err := ctx.Err(); err != nil {
		return eval.Selection{}, err
	}

	start := time.Now()

	q, err := e.Parse(text)
	if err != nil {
		e.observe(OutcomeParseError, start)
		e.logger.Debug("query failed to parse", zap.String("query", text), zap.Error(err))
		return eval.Selection{}, err
	}

	// keyed by canonical text so spacing and quote style do not matter
	canonical := q.String()
	cacheable := e.cache != nil && c.This == nil

	if cacheable {
		key := cache.QueryKey(e.index.Digest(), canonical, environmentKey(c.Environment))
		if sel, ok := e.cached(ctx, key); ok {
			e.logger.Debug("query cache hit", zap.String("query", canonical))
			return sel, nil
		}
	}

	var (
		sel    eval.Selection
		digest string
	)
	err = e.index.Read(func(s *index.Snapshot) error {
		digest = s.Digest()
		var evalErr error
		sel, evalErr = eval.Evaluate(q, s, c)
		return evalErr
	})
	if err != nil {
		e.observe(OutcomeEvalError, start)
		e.logger.Debug("query failed to evaluate", zap.String("query", canonical), zap.Error(err))
		return eval.Selection{}, &Error{Kind: KindEval, Query: text, Err: err}
	}

	e.observe(OutcomeOK, start)
	e.logger.Debug("query evaluated",
		zap.String("query", canonical),
		zap.Int("matches", sel.Len()),
		zap.String("index", digest),
		zap.Duration("duration", time.Since(start)),
	)

	if cacheable {
		e.store(ctx, cache.QueryKey(digest, canonical, environmentKey(c.Environment)), sel)
	}

	return sel, nil
}

func (e *Engine) cached(ctx context.Context, key string) (eval.Selection, bool) {
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if cache.IsCacheMiss(err) {
			e.observeCache("miss")
		} else {
			e.observeCache("error")
			e.logger.Warn("query cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return eval.Selection{}, false
	}

	var sel eval.Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		e.observeCache("error")
		e.logger.Warn("discarding corrupt query cache entry", zap.String("key", key), zap.Error(err))
		_ = e.cache.Delete(ctx, key)
		return eval.Selection{}, false
	}

	e.observeCache("hit")
	return sel, true
}

func (e *Engine) store(ctx context.Context, key string, sel eval.Selection) {
	data, err := json.Marshal(sel)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.Warn("failed to cache query result", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveQuery(outcome, time.Since(start))
	}
}

func (e *Engine) observeCache(result string) {
	if e.observer != nil {
		e.observer.ObserveCache(result)
	}
}

// environmentKey renders bindings so that values of different kinds never collide
func environmentKey(env map[string]metadata.Value) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = fmt.Sprintf("%s:%#v", v.Kind(), v)
	}
	return out
}

// DependencyResult reports whether one recorded dependency of a packet is
// still what its query selects
type DependencyResult struct {
	Packet    string          `json:"packet"`
	Query     string          `json:"query"`
	Selection *eval.Selection `json:"selection,omitempty"`
	Satisfied bool            `json:"satisfied"`
	Error     string          `json:"error,omitempty"`
}

// ResolveDependencies re-evaluates each depends[i].query of the packet id with
// this: bound to that packet. A dependency is satisfied when the selection
// contains the packet that was recorded. Query failures are reported per
// dependency rather than failing the whole call.
func (e *Engine) ResolveDependencies(ctx context.Context, id string) ([]DependencyResult, error) {
	p, ok := e.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPacketNotFound, id)
	}

	results := make([]DependencyResult, 0, len(p.Depends))
	for _, dep := range p.Depends {
		result := DependencyResult{Packet: dep.Packet, Query: dep.Query}

		if dep.Query == "" {
			result.Satisfied = e.index.Contains(dep.Packet)
			results = append(results, result)
			continue
		}

		sel, err := e.EvaluateQuery(ctx, dep.Query, eval.Context{This: p})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.Error = err.Error()
		} else {
			result.Selection = &sel
			result.Satisfied = sel.Contains(dep.Packet)
		}
		results = append(results, result)
	}

	return results, nil
}
