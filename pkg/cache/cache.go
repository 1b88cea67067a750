// Package cache memoizes pipeline stage results on disk.
//
// An entry is addressed by the stage identity, its version, its parameters
// and the content of its inputs. Changing any of those produces a new key,
// so a changed upstream parameter invalidates that stage and everything fed
// by its output, while stages upstream of the change keep hitting.
//
// A Cache is owned by one pipeline invocation and is not safe for
// concurrent use. Several invocations may share a directory as long as they
// never write the same key at the same time; writes are not locked.
package cache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
)

// formatVersion is bumped when the entry layout changes.
const formatVersion = 1

// entryExt is the file extension of cache entries.
const entryExt = ".cbor.lz4"

// IOError reports a failure reading or writing the cache or its inputs.
// It is fatal to the run and never retried.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Counter tracks lookups of one stage step.
type Counter struct {
	Hits   int
	Misses int
}

// artifacter is implemented by results that reference files on disk. A hit
// whose artifacts are gone is recomputed.
type artifacter interface {
	Artifacts() []string
}

type entry struct {
	Format    int
	Stage     string
	Step      string
	Artifacts []string
	Payload   cbor.RawMessage
}

// Cache is a directory of memoized stage results.
type Cache struct {
	dir     string
	log     *zap.Logger
	stats   map[string]*Counter
	digests map[string]fileStamp
}

// New opens a cache rooted at dir, creating the directory if needed.
func New(dir string, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &IOError{Op: "create", Path: dir, Err: err}
	}
	return &Cache{
		dir:     dir,
		log:     log,
		stats:   make(map[string]*Counter),
		digests: make(map[string]fileStamp),
	}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Do returns the memoized result of call, running compute on a miss and
// persisting its result. compute receives the call's key so it can derive
// output paths unique to this exact configuration. Errors from compute are
// returned unmodified and nothing is persisted.
func Do[T any](c *Cache, call Call, compute func(key Key) (T, error)) (T, error) {
	var zero T

	key, err := c.Key(call)
	if err != nil {
		return zero, err
	}
	path := c.entryPath(call, key)
	counter := c.counter(call)

	if out, ok, err := load[T](path); err != nil {
		return zero, err
	} else if ok {
		counter.Hits++
		c.log.Debug("cache hit",
			zap.String("stage", call.Stage),
			zap.String("step", call.Step),
			zap.String("key", key.Short()))
		return out, nil
	}

	counter.Misses++
	c.log.Debug("cache miss",
		zap.String("stage", call.Stage),
		zap.String("step", call.Step),
		zap.String("key", key.Short()))

	out, err := compute(key)
	if err != nil {
		return zero, err
	}
	if err := store(path, call, out); err != nil {
		return zero, err
	}
	return out, nil
}

// Stats returns a snapshot of the hit and miss counters keyed by
// "stage/step".
func (c *Cache) Stats() map[string]Counter {
	out := make(map[string]Counter, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

// Counter returns the counter of one stage step.
func (c *Cache) Counter(stage, step string) Counter {
	if v, ok := c.stats[stage+"/"+step]; ok {
		return *v
	}
	return Counter{}
}

// Totals sums hits and misses over every stage step.
func (c *Cache) Totals() Counter {
	var total Counter
	for _, v := range c.stats {
		total.Hits += v.Hits
		total.Misses += v.Misses
	}
	return total
}

// Entries lists the entry files currently stored for a stage step.
func (c *Cache) Entries(stage, step string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, stage, step, "*"+entryExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (c *Cache) counter(call Call) *Counter {
	name := call.Stage + "/" + call.Step
	v, ok := c.stats[name]
	if !ok {
		v = &Counter{}
		c.stats[name] = v
	}
	return v
}

func (c *Cache) entryPath(call Call, key Key) string {
	return filepath.Join(c.dir, call.Stage, call.Step, key.String()+entryExt)
}

func load[T any](path string) (T, bool, error) {
	var out T

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return out, false, nil
	}
	if err != nil {
		return out, false, &IOError{Op: "open entry", Path: path, Err: err}
	}
	defer f.Close()

	raw, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return out, false, &IOError{Op: "read entry", Path: path, Err: err}
	}
	var e entry
	if err := Unmarshal(raw, &e); err != nil {
		return out, false, &IOError{Op: "decode entry", Path: path, Err: err}
	}
	if e.Format != formatVersion {
		return out, false, nil
	}
	for _, a := range e.Artifacts {
		if _, err := os.Stat(a); err != nil {
			return out, false, nil
		}
	}
	if err := Unmarshal(e.Payload, &out); err != nil {
		return out, false, &IOError{Op: "decode payload", Path: path, Err: err}
	}
	return out, true, nil
}

func store(path string, call Call, v any) error {
	payload, err := Marshal(v)
	if err != nil {
		return &IOError{Op: "encode payload", Path: path, Err: err}
	}
	e := entry{
		Format:  formatVersion,
		Stage:   call.Stage,
		Step:    call.Step,
		Payload: payload,
	}
	if a, ok := v.(artifacter); ok {
		e.Artifacts = a.Artifacts()
	}
	raw, err := Marshal(e)
	if err != nil {
		return &IOError{Op: "encode entry", Path: path, Err: err}
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return &IOError{Op: "compress entry", Path: path, Err: err}
	}
	if err := zw.Close(); err != nil {
		return &IOError{Op: "compress entry", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "create", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &IOError{Op: "create entry", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return &IOError{Op: "write entry", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write entry", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "commit entry", Path: path, Err: err}
	}
	return nil
}
