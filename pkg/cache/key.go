package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Key addresses one cache entry.
type Key [32]byte

// String returns the hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 12 hex characters, used to name output dirs.
func (k Key) Short() string {
	return k.String()[:12]
}

// keyDomain separates cache keys from any other blake3 digest computed
// over the same bytes.
var keyDomain = [32]byte{
	'f', 'm', 'r', 'i', 'p', 'i', 'p', 'e', 'l', 'i', 'n', 'e', '.',
	'c', 'a', 'c', 'h', 'e', '.', 'k', 'e', 'y',
}

// Call describes one invocation of a cacheable function.
type Call struct {
	// Stage is the stage identity, e.g. "slice_timing"
	Stage string

	// Step separates independently cached sub-steps, e.g. "fit" and "transform"
	Step string

	// Version changes whenever the stage implementation changes its output
	Version string

	// Params holds the stage configuration
	Params any

	// Inputs are files whose contents identify the input data
	Inputs []string

	// Upstream holds in-memory inputs, such as a fitted stage
	Upstream any
}

type keyMaterial struct {
	Stage    string
	Step     string
	Version  string
	Params   any
	Inputs   []string
	Upstream any
}

// Key computes the content address of a call. Input files are identified
// by their content digest, not their path.
func (c *Cache) Key(call Call) (Key, error) {
	digests := make([]string, len(call.Inputs))
	for i, path := range call.Inputs {
		d, err := c.digest(path)
		if err != nil {
			return Key{}, err
		}
		digests[i] = d
	}
	b, err := Marshal(keyMaterial{
		Stage:    call.Stage,
		Step:     call.Step,
		Version:  call.Version,
		Params:   call.Params,
		Inputs:   digests,
		Upstream: call.Upstream,
	})
	if err != nil {
		return Key{}, fmt.Errorf("encoding cache key for %s/%s: %w", call.Stage, call.Step, err)
	}
	return Hash(b), nil
}

// Hash returns the keyed blake3 digest of b in the cache key domain.
func Hash(b []byte) Key {
	h, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(b)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

type fileStamp struct {
	size    int64
	modTime int64
	digest  string
}

// digest returns the blake3 digest of a file's content. Results are
// remembered for the lifetime of the cache while size and mtime match.
func (c *Cache) digest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &IOError{Op: "stat input", Path: path, Err: err}
	}
	if s, ok := c.digests[path]; ok && s.size == info.Size() && s.modTime == info.ModTime().UnixNano() {
		return s.digest, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Op: "open input", Path: path, Err: err}
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &IOError{Op: "read input", Path: path, Err: err}
	}
	d := hex.EncodeToString(h.Sum(nil))
	c.digests[path] = fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano(), digest: d}
	return d, nil
}
