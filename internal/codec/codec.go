// Package codec implements the codec registry of spec §4.5 ("codecs:
// map<codecId, {decompress(bytes) -> bytes}>") and §4.6 (writer-side
// compression), seeded with RAW, GZIP, and ZSTD as the data model requires.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ID identifies a codec on the wire, matching the enum in TopicMessage.
type ID int32

const (
	RAW ID = iota
	GZIP
	ZSTD
)

// Codec compresses/decompresses a payload.
type Codec struct {
	ID         ID
	Compress   func([]byte) ([]byte, error)
	Decompress func([]byte) ([]byte, error)
}

// Registry is a concurrency-safe, mergeable codec map (spec §6's `codecMap`
// extra registrations).
type Registry struct {
	mu     sync.RWMutex
	codecs map[ID]Codec
}

// NewRegistry returns a registry seeded with RAW, GZIP, ZSTD.
func NewRegistry() *Registry {
	r := &Registry{codecs: map[ID]Codec{}}
	r.Register(rawCodec())
	r.Register(gzipCodec())
	r.Register(zstdCodec())
	return r
}

// Register adds or replaces a codec, letting callers extend via codecMap.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ID] = c
}

func (r *Registry) Get(id ID) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	return c, ok
}

func (r *Registry) Decompress(id ID, payload []byte) ([]byte, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("codec: no decoder registered for codec id %d", id)
	}
	return c.Decompress(payload)
}

func (r *Registry) Compress(id ID, payload []byte) ([]byte, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("codec: no encoder registered for codec id %d", id)
	}
	return c.Compress(payload)
}

func rawCodec() Codec {
	identity := func(b []byte) ([]byte, error) { return b, nil }
	return Codec{ID: RAW, Compress: identity, Decompress: identity}
}

func gzipCodec() Codec {
	return Codec{
		ID: GZIP,
		Compress: func(b []byte) ([]byte, error) {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			if _, err := w.Write(b); err != nil {
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		Decompress: func(b []byte) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return io.ReadAll(r)
		},
	}
}

func zstdCodec() Codec {
	return Codec{
		ID: ZSTD,
		Compress: func(b []byte) ([]byte, error) {
			enc, err := zstd.NewWriter(nil)
			if err != nil {
				return nil, err
			}
			defer enc.Close()
			return enc.EncodeAll(b, nil), nil
		},
		Decompress: func(b []byte) ([]byte, error) {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			return dec.DecodeAll(b, nil)
		},
	}
}
