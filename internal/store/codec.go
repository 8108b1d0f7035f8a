package store

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// Record encoding: a single flag byte followed by the JSON-encoded entry,
// gzip-compressed when the JSON is at least compressThreshold bytes. The
// flag byte keeps old records readable if the compression policy changes.
const (
	encodingPlain byte = 0x00
	encodingGzip  byte = 0x01
)

// codec encodes cache entries into self-describing byte records.
type codec struct {
	compressThreshold int
	bufPool           sync.Pool
}

func newCodec(compressThreshold int) *codec {
	return &codec{
		compressThreshold: compressThreshold,
		bufPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Encode serializes an entry into a record.
func (c *codec) Encode(entry *types.CacheEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "failed to encode cache entry").
			WithComponent("store").
			WithOperation("encode").
			WithKey(entry.Key).
			WithCause(err)
	}

	if c.compressThreshold <= 0 || len(raw) < c.compressThreshold {
		out := make([]byte, 1+len(raw))
		out[0] = encodingPlain
		copy(out[1:], raw)
		return out, nil
	}

	buf := c.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufPool.Put(buf)

	buf.WriteByte(encodingGzip)
	zw := gzip.NewWriter(buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, errors.NewError(errors.ErrCodeInternalError, "failed to compress cache entry").
			WithComponent("store").
			WithOperation("encode").
			WithKey(entry.Key).
			WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "failed to finish compression").
			WithComponent("store").
			WithOperation("encode").
			WithKey(entry.Key).
			WithCause(err)
	}

	// Compression can inflate small or already-dense payloads; keep the
	// plain form when it wins.
	if buf.Len() >= 1+len(raw) {
		out := make([]byte, 1+len(raw))
		out[0] = encodingPlain
		copy(out[1:], raw)
		return out, nil
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode parses a record back into an entry. A record that cannot be
// decoded is reported as corrupt so the tier can purge it.
func (c *codec) Decode(record []byte) (*types.CacheEntry, error) {
	if len(record) < 2 {
		return nil, errors.NewError(errors.ErrCodeCorruptRecord, "record too short").
			WithComponent("store").
			WithOperation("decode")
	}

	var raw []byte
	switch record[0] {
	case encodingPlain:
		raw = record[1:]
	case encodingGzip:
		zr, err := gzip.NewReader(bytes.NewReader(record[1:]))
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeCorruptRecord, "invalid gzip record").
				WithComponent("store").
				WithOperation("decode").
				WithCause(err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeCorruptRecord, "truncated gzip record").
				WithComponent("store").
				WithOperation("decode").
				WithCause(err)
		}
	default:
		return nil, errors.NewError(errors.ErrCodeCorruptRecord, "unknown record encoding").
			WithComponent("store").
			WithOperation("decode").
			WithDetail("flag", record[0])
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, errors.NewError(errors.ErrCodeCorruptRecord, "failed to decode cache entry").
			WithComponent("store").
			WithOperation("decode").
			WithCause(err)
	}
	return &entry, nil
}
