package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// blobVersion is bumped whenever the snapshot layout changes.
const blobVersion = 1

// snapshot is the serialised form of a corpus. Rejection errors are kept as
// text.
type snapshot struct {
	Version  int                     `msgpack:"version"`
	Metadata []normalize.MetadataRow `msgpack:"metadata"`
	Fixes    []normalize.FixRow      `msgpack:"fixes"`
	Thermals []normalize.ThermalRow  `msgpack:"thermals"`
	Rejected []rejection             `msgpack:"rejected"`
}

type rejection struct {
	Key    flight.Key `msgpack:"key"`
	Source string     `msgpack:"source"`
	Notes  []string   `msgpack:"notes"`
	Error  string     `msgpack:"error"`
}

// CountingWriter counts the bytes written through it.
type CountingWriter struct {
	io.Writer
	N int64
}

func (w *CountingWriter) Write(b []byte) (int, error) {
	n, err := w.Writer.Write(b)
	w.N += int64(n)
	return n, err
}

// WriteBlob writes c as zstd-compressed msgpack and returns the number of
// compressed bytes written.
func WriteBlob(w io.Writer, c *corpus.Corpus) (int64, error) {
	s := snapshot{
		Version:  blobVersion,
		Metadata: c.Metadata,
		Fixes:    c.Fixes,
		Thermals: c.Thermals,
	}
	for _, r := range c.Rejected {
		rj := rejection{Key: r.Key, Source: r.Source, Notes: r.Notes}
		if r.Err != nil {
			rj.Error = r.Err.Error()
		}
		s.Rejected = append(s.Rejected, rj)
	}

	cw := &CountingWriter{Writer: w}
	zw, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(&s); err != nil {
		return cw.N, fmt.Errorf("encode corpus: %w", err)
	}
	if err := zw.Close(); err != nil {
		return cw.N, fmt.Errorf("close zstd writer: %w", err)
	}
	return cw.N, nil
}

// ReadBlob reads a corpus written by WriteBlob.
func ReadBlob(r io.Reader) (*corpus.Corpus, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var s snapshot
	if err := msgpack.NewDecoder(zr).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	if s.Version != blobVersion {
		return nil, fmt.Errorf("unsupported corpus blob version %d", s.Version)
	}

	c := &corpus.Corpus{
		Metadata: s.Metadata,
		Fixes:    s.Fixes,
		Thermals: s.Thermals,
	}
	for _, rj := range s.Rejected {
		r := corpus.Rejection{Key: rj.Key, Source: rj.Source, Notes: rj.Notes}
		if rj.Error != "" {
			r.Err = errors.New(rj.Error)
		}
		c.Rejected = append(c.Rejected, r)
	}
	return c, nil
}
