// Package store persists compiled hypergrep programs in a bbolt database,
// zstd-compressed and keyed by name or by a fingerprint of their patterns.
package store

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spaolacci/murmur3"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/brknstrngz/hypergrep"
)

// ErrNotFound is returned by Get and Delete for unknown keys
var ErrNotFound = errors.New("program not found")

var bucketPrograms = []byte("programs")

// ProgramStore is a bbolt-backed collection of serialized programs. It is
// safe for concurrent use.
type ProgramStore struct {
	db  *bbolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open opens or creates the program database at path
func Open(path string) (*ProgramStore, error) {
	var opts = &bbolt.Options{
		Timeout:      time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrograms)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	var meter = otel.Meter("github.com/brknstrngz/hypergrep/internal/store")
	readLatency, _ := meter.Float64Histogram("hypergrep_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("hypergrep_store_write_ms")

	return &ProgramStore{
		db:           db,
		enc:          enc,
		dec:          dec,
		readLatency:  readLatency,
		writeLatency: writeLatency,
	}, nil
}

// Put stores the serialized form of a compiled program under key,
// replacing any previous program
func (s *ProgramStore) Put(key string, prog *hypergrep.Program) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", hypergrep.ErrInvalidArgument)
	}
	raw, err := prog.Write()
	if err != nil {
		return fmt.Errorf("serialize program %q: %w", key, err)
	}

	var start = time.Now()
	var compressed = s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrograms).Put([]byte(key), compressed)
	})
	s.record(s.writeLatency, start, "put")
	if err != nil {
		return fmt.Errorf("store program %q: %w", key, err)
	}

	return nil
}

// Get returns the program stored under key
func (s *ProgramStore) Get(key string) (*hypergrep.Program, error) {
	var start = time.Now()
	var compressed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		var v = tx.Bucket(bucketPrograms).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction
		compressed = append([]byte(nil), v...)
		return nil
	})
	s.record(s.readLatency, start, "get")
	if err != nil {
		return nil, fmt.Errorf("load program %q: %w", key, err)
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress program %q: %v: %w", key, err, hypergrep.ErrSerialization)
	}
	return hypergrep.ReadProgram(raw)
}

// Keys lists the stored keys in byte order
func (s *ProgramStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrograms).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return keys, nil
}

// Delete removes the program stored under key
func (s *ProgramStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var bucket = tx.Bucket(bucketPrograms)
		if bucket.Get([]byte(key)) == nil {
			return fmt.Errorf("delete program %q: %w", key, ErrNotFound)
		}
		return bucket.Delete([]byte(key))
	})
}

// Close releases the database and the codecs
func (s *ProgramStore) Close() error {
	s.dec.Close()
	return errors.Join(s.enc.Close(), s.db.Close())
}

func (s *ProgramStore) record(h metric.Float64Histogram, start time.Time, op string) {
	if h == nil {
		return
	}
	h.Record(context.Background(), float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("op", op)))
}

// Fingerprint derives a stable key from a keyword list and the options it
// is compiled with, so that a program compiled once can be found again for
// the same keywords. Keyword keys take part, as they are reported in hits.
func Fingerprint(keywords []hypergrep.Keyword, opts hypergrep.ProgramOptions) string {
	var h = murmur3.New128()
	var scratch []byte
	if opts.Determinize {
		scratch = append(scratch, 1)
	} else {
		scratch = append(scratch, 0)
	}
	h.Write(scratch)
	for _, kw := range keywords {
		var e = kw.PatternEntry
		scratch = binary.AppendUvarint(scratch[:0], uint64(kw.Line))
		scratch = appendField(scratch, e.Pattern)
		scratch = binary.AppendUvarint(scratch, uint64(len(e.Encodings)))
		for _, enc := range e.Encodings {
			scratch = appendField(scratch, enc)
		}
		var flags byte
		if e.Options.FixedString {
			flags |= 1
		}
		if e.Options.CaseInsensitive {
			flags |= 2
		}
		scratch = append(scratch, flags)
		h.Write(scratch)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func appendField(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
