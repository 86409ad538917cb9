package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/mirrordb/codec"
)

const logMagic = "mdlog1"

const (
	recPut byte = 1
	recDel byte = 2
)

// LogOptions configure the append-only log-file adapter.
type LogOptions struct {
	// Codec encodes record payloads. Defaults to codec.Default. Reopening an
	// existing file always selects the codec recorded in its header.
	Codec codec.Codec

	// Compression compresses record payloads. Defaults to S2.
	Compression Compression

	// SyncWrites fsyncs after every Persist call.
	SyncWrites bool
}

type logHeader struct {
	Magic       string `json:"magic"`
	Codec       string `json:"codec"`
	Compression string `json:"compression"`
}

// Log is an append-only log-file adapter. Every Persist appends put/del
// records; LoadAll replays the log; Compact rewrites it to current state.
// The header is self-describing (codec and compression recorded by name).
type Log struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	c     codec.Codec
	comp  Compression
	sync  bool
	state map[string]Entry
}

// NewLog opens (or creates) an append-only log file at path.
func NewLog(path string, optFns ...func(o *LogOptions)) (*Log, error) {
	opts := LogOptions{
		Codec:       codec.Default,
		Compression: S2{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Compression == nil {
		opts.Compression = S2{}
	}

	l := &Log{
		path:  path,
		c:     opts.Codec,
		comp:  opts.Compression,
		sync:  opts.SyncWrites,
		state: make(map[string]Entry),
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open log: %w", err)
	}
	l.f = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat log: %w", err)
	}
	if info.Size() == 0 {
		if err := l.writeHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := l.replay(f); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: seek log: %w", err)
	}
	return l, nil
}

func (l *Log) writeHeader(w io.Writer) error {
	hdr := logHeader{Magic: logMagic, Codec: l.c.Name(), Compression: l.comp.Name()}
	b, err := (codec.JSON{}).Marshal(hdr)
	if err != nil {
		return fmt.Errorf("store: encode log header: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("store: write log header: %w", err)
	}
	return nil
}

func (l *Log) replay(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("store: seek log: %w", err)
	}
	r := bufio.NewReader(f)

	line, err := r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: missing log header", ErrCorrupt)
	}
	var hdr logHeader
	if err := (codec.JSON{}).Unmarshal(line, &hdr); err != nil || hdr.Magic != logMagic {
		return fmt.Errorf("%w: bad log header", ErrCorrupt)
	}
	if c, ok := codec.ByName(hdr.Codec); ok {
		l.c = c
	} else {
		return fmt.Errorf("%w: unknown codec %q", ErrCorrupt, hdr.Codec)
	}
	if comp, ok := CompressionByName(hdr.Compression); ok {
		l.comp = comp
	} else {
		return fmt.Errorf("%w: unknown compression %q", ErrCorrupt, hdr.Compression)
	}

	for {
		op, payload, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := l.comp.Decompress(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		switch op {
		case recPut:
			var e Entry
			if err := l.c.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			l.state[e.ID] = e
		case recDel:
			var id string
			if err := l.c.Unmarshal(raw, &id); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			delete(l.state, id)
		default:
			return fmt.Errorf("%w: unknown record op %d", ErrCorrupt, op)
		}
	}
}

func readRecord(r *bufio.Reader) (byte, []byte, error) {
	op, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated record", ErrCorrupt)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated record", ErrCorrupt)
	}
	return op, payload, nil
}

func (l *Log) appendRecord(op byte, v any) error {
	raw, err := l.c.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	payload := l.comp.Compress(raw)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := l.f.Write([]byte{op}); err != nil {
		return fmt.Errorf("store: append record: %w", err)
	}
	if _, err := l.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("store: append record: %w", err)
	}
	if _, err := l.f.Write(payload); err != nil {
		return fmt.Errorf("store: append record: %w", err)
	}
	return nil
}

// LoadAll implements Store.
func (l *Log) LoadAll(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.state))
	for _, e := range l.state {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

// Persist implements Store.
func (l *Log) Persist(ctx context.Context, upserts []Entry, removals []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range upserts {
		if err := l.appendRecord(recPut, e); err != nil {
			return err
		}
	}
	for _, id := range removals {
		if err := l.appendRecord(recDel, id); err != nil {
			return err
		}
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("store: sync log: %w", err)
		}
	}
	for _, e := range upserts {
		l.state[e.ID] = cloneEntry(e)
	}
	for _, id := range removals {
		delete(l.state, id)
	}
	return nil
}

// Compact rewrites the log to hold only current state, dropping superseded
// records. Safe to call at any time; the swap is atomic via rename.
func (l *Log) Compact(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpPath := l.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := l.writeHeader(tmp); err != nil {
		tmp.Close()
		return err
	}
	orig := l.f
	l.f = tmp
	for _, e := range l.state {
		if err := l.appendRecord(recPut, e); err != nil {
			l.f = orig
			tmp.Close()
			return err
		}
	}
	l.f = orig
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: compact sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("store: compact rename: %w", err)
	}
	orig.Close()
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("store: reopen after compact: %w", err)
	}
	l.f = f
	return nil
}

// Close implements Store.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// LogPath returns a conventional log filename for a collection under dir.
func LogPath(dir, collection string) string {
	return filepath.Join(dir, collection+".mdlog")
}
