package storage

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// fileFrameHeader is the on-disk shape of one File segment record: an
// 8-byte big-endian ts_ms followed by a 4-byte big-endian payload length.
const fileFrameHeader = 8 + 4

// FileConfig configures a File storage: the directory its segments live in,
// the compression codec applied to a segment once rotated out, and the
// size at which a segment rotates automatically (in addition to any
// scheduler-driven Rotate call).
type FileConfig struct {
	Dir string
	// Compression is "", "gzip", or "zstd".
	Compression     string
	MaxSegmentBytes int64
	Policy          topic.BackPressurePolicy
}

type segmentMeta struct {
	path        string
	baseSeq     int64
	recordCount int64
	compressed  bool
}

// File is the "file-append storage" variant: records are
// appended as raw opaque payloads to a growing segment file; segments
// rotate by size or on a scheduled interval (internal/scheduler), and a
// rotated-out segment is compressed in place.
type File struct {
	mu       sync.Mutex
	cfg      FileConfig
	segments []segmentMeta

	cur       *os.File
	curWriter *bufio.Writer
	curSeq    int64 // first record sequence number in the current segment
	curCount  int64
	curBytes  int64

	lastRecord topicrecord.Record
	hasLast    bool

	session topic.Session
}

// NewFile constructs a File storage rooted at cfg.Dir. Init creates the
// directory and opens segment-000000.log for append; segment files left by
// a prior process are not indexed.
func NewFile(cfg FileConfig) *File {
	if cfg.Policy == "" {
		cfg.Policy = topic.PolicyBlock
	}
	return &File{cfg: cfg}
}

func (f *File) Init(_ context.Context, _ topic.Context) error {
	if err := os.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("storage: creating file storage dir: %w", err)
	}
	if err := f.openNewSegment(); err != nil {
		return err
	}
	f.session.MarkReady()
	return nil
}

// Close transitions the storage session to CLOSING before flushing and
// closing the current segment file, then CLOSED once that has finished —
// no Save/Read is valid once Close has been called.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.BeginClosing()
	err := f.closeCurrentLocked()
	f.session.MarkClosed()
	return err
}

func (f *File) SessionState() topic.SessionState { return f.session.State() }

func (f *File) BackPressurePolicy() topic.BackPressurePolicy { return f.cfg.Policy }

func (f *File) SupportedReadModes() []topic.ReadMode {
	return []topic.ReadMode{topic.ReadOffset, topic.ReadLatest, topic.ReadQuery}
}

// Depth reports the total record count across every live segment, for the
// topic-depth gauge.
func (f *File) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.totalRecordsLocked())
}

func (f *File) openNewSegment() error {
	idx := len(f.segments)
	path := filepath.Join(f.cfg.Dir, fmt.Sprintf("segment-%06d.log", idx))
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: opening file segment: %w", err)
	}
	f.cur = fh
	f.curWriter = bufio.NewWriter(fh)
	f.curSeq = f.totalRecordsLocked()
	f.curCount = 0
	f.curBytes = 0
	return nil
}

func (f *File) totalRecordsLocked() int64 {
	var total int64
	for _, s := range f.segments {
		total += s.recordCount
	}
	return total + f.curCount
}

func (f *File) Save(_ context.Context, rec topicrecord.Record) error {
	if err := f.session.Guard(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var hdr [fileFrameHeader]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(rec.TsMs))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(rec.Data)))

	if _, err := f.curWriter.Write(hdr[:]); err != nil {
		return fmt.Errorf("storage: writing file frame header: %w", err)
	}
	if _, err := f.curWriter.Write(rec.Data); err != nil {
		return fmt.Errorf("storage: writing file frame payload: %w", err)
	}
	if err := f.curWriter.Flush(); err != nil {
		return fmt.Errorf("storage: flushing file segment: %w", err)
	}

	f.curCount++
	f.curBytes += int64(fileFrameHeader + len(rec.Data))
	f.lastRecord = rec
	f.hasLast = true

	if f.cfg.MaxSegmentBytes > 0 && f.curBytes >= f.cfg.MaxSegmentBytes {
		if err := f.rotateLocked(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// Rotate closes the current segment (compressing it per cfg.Compression)
// and opens a fresh one. Registered with internal/scheduler for storages
// whose storage_config declares a rotation interval.
func (f *File) Rotate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked(ctx)
}

func (f *File) rotateLocked(ctx context.Context) error {
	if f.curCount == 0 {
		return nil // nothing to rotate
	}
	if err := f.closeCurrentLocked(); err != nil {
		return err
	}

	closedPath := filepath.Join(f.cfg.Dir, fmt.Sprintf("segment-%06d.log", len(f.segments)))
	meta := segmentMeta{path: closedPath, baseSeq: f.curSeq, recordCount: f.curCount}

	if f.cfg.Compression != "" {
		compressedPath, err := f.compressSegment(ctx, closedPath)
		if err != nil {
			return err
		}
		meta.path = compressedPath
		meta.compressed = true
	}

	f.segments = append(f.segments, meta)
	return f.openNewSegment()
}

func (f *File) closeCurrentLocked() error {
	if f.cur == nil {
		return nil
	}
	if f.curWriter != nil {
		if err := f.curWriter.Flush(); err != nil {
			return fmt.Errorf("storage: flushing file segment on close: %w", err)
		}
	}
	err := f.cur.Close()
	f.cur = nil
	f.curWriter = nil
	return err
}

func (f *File) compressSegment(ctx context.Context, path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("storage: reopening segment to compress: %w", err)
	}
	defer in.Close()

	var ext string
	switch f.cfg.Compression {
	case "gzip":
		ext = ".gz"
	case "zstd":
		ext = ".zst"
	default:
		return "", fmt.Errorf("storage: unsupported compression type %q", f.cfg.Compression)
	}

	outPath := path + ext
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("storage: creating compressed segment: %w", err)
	}
	defer out.Close()

	if err := compressTo(f.cfg.Compression, out, in); err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("storage: removing uncompressed segment: %w", err)
	}
	return outPath, nil
}

func compressTo(codec string, w io.Writer, r io.Reader) error {
	switch codec {
	case "gzip":
		gw := gzip.NewWriter(w)
		if _, err := io.Copy(gw, r); err != nil {
			gw.Close()
			return fmt.Errorf("storage: gzip compressing segment: %w", err)
		}
		return gw.Close()
	case "zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("storage: creating zstd writer: %w", err)
		}
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			return fmt.Errorf("storage: zstd compressing segment: %w", err)
		}
		return zw.Close()
	default:
		return fmt.Errorf("storage: unsupported compression type %q", codec)
	}
}

func decompressFrom(codec string, r io.Reader) (io.ReadCloser, error) {
	switch codec {
	case "gzip":
		return gzip.NewReader(r)
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("storage: creating zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

func (f *File) Read(_ context.Context, mode topic.ReadMode, params topic.ReadParams) (topic.ReadResult, error) {
	if err := f.session.Guard(); err != nil {
		return topic.ReadResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch mode {
	case topic.ReadLatest:
		if !f.hasLast {
			return topic.ReadResult{}, nil
		}
		return topic.ReadResult{Records: []topicrecord.Record{f.lastRecord}}, nil

	case topic.ReadOffset:
		all, err := f.decodeAllLocked()
		if err != nil {
			return topic.ReadResult{}, err
		}
		cursor := params.Cursor
		if cursor < 0 {
			cursor = 0
		}
		if cursor > int64(len(all)) {
			cursor = int64(len(all))
		}
		return topic.ReadResult{Records: all[cursor:], NextCursor: int64(len(all))}, nil

	case topic.ReadQuery:
		all, err := f.decodeAllLocked()
		if err != nil {
			return topic.ReadResult{}, err
		}
		out := make([]topicrecord.Record, 0)
		for _, rec := range all {
			if rec.TsMs < params.FromMs || (params.ToMs > 0 && rec.TsMs > params.ToMs) {
				continue
			}
			out = append(out, rec)
			if params.Limit > 0 && len(out) >= params.Limit {
				break
			}
		}
		return topic.ReadResult{Records: out}, nil

	default:
		return topic.ReadResult{}, fmt.Errorf("%w: %q", topic.ErrUnsupportedReadMode, mode)
	}
}

// decodeAllLocked decodes every record across every rotated segment plus
// the currently open one, in write order. Called under f.mu. This is a
// deliberately simple full-scan implementation — file storage favors
// sequential replay (catch-up subscribers, the file-to-socket zero-copy
// primitive) over random access, so no persistent index is maintained.
func (f *File) decodeAllLocked() ([]topicrecord.Record, error) {
	var out []topicrecord.Record

	for _, seg := range f.segments {
		recs, err := f.decodeSegment(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	if f.cur != nil {
		if err := f.curWriter.Flush(); err != nil {
			return nil, fmt.Errorf("storage: flushing before read: %w", err)
		}
		recs, err := decodeFrames(f.cur.Name(), "")
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	return out, nil
}

func (f *File) decodeSegment(seg segmentMeta) ([]topicrecord.Record, error) {
	codec := ""
	if seg.compressed {
		codec = f.cfg.Compression
	}
	return decodeFrames(seg.path, codec)
}

func decodeFrames(path, codec string) ([]topicrecord.Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening segment for read: %w", err)
	}
	defer fh.Close()

	var r io.Reader = fh
	if codec != "" {
		rc, err := decompressFrom(codec, fh)
		if err != nil {
			return nil, fmt.Errorf("storage: decompressing segment: %w", err)
		}
		defer rc.Close()
		r = rc
	}

	br := bufio.NewReader(r)
	var out []topicrecord.Record
	for {
		var hdr [fileFrameHeader]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("storage: reading frame header: %w", err)
		}
		tsMs := int64(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])
		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, fmt.Errorf("storage: reading frame payload: %w", err)
		}
		out = append(out, topicrecord.New(tsMs, data))
	}
	return out, nil
}
