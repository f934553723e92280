package ctf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Packet index file format constants. All integer fields are big endian on
// disk; the layout must stay bit-exact to remain compatible with existing
// traces.
const (
	indexMagic uint32 = 0xC1F1DCC1
	indexMajor uint32 = 1
	indexMinor uint32 = 0

	// fileHeaderSize is the fixed size of the index file header in bytes.
	fileHeaderSize = 16

	// recordPrefixSize is the size of the decoded prefix of each index
	// record in bytes. Records may be longer; the tail is padding.
	recordPrefixSize = 56
)

// Sentinel errors for index decoding.
var (
	ErrBadMagic            = errors.New("wrong index magic")
	ErrIncompatibleVersion = errors.New("incompatible index version")
	ErrInvalidLength       = errors.New("invalid packet index length")
)

// DecodeError reports a malformed packet index, with the file offset at
// which decoding failed.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("packet index at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PacketHeader is one decoded packet-index record in host-endian form, with
// begin/end timestamps available both in the cycle domain and as wall-clock
// nanoseconds.
type PacketHeader struct {
	Offset          uint64
	PacketSize      uint64 // bits
	ContentSize     uint64 // bits
	TSCyclesBegin   uint64
	TSCyclesEnd     uint64
	TSRealBegin     uint64 // ns
	TSRealEnd       uint64 // ns
	EventsDiscarded uint64
	StreamID        uint64
}

// Index holds the decoded packet headers for a single stream, in on-disk
// order, together with the stream id and the record length of the file they
// came from.
type Index struct {
	StreamID  uint64
	RecordLen uint32
	Headers   []PacketHeader
}

// DecodeIndexFile opens and decodes the packet index sidecar file for one
// stream. Cycle timestamps are converted to nanoseconds with clock.
func DecodeIndexFile(path string, clock ClockInfo) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Offset: 0, Err: err}
	}
	defer f.Close()

	return DecodeIndex(f, clock)
}

// DecodeIndex decodes a packet index stream. Order on disk is preserved. A
// truncated trailing record is not an error; decoding simply stops, the way
// a sequential reader naturally would.
func DecodeIndex(r io.Reader, clock ClockInfo) (*Index, error) {
	var hdr [fileHeaderSize]byte

	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, &DecodeError{Offset: 0, Err: err}
	}

	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != indexMagic {
		return nil, &DecodeError{Offset: 0, Err: ErrBadMagic}
	}

	major := binary.BigEndian.Uint32(hdr[4:8])
	if major != indexMajor {
		return nil, &DecodeError{Offset: 4, Err: ErrIncompatibleVersion}
	}

	recordLen := binary.BigEndian.Uint32(hdr[12:16])
	if recordLen < recordPrefixSize {
		return nil, &DecodeError{Offset: 12, Err: ErrInvalidLength}
	}

	idx := &Index{RecordLen: recordLen}
	rec := make([]byte, recordLen)
	offset := int64(fileHeaderSize)

	for {
		n, readErr := io.ReadFull(r, rec)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				// Truncated trailing record: stop silently.
				break
			}

			return nil, &DecodeError{Offset: offset + int64(n), Err: readErr}
		}

		idx.Headers = append(idx.Headers, decodeRecord(rec, clock))
		offset += int64(recordLen)
	}

	if len(idx.Headers) > 0 {
		idx.StreamID = idx.Headers[0].StreamID
	}

	return idx, nil
}

// decodeRecord decodes the fixed prefix of one index record.
func decodeRecord(rec []byte, clock ClockInfo) PacketHeader {
	tsBegin := binary.BigEndian.Uint64(rec[24:32])
	tsEnd := binary.BigEndian.Uint64(rec[32:40])

	return PacketHeader{
		Offset:          binary.BigEndian.Uint64(rec[0:8]),
		PacketSize:      binary.BigEndian.Uint64(rec[8:16]),
		ContentSize:     binary.BigEndian.Uint64(rec[16:24]),
		TSCyclesBegin:   tsBegin,
		TSCyclesEnd:     tsEnd,
		TSRealBegin:     clock.AbsoluteNS(tsBegin),
		TSRealEnd:       clock.AbsoluteNS(tsEnd),
		EventsDiscarded: binary.BigEndian.Uint64(rec[40:48]),
		StreamID:        binary.BigEndian.Uint64(rec[48:56]),
	}
}

// EncodeIndex writes an index back to its on-disk representation. Record
// tails beyond the fixed prefix are zero padding and the minor version is
// always written as 0. Decoding a file written by EncodeIndex and
// re-encoding it produces byte-identical output; a file with a different
// minor version or non-zero record tails does not round-trip byte for byte.
func EncodeIndex(w io.Writer, idx *Index) error {
	recordLen := idx.RecordLen
	if recordLen < recordPrefixSize {
		return &DecodeError{Offset: 12, Err: ErrInvalidLength}
	}

	var hdr [fileHeaderSize]byte

	binary.BigEndian.PutUint32(hdr[0:4], indexMagic)
	binary.BigEndian.PutUint32(hdr[4:8], indexMajor)
	binary.BigEndian.PutUint32(hdr[8:12], indexMinor)
	binary.BigEndian.PutUint32(hdr[12:16], recordLen)

	_, err := w.Write(hdr[:])
	if err != nil {
		return fmt.Errorf("write index header: %w", err)
	}

	rec := make([]byte, recordLen)

	for _, h := range idx.Headers {
		clear(rec)
		binary.BigEndian.PutUint64(rec[0:8], h.Offset)
		binary.BigEndian.PutUint64(rec[8:16], h.PacketSize)
		binary.BigEndian.PutUint64(rec[16:24], h.ContentSize)
		binary.BigEndian.PutUint64(rec[24:32], h.TSCyclesBegin)
		binary.BigEndian.PutUint64(rec[32:40], h.TSCyclesEnd)
		binary.BigEndian.PutUint64(rec[40:48], h.EventsDiscarded)
		binary.BigEndian.PutUint64(rec[48:56], h.StreamID)

		_, writeErr := w.Write(rec)
		if writeErr != nil {
			return fmt.Errorf("write index record: %w", writeErr)
		}
	}

	return nil
}
