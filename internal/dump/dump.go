// Package dump implements the versioned, checksum-protected binary snapshot
// files emitted by the hoarder workers, plus the process-wide registry that
// guarantees a partially-written file never survives a fatal exit.
//
// File layout (all integers big-endian):
//
//	offset 0   version (u8, = 1)
//	offset 1   kind tag (u8)
//	offset 2   CRC-32 of the body (u32)
//	offset 6   expiration epoch (u64)
//	offset 14  32-byte magic identifier
//	offset 46  body
//
// The header is written with a zero checksum on open; Close seeks back to
// offset 2 and patches in the final CRC. A dump is therefore published if
// and only if its checksum has been finalized.
package dump

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
)

// Version is the on-disk format version.
const Version = 1

// Kind tags the payload of a dump file.
type Kind uint8

const (
	KindLocations Kind = 0
	KindOrders    Kind = 1
	KindHistories Kind = 2
	// KindInternal marks scratch dumps (history backfill snapshots) that
	// are never published to consumers.
	KindInternal Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindLocations:
		return "locations"
	case KindOrders:
		return "orders"
	case KindHistories:
		return "histories"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// HeaderSize is the byte offset at which the body starts.
const HeaderSize = 46

const checksumOffset = 2

// magic identifies dump files. The shrug-snake is load-bearing.
var magic = func() [32]byte {
	var m [32]byte
	copy(m[:], "இ}ڿڰۣ-ڰۣ~—")
	return m
}()

// ErrExists is returned by OpenExclusive when the target file is already
// present; the existing file is left untouched.
var ErrExists = errors.New("dump: file already exists")

// ErrCorrupt is returned by readers when a record is truncated mid-field
// or the body checksum does not match the header claim.
var ErrCorrupt = errors.New("dump: corrupt")

// Writer streams a dump body to disk while maintaining a running CRC-32.
type Writer struct {
	f        *os.File
	reg      *Registry
	checksum uint32
	err      error
}

// OpenWrite creates (or truncates) a dump file at path, writes the header
// with a zero checksum, and records the in-progress file in reg.
func OpenWrite(reg *Registry, path string, kind Kind, expiration uint64) (*Writer, error) {
	return openWrite(reg, path, kind, expiration, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// OpenExclusive is OpenWrite, except it fails with ErrExists when the
// target file is already present instead of truncating it.
func OpenExclusive(reg *Registry, path string, kind Kind, expiration uint64) (*Writer, error) {
	w, err := openWrite(reg, path, kind, expiration, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil && errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}
	return w, err
}

func openWrite(reg *Registry, path string, kind Kind, expiration uint64, flags int) (*Writer, error) {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dump open: %w", err)
	}
	if err := reg.add(f, path); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	w := &Writer{f: f, reg: reg}

	var header [HeaderSize]byte
	header[0] = Version
	header[1] = byte(kind)
	putUint32(header[checksumOffset:], 0)
	putUint64(header[6:], expiration)
	copy(header[14:], magic[:])
	if _, err := f.Write(header[:]); err != nil {
		w.Abort()
		return nil, fmt.Errorf("dump header: %w", err)
	}
	return w, nil
}

// Write appends raw bytes to the body and folds them into the checksum.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.f.Write(p)
	w.checksum = crc32.Update(w.checksum, crc32.IEEETable, p[:n])
	if err != nil {
		w.err = fmt.Errorf("dump write: %w", err)
		return n, w.err
	}
	return n, nil
}

func (w *Writer) WriteUint8(n uint8) error {
	_, err := w.Write([]byte{n})
	return err
}

func (w *Writer) WriteInt8(n int8) error {
	return w.WriteUint8(uint8(n))
}

func (w *Writer) WriteUint16(n uint16) error {
	_, err := w.Write([]byte{byte(n >> 8), byte(n)})
	return err
}

func (w *Writer) WriteUint32(n uint32) error {
	var b [4]byte
	putUint32(b[:], n)
	_, err := w.Write(b[:])
	return err
}

func (w *Writer) WriteUint64(n uint64) error {
	var b [8]byte
	putUint64(b[:], n)
	_, err := w.Write(b[:])
	return err
}

func (w *Writer) WriteFloat32(x float32) error {
	return w.WriteUint32(math.Float32bits(x))
}

func (w *Writer) WriteFloat64(x float64) error {
	return w.WriteUint64(math.Float64bits(x))
}

// WriteString writes a u64 length prefix followed by the raw bytes.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteUint64(uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// Checksum returns the running CRC-32 of the body written so far.
func (w *Writer) Checksum() uint32 { return w.checksum }

// Close finalizes the dump: the running CRC is patched into the header,
// the file is closed, and the registry entry released. After a successful
// Close the dump counts as published.
func (w *Writer) Close() error {
	if w.err != nil {
		err := w.err
		w.Abort()
		return err
	}
	if _, err := w.f.Seek(checksumOffset, io.SeekStart); err != nil {
		w.Abort()
		return fmt.Errorf("dump finalize seek: %w", err)
	}
	var b [4]byte
	putUint32(b[:], w.checksum)
	if _, err := w.f.Write(b[:]); err != nil {
		w.Abort()
		return fmt.Errorf("dump finalize checksum: %w", err)
	}
	w.reg.remove(w.f)
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("dump close: %w", err)
	}
	return nil
}

// Abort closes and unlinks the in-progress file. Safe to call after a
// failed write; never called after a successful Close.
func (w *Writer) Abort() {
	if w.f == nil {
		return
	}
	path := w.reg.pathOf(w.f)
	w.reg.remove(w.f)
	w.f.Close()
	if path != "" {
		os.Remove(path)
	}
	w.f = nil
}

func putUint32(b []byte, n uint32) {
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
}

func putUint64(b []byte, n uint64) {
	b[0] = byte(n >> 56)
	b[1] = byte(n >> 48)
	b[2] = byte(n >> 40)
	b[3] = byte(n >> 32)
	b[4] = byte(n >> 24)
	b[5] = byte(n >> 16)
	b[6] = byte(n >> 8)
	b[7] = byte(n)
}
