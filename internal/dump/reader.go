package dump

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
)

// Reader opens a finalized dump, validates the header, and exposes
// big-endian body reads mirroring the Writer primitives.
type Reader struct {
	f          *os.File
	br         *bufio.Reader
	kind       Kind
	checksum   uint32
	expiration uint64
}

// OpenRead opens path and validates version and magic. The reader is
// positioned at the start of the body.
func OpenRead(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump open: %w", err)
	}
	r := &Reader{f: f, br: bufio.NewReader(f)}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: short header in %s", ErrCorrupt, path)
	}
	if header[0] != Version {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported version %d in %s", ErrCorrupt, header[0], path)
	}
	if [32]byte(header[14:46]) != magic {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic in %s", ErrCorrupt, path)
	}
	r.kind = Kind(header[1])
	r.checksum = getUint32(header[checksumOffset:])
	r.expiration = getUint64(header[6:])
	return r, nil
}

// Kind returns the payload tag from the header.
func (r *Reader) Kind() Kind { return r.kind }

// Checksum returns the CRC-32 claimed by the header.
func (r *Reader) Checksum() uint32 { return r.checksum }

// Expiration returns the expiration epoch from the header. Nothing in the
// daemon consumes it; it is carried for downstream readers.
func (r *Reader) Expiration() uint64 { return r.expiration }

// SeekStart repositions the reader at the start of the body.
func (r *Reader) SeekStart() error {
	if _, err := r.f.Seek(HeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("dump seek: %w", err)
	}
	r.br.Reset(r.f)
	return nil
}

// Verify recomputes the body CRC-32 and compares it against the header.
// The reader is left positioned at the start of the body.
func (r *Reader) Verify() error {
	if err := r.SeekStart(); err != nil {
		return err
	}
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r.br); err != nil {
		return fmt.Errorf("dump verify: %w", err)
	}
	if h.Sum32() != r.checksum {
		return fmt.Errorf("%w: checksum mismatch, header %08x body %08x",
			ErrCorrupt, r.checksum, h.Sum32())
	}
	return r.SeekStart()
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

// ReadFull fills p or fails. A clean EOF before any byte is io.EOF; a
// partial read is corruption.
func (r *Reader) ReadFull(p []byte) error {
	n, err := io.ReadFull(r.br, p)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("%w: truncated record (%d of %d bytes)", ErrCorrupt, n, len(p))
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	var b [1]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	n, err := r.ReadUint8()
	return int8(n), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	var b [2]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return getUint32(b[:]), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return getUint64(b[:]), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	n, err := r.ReadUint32()
	return math.Float32frombits(n), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	n, err := r.ReadUint64()
	return math.Float64frombits(n), err
}

// ReadString reads a u64 length prefix then that many raw bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return "", err
	}
	// A string longer than the file is a corrupt prefix, not an allocation
	// request.
	const maxStringLen = 1 << 20
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d", ErrCorrupt, n)
	}
	b := make([]byte, n)
	if err := r.ReadFull(b); err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("%w: truncated string", ErrCorrupt)
		}
		return "", err
	}
	return string(b), nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func getUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
