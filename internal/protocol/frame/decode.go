package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/arena"
)

// Storage overhead charged against the allocator per record, on top of the
// value bytes, so that an arena capacity bounds record count as well as
// payload volume.
const (
	HeaderOverhead        = 32
	PayloadObjectOverhead = 32
	RoutingObjectOverhead = 32
)

// ByteReader is the reader shape the decoder needs. *bufio.Reader satisfies
// it; wrap a net.Conn once per connection rather than once per frame.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrame decodes one frame from r, taking record storage from alloc. A
// nil alloc uses a fresh heap.
//
// Records whose storage cannot be allocated are consumed from the stream and
// counted in Frame.Dropped. Any grammar violation returns ErrMalformedFrame;
// the stream position is then undefined.
func ReadFrame(r io.Reader, alloc arena.Allocator) (*Frame, error) {
	br := asByteReader(r)
	if alloc == nil {
		alloc = arena.NewHeap()
	}

	var hdr [HeaderRecordLen]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, readErr(err)
	}
	if hdr[4] != ' ' || hdr[15] != ' ' || hdr[26] != '\n' {
		return nil, malformed("header delimiters")
	}
	statedLen, err := parseDigits(hdr[5:15])
	if err != nil {
		return nil, malformed("frame length %q", hdr[5:15])
	}
	seqno, err := parseDigits(hdr[16:26])
	if err != nil || seqno > 1<<32-1 {
		return nil, malformed("sequence number %q", hdr[16:26])
	}

	f := &Frame{
		Cmd:       string(hdr[0:4]),
		SeqNo:     uint32(seqno),
		StatedLen: int(statedLen),
	}

	var tag [3]byte
	for {
		if _, err := io.ReadFull(br, tag[:]); err != nil {
			return nil, readErr(err)
		}
		switch string(tag[:]) {
		case "kv ":
			if err := readKV(br, alloc, f); err != nil {
				return nil, err
			}
		case "po ":
			if err := readPO(br, alloc, f); err != nil {
				return nil, err
			}
		case "ro ":
			if err := readRO(br, alloc, f); err != nil {
				return nil, err
			}
		case "end":
			if err := consumeNewline(br); err != nil {
				return nil, err
			}
			return f, nil
		default:
			return nil, malformed("object tag %q", tag[:])
		}
	}
}

func readKV(br ByteReader, alloc arena.Allocator, f *Frame) error {
	key, err := readToken(br, MaxKeyLength, ' ')
	if err != nil {
		return err
	}
	if key == "" {
		return malformed("empty header key")
	}
	n, err := readLength(br)
	if err != nil {
		return err
	}
	value, ok, err := readValue(br, alloc, n, HeaderOverhead+uint64(len(key))+1)
	if err != nil {
		return err
	}
	if !ok {
		f.Dropped.Headers++
		return nil
	}
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
	return nil
}

func readPO(br ByteReader, alloc arena.Allocator, f *Frame) error {
	tok, err := readToken(br, MaxPONumLength, ' ')
	if err != nil {
		return err
	}
	ponum, err := ParsePONum(tok)
	if err != nil {
		return err
	}
	n, err := readLength(br)
	if err != nil {
		return err
	}
	content, ok, err := readValue(br, alloc, n, PayloadObjectOverhead)
	if err != nil {
		return err
	}
	if !ok {
		f.Dropped.PayloadObjects++
		return nil
	}
	f.PayloadObjects = append(f.PayloadObjects, PayloadObject{PONum: ponum, Content: content})
	return nil
}

func readRO(br ByteReader, alloc arena.Allocator, f *Frame) error {
	tok, err := readToken(br, MaxRONumLength, ' ')
	if err != nil {
		return err
	}
	ronum, err := strconv.ParseUint(tok, 10, 8)
	if err != nil {
		return malformed("ro number %q", tok)
	}
	n, err := readLength(br)
	if err != nil {
		return err
	}
	content, ok, err := readValue(br, alloc, n, RoutingObjectOverhead)
	if err != nil {
		return err
	}
	if !ok {
		f.Dropped.RoutingObjects++
		return nil
	}
	f.RoutingObjects = append(f.RoutingObjects, RoutingObject{RONum: uint8(ronum), Content: content})
	return nil
}

// readValue reads n value bytes plus the trailing newline. When storage for
// the record cannot be allocated the bytes are discarded and ok is false.
func readValue(br ByteReader, alloc arena.Allocator, n, overhead uint64) ([]byte, bool, error) {
	var block []byte
	size, fits := arena.BlockSize(n, overhead)
	if fits {
		block, fits = alloc.Allocate(size)
	}
	if !fits {
		if _, err := io.CopyN(io.Discard, br, int64(n)); err != nil {
			return nil, false, readErr(err)
		}
		if err := consumeNewline(br); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	value := block[:int(n):int(n)]
	if _, err := io.ReadFull(br, value); err != nil {
		return nil, false, readErr(err)
	}
	if err := consumeNewline(br); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func readLength(br ByteReader) (uint64, error) {
	tok, err := readToken(br, MaxLengthDigits, '\n')
	if err != nil {
		return 0, err
	}
	n, err := parseDigits([]byte(tok))
	if err != nil {
		return 0, malformed("length %q", tok)
	}
	return n, nil
}

// readToken reads up to max bytes followed by delim. A token that does not
// fit is consumed through its delimiter and rejected.
func readToken(br ByteReader, max int, delim byte) (string, error) {
	buf := make([]byte, 0, max)
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", readErr(err)
		}
		if c == delim {
			return string(buf), nil
		}
		if len(buf) == max {
			if err := dropUntil(br, delim); err != nil {
				return "", err
			}
			return "", malformed("token longer than %d bytes", max)
		}
		buf = append(buf, c)
	}
}

func dropUntil(br ByteReader, delim byte) error {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return readErr(err)
		}
		if c == delim {
			return nil
		}
	}
}

func consumeNewline(br ByteReader) error {
	c, err := br.ReadByte()
	if err != nil {
		return readErr(err)
	}
	if c != '\n' {
		return malformed("missing record newline")
	}
	return nil
}

// parseDigits accepts only ASCII decimal digits.
func parseDigits(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseUint(string(b), 10, 64)
}

// readErr maps a clean end of stream to ErrMalformedFrame and keeps the
// cause reachable through errors.Is.
func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return fmt.Errorf("frame: read: %w", err)
}

type singleByteReader struct {
	r   io.Reader
	one [1]byte
}

func (s *singleByteReader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *singleByteReader) ReadByte() (byte, error) {
	n, err := io.ReadFull(s.r, s.one[:])
	if n == 1 {
		return s.one[0], nil
	}
	return 0, err
}

// asByteReader avoids read-ahead buffering so that no bytes past the frame
// are consumed from a caller's plain reader.
func asByteReader(r io.Reader) ByteReader {
	if br, ok := r.(ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}
