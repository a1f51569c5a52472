package frame

import (
	"fmt"
	"io"
	"strconv"
)

// maxBodyLength is the largest body a 10-digit length field can announce.
const maxBodyLength = 9999999999

// Length returns the body length announced in the header record: every
// record's encoded size plus the terminating "end\n".
func Length(f *Frame) int {
	total := terminatorLength
	for _, h := range f.Headers {
		total += kvLen(h)
	}
	for _, po := range f.PayloadObjects {
		total += poLen(po)
	}
	for _, ro := range f.RoutingObjects {
		total += roLen(ro)
	}
	return total
}

// "kv " + key + " " + len + "\n" + value + "\n"
func kvLen(h Header) int {
	return 3 + len(h.Key) + 1 + numDigits(uint64(len(h.Value))) + 1 + len(h.Value) + 1
}

// "po :" + ponum + " " + len + "\n" + content + "\n"
func poLen(po PayloadObject) int {
	return 4 + numDigits(uint64(po.PONum)) + 1 + numDigits(uint64(len(po.Content))) + 1 + len(po.Content) + 1
}

// "ro " + ronum + " " + len + "\n" + content + "\n"
func roLen(ro RoutingObject) int {
	return 3 + numDigits(uint64(ro.RONum)) + 1 + numDigits(uint64(len(ro.Content))) + 1 + len(ro.Content) + 1
}

func numDigits(x uint64) int {
	n := 1
	for x >= 10 {
		x /= 10
		n++
	}
	return n
}

// Validate checks that f can be encoded so that a peer decodes the same
// records back.
func Validate(f *Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidCommand)
	}
	if len(f.Cmd) != CommandLength {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, f.Cmd)
	}
	for _, h := range f.Headers {
		if !ValidKey(h.Key) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, h.Key)
		}
	}
	if n := Length(f); uint64(n) > maxBodyLength {
		return fmt.Errorf("%w: body length %d", ErrFrameTooLarge, n)
	}
	return nil
}

// WriteFrame encodes f to w. Payload objects are always written in the
// literal ":N" form. Every piece is written in full; a write error is
// returned as is and leaves the stream position undefined.
func WriteFrame(w io.Writer, f *Frame) error {
	if err := Validate(f); err != nil {
		return err
	}

	scratch := make([]byte, 0, 64)
	scratch = append(scratch, f.Cmd...)
	scratch = append(scratch, ' ')
	scratch = appendPadded(scratch, uint64(Length(f)))
	scratch = append(scratch, ' ')
	scratch = appendPadded(scratch, uint64(f.SeqNo))
	scratch = append(scratch, '\n')
	if err := writeFull(w, scratch); err != nil {
		return err
	}

	for _, h := range f.Headers {
		scratch = append(scratch[:0], "kv "...)
		scratch = append(scratch, h.Key...)
		scratch = append(scratch, ' ')
		scratch = strconv.AppendInt(scratch, int64(len(h.Value)), 10)
		scratch = append(scratch, '\n')
		if err := writeRecord(w, scratch, h.Value); err != nil {
			return err
		}
	}
	for _, po := range f.PayloadObjects {
		scratch = append(scratch[:0], "po :"...)
		scratch = strconv.AppendUint(scratch, uint64(po.PONum), 10)
		scratch = append(scratch, ' ')
		scratch = strconv.AppendInt(scratch, int64(len(po.Content)), 10)
		scratch = append(scratch, '\n')
		if err := writeRecord(w, scratch, po.Content); err != nil {
			return err
		}
	}
	for _, ro := range f.RoutingObjects {
		scratch = append(scratch[:0], "ro "...)
		scratch = strconv.AppendUint(scratch, uint64(ro.RONum), 10)
		scratch = append(scratch, ' ')
		scratch = strconv.AppendInt(scratch, int64(len(ro.Content)), 10)
		scratch = append(scratch, '\n')
		if err := writeRecord(w, scratch, ro.Content); err != nil {
			return err
		}
	}
	return writeFull(w, []byte("end\n"))
}

func writeRecord(w io.Writer, head, body []byte) error {
	if err := writeFull(w, head); err != nil {
		return err
	}
	if err := writeFull(w, body); err != nil {
		return err
	}
	return writeFull(w, []byte{'\n'})
}

// writeFull retries short writes until b is consumed.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// appendPadded appends v as a zero-padded 10-digit decimal.
func appendPadded(dst []byte, v uint64) []byte {
	var digits [MaxLengthDigits]byte
	for i := len(digits) - 1; i >= 0; i-- {
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, digits[:]...)
}
