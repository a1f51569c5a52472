package frame

import (
	"bytes"
	"strings"
)

const (
	// HeaderRecordLen is the fixed "cmd bodylen seqno\n" record length.
	HeaderRecordLen = 27

	MaxKeyLength     = 31
	MaxPONumLength   = 27
	MaxRONumLength   = 3
	MaxLengthDigits  = 10
	CommandLength    = 4
	terminatorLength = 4 // "end\n"
)

// Header is one kv record. Value is raw bytes with an explicit length.
type Header struct {
	Key   string
	Value []byte
}

// PayloadObject is one po record.
type PayloadObject struct {
	PONum   uint32
	Content []byte
}

// RoutingObject is one ro record.
type RoutingObject struct {
	RONum   uint8
	Content []byte
}

// Drops counts records the decoder discarded because their storage could
// not be allocated. A frame with drops is still well-formed.
type Drops struct {
	Headers        int
	PayloadObjects int
	RoutingObjects int
}

func (d Drops) Total() int {
	return d.Headers + d.PayloadObjects + d.RoutingObjects
}

// Frame is one complete protocol message. Record lists keep wire order and
// may repeat keys; lookups return the first match.
//
// Frames decoded through a bounded arena alias the arena buffer. Use Clone
// to retain one past the arena's next reset.
type Frame struct {
	Cmd            string
	SeqNo          uint32
	StatedLen      int
	Headers        []Header
	PayloadObjects []PayloadObject
	RoutingObjects []RoutingObject
	Dropped        Drops
}

func New(cmd string, seqno uint32) *Frame {
	return &Frame{Cmd: cmd, SeqNo: seqno}
}

func (f *Frame) AddHeader(key string, value []byte) {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

func (f *Frame) AddHeaderString(key, value string) {
	f.AddHeader(key, []byte(value))
}

func (f *Frame) AddPayloadObject(ponum uint32, content []byte) {
	f.PayloadObjects = append(f.PayloadObjects, PayloadObject{PONum: ponum, Content: content})
}

func (f *Frame) AddRoutingObject(ronum uint8, content []byte) {
	f.RoutingObjects = append(f.RoutingObjects, RoutingObject{RONum: ronum, Content: content})
}

// Header returns the first header with key.
func (f *Frame) Header(key string) (Header, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h, true
		}
	}
	return Header{}, false
}

// HeaderString returns the first header value with key as a string.
func (f *Frame) HeaderString(key string) (string, bool) {
	h, ok := f.Header(key)
	if !ok {
		return "", false
	}
	return string(h.Value), true
}

// PayloadObject returns the first payload object, if any.
func (f *Frame) PayloadObject() (PayloadObject, bool) {
	if len(f.PayloadObjects) == 0 {
		return PayloadObject{}, false
	}
	return f.PayloadObjects[0], true
}

// Finished reports whether the first finished header is exactly "true".
func (f *Frame) Finished() bool {
	h, ok := f.Header(HeaderFinished)
	return ok && bytes.Equal(h.Value, []byte("true"))
}

// Clone deep-copies the frame so it no longer aliases decoder storage.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{
		Cmd:       f.Cmd,
		SeqNo:     f.SeqNo,
		StatedLen: f.StatedLen,
		Dropped:   f.Dropped,
	}
	if len(f.Headers) > 0 {
		out.Headers = make([]Header, len(f.Headers))
		for i, h := range f.Headers {
			out.Headers[i] = Header{Key: h.Key, Value: bytes.Clone(h.Value)}
		}
	}
	if len(f.PayloadObjects) > 0 {
		out.PayloadObjects = make([]PayloadObject, len(f.PayloadObjects))
		for i, po := range f.PayloadObjects {
			out.PayloadObjects[i] = PayloadObject{PONum: po.PONum, Content: bytes.Clone(po.Content)}
		}
	}
	if len(f.RoutingObjects) > 0 {
		out.RoutingObjects = make([]RoutingObject, len(f.RoutingObjects))
		for i, ro := range f.RoutingObjects {
			out.RoutingObjects[i] = RoutingObject{RONum: ro.RONum, Content: bytes.Clone(ro.Content)}
		}
	}
	return out
}

// ValidKey reports whether key can be written as a kv token.
func ValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyLength {
		return false
	}
	return !strings.ContainsAny(key, " \n")
}
