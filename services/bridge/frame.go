package bridge

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"

	"alcosense-go/bus"
)

// Frame types on the wire.
const (
	FramePing  byte = 0x01
	FramePong  byte = 0x02
	FramePub   byte = 0x10
	FrameClose byte = 0x7f
)

// MaxPayload is the largest frame payload the 16-bit length can carry.
const MaxPayload = 0xFFFF

// Frame is a length-prefixed frame: type, big-endian uint16 length, payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// Envelope is the JSON body of a FramePub frame.
type Envelope struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Retained bool            `json:"retained,omitempty"`
}

// EncodeMessage builds a FramePub frame for a bus message.
func EncodeMessage(m *bus.Message) (Frame, error) {
	p, err := json.Marshal(m.Payload)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "bridge: encode %s", m.Topic)
	}
	b, err := json.Marshal(Envelope{Topic: m.Topic.String(), Payload: p, Retained: m.Retained})
	if err != nil {
		return Frame{}, errors.Wrap(err, "bridge: encode envelope")
	}
	return Frame{Type: FramePub, Payload: b}, nil
}

// DecodeEnvelope parses a FramePub payload.
func DecodeEnvelope(p []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(p, &e); err != nil {
		return e, errors.Wrap(err, "bridge: decode envelope")
	}
	if e.Topic == "" {
		return e, errors.New("bridge: envelope without topic")
	}
	return e, nil
}

// ParseTopic splits a slash separated topic into bus tokens.
func ParseTopic(s string) bus.Topic {
	parts := strings.Split(s, "/")
	t := make(bus.Topic, len(parts))
	for i, p := range parts {
		t[i] = p
	}
	return t
}

// FrameReader reads frames from a stream.
type FrameReader struct{ r io.Reader }

// FrameWriter writes frames to a stream.
type FrameWriter struct{ w io.Writer }

func NewFrameReader(r io.Reader) *FrameReader { return &FrameReader{r: r} }
func NewFrameWriter(w io.Writer) *FrameWriter { return &FrameWriter{w: w} }

func (fr *FrameReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (fw *FrameWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > MaxPayload {
		return errors.Errorf("frame too large: %d", len(f.Payload))
	}
	hdr := []byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}
