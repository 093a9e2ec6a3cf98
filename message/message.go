// Package message is the fixed-size radio payload exchanged with the gateway.
//
// Layout, little-endian, 7 bytes:
//
//	0..1  id       uint16
//	2     channel  uint8 (0 = One, 1 = Two)
//	3..6  data     uint32
package message

import (
	"encoding/binary"
	"strconv"
)

// Size is the encoded length of a Message.
const Size = 7

type Channel uint8

const (
	One Channel = iota
	Two
)

func (c Channel) String() string {
	switch c {
	case One:
		return "one"
	case Two:
		return "two"
	}
	return "channel(" + strconv.Itoa(int(c)) + ")"
}

func (c Channel) Valid() bool { return c <= Two }

// Message is addressed to a device id and carries one counter value.
type Message struct {
	ID      uint16
	Channel Channel
	Data    uint32
}

// Encode appends the wire form of m to dst.
func (m Message) Encode(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, m.ID)
	dst = append(dst, byte(m.Channel))
	return binary.LittleEndian.AppendUint32(dst, m.Data)
}

// Bytes is Encode into a fresh array.
func (m Message) Bytes() [Size]byte {
	var b [Size]byte
	m.Encode(b[:0])
	return b
}

// Decode parses the first Size bytes of b. Trailing bytes are ignored. It
// reports false for a short buffer or an unknown channel.
func Decode(b []byte) (Message, bool) {
	if len(b) < Size {
		return Message{}, false
	}
	ch := Channel(b[2])
	if !ch.Valid() {
		return Message{}, false
	}
	return Message{
		ID:      binary.LittleEndian.Uint16(b[0:2]),
		Channel: ch,
		Data:    binary.LittleEndian.Uint32(b[3:7]),
	}, true
}
