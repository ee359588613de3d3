package mqtt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/bizflycloud/mqttcd/pkg/broker"
)

// maxRemainingLength is the largest value a four byte variable length integer can hold.
const maxRemainingLength = 268435455

// ErrMalformed is returned for frames that violate the packet layout.
var ErrMalformed = errors.New("malformed packet")

var _ broker.DecodeFunc = DecodePublish

// readFrame reads one control packet off r without interpreting its body.
// Bodies longer than max are skipped and reported through Frame.Discarded.
func readFrame(r *bufio.Reader, max int) (broker.Frame, error) {
	first, err := r.ReadByte()
	if err != nil {
		return broker.Frame{}, err
	}
	length, err := readRemainingLength(r)
	if err != nil {
		return broker.Frame{}, err
	}
	f := broker.Frame{Type: first >> 4, Flags: first & 0x0f}
	if max > 0 && length > max {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return broker.Frame{}, err
		}
		f.Discarded = length
		return f, nil
	}
	f.Body = make([]byte, length)
	if _, err := io.ReadFull(r, f.Body); err != nil {
		return broker.Frame{}, err
	}
	return f, nil
}

func readRemainingLength(r io.ByteReader) (int, error) {
	var (
		value      int
		multiplier = 1
	)
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(b&0x7f) * multiplier
		if b&0x80 == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, fmt.Errorf("%w: remaining length exceeds %d", ErrMalformed, maxRemainingLength)
}

func fixedHeader(f broker.Frame) packets.FixedHeader {
	return packets.FixedHeader{
		MessageType:     f.Type,
		Dup:             f.Flags&0x08 > 0,
		Qos:             (f.Flags >> 1) & 0x03,
		Retain:          f.Flags&0x01 > 0,
		RemainingLength: len(f.Body),
	}
}

func unpack(f broker.Frame) (packets.ControlPacket, error) {
	cp, err := packets.NewControlPacketWithHeader(fixedHeader(f))
	if err != nil {
		return nil, err
	}
	if err := cp.Unpack(bytes.NewBuffer(f.Body)); err != nil {
		return nil, err
	}
	return cp, nil
}

// DecodePublish turns a PUBLISH frame into a broker.Event.
func DecodePublish(f broker.Frame) (broker.Event, error) {
	if f.Type != packets.Publish {
		return broker.Event{}, fmt.Errorf("unexpected %s packet", packets.PacketNames[f.Type])
	}
	if f.Discarded > 0 {
		return broker.Event{}, fmt.Errorf("%w: %s publish exceeds max packet size",
			ErrMalformed, humanize.IBytes(uint64(f.Discarded)))
	}
	if err := validatePublish(f); err != nil {
		return broker.Event{}, err
	}
	cp, err := unpack(f)
	if err != nil {
		return broker.Event{}, err
	}
	p := cp.(*packets.PublishPacket)
	return broker.Event{
		Topic:     p.TopicName,
		Payload:   p.Payload,
		MessageID: p.MessageID,
		Qos:       p.Qos,
		Duplicate: p.Dup,
		Retained:  p.Retain,
		ArrivedAt: time.Now(),
	}, nil
}

// validatePublish checks the variable header fits in the body before paho
// reads it, since short reads are not reported by the paho decoder.
func validatePublish(f broker.Frame) error {
	qos := (f.Flags >> 1) & 0x03
	if qos > 2 {
		return fmt.Errorf("%w: invalid qos %d", ErrMalformed, qos)
	}
	if len(f.Body) < 2 {
		return fmt.Errorf("%w: publish too short", ErrMalformed)
	}
	topicLen := int(binary.BigEndian.Uint16(f.Body[:2]))
	header := 2 + topicLen
	if qos > 0 {
		header += 2
	}
	if header > len(f.Body) {
		return fmt.Errorf("%w: publish header exceeds packet", ErrMalformed)
	}
	if !utf8.Valid(f.Body[2 : 2+topicLen]) {
		return fmt.Errorf("%w: topic is not valid utf-8", ErrMalformed)
	}
	return nil
}
