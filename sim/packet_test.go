package sim

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketWireRoundTrip(t *testing.T) {
	packets := []Packet{
		{SourceAgent: 0, DestServer: 0, Sequence: 1,
			SizeBytes: PacketHeaderSize, SentAt: 0},
		{SourceAgent: 7, DestServer: 3, Sequence: 42,
			SizeBytes: 1500, SentAt: Timestamp(1234567890)},
		{SourceAgent: 1<<32 - 1, DestServer: 9, Sequence: 1<<64 - 1,
			SizeBytes: 64, SentAt: Timestamp(time.Hour)},
	}

	var wire []byte
	for _, p := range packets {
		wire = AppendPacket(wire, p)
	}

	r := NewPacketReader(bytes.NewReader(wire))
	for _, want := range packets {
		got, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestPacketWireLayout(t *testing.T) {
	p := Packet{
		SourceAgent: 0x01020304,
		DestServer:  0x05060708,
		Sequence:    0x1112131415161718,
		SizeBytes:   100,
		SentAt:      Timestamp(0x2122232425262728),
	}

	wire := AppendPacket(nil, p)
	require.Len(t, wire, 100)

	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(wire[0:4]))
	assert.Equal(t, uint32(0x05060708), binary.LittleEndian.Uint32(wire[4:8]))
	assert.Equal(t, uint64(0x1112131415161718),
		binary.LittleEndian.Uint64(wire[8:16]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(wire[16:20]))
	assert.Equal(t, uint64(0x2122232425262728),
		binary.LittleEndian.Uint64(wire[20:28]))

	// Payload padding carries no information.
	assert.Equal(t, make([]byte, 72), wire[28:])
}

func TestPacketReaderRejectsTinySize(t *testing.T) {
	p := Packet{SizeBytes: PacketHeaderSize}
	wire := AppendPacket(nil, p)
	binary.LittleEndian.PutUint32(wire[16:20], PacketHeaderSize-1)

	r := NewPacketReader(bytes.NewReader(wire))
	_, err := r.Read()
	assert.Error(t, err)
}

func TestPacketReaderTruncatedStream(t *testing.T) {
	p := Packet{SizeBytes: 1500}
	wire := AppendPacket(nil, p)

	r := NewPacketReader(bytes.NewReader(wire[:900]))
	_, err := r.Read()
	assert.Error(t, err)
}

func TestPacketSojourn(t *testing.T) {
	p := Packet{SentAt: Timestamp(100 * time.Millisecond)}

	now := Timestamp(150 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, p.Sojourn(now))
}
