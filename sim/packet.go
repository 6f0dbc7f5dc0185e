package sim

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// PacketHeaderSize is the fixed size of the wire header in bytes.
const PacketHeaderSize = 28

// A Packet is the unit of work an agent sends to a server. A packet is
// immutable once sent. Sequence numbers are strictly increasing per agent.
type Packet struct {
	SourceAgent uint32
	DestServer  uint32
	Sequence    uint64
	SizeBytes   uint32
	SentAt      Timestamp
}

// Sojourn returns the time the packet has spent in the system by now.
func (p Packet) Sojourn(now Timestamp) time.Duration {
	return now.Sub(p.SentAt)
}

// AppendPacket appends the little-endian wire encoding of p to dst and
// returns the extended slice. The layout is
//
//	source_agent_id (u32) | dest_server_id (u32) | sequence (u64) |
//	size_bytes (u32) | sent_at_nanos (u64) | payload (size_bytes - header)
//
// The payload carries no information and is zero-filled.
func AppendPacket(dst []byte, p Packet) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, p.SourceAgent)
	dst = binary.LittleEndian.AppendUint32(dst, p.DestServer)
	dst = binary.LittleEndian.AppendUint64(dst, p.Sequence)
	dst = binary.LittleEndian.AppendUint32(dst, p.SizeBytes)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(p.SentAt))
	dst = append(dst, make([]byte, int(p.SizeBytes)-PacketHeaderSize)...)

	return dst
}

// A PacketReader decodes a stream of fixed-size packet frames.
type PacketReader struct {
	r      *bufio.Reader
	header [PacketHeaderSize]byte
}

// NewPacketReader creates a PacketReader on top of r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: bufio.NewReader(r)}
}

// Read decodes the next packet from the stream. It returns io.EOF when the
// stream ends cleanly on a frame boundary.
func (pr *PacketReader) Read() (Packet, error) {
	if _, err := io.ReadFull(pr.r, pr.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("truncated packet header: %w", err)
		}
		return Packet{}, err
	}

	p := Packet{
		SourceAgent: binary.LittleEndian.Uint32(pr.header[0:4]),
		DestServer:  binary.LittleEndian.Uint32(pr.header[4:8]),
		Sequence:    binary.LittleEndian.Uint64(pr.header[8:16]),
		SizeBytes:   binary.LittleEndian.Uint32(pr.header[16:20]),
		SentAt:      Timestamp(binary.LittleEndian.Uint64(pr.header[20:28])),
	}

	if p.SizeBytes < PacketHeaderSize {
		return Packet{}, fmt.Errorf(
			"packet size %d smaller than header", p.SizeBytes)
	}

	payload := int64(p.SizeBytes) - PacketHeaderSize
	if _, err := pr.r.Discard(int(payload)); err != nil {
		return Packet{}, fmt.Errorf("truncated packet payload: %w", err)
	}

	return p, nil
}
