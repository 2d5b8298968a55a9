package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcam/internal/frame"
)

func TestChecksum_WrapsAt8Bits(t *testing.T) {
	// 0xFF + 0x81 + 0x02 = 0x182
	assert.Equal(t, byte(0x82), Checksum(0x0281, make([]byte, InfoSize), make([]byte, 625)))

	pixels := make([]byte, 625)
	pixels[0] = 0x7F
	pixels[624] = 0x01
	assert.Equal(t, byte(0x02), Checksum(0x0281, make([]byte, InfoSize), pixels))
}

func TestEncodePacket_Layout(t *testing.T) {
	f := testFrame(t, 25, 40, 0x1234)
	packet := EncodePacket(f)

	require.Len(t, packet, PacketSize(1000))
	assert.Equal(t, HeaderByte1, packet[0])
	assert.Equal(t, HeaderByte2, packet[1])
	assert.Equal(t, uint16(InfoSize+1000), binary.LittleEndian.Uint16(packet[2:]))

	info := packet[4 : 4+InfoSize]
	assert.Equal(t, byte(25), info[infoRows])
	assert.Equal(t, byte(40), info[infoCols])
	assert.Equal(t, uint16(0x1234), binary.LittleEndian.Uint16(info[infoFrameID:]))
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(info[infoExposure:]))
	assert.Equal(t, byte(0xF4), info[infoSensorTemp]) // -12

	pixels := packet[4+InfoSize : len(packet)-2]
	assert.Equal(t, f.Pixels(), pixels)
	assert.Equal(t, Checksum(uint16(InfoSize+1000), info, pixels), packet[len(packet)-2])
	assert.Equal(t, TailByte, packet[len(packet)-1])
}

func TestAppendPacket_Appends(t *testing.T) {
	f := testFrame(t, 25, 25, 1)
	prefix := []byte{0xDE, 0xAD}

	out := AppendPacket(prefix, f)
	require.Len(t, out, 2+PacketSize(625))
	assert.Equal(t, prefix, out[:2])
	assert.Equal(t, EncodePacket(f), out[2:])
}

func TestEncodeInfo_RoundTripThroughDecoder(t *testing.T) {
	meta := frame.Metadata{
		FrameID:        0xFFFE,
		ExposureMicros: 0xFFFFFFFF,
		SensorTemp:     -128,
		DriverTemp:     127,
		ErrorCode:      0xFF,
		Command:        0x10,
		OutputMode:     0x20,
		ISPVersion:     0x30,
	}
	info := EncodeInfo(100, 100, meta)
	packet := rawPacket(InfoSize+10000, info, make([]byte, 10000))

	sink := &captureSink{}
	NewDecoder(sink).Process(packet)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, meta, sink.frames[0].Metadata())
}
