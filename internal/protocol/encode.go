package protocol

import (
	"encoding/binary"

	"github.com/banshee-data/depthcam/internal/frame"
)

// Checksum returns the 8-bit wrapping sum the device appends to a packet,
// computed over the second header byte, the length field, the info block and
// the pixels.
func Checksum(length uint16, info, pixels []byte) byte {
	sum := HeaderByte2
	sum += byte(length) + byte(length>>8)
	for _, b := range info {
		sum += b
	}
	for _, b := range pixels {
		sum += b
	}
	return sum
}

// EncodeInfo lays out the 16-byte info block for a frame.
func EncodeInfo(rows, cols int, meta frame.Metadata) [InfoSize]byte {
	var info [InfoSize]byte
	info[infoCommand] = meta.Command
	info[infoOutputMode] = meta.OutputMode
	info[infoSensorTemp] = byte(meta.SensorTemp)
	info[infoDriverTemp] = byte(meta.DriverTemp)
	binary.LittleEndian.PutUint32(info[infoExposure:], meta.ExposureMicros)
	info[infoErrorCode] = meta.ErrorCode
	info[infoRows] = byte(rows)
	info[infoCols] = byte(cols)
	binary.LittleEndian.PutUint16(info[infoFrameID:], meta.FrameID)
	info[infoISPVersion] = meta.ISPVersion
	return info
}

// AppendPacket appends the wire encoding of f, tail byte included, to dst.
func AppendPacket(dst []byte, f *frame.Frame) []byte {
	pixels := f.Pixels()
	info := EncodeInfo(f.Rows(), f.Cols(), f.Metadata())
	length := uint16(InfoSize + len(pixels))

	dst = append(dst, HeaderByte1, HeaderByte2)
	dst = binary.LittleEndian.AppendUint16(dst, length)
	dst = append(dst, info[:]...)
	dst = append(dst, pixels...)
	dst = append(dst, Checksum(length, info[:], pixels), TailByte)
	return dst
}

// EncodePacket returns the wire encoding of f.
func EncodePacket(f *frame.Frame) []byte {
	return AppendPacket(make([]byte, 0, PacketSize(f.Len())), f)
}

// PacketSize is the number of bytes on the wire for a frame of n pixels.
func PacketSize(n int) int {
	return 2 + LengthSize + InfoSize + n + 2
}
