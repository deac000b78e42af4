package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The Little Endian Base 128 format is defined in the DWARF v4 standard,
// section 7.6, page 161 and following.

// DecodeULEB128 decodes an unsigned Little Endian Base 128
// represented number. It returns length 0 if the encoding is truncated,
// including when the last byte available still has the continuation bit
// set.
func DecodeULEB128(buf *bytes.Buffer) (uint64, uint32) {
	var (
		result uint64
		shift  uint64
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, 0
		}
		length++

		result |= uint64((uint(b) & 0x7f) << shift)

		// If high order bit is 1.
		if b&0x80 == 0 {
			break
		}

		shift += 7
	}

	return result, length
}

// DecodeSLEB128 decodes a signed Little Endian Base 128
// represented number. Like DecodeULEB128 it returns length 0 on a
// truncated encoding.
func DecodeSLEB128(buf *bytes.Buffer) (int64, uint32) {
	var (
		b      byte
		err    error
		result int64
		shift  uint64
		length uint32
	)

	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, 0
		}
		length++

		result |= int64((int64(b) & 0x7f) << shift)
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if (shift < 8*uint64(length)) && (b&0x40 > 0) {
		result |= -(1 << shift)
	}

	return result, length
}

// EncodeULEB128 encodes x to the unsigned Little Endian Base 128 format
// into out.
func EncodeULEB128(out io.ByteWriter, x uint64) {
	for {
		b := byte(x & 0x7f)
		x = x >> 7
		if x != 0 {
			b = b | 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			break
		}
	}
}

// EncodeSLEB128 encodes x to the signed Little Endian Base 128 format
// into out.
func EncodeSLEB128(out io.ByteWriter, x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7

		signb := b & 0x40

		last := false
		if (x == 0 && signb == 0) || (x == -1 && signb != 0) {
			last = true
		} else {
			b = b | 0x80
		}
		out.WriteByte(b)

		if last {
			break
		}
	}
}

// ParseString reads a null-terminated string from data.
func ParseString(data *bytes.Buffer) (string, uint32) {
	str, err := data.ReadString(0x0)
	if err != nil {
		panic("Could not parse string")
	}

	return str[:len(str)-1], uint32(len(str))
}

// ReadUintRaw reads an integer of size bytes, with the specified byte order,
// from reader.
func ReadUintRaw(reader io.Reader, order binary.ByteOrder, size int) (uint64, error) {
	switch size {
	case 1:
		var n uint8
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 2:
		var n uint16
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported size %d", size)
}

// ReadDwarfLengthVersion reads a DWARF length field followed by a version
// field, as they appear at the start of several DWARF section headers.
// It returns the unit length, whether the unit uses the 64-bit DWARF format,
// the version number and the byte order of the unit.
// See DWARF v5 section 7.4, page 196 and following.
func ReadDwarfLengthVersion(data []byte) (length uint64, dwarf64 bool, version uint8, byteOrder binary.ByteOrder) {
	if len(data) < 4 {
		return 0, false, 0, binary.LittleEndian
	}

	lenfield := binary.LittleEndian.Uint32(data)
	voff := 4
	if lenfield == ^uint32(0) {
		dwarf64 = true
		if len(data) < 12 {
			return 0, true, 0, binary.LittleEndian
		}
		length = binary.LittleEndian.Uint64(data[4:])
		voff = 12
	} else {
		length = uint64(lenfield)
	}

	if len(data) < voff+2 {
		return length, dwarf64, 0, binary.LittleEndian
	}
	version = uint8(binary.LittleEndian.Uint16(data[voff:]))

	return length, dwarf64, version, binary.LittleEndian
}
