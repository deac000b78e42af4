package util

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDecodeULEB128(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xE5, 0x8E, 0x26})
	n, c := DecodeULEB128(buf)
	if n != 624485 {
		t.Fatal("number was not decoded properly, got: ", n, c)
	}
	if c != 3 {
		t.Fatal("count not returned correctly")
	}
}

func TestDecodeSLEB128(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x9b, 0xf1, 0x59})
	n, c := DecodeSLEB128(buf)
	if n != -624485 {
		t.Fatal("number was not decoded properly, got: ", n, c)
	}
	if c != 3 {
		t.Fatal("count not returned correctly")
	}
}

func TestULEB128RoundTrip(t *testing.T) {
	for _, want := range []uint64{0x00, 0x7f, 0x80, 0x8f, 0xffff, 0xfffffff7, ^uint64(0)} {
		var buf bytes.Buffer
		EncodeULEB128(&buf, want)
		enclen := buf.Len()
		buf.Write([]byte{0x1, 0x2, 0x3}) // trailing data must be left alone
		out, c := DecodeULEB128(&buf)
		if out != want || c != uint32(enclen) {
			t.Errorf("%#x: decoded %#x, %d bytes read of %d", want, out, c, enclen)
		}
	}
}

func TestLEB128Truncated(t *testing.T) {
	// An empty buffer or a final byte with the continuation bit set must
	// report length 0 instead of a value.
	for _, in := range [][]byte{nil, {0x80}, {0xE5, 0x8E}} {
		if n, c := DecodeULEB128(bytes.NewBuffer(in)); c != 0 {
			t.Errorf("ULEB %x: expected length 0, got %d (value %d)", in, c, n)
		}
		if n, c := DecodeSLEB128(bytes.NewBuffer(in)); c != 0 {
			t.Errorf("SLEB %x: expected length 0, got %d (value %d)", in, c, n)
		}
	}
}

func TestSLEB128RoundTrip(t *testing.T) {
	for _, want := range []int64{0, 2, -2, 63, -64, 127, -127, 128, -128, 129, -129, -624485} {
		var buf bytes.Buffer
		EncodeSLEB128(&buf, want)
		enclen := buf.Len()
		buf.Write([]byte{0x1, 0x2, 0x3})
		out, c := DecodeSLEB128(&buf)
		if out != want || c != uint32(enclen) {
			t.Errorf("%d: decoded %d, %d bytes read of %d", want, out, c, enclen)
		}
	}
}

func TestParseString(t *testing.T) {
	buf := bytes.NewBuffer([]byte{'h', 'i', 0x0, 0xFF, 0xCC})
	str, n := ParseString(buf)
	if str != "hi" || n != 3 {
		t.Fatalf("string was not parsed correctly: %q, %d bytes", str, n)
	}
}

func TestReadUintRaw(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	for _, tc := range []struct {
		size int
		want uint64
	}{
		{1, 0x01},
		{2, 0x0201},
		{4, 0x04030201},
		{8, 0x0807060504030201},
	} {
		got, err := ReadUintRaw(bytes.NewReader(data), binary.LittleEndian, tc.size)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("size %d: expected %#x, got %#x", tc.size, tc.want, got)
		}
	}
	if _, err := ReadUintRaw(bytes.NewReader(data), binary.LittleEndian, 3); err == nil {
		t.Error("expected error for unsupported size")
	}
}

func TestReadDwarfLengthVersion(t *testing.T) {
	data := []byte{0x20, 0x00, 0x00, 0x00, 0x05, 0x00, 0xff}
	length, dwarf64, version, _ := ReadDwarfLengthVersion(data)
	if length != 0x20 || dwarf64 || version != 5 {
		t.Errorf("wrong header: length %#x dwarf64 %v version %d", length, dwarf64, version)
	}

	data64 := append([]byte{0xff, 0xff, 0xff, 0xff, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 0x04, 0x00)
	length, dwarf64, version, _ = ReadDwarfLengthVersion(data64)
	if length != 0x40 || !dwarf64 || version != 4 {
		t.Errorf("wrong 64-bit header: length %#x dwarf64 %v version %d", length, dwarf64, version)
	}

	if _, _, version, _ := ReadDwarfLengthVersion([]byte{0x01}); version != 0 {
		t.Errorf("truncated header should report version 0, got %d", version)
	}
}
