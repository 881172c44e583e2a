package wire

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint32
		size   uint32
	}{
		{name: "Zero", typeID: 0, size: 0},
		{name: "Typical", typeID: 7, size: 3},
		{name: "MaxSize", typeID: 1, size: 0xFFFFFFFF},
		{name: "MaxTypeID", typeID: 0xFFFFFFFF, size: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := EncodeHeader(tt.typeID, tt.size)
			if len(buf) != HeaderSize {
				t.Fatalf("EncodeHeader produced %d bytes, want %d", len(buf), HeaderSize)
			}

			hdr := DecodeHeader(buf[:])
			if hdr.TypeID != tt.typeID || hdr.Size != tt.size {
				t.Fatalf("DecodeHeader = %+v, want {TypeID:%d Size:%d}", hdr, tt.typeID, tt.size)
			}
		})
	}
}

func TestEncodeHeaderLittleEndian(t *testing.T) {
	buf := EncodeHeader(0x01020304, 0x05060708)
	want := [HeaderSize]byte{0x04, 0x03, 0x02, 0x01, 0x08, 0x07, 0x06, 0x05}
	if buf != want {
		t.Fatalf("EncodeHeader layout = %x, want %x", buf, want)
	}
}

func TestAck(t *testing.T) {
	if !IsAck(EncodeAck()) {
		t.Fatalf("IsAck(EncodeAck()) = false, want true")
	}
	if IsAck(0x00) || IsAck(0xFF) {
		t.Fatalf("IsAck accepted a non-ACK byte")
	}
}
