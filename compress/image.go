package compress

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// imageHeaderSize is the fixed prefix of an image payload record:
// {width u32 LE, height u32 LE, channels u8}.
const imageHeaderSize = 9

// EncodeImageMessage builds the payload record {width, height, channels,
// pixel_data} used by the image-capture helper. It is an application-level
// convenience: the transport itself never interprets the bytes it carries.
func EncodeImageMessage(width, height, channels int, pixels []byte) ([]byte, error) {
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, errors.Errorf("unsupported channel count %d, want 1, 3, or 4", channels)
	}
	want := width * height * channels
	if len(pixels) != want {
		return nil, errors.Errorf("pixel buffer is %d bytes, want %d for %dx%d*%d", len(pixels), want, width, height, channels)
	}

	buf := make([]byte, imageHeaderSize+len(pixels))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(width))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(height))
	buf[8] = byte(channels)
	copy(buf[imageHeaderSize:], pixels)
	return buf, nil
}

// DecodeImageMessage is the inverse of EncodeImageMessage.
func DecodeImageMessage(msg []byte) (width, height, channels int, pixels []byte, err error) {
	if len(msg) < imageHeaderSize {
		return 0, 0, 0, nil, errors.Errorf("image message too short: %d bytes", len(msg))
	}

	w := int(binary.LittleEndian.Uint32(msg[0:4]))
	h := int(binary.LittleEndian.Uint32(msg[4:8]))
	c := int(msg[8])
	data := msg[imageHeaderSize:]

	if c != 1 && c != 3 && c != 4 {
		return 0, 0, 0, nil, errors.Errorf("unsupported channel count %d, want 1, 3, or 4", c)
	}
	if len(data) != w*h*c {
		return 0, 0, 0, nil, errors.Errorf("image message declares %dx%d*%d but carries %d pixel bytes", w, h, c, len(data))
	}

	return w, h, c, data, nil
}
