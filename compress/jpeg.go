// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package compress

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/pkg/errors"
)

// jpegQuality matches the source transport's fixed quality setting; it is
// not exposed as a parameter because the wire format never negotiates it.
const jpegQuality = 75

// CompressJPEG encodes width*height*channels raw pixel bytes as a JPEG
// blob. channels must be 1 (grayscale), 3 (RGB) or 4 (RGBA); any other
// value, or a pixels slice of the wrong length, is an error.
//
// There is no corresponding subscriber-side JPEG decoder in this package;
// per the transport's design, image subscribers decode in the application
// layer (see the doc on the JPEG Mode in this package).
func CompressJPEG(width, height, channels int, pixels []byte) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image dimensions %dx%d", width, height)
	}

	want := width * height * channels
	if len(pixels) != want {
		return nil, errors.Errorf("pixel buffer is %d bytes, want %d for %dx%d*%d", len(pixels), want, width, height, channels)
	}

	img, err := decodeRawImage(width, height, channels, pixels)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return out.Bytes(), nil
}

func decodeRawImage(width, height, channels int, pixels []byte) (image.Image, error) {
	switch channels {
	case 1:
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, pixels)
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for i, px := 0, 0; px < width*height; i, px = i+3, px+1 {
			img.SetNRGBA(px%width, px/width, color.NRGBA{R: pixels[i], G: pixels[i+1], B: pixels[i+2], A: 0xFF})
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		copy(img.Pix, pixels)
		return img, nil
	default:
		return nil, errors.Errorf("unsupported channel count %d, want 1, 3, or 4", channels)
	}
}
