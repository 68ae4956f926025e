package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
)

const iconSize = 32

// Icon returns the tray icon in the format the platform tray expects:
// ICO on Windows, PNG elsewhere.
func Icon() []byte {
	pngData := iconPNG()
	if runtime.GOOS == "windows" {
		return wrapICO(pngData, iconSize)
	}
	return pngData
}

// iconPNG draws a stack of three frames, the newest on top.
func iconPNG() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	frames := []struct {
		off int
		c   color.NRGBA
	}{
		{off: 0, c: color.NRGBA{R: 0x9e, G: 0xb7, B: 0xd6, A: 0xff}},
		{off: 5, c: color.NRGBA{R: 0x4f, G: 0x8a, B: 0xd0, A: 0xff}},
		{off: 10, c: color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}},
	}
	for _, f := range frames {
		x0, y0 := 2+f.off, 2+f.off
		x1, y1 := x0+18, y0+14
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				border := x == x0 || x == x1-1 || y == y0 || y == y1-1
				if border {
					img.SetNRGBA(x, y, color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff})
				} else {
					img.SetNRGBA(x, y, f.c)
				}
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// wrapICO embeds a PNG in a single-image ICO container.
func wrapICO(pngData []byte, size int) []byte {
	var buf bytes.Buffer
	// ICONDIR
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	dim := byte(size)
	if size >= 256 {
		dim = 0
	}
	buf.Write([]byte{dim, dim, 0, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32)) // bpp
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pngData)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(6+16))
	buf.Write(pngData)
	return buf.Bytes()
}
