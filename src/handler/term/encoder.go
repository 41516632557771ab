package term

import (
	"encoding/binary"

	"github.com/hinshun/vt10x"
)

// VTCB binary snapshot format, version 1, little-endian.
//
//	header: magic "VTCB" | version:u8 | flags:u8 | rows:u16 | cols:u16 |
//	        cursorRow:u16 | cursorCol:u16 | reserved:u16
//	runs:   kind:u8 (0 blank-run, 1 cell-run, 2 row-break)
//	        kind=0: count:u16
//	        kind=1: count:u16, attr:u32, count x codepoint:u32
//
// attr packs fg (bits 0-10), bg (bits 11-21) and style flags (bits 22-31).
// An 11-bit color field is either palette/default (bit 10 clear: bit 8 set
// means default color, else palette index in bits 0-7) or truncated RGB
// (bit 10 set: r:3 g:4 b:3 in bits 0-9).
const (
	FormatMagic   = "VTCB"
	FormatVersion = 1

	flagCursorVisible = 1 << 0

	runBlank    = 0
	runCells    = 1
	runRowBreak = 2

	colorRGBBit     = 1 << 10
	colorDefaultBit = 1 << 8

	styleBold      = 1 << 0
	styleItalic    = 1 << 1
	styleUnderline = 1 << 2
	styleInverse   = 1 << 3
	styleFaint     = 1 << 4
	styleStrike    = 1 << 5
	styleBlink     = 1 << 6
)

// vt10x glyph mode bits (mirrors the emulator's attribute layout).
const (
	vtAttrReverse   = 1 << 0
	vtAttrUnderline = 1 << 1
	vtAttrBold      = 1 << 2
	vtAttrItalic    = 1 << 4
	vtAttrBlink     = 1 << 5
)

// Encode serializes a snapshot into the VTCB wire format. The output is a
// complete frame; partial snapshots are never produced.
func Encode(snap *Snapshot) []byte {
	buf := make([]byte, 0, 16+snap.Rows*snap.Cols/2)
	buf = append(buf, FormatMagic...)
	buf = append(buf, FormatVersion)
	flags := byte(0)
	if snap.CursorVisible {
		flags |= flagCursorVisible
	}
	buf = append(buf, flags)
	buf = appendU16(buf, uint16(snap.Rows))
	buf = appendU16(buf, uint16(snap.Cols))
	buf = appendU16(buf, uint16(snap.CursorRow))
	buf = appendU16(buf, uint16(snap.CursorCol))
	buf = appendU16(buf, 0)

	for y := 0; y < snap.Rows; y++ {
		row := snap.Cells[y]
		x := 0
		for x < snap.Cols {
			if isBlank(row[x]) {
				count := 0
				for x+count < snap.Cols && isBlank(row[x+count]) {
					count++
				}
				buf = append(buf, runBlank)
				buf = appendU16(buf, uint16(count))
				x += count
				continue
			}
			attr := packAttr(row[x])
			count := 0
			for x+count < snap.Cols && !isBlank(row[x+count]) && packAttr(row[x+count]) == attr {
				count++
			}
			buf = append(buf, runCells)
			buf = appendU16(buf, uint16(count))
			buf = appendU32(buf, attr)
			for i := 0; i < count; i++ {
				ch := row[x+i].Char
				if ch == 0 {
					ch = ' '
				}
				buf = appendU32(buf, uint32(ch)&0x1FFFFF)
			}
			x += count
		}
		buf = append(buf, runRowBreak)
	}
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendU32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// isBlank reports whether a cell renders as an unstyled space.
func isBlank(c Cell) bool {
	if c.Char != 0 && c.Char != ' ' {
		return false
	}
	return c.Mode == 0 && c.FG == vt10x.DefaultFG && c.BG == vt10x.DefaultBG
}

// packAttr builds the 32-bit attribute word for a cell.
func packAttr(c Cell) uint32 {
	fg := packColor(c.FG, vt10x.DefaultFG)
	bg := packColor(c.BG, vt10x.DefaultBG)
	style := uint32(0)
	if c.Mode&vtAttrBold != 0 {
		style |= styleBold
	}
	if c.Mode&vtAttrItalic != 0 {
		style |= styleItalic
	}
	if c.Mode&vtAttrUnderline != 0 {
		style |= styleUnderline
	}
	if c.Mode&vtAttrReverse != 0 {
		style |= styleInverse
	}
	if c.Mode&vtAttrBlink != 0 {
		style |= styleBlink
	}
	return fg | bg<<11 | style<<22
}

// packColor reduces a vt10x color to the 11-bit field.
func packColor(c vt10x.Color, def vt10x.Color) uint32 {
	switch {
	case c == def || c == vt10x.DefaultFG || c == vt10x.DefaultBG:
		return colorDefaultBit
	case c < 256:
		return uint32(c) & 0xFF
	default:
		// Truncate 24-bit RGB to r:3 g:4 b:3.
		r := (uint32(c) >> 16) & 0xFF
		g := (uint32(c) >> 8) & 0xFF
		b := uint32(c) & 0xFF
		return colorRGBBit | (r>>5)<<7 | (g>>4)<<3 | b>>5
	}
}
