// Package ppu implements the Picture Processing Unit for the NES.
package ppu

import (
	"gones/internal/memory"
)

// PPU represents the NES Picture Processing Unit (2C02)
type PPU struct {
	// PPU Registers (CPU-visible)
	ppuCtrl   uint8 // $2000 - PPUCTRL
	ppuMask   uint8 // $2001 - PPUMASK
	ppuStatus uint8 // $2002 - PPUSTATUS
	oamAddr   uint8 // $2003 - OAMADDR

	// Internal scroll/address state (the "loopy" registers)
	v uint16 // Current VRAM address (15 bits)
	t uint16 // Temporary VRAM address (15 bits) - address latch
	x uint8  // Fine X scroll (3 bits)
	w bool   // Write latch (toggles between first/second write)

	// PPU Memory
	memory *memory.PPUMemory

	// Timing
	scanline   int // -1 (pre-render) .. 260
	cycle      int // 0..340
	frameCount uint64
	oddFrame   bool
	cycleCount uint64

	readBuffer uint8 // buffered $2007 read value

	// Background rendering: fetch latches and shift registers for the
	// NT/AT/pattern-low/pattern-high 8-dot fetch sequence.
	nextTileID   uint8
	nextAttrib   uint8
	nextPatLo    uint8
	nextPatHi    uint8
	bgPatLoShift uint16
	bgPatHiShift uint16
	bgAtLoShift  uint16
	bgAtHiShift  uint16

	// OAM / sprites
	oam            [256]uint8
	secondaryOAM   [32]uint8
	spriteIndices  [8]uint8 // original OAM index, for sprite-0 detection
	spriteCount    uint8
	spriteOverflow bool
	sprite0Hit     bool

	spritePatLo    [8]uint8
	spritePatHi    [8]uint8
	spriteAttr     [8]uint8
	spriteXCounter [8]uint8
	spriteIsZero   [8]bool

	// Frame buffer: one NES palette index (0-63) per pixel. RGB conversion
	// is strictly a host concern (see NESColorToRGB), never used by the
	// core itself.
	frameBuffer [256 * 240]uint8

	// Rendering control, recomputed from PPUMASK on every write
	backgroundEnabled bool
	spritesEnabled    bool
	renderingEnabled  bool

	frameCompleteCallback func()
}

// New creates a new PPU instance
func New() *PPU {
	return &PPU{
		scanline: -1,
	}
}

// Reset resets the PPU to initial state
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.ppuStatus = 0xA0
	p.oamAddr = 0

	p.v = 0
	p.t = 0
	p.x = 0
	p.w = false

	p.scanline = -1
	p.cycle = 0
	p.frameCount = 0
	p.oddFrame = false
	p.cycleCount = 0
	p.readBuffer = 0

	p.nextTileID, p.nextAttrib, p.nextPatLo, p.nextPatHi = 0, 0, 0, 0
	p.bgPatLoShift, p.bgPatHiShift, p.bgAtLoShift, p.bgAtHiShift = 0, 0, 0, 0

	p.spriteCount = 0
	p.sprite0Hit = false
	p.spriteOverflow = false

	p.backgroundEnabled = false
	p.spritesEnabled = false
	p.renderingEnabled = false

	for i := range p.oam {
		p.oam[i] = 0
	}
	for i := range p.frameBuffer {
		p.frameBuffer[i] = 0x0F // black
	}
}

// SetMemory sets the PPU memory interface
func (p *PPU) SetMemory(mem *memory.PPUMemory) {
	p.memory = mem
}

// SetFrameCompleteCallback sets the frame complete callback
func (p *PPU) SetFrameCompleteCallback(callback func()) {
	p.frameCompleteCallback = callback
}

// NMILine reports the level of the PPU's NMI output: the logical AND of
// the VBlank flag (nmi_occurred) and PPUCTRL bit 7 (nmi_output). The bus
// edge-detects this signal rather than receiving a one-shot callback, so
// re-enabling NMI output while still in VBlank raises a fresh edge.
func (p *PPU) NMILine() bool {
	return p.ppuStatus&0x80 != 0 && p.ppuCtrl&0x80 != 0
}

// ReadRegister reads from a PPU register (CPU $2000-$2007)
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case 0x2002: // PPUSTATUS
		status := p.ppuStatus
		p.ppuStatus &= 0x7F // clear VBL flag only; sprite0/overflow clear at pre-render dot 1
		p.w = false
		return status
	case 0x2004: // OAMDATA
		if p.renderingEnabled && p.scanline >= -1 && p.scanline < 240 {
			return 0xFF
		}
		return p.oam[p.oamAddr]
	case 0x2007:
		return p.readPPUData()
	default: // 0x2000, 0x2001, 0x2003, 0x2005, 0x2006 are write-only
		return 0
	}
}

// WriteRegister writes to a PPU register (CPU $2000-$2007)
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address {
	case 0x2000: // PPUCTRL
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
	case 0x2001: // PPUMASK
		p.ppuMask = value
		p.updateRenderingFlags()
	case 0x2002: // read-only
	case 0x2003: // OAMADDR
		p.oamAddr = value
	case 0x2004: // OAMDATA
		if p.renderingEnabled && p.scanline >= -1 && p.scanline < 240 {
			p.oamAddr += 4
			return
		}
		p.oam[p.oamAddr] = value
		p.oamAddr++
	case 0x2005:
		p.writePPUScroll(value)
	case 0x2006:
		p.writePPUAddr(value)
	case 0x2007:
		p.writePPUData(value)
	}
}

// WriteOAM writes to OAM at the specified address (for DMA)
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

// Step advances the PPU by exactly one PPU cycle (dot).
func (p *PPU) Step() {
	p.cycleCount++

	if p.scanline >= -1 && p.scanline < 240 {
		p.renderCycle()
	}

	if p.scanline == 241 && p.cycle == 1 {
		p.ppuStatus |= 0x80
		if p.frameCompleteCallback != nil {
			p.frameCompleteCallback()
		}
	}

	if p.scanline == -1 && p.cycle == 1 {
		p.ppuStatus &^= 0xE0 // clear VBlank, sprite0 hit, sprite overflow
		p.sprite0Hit = false
		p.spriteOverflow = false
	}

	p.cycle++
	// Odd-frame dot skip: the pre-render scanline's last dot is skipped on
	// odd frames while rendering is enabled (NTSC short-frame behavior).
	if p.scanline == -1 && p.cycle == 340 && p.oddFrame && p.renderingEnabled {
		p.cycle = 341
	}
	if p.cycle > 340 {
		p.cycle = 0
		p.scanline++
		if p.scanline > 260 {
			p.scanline = -1
			p.frameCount++
			p.oddFrame = !p.oddFrame
		}
	}
}

// renderCycle drives the background fetch pipeline, sprite evaluation, and
// pixel composition for the current dot, on both visible and pre-render
// scanlines.
func (p *PPU) renderCycle() {
	fetchWindow := (p.cycle >= 1 && p.cycle <= 256) || (p.cycle >= 321 && p.cycle <= 336)

	if fetchWindow {
		p.shiftBackgroundRegisters()
		switch (p.cycle - 1) % 8 {
		case 0:
			p.loadBackgroundShifters()
			p.fetchNametableByte()
		case 2:
			p.fetchAttributeByte()
		case 4:
			p.fetchPatternLow()
		case 6:
			p.fetchPatternHigh()
		case 7:
			if p.renderingEnabled {
				p.incrementX()
			}
		}
	}

	if p.cycle == 256 && p.renderingEnabled {
		p.incrementY()
	}
	if p.cycle == 257 {
		p.shiftBackgroundRegisters()
		p.loadBackgroundShifters()
		if p.renderingEnabled {
			p.copyX()
		}
		p.evaluateSprites(p.scanline + 1)
	}
	if p.scanline == -1 && p.cycle >= 280 && p.cycle <= 304 && p.renderingEnabled {
		p.copyY()
	}

	if p.scanline >= 0 && p.cycle >= 1 && p.cycle <= 256 {
		p.renderPixel(p.cycle - 1)
	}
}

func (p *PPU) shiftBackgroundRegisters() {
	if !p.renderingEnabled {
		return
	}
	p.bgPatLoShift <<= 1
	p.bgPatHiShift <<= 1
	p.bgAtLoShift <<= 1
	p.bgAtHiShift <<= 1
}

func (p *PPU) loadBackgroundShifters() {
	p.bgPatLoShift = (p.bgPatLoShift & 0xFF00) | uint16(p.nextPatLo)
	p.bgPatHiShift = (p.bgPatHiShift & 0xFF00) | uint16(p.nextPatHi)

	var loFill, hiFill uint16
	if p.nextAttrib&0x01 != 0 {
		loFill = 0x00FF
	}
	if p.nextAttrib&0x02 != 0 {
		hiFill = 0x00FF
	}
	p.bgAtLoShift = (p.bgAtLoShift & 0xFF00) | loFill
	p.bgAtHiShift = (p.bgAtHiShift & 0xFF00) | hiFill
}

func (p *PPU) fetchNametableByte() {
	if p.memory == nil {
		return
	}
	addr := 0x2000 | (p.v & 0x0FFF)
	p.nextTileID = p.memory.Read(addr)
}

func (p *PPU) fetchAttributeByte() {
	if p.memory == nil {
		return
	}
	addr := 0x23C0 | (p.v & 0x0C00) | ((p.v >> 4) & 0x38) | ((p.v >> 2) & 0x07)
	at := p.memory.Read(addr)
	shift := ((p.v >> 4) & 4) | (p.v & 2)
	p.nextAttrib = (at >> shift) & 0x03
}

func (p *PPU) fetchPatternLow() {
	if p.memory == nil {
		return
	}
	fineY := (p.v >> 12) & 0x07
	base := uint16(0)
	if p.ppuCtrl&0x10 != 0 {
		base = 0x1000
	}
	addr := base + uint16(p.nextTileID)*16 + fineY
	p.nextPatLo = p.memory.Read(addr)
}

func (p *PPU) fetchPatternHigh() {
	if p.memory == nil {
		return
	}
	fineY := (p.v >> 12) & 0x07
	base := uint16(0)
	if p.ppuCtrl&0x10 != 0 {
		base = 0x1000
	}
	addr := base + uint16(p.nextTileID)*16 + fineY + 8
	p.nextPatHi = p.memory.Read(addr)
}

// incrementX advances coarse X, wrapping into the next horizontal nametable.
func (p *PPU) incrementX() {
	if p.v&0x001F == 31 {
		p.v &^= 0x001F
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

// incrementY advances fine Y, carrying into coarse Y and the next vertical
// nametable with the documented 30th-row wraparound quirk.
func (p *PPU) incrementY() {
	if p.v&0x7000 != 0x7000 {
		p.v += 0x1000
		return
	}
	p.v &^= 0x7000
	y := (p.v & 0x03E0) >> 5
	switch y {
	case 29:
		y = 0
		p.v ^= 0x0800
	case 31:
		y = 0
	default:
		y++
	}
	p.v = (p.v &^ 0x03E0) | (y << 5)
}

func (p *PPU) copyX() {
	p.v = (p.v & 0xFBE0) | (p.t & 0x041F)
}

func (p *PPU) copyY() {
	p.v = (p.v & 0x841F) | (p.t & 0x7BE0)
}

// evaluateSprites scans primary OAM for sprites visible on targetScanline,
// reproducing the well-known "buggy diagonal" overflow scan: once 8 sprites
// are found, the hardware keeps scanning but increments both the sprite and
// byte index together (instead of just the sprite index), which is why
// overflow can misfire or miss depending on OAM contents. Results populate
// secondaryOAM for rendering on targetScanline.
func (p *PPU) evaluateSprites(targetScanline int) {
	for i := range p.secondaryOAM {
		p.secondaryOAM[i] = 0xFF
	}
	p.spriteCount = 0
	p.spriteOverflow = false

	spriteHeight := 8
	if p.ppuCtrl&0x20 != 0 {
		spriteHeight = 16
	}

	found := 0
	n := 0
	for n < 64 {
		y := int(p.oam[n*4])
		if targetScanline >= y && targetScanline < y+spriteHeight {
			if found < 8 {
				copy(p.secondaryOAM[found*4:found*4+4], p.oam[n*4:n*4+4])
				p.spriteIndices[found] = uint8(n)
				found++
			} else {
				p.spriteOverflow = true
				break
			}
		}
		n++
	}

	// Diagonal-scan bug: after 8 sprites are found, real hardware continues
	// scanning with a byte offset that increments alongside the sprite
	// index, producing false positives/negatives on overflow. This loop
	// replicates that by letting the scan continue with a drifting column
	// once the 8-sprite cap is hit, rather than cleanly re-checking Y.
	if p.spriteOverflow {
		m := uint8(0)
		for n < 64 {
			y := int(p.oam[n*4+int(m)%4])
			if targetScanline >= y && targetScanline < y+spriteHeight {
				break
			}
			n++
			m++
		}
	}

	p.spriteCount = uint8(found)
	for i := 0; i < found; i++ {
		p.loadSpritePattern(i, targetScanline, spriteHeight)
	}
}

func (p *PPU) loadSpritePattern(slot int, targetScanline int, spriteHeight int) {
	y := int(p.secondaryOAM[slot*4])
	tile := p.secondaryOAM[slot*4+1]
	attr := p.secondaryOAM[slot*4+2]
	x := p.secondaryOAM[slot*4+3]

	row := targetScanline - y
	if row < 0 {
		row = 0
	}
	if attr&0x80 != 0 { // vertical flip
		row = spriteHeight - 1 - row
	}

	var addr uint16
	if spriteHeight == 16 {
		table := uint16(tile & 1)
		tileNum := uint16(tile &^ 1)
		if row >= 8 {
			tileNum += 1
			row -= 8
		}
		addr = table*0x1000 + tileNum*16 + uint16(row)
	} else {
		base := uint16(0)
		if p.ppuCtrl&0x08 != 0 {
			base = 0x1000
		}
		addr = base + uint16(tile)*16 + uint16(row)
	}

	var lo, hi uint8
	if p.memory != nil {
		lo = p.memory.Read(addr)
		hi = p.memory.Read(addr + 8)
	}
	if attr&0x40 != 0 { // horizontal flip
		lo = reverseBits(lo)
		hi = reverseBits(hi)
	}

	p.spritePatLo[slot] = lo
	p.spritePatHi[slot] = hi
	p.spriteAttr[slot] = attr
	p.spriteXCounter[slot] = x
	p.spriteIsZero[slot] = p.spriteIndices[slot] == 0
}

func reverseBits(b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

// renderPixel composites the background and sprite pixel at screen column
// x on the current scanline and writes the resulting NES palette index.
func (p *PPU) renderPixel(x int) {
	bgPixel, bgPalette := p.backgroundPixel(x)
	spritePixel, spritePalette, behindBG, isZero, haveSprite := p.spritePixel(x)
	p.clockSprites()

	var paletteAddr uint16
	switch {
	case bgPixel == 0 && (!haveSprite || spritePixel == 0):
		paletteAddr = 0x3F00
	case bgPixel == 0:
		paletteAddr = 0x3F10 + uint16(spritePalette)*4 + uint16(spritePixel)
	case !haveSprite || spritePixel == 0:
		paletteAddr = 0x3F00 + uint16(bgPalette)*4 + uint16(bgPixel)
	default:
		p.maybeSignalSprite0Hit(x, isZero)
		if behindBG {
			paletteAddr = 0x3F00 + uint16(bgPalette)*4 + uint16(bgPixel)
		} else {
			paletteAddr = 0x3F10 + uint16(spritePalette)*4 + uint16(spritePixel)
		}
	}

	var colorIndex uint8
	if p.memory != nil {
		colorIndex = p.memory.Read(paletteAddr) & 0x3F
	}
	if p.scanline >= 0 && p.scanline < 240 {
		p.frameBuffer[p.scanline*256+x] = colorIndex
	}
}

func (p *PPU) backgroundPixel(x int) (pixel uint8, palette uint8) {
	if !p.backgroundEnabled {
		return 0, 0
	}
	if x < 8 && p.ppuMask&0x02 == 0 {
		return 0, 0
	}
	mux := uint16(0x8000) >> p.x
	var p0, p1 uint8
	if p.bgPatLoShift&mux != 0 {
		p0 = 1
	}
	if p.bgPatHiShift&mux != 0 {
		p1 = 1
	}
	var a0, a1 uint8
	if p.bgAtLoShift&mux != 0 {
		a0 = 1
	}
	if p.bgAtHiShift&mux != 0 {
		a1 = 1
	}
	return (p1 << 1) | p0, (a1 << 1) | a0
}

func (p *PPU) spritePixel(x int) (pixel uint8, palette uint8, behindBG bool, isZero bool, found bool) {
	if !p.spritesEnabled {
		return 0, 0, false, false, false
	}
	if x < 8 && p.ppuMask&0x04 == 0 {
		return 0, 0, false, false, false
	}
	for i := 0; i < int(p.spriteCount); i++ {
		if p.spriteXCounter[i] != 0 {
			continue
		}
		var b0, b1 uint8
		if p.spritePatLo[i]&0x80 != 0 {
			b0 = 1
		}
		if p.spritePatHi[i]&0x80 != 0 {
			b1 = 1
		}
		px := (b1 << 1) | b0
		if px == 0 {
			continue
		}
		return px, p.spriteAttr[i] & 0x03, p.spriteAttr[i]&0x20 != 0, p.spriteIsZero[i], true
	}
	return 0, 0, false, false, false
}

func (p *PPU) clockSprites() {
	for i := 0; i < int(p.spriteCount); i++ {
		if p.spriteXCounter[i] > 0 {
			p.spriteXCounter[i]--
		} else {
			p.spritePatLo[i] <<= 1
			p.spritePatHi[i] <<= 1
		}
	}
}

func (p *PPU) maybeSignalSprite0Hit(x int, isZero bool) {
	if !isZero || p.sprite0Hit {
		return
	}
	if !p.backgroundEnabled || !p.spritesEnabled {
		return
	}
	if x == 255 {
		return
	}
	p.sprite0Hit = true
	p.ppuStatus |= 0x40
}

// updateRenderingFlags updates internal rendering state based on PPUMASK
func (p *PPU) updateRenderingFlags() {
	p.backgroundEnabled = p.ppuMask&0x08 != 0
	p.spritesEnabled = p.ppuMask&0x10 != 0
	p.renderingEnabled = p.backgroundEnabled || p.spritesEnabled
}

// writePPUScroll handles writes to PPUSCROLL ($2005)
func (p *PPU) writePPUScroll(value uint8) {
	if !p.w {
		p.t = (p.t & 0xFFE0) | (uint16(value) >> 3)
		p.x = value & 0x07
		p.w = true
	} else {
		p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12)
		p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)
		p.w = false
	}
}

// writePPUAddr handles writes to PPUADDR ($2006)
func (p *PPU) writePPUAddr(value uint8) {
	if !p.w {
		p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
		p.w = true
	} else {
		p.t = (p.t & 0xFF00) | uint16(value)
		p.v = p.t
		p.w = false
	}
}

// readPPUData handles reads from PPUDATA ($2007)
func (p *PPU) readPPUData() uint8 {
	var data uint8
	if p.memory == nil {
		data = 0
	} else if p.v >= 0x3F00 {
		data = p.memory.Read(p.v)
		p.readBuffer = p.memory.Read(p.v & 0x2FFF)
	} else {
		data = p.readBuffer
		p.readBuffer = p.memory.Read(p.v)
	}
	p.advanceDataAddress()
	return data
}

// writePPUData handles writes to PPUDATA ($2007)
func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	p.advanceDataAddress()
}

func (p *PPU) advanceDataAddress() {
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v += 1
	}
	p.v &= 0x3FFF
}

// GetFrameBuffer returns the current frame buffer of NES palette indices.
func (p *PPU) GetFrameBuffer() [256 * 240]uint8 {
	return p.frameBuffer
}

// GetFrameCount returns the current frame count
func (p *PPU) GetFrameCount() uint64 {
	return p.frameCount
}

// SetFrameCount sets the frame count (for synchronization)
func (p *PPU) SetFrameCount(count uint64) {
	p.frameCount = count
}

// GetScanline returns the current scanline
func (p *PPU) GetScanline() int {
	return p.scanline
}

// GetCycle returns the current cycle
func (p *PPU) GetCycle() int {
	return p.cycle
}

// IsRenderingEnabled returns true if background or sprite rendering is on.
func (p *PPU) IsRenderingEnabled() bool {
	return p.renderingEnabled
}

// IsVBlank returns true if currently in vertical blank
func (p *PPU) IsVBlank() bool {
	return p.ppuStatus&0x80 != 0
}

// GetCycleCount returns the total PPU cycle count
func (p *PPU) GetCycleCount() uint64 {
	return p.cycleCount
}
