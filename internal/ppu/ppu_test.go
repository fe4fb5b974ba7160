package ppu

import (
	"testing"

	"gones/internal/memory"
)

// mockCartridge is a minimal CHR-RAM cartridge for PPU register/timing tests.
type mockCartridge struct {
	chr [0x2000]uint8
}

func (m *mockCartridge) ReadPRG(address uint16) uint8         { return 0 }
func (m *mockCartridge) WritePRG(address uint16, value uint8) {}
func (m *mockCartridge) ReadCHR(address uint16) uint8          { return m.chr[address&0x1FFF] }
func (m *mockCartridge) WriteCHR(address uint16, value uint8)  { m.chr[address&0x1FFF] = value }

func newTestPPU() *PPU {
	p := New()
	p.Reset()
	mem := memory.NewPPUMemory(&mockCartridge{}, memory.MirrorVertical)
	p.SetMemory(mem)
	return p
}

func TestPPUPowerOnStatus(t *testing.T) {
	p := newTestPPU()
	// Reset loads the power-up PPUSTATUS value $A0, which has VBlank set
	if !p.IsVBlank() {
		t.Fatal("expected VBlank flag set after reset")
	}
}

func TestPPUStatusReadClearsVBlankAndLatch(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus |= 0x80
	p.w = true

	status := p.ReadRegister(0x2002)
	if status&0x80 == 0 {
		t.Fatal("expected VBlank bit set in returned status")
	}
	if p.IsVBlank() {
		t.Fatal("expected VBlank flag cleared after $2002 read")
	}
	if p.w {
		t.Fatal("expected write latch cleared after $2002 read")
	}
}

func TestPPUStatusReadDoesNotClearSprite0OrOverflow(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus = 0x80 | 0x40 | 0x20
	p.sprite0Hit = true
	p.spriteOverflow = true

	p.ReadRegister(0x2002)

	if p.ppuStatus&0x40 == 0 || !p.sprite0Hit {
		t.Fatal("sprite-0 hit must not clear on $2002 read")
	}
	if p.ppuStatus&0x20 == 0 || !p.spriteOverflow {
		t.Fatal("sprite overflow must not clear on $2002 read")
	}
}

func TestPPUVBlankSetsAtScanline241Cycle1(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus = 0 // Reset leaves VBlank set; clear it so the step must set it
	p.scanline = 241
	p.cycle = 1 // Step processes the dot held in p.cycle, then advances
	p.Step()

	if !p.IsVBlank() {
		t.Fatal("expected VBlank flag set at scanline 241, cycle 1")
	}
}

func TestPPUPreRenderClearsStatusFlags(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus = 0xE0
	p.sprite0Hit = true
	p.spriteOverflow = true
	p.scanline = -1
	p.cycle = 1 // Step processes the dot held in p.cycle, then advances

	p.Step()

	if p.ppuStatus&0xE0 != 0 {
		t.Fatal("expected VBlank/sprite0/overflow bits cleared at pre-render dot 1")
	}
	if p.sprite0Hit || p.spriteOverflow {
		t.Fatal("expected internal sprite0Hit/spriteOverflow cleared at pre-render dot 1")
	}
}

func TestPPUWriteOnlyRegistersReadAsZero(t *testing.T) {
	p := newTestPPU()
	for _, addr := range []uint16{0x2000, 0x2001, 0x2003, 0x2005, 0x2006} {
		if got := p.ReadRegister(addr); got != 0 {
			t.Fatalf("expected open-bus read of $%04X to be 0, got %#02x", addr, got)
		}
	}
}

func TestPPUCtrlNMIOutputLine(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus |= 0x80 // VBlank active

	p.WriteRegister(0x2000, 0x00)
	if p.NMILine() {
		t.Fatal("NMI line should be low when nmi_output is disabled")
	}

	p.WriteRegister(0x2000, 0x80)
	if !p.NMILine() {
		t.Fatal("NMI line should be high when VBlank active and nmi_output enabled")
	}
}

func TestPPUScrollAndAddrTwoWriteToggle(t *testing.T) {
	p := newTestPPU()

	p.WriteRegister(0x2006, 0x21)
	p.WriteRegister(0x2006, 0x08)
	if p.v != 0x2108 {
		t.Fatalf("expected v=0x2108 after two PPUADDR writes, got %#04x", p.v)
	}
	if p.w {
		t.Fatal("expected write latch cleared after second PPUADDR write")
	}
}

func TestPPUDataReadIsBufferedExceptPalette(t *testing.T) {
	p := newTestPPU()
	mem := p.memory
	mem.Write(0x2000, 0xAB)

	p.v = 0x2000
	first := p.ReadRegister(0x2007)
	if first != 0 {
		t.Fatalf("expected first post-seek read to return stale buffer 0, got %#02x", first)
	}
	second := p.ReadRegister(0x2007)
	if second != 0xAB {
		t.Fatalf("expected second read to return the buffered value, got %#02x", second)
	}

	p.v = 0x3F00
	mem.Write(0x3F00, 0x20)
	direct := p.ReadRegister(0x2007)
	if direct != 0x20 {
		t.Fatalf("expected palette read to be unbuffered, got %#02x", direct)
	}
}

func TestPPUDataAddressIncrement(t *testing.T) {
	p := newTestPPU()
	p.WriteRegister(0x2000, 0x00) // +1 increment
	p.v = 0x2000
	p.WriteRegister(0x2007, 0x11)
	if p.v != 0x2001 {
		t.Fatalf("expected +1 increment, got v=%#04x", p.v)
	}

	p.WriteRegister(0x2000, 0x04) // +32 increment
	p.v = 0x2000
	p.WriteRegister(0x2007, 0x22)
	if p.v != 0x2020 {
		t.Fatalf("expected +32 increment, got v=%#04x", p.v)
	}
}

func TestPPUOAMAddrIncrementsOnWrite(t *testing.T) {
	p := newTestPPU()
	p.WriteRegister(0x2003, 0x10)
	p.WriteRegister(0x2004, 0x55)
	if p.oamAddr != 0x11 {
		t.Fatalf("expected OAMADDR to increment to 0x11, got %#02x", p.oamAddr)
	}
	if p.oam[0x10] != 0x55 {
		t.Fatal("expected OAMDATA write to land at the pre-increment OAMADDR")
	}
}

func TestIncrementXWrapsNametable(t *testing.T) {
	p := newTestPPU()
	p.v = 0x001F // coarse X = 31
	p.incrementX()
	if p.v&0x001F != 0 {
		t.Fatal("expected coarse X to wrap to 0")
	}
	if p.v&0x0400 == 0 {
		t.Fatal("expected horizontal nametable bit to flip on coarse X wrap")
	}
}

func TestIncrementYWrapsAtRow29(t *testing.T) {
	p := newTestPPU()
	p.v = 29 << 5 // coarse Y = 29, fine Y = 7 -> carries
	p.v |= 0x7000
	p.incrementY()
	if (p.v&0x03E0)>>5 != 0 {
		t.Fatal("expected coarse Y to wrap to 0 at row 29")
	}
	if p.v&0x0800 == 0 {
		t.Fatal("expected vertical nametable bit to flip at row 29 wraparound")
	}
}

func TestEvaluateSpritesFindsUpToEightAndSetsOverflow(t *testing.T) {
	p := newTestPPU()
	for i := 0; i < 12; i++ {
		p.oam[i*4] = 10 // all visible on scanline 10
		p.oam[i*4+1] = uint8(i)
	}
	p.evaluateSprites(10)

	if p.spriteCount != 8 {
		t.Fatalf("expected 8 sprites found, got %d", p.spriteCount)
	}
	if !p.spriteOverflow {
		t.Fatal("expected sprite overflow flag set with 12 sprites on one scanline")
	}
}

func TestSprite0HitRequiresBothLayersAndNotAtX255(t *testing.T) {
	p := newTestPPU()
	p.backgroundEnabled = true
	p.spritesEnabled = true

	p.maybeSignalSprite0Hit(255, true)
	if p.sprite0Hit {
		t.Fatal("sprite-0 hit must not fire at x=255")
	}

	p.maybeSignalSprite0Hit(100, true)
	if !p.sprite0Hit {
		t.Fatal("expected sprite-0 hit to fire at a valid x with both layers enabled")
	}
}

func TestSprite0HitSkippedWhenLayerDisabled(t *testing.T) {
	p := newTestPPU()
	p.backgroundEnabled = true
	p.spritesEnabled = false

	p.maybeSignalSprite0Hit(100, true)
	if p.sprite0Hit {
		t.Fatal("sprite-0 hit must not fire when sprites are disabled")
	}
}

func TestOddFrameDotSkip(t *testing.T) {
	p := newTestPPU()
	p.backgroundEnabled = true
	p.renderingEnabled = true
	p.scanline = -1
	p.cycle = 339
	p.oddFrame = true

	p.Step()

	if p.scanline != 0 || p.cycle != 0 {
		t.Fatalf("expected odd-frame dot skip to land exactly on scanline 0 cycle 0, got scanline=%d cycle=%d", p.scanline, p.cycle)
	}
}
