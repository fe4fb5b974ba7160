// Package bus implements the system bus for communication between NES components.
package bus

import (
	"fmt"
	"os"

	"gones/internal/apu"
	"gones/internal/bus/trace"
	"gones/internal/cartridge"
	"gones/internal/cpu"
	"gones/internal/input"
	"gones/internal/memory"
	"gones/internal/ppu"
)

// Bus connects all NES components together
type Bus struct {
	// Core components
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	cart memory.CartridgeInterface

	// System state
	totalCycles uint64
	cpuCycles   uint64
	ppuCycles   uint64
	frameCount  uint64

	// Edge-detected NMI line: the bus samples PPU.NMILine() once per CPU
	// cycle and triggers the CPU's NMI entry only on a 0->1 transition.
	lastNMILine bool

	// Timing coordination
	dmaSuspendCycles uint64
	dmaInProgress    bool

	// Frame timing (NTSC: 262 scanlines, 341 PPU cycles/scanline)
	cyclesPerFrame uint64 // 89342 PPU cycles = 29780.67 CPU cycles

	// Execution logging for testing
	executionLog   []BusExecutionEvent
	loggingEnabled bool

	// Memory monitoring for debugging
	memoryWatchpoints map[uint16]uint8 // Address -> previous value
	watchpointLogging bool

	// CPU instruction tracer, wired through cpu.CPU.SetTraceHook.
	tracer *trace.Logger
}

// New creates a new system bus with all components
func New() *Bus {
	bus := &Bus{
		PPU:   ppu.New(),
		APU:   apu.New(),
		Input: input.NewInputState(),

		cyclesPerFrame: 89342,

		memoryWatchpoints: make(map[uint16]uint8),
		watchpointLogging: false,
	}

	bus.Memory = memory.New(bus.PPU, bus.APU, nil) // Cartridge will be set later
	bus.Memory.SetInputSystem(bus.Input)
	bus.CPU = cpu.New(bus.Memory)

	bus.tracer = trace.NewLogger(os.Stdout)
	bus.CPU.SetTraceHook(bus.tracer.Trace)

	bus.PPU.SetFrameCompleteCallback(bus.handleFrameComplete)
	bus.Memory.SetDMACallback(bus.TriggerOAMDMA)
	bus.APU.SetCPUReadCallback(bus.readCPUBus)

	bus.powerOn()

	return bus
}

// powerOn performs a full power-up: CPU register/flag power-up state plus
// the reset sequence, and clears all timing/logging state.
func (b *Bus) powerOn() {
	b.CPU.PowerOn()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()
	b.resetTimingState()
}

// Reset performs a soft reset: preserves CPU registers/RAM and re-runs the
// RESET sequence, rather than reinitializing register state the way a
// power cycle does.
func (b *Bus) Reset() {
	b.CPU.Reset()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()
	b.resetTimingState()
}

func (b *Bus) resetTimingState() {
	b.totalCycles = 0
	b.cpuCycles = 0
	b.ppuCycles = 0
	b.frameCount = 0
	b.dmaSuspendCycles = 0
	b.dmaInProgress = false
	b.lastNMILine = false
	b.CPU.EndDMA()

	b.PPU.SetFrameCount(0)

	b.executionLog = make([]BusExecutionEvent, 0)
	b.loggingEnabled = false

	b.memoryWatchpoints = make(map[uint16]uint8)
	b.watchpointLogging = false
}

// PowerCycle reloads the currently inserted cartridge from scratch,
// equivalent to pulling power rather than pressing the reset button.
func (b *Bus) PowerCycle() {
	if b.cart == nil {
		b.powerOn()
		return
	}
	b.LoadCartridge(b.cart)
}

// handleFrameComplete is called by the PPU when a frame is naturally completed
func (b *Bus) handleFrameComplete() {
	b.frameCount = b.PPU.GetFrameCount()
}

// sampleInterruptLines edge-detects the PPU's NMI line and level-detects
// the APU frame/DMC IRQ flags ORed with any cartridge mapper IRQ (MMC3
// scanline counter and similar).
func (b *Bus) sampleInterruptLines() {
	nmiLine := b.PPU.NMILine()
	if nmiLine && !b.lastNMILine {
		b.CPU.TriggerNMI()
	}
	b.lastNMILine = nmiLine

	irqLine := b.APU.GetFrameIRQ() || b.APU.GetDMCIRQ()
	if cart, ok := b.cart.(interface{ IRQPending() bool }); ok {
		irqLine = irqLine || cart.IRQPending()
	}
	// IRQ is level-sensitive: SetIRQ mirrors the line directly so it
	// deasserts the moment every source clears its flag, unlike the
	// edge-style TriggerIRQ used by the legacy one-shot callers.
	b.CPU.SetIRQ(irqLine)
}

// Step executes one CPU instruction and advances other components accordingly
func (b *Bus) Step() {
	var cpuCycles uint64

	preFrameCount := b.frameCount
	prePC := b.CPU.PC
	var preOpcode uint8
	if b.Memory != nil {
		preOpcode = b.Memory.Read(prePC)
	}

	if b.dmaSuspendCycles > 0 {
		cpuCycles = 1
		b.dmaSuspendCycles--
		if b.dmaSuspendCycles == 0 {
			b.dmaInProgress = false
			b.CPU.EndDMA()
		}
	} else {
		b.sampleInterruptLines()
		cpuCycles = b.CPU.Step()
	}

	ppuCyclesToRun := cpuCycles * 3
	for i := uint64(0); i < ppuCyclesToRun; i++ {
		b.PPU.Step()
		b.ppuCycles++
	}

	for i := uint64(0); i < cpuCycles; i++ {
		b.APU.Step()
	}

	b.cpuCycles += cpuCycles
	b.totalCycles += cpuCycles

	if b.watchpointLogging && b.frameCount%300 == 0 {
		b.CheckMemoryWatchpoints()
	}

	if b.loggingEnabled {
		event := BusExecutionEvent{
			StepNumber:    len(b.executionLog) + 1,
			CPUCycles:     b.cpuCycles,
			PPUCycles:     b.cpuCycles * 3,
			FrameCount:    b.frameCount,
			DMAActive:     b.dmaInProgress,
			NMIProcessed:  b.frameCount > preFrameCount,
			PCValue:       prePC,
			InstructionOp: preOpcode,
		}
		b.executionLog = append(b.executionLog, event)
	}
}

// TriggerOAMDMA initiates an OAM DMA transfer
func (b *Bus) TriggerOAMDMA(sourcePage uint8) {
	if b.dmaInProgress {
		return
	}

	dmaCycles := uint64(513)
	if b.cpuCycles%2 == 1 {
		dmaCycles = 514
	}

	b.dmaInProgress = true
	b.dmaSuspendCycles = dmaCycles

	sourceAddress := uint16(sourcePage) << 8
	b.CPU.BeginOAMDMA(sourceAddress)

	for i := 0; i < 256; i++ {
		data := b.Memory.Read(sourceAddress + uint16(i))
		b.PPU.WriteOAM(uint8(i), data)
	}
}

// LoadCartridge loads a cartridge into the system
func (b *Bus) LoadCartridge(cart memory.CartridgeInterface) {
	b.cart = cart

	b.Memory = memory.New(b.PPU, b.APU, cart)
	b.Memory.SetInputSystem(b.Input)
	b.CPU = cpu.New(b.Memory)
	b.CPU.SetTraceHook(b.tracer.Trace)

	mirrorMode := memory.MirrorHorizontal
	if mp, ok := cart.(interface{ CurrentMirroring() uint8 }); ok {
		mirrorMode = memory.MirrorMode(mp.CurrentMirroring())
	} else if c, ok := cart.(*cartridge.Cartridge); ok {
		mirrorMode = memory.MirrorMode(c.GetMirrorMode())
	}

	ppuMemory := memory.NewPPUMemory(cart, mirrorMode)
	b.PPU.SetMemory(ppuMemory)

	b.Memory.SetDMACallback(b.TriggerOAMDMA)
	b.APU.SetCPUReadCallback(b.readCPUBus)

	b.CPU.PowerOn()
}

// readCPUBus lets the APU's DMC channel fetch sample bytes over the CPU
// bus, the same memory map the 6502 itself sees.
func (b *Bus) readCPUBus(address uint16) uint8 {
	if b.Memory == nil {
		return 0
	}
	return b.Memory.Read(address)
}

// Run runs the emulator for a specified number of frames
func (b *Bus) Run(frames int) {
	targetFrames := b.frameCount + uint64(frames)
	for b.frameCount < targetFrames {
		b.Step()
	}
}

// RunCycles runs the emulator for a specified number of CPU cycles
func (b *Bus) RunCycles(cycles uint64) {
	targetCycles := b.cpuCycles + cycles
	for b.cpuCycles < targetCycles {
		b.Step()
	}
}

// GetFrameRate returns the current frame rate based on NTSC timing
func (b *Bus) GetFrameRate() float64 {
	cpuFrequency := 1789773.0
	cpuCyclesPerFrame := cpuFrequency / 60.098803
	return cpuFrequency / cpuCyclesPerFrame
}

// GetFrameBuffer returns the current frame as RGB888 pixels, converting the
// PPU's raw NES palette indices for host consumption.
func (b *Bus) GetFrameBuffer() []uint32 {
	indices := b.PPU.GetFrameBuffer()
	rgb := make([]uint32, len(indices))
	for i, idx := range indices {
		rgb[i] = ppu.NESColorToRGB(idx)
	}
	return rgb
}

// GetFrameBufferIndices returns the current frame as raw NES palette
// indices (0-63), the PPU's native output format.
func (b *Bus) GetFrameBufferIndices() []uint8 {
	indices := b.PPU.GetFrameBuffer()
	return indices[:]
}

// GetAudioSamples returns the current audio samples from the APU
func (b *Bus) GetAudioSamples() []float32 {
	return b.APU.GetSamples()
}

// SetAudioSampleRate sets the target audio sample rate for the APU
func (b *Bus) SetAudioSampleRate(rate int) {
	b.APU.SetSampleRate(rate)
}

// GetCycleCount returns the current CPU cycle count
func (b *Bus) GetCycleCount() uint64 {
	return b.cpuCycles
}

// GetFrameCount returns the current frame count
func (b *Bus) GetFrameCount() uint64 {
	return b.frameCount
}

// IsDMAInProgress returns whether DMA is currently in progress
func (b *Bus) IsDMAInProgress() bool {
	return b.dmaInProgress
}

// isRenderingEnabled checks if PPU rendering is enabled
func (b *Bus) isRenderingEnabled() bool {
	mask := b.PPU.ReadRegister(0x2001)
	return (mask & 0x18) != 0
}

// SetControllerButton sets the state of a controller button
func (b *Bus) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1:
		b.Input.Controller1.SetButton(button, pressed)
	case 2:
		b.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons sets all button states for a controller
func (b *Bus) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		b.Input.SetButtons1(buttons)
	case 2:
		b.Input.SetButtons2(buttons)
	}
}

// EnableInputDebug enables debug logging for input system
func (b *Bus) EnableInputDebug(enable bool) {
	if enable {
		b.Input.SetTraceHook(func(event string) {
			fmt.Fprintf(os.Stdout, "[INPUT_TRACE] %s\n", event)
		})
	} else {
		b.Input.SetTraceHook(nil)
	}
}

// GetInputState returns the input state for direct access
func (b *Bus) GetInputState() *input.InputState {
	return b.Input
}

// Frame executes one complete frame worth of cycles
func (b *Bus) Frame() {
	targetCycles := b.cpuCycles + 29781
	for b.cpuCycles < targetCycles {
		b.Step()
	}
}

// RunFrame advances the core to the next VBlank start, where push_frame
// fires - the per-frame control surface entry point.
func (b *Bus) RunFrame() {
	startFrame := b.PPU.GetFrameCount()
	for b.PPU.GetFrameCount() == startFrame {
		b.Step()
	}
}

// GetExecutionLog returns execution log for integration testing
func (b *Bus) GetExecutionLog() []BusExecutionEvent {
	return b.executionLog
}

// EnableExecutionLogging enables execution logging for testing
func (b *Bus) EnableExecutionLogging() {
	b.loggingEnabled = true
}

// DisableExecutionLogging disables execution logging
func (b *Bus) DisableExecutionLogging() {
	b.loggingEnabled = false
}

// ClearExecutionLog clears the execution log
func (b *Bus) ClearExecutionLog() {
	b.executionLog = make([]BusExecutionEvent, 0)
}

// BusExecutionEvent represents a single execution step for testing
type BusExecutionEvent struct {
	StepNumber    int
	CPUCycles     uint64
	PPUCycles     uint64
	FrameCount    uint64
	DMAActive     bool
	NMIProcessed  bool
	PCValue       uint16
	InstructionOp uint8
}

// GetCPUState returns the current CPU state for testing
func (b *Bus) GetCPUState() CPUState {
	return CPUState{
		PC:     b.CPU.PC,
		A:      b.CPU.A,
		X:      b.CPU.X,
		Y:      b.CPU.Y,
		SP:     b.CPU.SP,
		Cycles: b.cpuCycles,
		Flags: CPUFlags{
			N: b.CPU.N,
			V: b.CPU.V,
			B: b.CPU.B,
			D: b.CPU.D,
			I: b.CPU.I,
			Z: b.CPU.Z,
			C: b.CPU.C,
		},
	}
}

// CPUState represents CPU state snapshot for testing
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags represents CPU status flags for testing
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetPPUState returns the current PPU state for testing
func (b *Bus) GetPPUState() PPUState {
	return PPUState{
		Scanline:    b.PPU.GetScanline(),
		Cycle:       b.PPU.GetCycle(),
		FrameCount:  b.frameCount,
		VBlankFlag:  b.PPU.IsVBlank(),
		RenderingOn: b.isRenderingEnabled(),
		NMIEnabled:  b.PPU.NMILine(),
	}
}

// PPUState represents PPU state snapshot for testing
type PPUState struct {
	Scanline    int
	Cycle       int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
	NMIEnabled  bool
}

// AddMemoryWatchpoint adds a memory address to monitor for changes
func (b *Bus) AddMemoryWatchpoint(address uint16) {
	if b.Memory != nil {
		b.memoryWatchpoints[address] = b.Memory.Read(address)
	}
}

// EnableWatchpointLogging enables/disables memory watchpoint logging
func (b *Bus) EnableWatchpointLogging(enabled bool) {
	b.watchpointLogging = enabled
}

// CheckMemoryWatchpoints checks all watchpoints for changes and logs them
func (b *Bus) CheckMemoryWatchpoints() {
	if !b.watchpointLogging || b.Memory == nil {
		return
	}

	for address, previousValue := range b.memoryWatchpoints {
		currentValue := b.Memory.Read(address)
		if currentValue != previousValue {
			fmt.Printf("[MEMORY_WATCH] Frame %d: $%04X changed from $%02X to $%02X\n",
				b.frameCount, address, previousValue, currentValue)
			b.memoryWatchpoints[address] = currentValue
		}
	}
}

// EnableCPUDebug enables/disables CPU instruction logging and loop-stall
// detection, both routed through internal/bus/trace rather than the CPU
// core itself.
func (b *Bus) EnableCPUDebug(enable bool) {
	if b.tracer == nil {
		return
	}
	b.tracer.SetInstructionLogging(enable)
	b.tracer.SetLoopDetection(enable)
}
