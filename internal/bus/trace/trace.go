// Package trace records CPU instruction traces to an io.Writer the host
// supplies. Kept as an opt-in, build-tag-free hook rather than always-on
// Printf calls inside the CPU core.
package trace

import (
	"fmt"
	"io"
)

// Logger writes per-instruction traces and flags a CPU that appears stuck
// at the same program counter for an unusually long run of instructions.
type Logger struct {
	w io.Writer

	logInstructions bool
	detectLoops     bool

	lastPC      uint16
	pcStayCount int
}

// NewLogger creates a Logger writing to w. Both instruction logging and
// loop detection start disabled; enable them individually.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w}
}

// SetInstructionLogging toggles per-instruction trace lines.
func (l *Logger) SetInstructionLogging(enable bool) {
	l.logInstructions = enable
}

// SetLoopDetection toggles same-PC stall warnings.
func (l *Logger) SetLoopDetection(enable bool) {
	l.detectLoops = enable
	l.lastPC = 0
	l.pcStayCount = 0
}

// loopStallThreshold is how many consecutive instruction fetches at the
// same PC are tolerated before a stall warning is emitted.
const loopStallThreshold = 100

// Trace is installed via cpu.CPU.SetTraceHook and called once per
// instruction fetch.
func (l *Logger) Trace(pc uint16, opcode uint8, a, x, y, sp uint8, cycles uint64) {
	if l.logInstructions {
		fmt.Fprintf(l.w, "[CPU_DEBUG] PC=$%04X opcode=0x%02X | A=$%02X X=$%02X Y=$%02X SP=$%02X | cycles=%d\n",
			pc, opcode, a, x, y, sp, cycles)
	}

	if !l.detectLoops {
		return
	}
	if pc == l.lastPC {
		l.pcStayCount++
		if l.pcStayCount > loopStallThreshold && l.pcStayCount%1000 == 0 {
			fmt.Fprintf(l.w, "[CPU_LOOP] stuck at PC=$%04X executing opcode=0x%02X for %d instructions\n",
				pc, opcode, l.pcStayCount)
		}
	} else {
		l.pcStayCount = 0
	}
	l.lastPC = pc
}
