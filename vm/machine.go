package vm

import "go.uber.org/zap"

// Machine aggregates the registers, address space, and interrupt controller
// that THE CORE's subsystems act on. It is the single owning object the
// interpreter drives, per the "global mutable state" design note in §9 —
// every subsystem narrows its view of Machine instead of holding its own
// copy of shared state.
type Machine struct {
	Registers [8]uint32

	Mem  *AddressSpace
	Ctrl *Controller

	State SchedState

	BreakpointEncountered bool
	IsrFinished           bool
	StepIntoActivated     bool
	IsrNotStepInto        bool
	SiHappened            bool
	FinishedIsrHere       int // active-stack depth stamp, -1 if unset
	NotSteppedIntoIsrHere int // active-stack depth stamp, -1 if unset

	IVTBase uint32

	DebugMode bool
	Halted    bool

	log *zap.Logger
}

// NewMachine constructs a Machine in its initial scheduler state (NORMAL,
// isr_finished and isr_not_step_into both true per §3).
func NewMachine(mem *AddressSpace, ctrl *Controller, debugMode bool, log *zap.Logger) *Machine {
	return &Machine{
		Mem:                   mem,
		Ctrl:                  ctrl,
		State:                 StateNormal,
		IsrFinished:           true,
		IsrNotStepInto:        true,
		FinishedIsrHere:       -1,
		NotSteppedIntoIsrHere: -1,
		DebugMode:             debugMode,
		log:                   log,
	}
}

// R reads register r.
func (m *Machine) R(r Register) uint32 { return m.Registers[r] }

// SetR writes register r. Writing PC here does not by itself suppress the
// interpreter's post-execution increment; Step tracks that separately by
// comparing the destination register of the executed instruction against PC.
func (m *Machine) SetR(r Register, v uint32) { m.Registers[r] = v }

// ResetRegisters zeroes every architectural register, used by the debugger's
// 'r' command (§4.5).
func (m *Machine) ResetRegisters() {
	for i := range m.Registers {
		m.Registers[i] = 0
	}
}

// BuildBootEPROM synthesizes the boot prologue described in §3: it sets SP
// to the top of SRAM, CS to the start of the main program, DS to the base of
// the data segment (immediately past the program image, so stores through
// DS can never clobber the IVT, ISRs, or program code), then transfers
// control to CS. Building a 32-bit value from 22-bit immediate fields needs
// a shift by 2^22, which does not itself fit in one 22-bit operand; BAF is
// used as scratch to hold that shift constant (2048*2048) for all three
// register builds, which is why BAF's post-boot value is unspecified
// (nothing elsewhere depends on it).
func BuildBootEPROM(sramSize, ivtMaxIdx, numInstrsISRs, numInstrsPrgrm int) []uint32 {
	spVal := constFill(uint32(sramSize - 1))
	csVal := constFill(uint32(ivtMaxIdx + 1 + numInstrsISRs))
	dsVal := constFill(uint32(ivtMaxIdx + 1 + numInstrsISRs + numInstrsPrgrm))

	var words []uint32
	emit := func(ins Instruction) {
		w, _ := Encode(ins)
		words = append(words, w)
	}

	emit(Instruction{Op: OpLOADI, R1: BAF, Imm: 2048})
	emit(Instruction{Op: OpMULTI, R1: BAF, Imm: 2048}) // BAF = 2^22

	buildReg := func(r Register, val uint32) {
		high := int32(val >> 22)
		low := int32(val & 0x3FFFFF)
		emit(Instruction{Op: OpLOADI, R1: r, Imm: high})
		emit(Instruction{Op: OpMULTR, R1: r, R2: BAF})
		emit(Instruction{Op: OpORI, R1: r, Imm: low})
	}
	buildReg(SP, spVal)
	buildReg(CS, csVal)
	buildReg(DS, dsVal)

	emit(Instruction{Op: OpNOP})

	// MOVE CS,PC writes PC absolutely; a PC-relative JUMP's 22-bit
	// immediate can't reach CS (~2^31) from EPROM's low addresses.
	emit(Instruction{Op: OpMOVE, R1: CS, R2: PC})

	return words
}
