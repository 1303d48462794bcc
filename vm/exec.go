package vm

import (
	"fmt"

	"go.uber.org/zap"
)

// arithKind identifies the operation within a parallel *I/*R/*M opcode block
// (ADDI..ANDI, ADDR..ANDR, ADDM..ANDM are each laid out ADD,SUB,MULT,DIV,
// MOD,OPLUS,OR,AND in that order, so op%8 recovers it uniformly).
func arithKind(op Opcode) uint8 { return uint8(op) % 8 }

func applyArith(kind uint8, a, b int32) (int32, error) {
	switch kind {
	case 0: // ADD
		return a + b, nil
	case 1: // SUB
		return a - b, nil
	case 2: // MULT
		return a * b, nil
	case 3: // DIV
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case 4: // MOD, Euclidean remainder: 0 <= r < |b|
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		r := a % b
		if r < 0 {
			if b < 0 {
				r -= b
			} else {
				r += b
			}
		}
		return r, nil
	case 5: // OPLUS (bitwise XOR)
		return a ^ b, nil
	case 6: // OR
		return a | b, nil
	case 7: // AND
		return a & b, nil
	}
	return 0, fmt.Errorf("%w: unknown arithmetic kind %d", ErrInvalidInstruction, kind)
}

// jumpTaken evaluates a JUMPxx condition against the signed ACC register.
func jumpTaken(op Opcode, acc int32) bool {
	switch op {
	case OpJUMPGT:
		return acc > 0
	case OpJUMPEQ:
		return acc == 0
	case OpJUMPGE:
		return acc >= 0
	case OpJUMPLT:
		return acc < 0
	case OpJUMPNE:
		return acc != 0
	case OpJUMPLE:
		return acc <= 0
	case OpJUMP:
		return true
	}
	return false
}

// execute runs one already-decoded, non-halt, non-breakpoint instruction. It
// returns wrotePC=true when the instruction itself set PC, which suppresses
// Step's post-execution increment.
func (m *Machine) execute(ins Instruction) (wrotePC bool, err error) {
	switch ins.Op.family() {
	case familyRegImm:
		kind := arithKind(ins.Op)
		res, aerr := applyArith(kind, int32(m.R(ins.R1)), ins.Imm)
		if aerr != nil {
			return false, fmt.Errorf("%w: %s immediate", aerr, ins.Op)
		}
		m.SetR(ins.R1, uint32(res))
		return ins.R1 == PC, nil

	case familyRegReg:
		kind := arithKind(ins.Op)
		res, aerr := applyArith(kind, int32(m.R(ins.R1)), int32(m.R(ins.R2)))
		if aerr != nil {
			return false, fmt.Errorf("%w: register %s", aerr, ins.R2)
		}
		m.SetR(ins.R1, uint32(res))
		return ins.R1 == PC, nil

	case familyRegMem:
		addr := dsFill(uint32(ins.Imm), m.R(DS))
		kind := arithKind(ins.Op)
		res, aerr := applyArith(kind, int32(m.R(ins.R1)), int32(m.Mem.Read(addr)))
		if aerr != nil {
			return false, fmt.Errorf("%w: address 0x%08X", aerr, addr)
		}
		m.SetR(ins.R1, uint32(res))
		return ins.R1 == PC, nil

	case familyLoadStore:
		addr := dsFill(uint32(ins.Imm), m.R(DS))
		switch ins.Op {
		case OpLOAD:
			m.SetR(ins.R1, m.Mem.Read(addr))
			return ins.R1 == PC, nil
		case OpSTORE:
			m.Mem.Write(addr, m.R(ins.R1))
			return false, nil
		}

	case familyLoadStoreIn:
		addr := uint32(int32(m.R(ins.R1)) + ins.Imm)
		switch ins.Op {
		case OpLOADIN:
			m.SetR(ins.R2, m.Mem.Read(addr))
			return ins.R2 == PC, nil
		case OpSTOREIN:
			m.Mem.Write(addr, m.R(ins.R2))
			return false, nil
		}

	case familyLoadI:
		m.SetR(ins.R1, uint32(ins.Imm))
		return ins.R1 == PC, nil

	case familyMove:
		m.SetR(ins.R2, m.R(ins.R1))
		return ins.R2 == PC, nil

	case familyJump:
		if jumpTaken(ins.Op, int32(m.R(ACC))) {
			m.SetR(PC, uint32(int32(m.R(PC))+ins.Imm))
			return true, nil
		}
		return false, nil

	case familyInt:
		if err := m.handleSoftwareInterrupt(int(ins.Imm)); err != nil {
			if m.log != nil {
				m.log.Warn("software interrupt rejected", zap.Int("isr", int(ins.Imm)), zap.Error(err))
			}
			return false, nil
		}
		return true, nil

	case familyNone:
		switch ins.Op {
		case OpRTI:
			if err := m.handleReturnFromInterrupt(); err != nil {
				return true, err
			}
			return true, nil
		case OpNOP:
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: opcode %s has no execution handler", ErrInvalidInstruction, ins.Op)
}

// Step runs exactly one interpreter iteration: fetch, decode, halt/breakpoint
// check, execute, PC advance, and the fixed timer/UART-receive/UART-send
// polling order. It does not render or block on the debugger gate; callers
// drive that around Step (see Run in run.go).
func (m *Machine) Step() (halted bool, err error) {
	word := m.Mem.Read(m.R(PC))
	ins, err := Decode(word)
	if err != nil {
		return false, err
	}

	if ins.IsHalt() {
		m.Halted = true
		return true, nil
	}

	if ins.IsBreakpoint() {
		m.handleBreakpoint()
		m.SetR(PC, m.R(PC)+1)
		return false, nil
	}

	wrotePC, err := m.execute(ins)
	if err != nil {
		return false, err
	}
	if !wrotePC {
		m.SetR(PC, m.R(PC)+1)
	}

	if m.Ctrl.TickTimer() {
		isr := m.Ctrl.ISRFor(DeviceTimer)
		if isr >= 0 {
			if err := m.handleHardwareInterrupt(isr); err != nil {
				return false, err
			}
		}
	}
	if err := m.Mem.UART.TickReceive(); err != nil {
		return false, err
	}
	if err := m.Mem.UART.TickSend(); err != nil {
		return false, err
	}
	return false, nil
}

// TriggerKeypress implements the debugger 't' command: admits or enqueues
// the keypress device's assigned ISR as a hardware interrupt.
func (m *Machine) TriggerKeypress() error {
	isr := m.Ctrl.ISRFor(DeviceKeypress)
	if isr < 0 {
		return fmt.Errorf("%w: no ISR assigned to keypress device", ErrInvalidUserInput)
	}
	return m.handleHardwareInterrupt(isr)
}
