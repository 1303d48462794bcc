package vm

// SchedState is the scheduler's abstract state, per §4.3.
type SchedState uint8

const (
	StateNormal SchedState = iota
	StateHWHandling
	StateSWHandling
)

func (s SchedState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateHWHandling:
		return "HW_HANDLING"
	case StateSWHandling:
		return "SW_HANDLING"
	default:
		return "UNKNOWN"
	}
}

// setupInterrupt decrements SP and stores the current PC at the new SP+1
// (the slot SP addressed before the push), then dispatches PC to the
// const-filled IVT entry for isr.
func (m *Machine) setupInterrupt(isr int) {
	sp := m.R(SP)
	m.Mem.Write(sp, m.R(PC))
	m.SetR(SP, sp-1)
	ivtAddr := constFill(m.IVTBase + uint32(isr))
	m.SetR(PC, m.Mem.Read(ivtAddr))
}

// returnFromInterrupt pops PC from SP+1 and increments SP.
func (m *Machine) returnFromInterrupt() {
	sp := m.R(SP)
	m.SetR(PC, m.Mem.Read(sp+1))
	m.SetR(SP, sp+1)
}

// handleSoftwareInterrupt implements the SOFTWARE_INTERRUPT event of §4.3.
// It is an error (non-fatal, ErrInvalidSoftwareInterrupt) only while a
// hardware frame is active; nested software interrupts are otherwise
// admitted directly, matching the source's lack of a forbidding guard
// outside the HW_HANDLING case.
func (m *Machine) handleSoftwareInterrupt(isr int) error {
	if m.State == StateHWHandling {
		return ErrInvalidSoftwareInterrupt
	}
	m.SiHappened = true
	// An admitted INT never gets the post-execution PC increment (familyInt
	// reports wrotePC=true once admitted), so the return address pushed here must be
	// PC+1, not PC, or RTI would resume on the INT instruction itself.
	m.SetR(PC, m.R(PC)+1)
	m.setupInterrupt(isr)
	m.Ctrl.Admit(isr, false)
	m.State = StateSWHandling
	return nil
}

// handleHardwareInterrupt implements the HARDWARE_INTERRUPT event of §4.3.
// The empty-stack and higher-priority admission guards collapse into one
// CanPreempt check regardless of the scheduler's current abstract state,
// since the active stack (not the 3-state enum) is what the original's
// priority rule actually inspects.
func (m *Machine) handleHardwareInterrupt(isr int) error {
	if m.Ctrl.CanPreempt(isr) {
		m.Ctrl.DeactivateTimerGate(isr)
		m.Ctrl.Admit(isr, true)
		m.setupInterrupt(isr)
		m.State = StateHWHandling
		return nil
	}
	return m.Ctrl.Enqueue(isr)
}

// handleReturnFromInterrupt implements the RETURN_FROM_INTERRUPT event,
// including heap promotion and the debugger flag depth-stamp restoration
// described in §4.3/§9.
func (m *Machine) handleReturnFromInterrupt() error {
	m.returnFromInterrupt()
	_, _, ok := m.Ctrl.Pop()
	if !ok {
		m.State = StateNormal
		m.IsrFinished = true
		return nil
	}
	m.Ctrl.ReactivateTimerGateIfUnwound()

	depth := m.Ctrl.Depth()
	if m.FinishedIsrHere >= 0 && depth < m.FinishedIsrHere {
		m.IsrFinished = true
		m.FinishedIsrHere = -1
	}
	if m.NotSteppedIntoIsrHere == depth {
		m.IsrNotStepInto = true
		m.NotSteppedIntoIsrHere = -1
	}

	switch m.State {
	case StateSWHandling:
		m.SiHappened = false
		m.State = StateNormal
		m.IsrFinished = true
	case StateHWHandling:
		if m.Ctrl.HeapSize() == 0 {
			if depth == 0 {
				if m.SiHappened {
					m.State = StateSWHandling
				} else {
					m.State = StateNormal
					m.IsrFinished = true
				}
			}
			// depth > 0: a frame is still on the active stack, stay HW_HANDLING.
		} else {
			topHeapPrio := m.Ctrl.PeekHeapPriority()
			curPrio := -1
			if top, ok2 := m.Ctrl.Top(); ok2 {
				curPrio = m.Ctrl.PriorityOf(top)
			}
			if depth == 0 || topHeapPrio > curPrio {
				nextISR, _ := m.Ctrl.PromoteFromHeap()
				m.Ctrl.DeactivateTimerGate(nextISR)
				m.Ctrl.Admit(nextISR, true)
				m.setupInterrupt(nextISR)
			}
			// else: leave it enqueued, remain HW_HANDLING under the current frame.
		}
	}
	return nil
}

// handleStepInto implements STEP_INTO_ACTION: the debugger arms
// step_into_activated so the very next admitted ISR is rendered instead of
// run to completion.
func (m *Machine) handleStepInto() {
	m.StepIntoActivated = true
}

// handleFinalize implements FINALIZE: the debugger stamps the current
// active-stack depth so the state machine runs the rest of that ISR without
// gating, then re-enables the gate once RTI unwinds past that depth.
func (m *Machine) handleFinalize() {
	m.FinishedIsrHere = m.Ctrl.Depth()
	m.IsrFinished = false
}

// handleBreakpoint implements BREAKPOINT_ENCOUNTERED (the INT 3 marker).
func (m *Machine) handleBreakpoint() {
	m.BreakpointEncountered = true
}

// handleContinue implements CONTINUE: clears the breakpoint flag so
// execution resumes without gating.
func (m *Machine) handleContinue() {
	m.BreakpointEncountered = false
}

// DebuggerGateOpen is the single boolean predicate of §4.5.
func (m *Machine) DebuggerGateOpen() bool {
	return m.DebugMode &&
		m.BreakpointEncountered &&
		m.IsrFinished &&
		(m.IsrNotStepInto || m.StepIntoActivated)
}
