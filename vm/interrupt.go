package vm

import "fmt"

// HeapCapacity bounds the pending-interrupt max-heap, per §3 invariant (c).
const HeapCapacity = 255

// MaxActiveDepth bounds the active (nested-ISR) stack depth.
const MaxActiveDepth = 255

// Device identifies one of the four hardware interrupt sources.
type Device uint8

const (
	DeviceTimer Device = iota
	DeviceUARTRecv
	DeviceUARTSend
	DeviceKeypress
	numDevices
)

// Controller owns the priority table, the active-nest stack, and the
// pending max-heap described in §3. Admission/return logic (the
// Transitions table in §4.3) lives in scheduler.go; Controller only implements
// the underlying data structure operations, grounded in the original
// binary-heap admission algorithm.
type Controller struct {
	deviceToISR [numDevices]int // -1 means unassigned
	isrToPrio   [256]int

	activeStack []int
	isHWStack   []bool

	pendingHeap []int

	latestISR int

	keypressActive bool
	timerActive    bool
	timerCnt       int
	timerInterval  int

	// timerDeactivatedAt records the active-stack depth at which the timer
	// gate was cleared because the timer ISR itself is running; it is -1
	// when the gate is not currently held deactivated. Restored exactly
	// when RTI unwinds the stack back to this depth (the depth-stamp
	// reading of SPEC_FULL.md's resolved open question).
	timerDeactivatedAt int
}

// NewController returns a Controller with no ISRs assigned and an empty
// stack/heap.
func NewController(timerInterval int) *Controller {
	c := &Controller{timerInterval: timerInterval, timerDeactivatedAt: -1}
	for i := range c.deviceToISR {
		c.deviceToISR[i] = -1
	}
	c.timerActive = true
	return c
}

// AssignISR maps device to isr with the given priority (higher = more
// urgent), per the IVTEDP assembler directive in §6.
func (c *Controller) AssignISR(device Device, isr int, prio int) {
	c.deviceToISR[device] = isr
	c.isrToPrio[isr] = prio
}

// ISRFor returns the IVT index assigned to device, or -1 if unassigned.
func (c *Controller) ISRFor(device Device) int { return c.deviceToISR[device] }

// PriorityOf returns the configured priority of isr.
func (c *Controller) PriorityOf(isr int) int { return c.isrToPrio[isr] }

// Depth returns the number of frames on the active stack (-1 means empty in
// the original's int8 cursor convention; this implementation exposes the
// count directly and callers compare against 0).
func (c *Controller) Depth() int { return len(c.activeStack) }

// Top returns the ISR index on top of the active stack.
func (c *Controller) Top() (isr int, ok bool) {
	if len(c.activeStack) == 0 {
		return 0, false
	}
	return c.activeStack[len(c.activeStack)-1], true
}

// CanPreempt reports whether isr's priority is strictly higher than the
// current top-of-stack frame (or the stack is empty), and there is still
// room on the active stack, per the §4.3 priority rule.
func (c *Controller) CanPreempt(isr int) bool {
	if len(c.activeStack) >= MaxActiveDepth {
		return false
	}
	top, ok := c.Top()
	if !ok {
		return true
	}
	return c.isrToPrio[isr] > c.isrToPrio[top]
}

// Admit pushes isr onto the active stack, tagging the frame as hardware- or
// software-sourced, and records it as the latest admitted ISR.
func (c *Controller) Admit(isr int, hw bool) {
	c.activeStack = append(c.activeStack, isr)
	c.isHWStack = append(c.isHWStack, hw)
	c.latestISR = isr
}

// Pop removes and returns the top active-stack frame.
func (c *Controller) Pop() (isr int, hw bool, ok bool) {
	n := len(c.activeStack)
	if n == 0 {
		return 0, false, false
	}
	isr = c.activeStack[n-1]
	hw = c.isHWStack[n-1]
	c.activeStack = c.activeStack[:n-1]
	c.isHWStack = c.isHWStack[:n-1]
	return isr, hw, true
}

// Enqueue inserts isr into the pending max-heap, keyed by priority. It
// returns ErrHeapOverflow once the heap is at HeapCapacity, per invariant
// (c) and the fatal "too many hardware interrupts" condition in §4.3.
func (c *Controller) Enqueue(isr int) error {
	if len(c.pendingHeap) >= HeapCapacity {
		return fmt.Errorf("%w: isr %d", ErrHeapOverflow, isr)
	}
	c.pendingHeap = append(c.pendingHeap, isr)
	i := len(c.pendingHeap) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if c.isrToPrio[c.pendingHeap[parent]] >= c.isrToPrio[c.pendingHeap[i]] {
			break
		}
		c.pendingHeap[parent], c.pendingHeap[i] = c.pendingHeap[i], c.pendingHeap[parent]
		i = parent
	}
	return nil
}

// HeapSize returns the number of pending interrupts.
func (c *Controller) HeapSize() int { return len(c.pendingHeap) }

// PeekHeapPriority returns the priority of the highest-priority pending
// interrupt, or -1 if the heap is empty.
func (c *Controller) PeekHeapPriority() int {
	if len(c.pendingHeap) == 0 {
		return -1
	}
	return c.isrToPrio[c.pendingHeap[0]]
}

// PromoteFromHeap pops the highest-priority pending ISR (does not admit it;
// callers call Admit separately so the scheduler can sequence setup_interrupt
// in between, per §4.3's promote_from_heap action).
func (c *Controller) PromoteFromHeap() (isr int, ok bool) {
	if len(c.pendingHeap) == 0 {
		return 0, false
	}
	top := c.pendingHeap[0]
	last := len(c.pendingHeap) - 1
	c.pendingHeap[0] = c.pendingHeap[last]
	c.pendingHeap = c.pendingHeap[:last]
	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		largest := i
		if left < len(c.pendingHeap) && c.isrToPrio[c.pendingHeap[left]] > c.isrToPrio[c.pendingHeap[largest]] {
			largest = left
		}
		if right < len(c.pendingHeap) && c.isrToPrio[c.pendingHeap[right]] > c.isrToPrio[c.pendingHeap[largest]] {
			largest = right
		}
		if largest == i {
			break
		}
		c.pendingHeap[i], c.pendingHeap[largest] = c.pendingHeap[largest], c.pendingHeap[i]
		i = largest
	}
	return top, true
}

// TickTimer advances the programmable timer counter. It returns true when
// the timer has reached its configured interval (a hardware interrupt is
// due) and resets the counter, but only while the timer gate is active.
func (c *Controller) TickTimer() bool {
	if !c.timerActive {
		return false
	}
	c.timerCnt++
	if c.timerCnt >= c.timerInterval {
		c.timerCnt = 0
		return true
	}
	return false
}

// DeactivateTimerGate clears the timer gate because the timer ISR (or an
// ancestor of it) is now active, stamping the depth it happened at.
func (c *Controller) DeactivateTimerGate(isr int) {
	if isr == c.deviceToISR[DeviceTimer] {
		c.timerActive = false
		c.timerDeactivatedAt = len(c.activeStack)
	}
}

// ReactivateTimerGateIfUnwound restores the timer gate once RTI has unwound
// the active stack back to the depth recorded by DeactivateTimerGate.
func (c *Controller) ReactivateTimerGateIfUnwound() {
	if c.timerDeactivatedAt >= 0 && len(c.activeStack) <= c.timerDeactivatedAt {
		c.timerActive = true
		c.timerDeactivatedAt = -1
	}
}
