package vm

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sramBase = uint32(0x80000000)

func newTestMachine(t *testing.T) (*Machine, *SRAM) {
	t.Helper()
	sram, err := NewSRAM(filepath.Join(t.TempDir(), "sram.bin"), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { sram.Close() })

	eprom := NewEPROM(16, zap.NewNop())
	uart := NewUART(0, nil, io.Discard, nil, zap.NewNop())
	addr := NewAddressSpace(eprom, uart, sram, zap.NewNop())
	ctrl := NewController(1 << 30)
	m := NewMachine(addr, ctrl, false, zap.NewNop())
	m.SetR(DS, sramBase)
	m.SetR(SP, sramBase+200)
	m.SetR(PC, sramBase)
	return m, sram
}

func writeProgram(sram *SRAM, base uint32, instrs []Instruction) {
	for i, ins := range instrs {
		w, err := Encode(ins)
		if err != nil {
			panic(err)
		}
		sram.Write(base+uint32(i), w)
	}
}

func runToHalt(t *testing.T, m *Machine, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		halted, err := m.Step()
		require.NoError(t, err)
		if halted {
			return
		}
	}
	t.Fatalf("program did not halt within %d steps", maxSteps)
}

func TestArithmeticScenario(t *testing.T) {
	m, _ := newTestMachine(t)
	writeProgram(m.Mem.SRAM, sramBase, []Instruction{
		{Op: OpLOADI, R1: ACC, Imm: 10},
		{Op: OpADDI, R1: ACC, Imm: -3},
		{Op: OpJUMP, Imm: 0},
	})
	runToHalt(t, m, 10)
	require.Equal(t, int32(7), int32(m.R(ACC)))
}

func TestMemoryRoundTripScenario(t *testing.T) {
	m, sram := newTestMachine(t)
	writeProgram(sram, sramBase+10, []Instruction{
		{Op: OpLOADI, R1: IN1, Imm: 42},
		{Op: OpSTORE, R1: IN1, Imm: 100},
		{Op: OpLOAD, R1: ACC, Imm: 100},
		{Op: OpJUMP, Imm: 0},
	})
	m.SetR(PC, sramBase+10)
	runToHalt(t, m, 10)
	require.Equal(t, int32(42), int32(m.R(ACC)))
	require.Equal(t, uint32(42), sram.Read(sramBase+100))
}

func TestSoftwareInterruptScenario(t *testing.T) {
	m, sram := newTestMachine(t)
	m.IVTBase = 0

	// ISR at offset 10: LOADI ACC 99; RTI
	writeProgram(sram, sramBase+10, []Instruction{
		{Op: OpLOADI, R1: ACC, Imm: 99},
		{Op: OpRTI},
	})
	// IVT[1] -> ISR address
	sram.Write(sramBase+1, sramBase+10)

	// main at offset 20: INT 1; JUMP 0
	writeProgram(sram, sramBase+20, []Instruction{
		{Op: OpINT, Imm: 1},
		{Op: OpJUMP, Imm: 0},
	})
	m.SetR(PC, sramBase+20)

	runToHalt(t, m, 20)
	require.Equal(t, int32(99), int32(m.R(ACC)))
	require.Equal(t, 0, m.Ctrl.Depth())
	require.False(t, m.SiHappened)
}

func TestHardwarePreemptionScenario(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Ctrl.AssignISR(DeviceTimer, 5, 5)
	m.Ctrl.AssignISR(DeviceKeypress, 7, 7)

	require.NoError(t, m.handleHardwareInterrupt(5))
	require.Equal(t, StateHWHandling, m.State)
	require.NoError(t, m.handleHardwareInterrupt(7))
	require.Equal(t, 2, m.Ctrl.Depth())

	top, ok := m.Ctrl.Top()
	require.True(t, ok)
	require.Equal(t, 7, top)
	require.Equal(t, 0, m.Ctrl.HeapSize())
}

func TestHeapOrderingScenario(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Ctrl.AssignISR(DeviceTimer, 9, 9)
	m.Ctrl.isrToPrio[3], m.Ctrl.isrToPrio[7], m.Ctrl.isrToPrio[5] = 3, 7, 5
	require.NoError(t, m.handleHardwareInterrupt(9))

	require.NoError(t, m.handleHardwareInterrupt(3))
	require.NoError(t, m.handleHardwareInterrupt(7))
	require.NoError(t, m.handleHardwareInterrupt(5))

	require.Equal(t, 7, m.Ctrl.PeekHeapPriority())
}

func TestDivisionByZeroDoesNotMutateRegisters(t *testing.T) {
	m, sram := newTestMachine(t)
	m.SetR(ACC, 123)
	writeProgram(sram, sramBase, []Instruction{
		{Op: OpDIVR, R1: ACC, R2: IN1},
	})
	m.SetR(PC, sramBase)
	_, err := m.Step()
	require.ErrorIs(t, err, ErrDivisionByZero)
	require.Equal(t, uint32(123), m.R(ACC))
}

func TestEuclideanModi(t *testing.T) {
	cases := []struct{ a, b, want int32 }{
		{-7, 3, 2},
		{-7, -3, 2},
		{7, -3, 1},
		{7, 3, 1},
	}
	for _, c := range cases {
		got, err := applyArith(4, c.a, c.b)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
		require.True(t, got >= 0 && got < abs32(c.b))
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
