package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Instruction{
		{Op: OpADDI, R1: ACC, Imm: -1},
		{Op: OpLOADI, R1: BAF, Imm: 0x3FFFFF},
		{Op: OpANDI, R1: ACC, Imm: 0x3FFFFF},
		{Op: OpADDR, R1: ACC, R2: IN1},
		{Op: OpLOAD, R1: ACC, Imm: 100},
		{Op: OpLOADIN, R1: SP, R2: ACC, Imm: -5},
		{Op: OpMOVE, R1: IN1, R2: IN2},
		{Op: OpJUMP, Imm: -12},
		{Op: OpINT, Imm: 3},
		{Op: OpRTI},
		{Op: OpNOP},
	}
	for _, want := range cases {
		word, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(word)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLoadIHasNoSignExtension(t *testing.T) {
	ins := Instruction{Op: OpLOADI, R1: ACC, Imm: 0x3FFFFF}
	word, err := Encode(ins)
	require.NoError(t, err)
	decoded, err := Decode(word)
	require.NoError(t, err)
	require.Equal(t, int32(0x3FFFFF), decoded.Imm)
}

func TestAddiSignExtends(t *testing.T) {
	ins := Instruction{Op: OpADDI, R1: ACC, Imm: -1}
	word, err := Encode(ins)
	require.NoError(t, err)
	decoded, err := Decode(word)
	require.NoError(t, err)
	require.Equal(t, int32(-1), decoded.Imm)
}

func TestIsHaltOnlyMatchesJumpZero(t *testing.T) {
	require.True(t, Instruction{Op: OpJUMP, Imm: 0}.IsHalt())
	require.False(t, Instruction{Op: OpJUMP, Imm: 1}.IsHalt())
	require.False(t, Instruction{Op: OpNOP}.IsHalt())
}

func TestIsBreakpointIsIntThree(t *testing.T) {
	require.True(t, Instruction{Op: OpINT, Imm: 3}.IsBreakpoint())
	require.False(t, Instruction{Op: OpINT, Imm: 1}.IsBreakpoint())
}

func TestDSFill(t *testing.T) {
	ds := uint32(0xABC00000)
	require.Equal(t, uint32(0xABC00123), dsFill(0x123, ds))
}

func TestConstFillForcesTopBit(t *testing.T) {
	require.Equal(t, uint32(0x80000001), constFill(1))
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	word := uint32(0x7F) << opcodeShift
	_, err := Decode(word)
	require.Error(t, err)
}
