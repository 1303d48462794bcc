package vm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DataType tags the first byte of a UART send frame.
type DataType uint8

const (
	DataSTRING  DataType = 0
	DataINTEGER DataType = 4
)

// InputSource supplies the next 32-bit word for UART receive when no
// scripted input remains, per §4.4.
type InputSource interface {
	NextWord() (uint32, error)
}

// StdinInput reads one line at a time from r and interprets it as a signed
// decimal integer, or, failing that, as a single character whose code point
// becomes the word.
type StdinInput struct {
	scanner *bufio.Scanner
}

func NewStdinInput(r io.Reader) *StdinInput {
	return &StdinInput{scanner: bufio.NewScanner(r)}
}

func (s *StdinInput) NextWord() (uint32, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return 0, fmt.Errorf("%w: reading UART input: %v", ErrInvalidUserInput, err)
		}
		return 0, fmt.Errorf("%w: no more UART input available", ErrInvalidUserInput)
	}
	line := strings.TrimSpace(s.scanner.Text())
	if n, err := strconv.ParseInt(line, 10, 64); err == nil {
		return uint32(int32(n)), nil
	}
	if len(line) >= 1 {
		return uint32(line[0]), nil
	}
	return 0, fmt.Errorf("%w: empty UART input line", ErrInvalidUserInput)
}

// UART models the emulator's three-byte-register serial device: two
// independent half-duplex arm/complete state machines sharing one status
// byte, per §4.4.
type UART struct {
	sendReg byte
	recvReg byte
	status  byte // bit0 send-ready, bit1 recv-fresh

	datatype       DataType
	initFinished   bool
	sendBuf        []byte
	numBytes       int
	remainingBytes int

	sendingFinished   bool
	sendingWaitingTime int

	recvWord        uint32
	recvByteIdx     int // 3..0, -1 when idle
	pendingRecvByte byte
	receivingFinished   bool
	receivingWaitingTime int

	maxWaitingInstrs int
	rng              *rand.Rand

	scriptedInput []uint32
	inputIdx      int

	out    io.Writer
	in     InputSource
	serial io.ReadWriter // optional passthrough backend, nil when disabled

	log *zap.Logger
}

// NewUART constructs a UART with initial status 0b11 (both halves ready),
// per §3.
func NewUART(maxWaitingInstrs int, rng *rand.Rand, out io.Writer, in InputSource, log *zap.Logger) *UART {
	return &UART{
		status:           0b11,
		maxWaitingInstrs: maxWaitingInstrs,
		rng:              rng,
		recvByteIdx:      -1,
		out:              out,
		in:               in,
		log:              log,
	}
}

// SetScriptedInput supplies an ordered list of words to serve before falling
// back to the interactive InputSource, used by -m metadata-driven runs.
func (u *UART) SetScriptedInput(words []uint32) {
	u.scriptedInput = words
	u.inputIdx = 0
}

// SetSerial binds a real serial port as the transport for both receive input
// and send output, per the §4.4 serial passthrough expansion.
func (u *UART) SetSerial(port io.ReadWriter) { u.serial = port }

func (u *UART) warn(msg string) {
	if u.log != nil {
		u.log.Warn(msg, zap.NamedError("kind", ErrInvalidUARTUse))
	}
}

// ReadByte implements the read side-effects of §4.2.
func (u *UART) ReadByte(addr uint32) byte {
	switch addr {
	case 0:
		u.warn("reading send register is meaningless")
		return u.sendReg
	case 1:
		if u.status&0b10 == 0 {
			u.warn("no new data")
		}
		return u.recvReg
	case 2:
		return u.status
	default:
		return 0
	}
}

// WriteByte implements the write side-effects of §4.2.
func (u *UART) WriteByte(addr uint32, b byte) {
	switch addr {
	case 0:
		if u.status&0b01 == 0 {
			u.warn("UART busy, does not accept data")
		}
		u.sendReg = b
	case 1:
		u.warn("writing recv register is meaningless")
		u.recvReg = b
	case 2:
		if b&0b01 != 0 && u.status&0b01 == 0 {
			u.warn("only UART may re-enable send")
		}
		if b&0b10 != 0 && u.status&0b10 == 0 {
			u.warn("only UART may signal recv")
		}
		u.status = b & 0b11
	}
}

// TickSend advances the send state machine by one interpreter step.
func (u *UART) TickSend() error {
	if u.status&0b01 == 0 && !u.sendingFinished {
		if !u.initFinished {
			u.datatype = DataType(u.sendReg)
			switch u.datatype {
			case DataSTRING:
				u.sendBuf = u.sendBuf[:0]
			case DataINTEGER:
				u.numBytes, u.remainingBytes = 4, 4
				u.sendBuf = make([]byte, 0, 4)
			default:
				return fmt.Errorf("%w: invalid UART send datatype tag %d", ErrInvalidInstruction, u.sendReg)
			}
		} else {
			u.sendBuf = append(u.sendBuf, u.sendReg)
		}
		if u.maxWaitingInstrs == 0 {
			return u.completeSend()
		}
		u.sendingWaitingTime = u.rng.Intn(u.maxWaitingInstrs) + 1
		u.sendingFinished = true
		return nil
	}
	if u.sendingFinished {
		u.sendingWaitingTime--
		if u.sendingWaitingTime == 0 {
			return u.completeSend()
		}
	}
	return nil
}

func (u *UART) completeSend() error {
	switch u.datatype {
	case DataSTRING:
		if !u.initFinished {
			u.initFinished = true
		} else if u.sendReg == 0 {
			text := strings.TrimSuffix(string(u.sendBuf), "\x00")
			fmt.Fprintf(u.sink(), "%s\n", text)
			u.initFinished = false
		}
	case DataINTEGER:
		if !u.initFinished {
			u.initFinished = true
		} else {
			u.remainingBytes--
			if u.remainingBytes == 0 {
				word := binary.BigEndian.Uint32(u.sendBuf)
				fmt.Fprintf(u.sink(), "%d\n", int32(word))
				u.initFinished = false
			}
		}
	}
	u.status |= 0b01
	u.sendingFinished = false
	return nil
}

func (u *UART) sink() io.Writer {
	if u.serial != nil {
		return u.serial
	}
	return u.out
}

// TickReceive advances the receive state machine by one interpreter step.
func (u *UART) TickReceive() error {
	if u.status&0b10 == 0 && !u.receivingFinished {
		if u.recvByteIdx == -1 {
			word, err := u.nextInputWord()
			if err != nil {
				return err
			}
			u.recvWord = word
			u.recvByteIdx = 3
		}
		shift := uint(u.recvByteIdx) * 8
		u.pendingRecvByte = byte(u.recvWord >> shift)
		u.recvByteIdx--
		if u.maxWaitingInstrs == 0 {
			return u.completeReceive()
		}
		u.receivingWaitingTime = u.rng.Intn(u.maxWaitingInstrs) + 1
		u.receivingFinished = true
		return nil
	}
	if u.receivingFinished {
		u.receivingWaitingTime--
		if u.receivingWaitingTime == 0 {
			return u.completeReceive()
		}
	}
	return nil
}

func (u *UART) completeReceive() error {
	u.recvReg = u.pendingRecvByte
	u.status |= 0b10
	u.receivingFinished = false
	return nil
}

func (u *UART) nextInputWord() (uint32, error) {
	if u.inputIdx < len(u.scriptedInput) {
		w := u.scriptedInput[u.inputIdx]
		u.inputIdx++
		return w, nil
	}
	if u.serial != nil {
		var buf [4]byte
		if _, err := io.ReadFull(u.serial, buf[:]); err != nil {
			return 0, fmt.Errorf("%w: reading UART serial passthrough: %v", ErrInvalidUserInput, err)
		}
		return binary.BigEndian.Uint32(buf[:]), nil
	}
	return u.in.NextWord()
}
