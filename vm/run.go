package vm

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// DebugDriver renders the current machine state and returns the next
// debugger command key (n/c/s/f/t/r/a/q, §4.5). The TUI implementation lives
// in debugger.go; a headless/scripted driver can satisfy the same interface
// for -t test-mode runs.
type DebugDriver interface {
	Next(m *Machine) (cmd rune, err error)
}

// Run drives m to completion, consulting driver whenever the debugger gate
// is open. It disables the garbage collector for the duration of the run,
// matching the reference interpreter's tight-loop instruction execution,
// and restores the prior GOGC setting on return. ctx is checked once per
// step so SIGINT/SIGTERM can interrupt an interactive run.
func Run(ctx context.Context, m *Machine, driver DebugDriver, log *zap.Logger) error {
	prevGC := restoreGC()
	defer debug.SetGCPercent(prevGC)
	debug.SetGCPercent(-1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if m.DebugMode && driver != nil && m.DebuggerGateOpen() {
			cmd, err := driver.Next(m)
			if err != nil {
				return err
			}
			switch cmd {
			case 'c':
				m.handleContinue()
				continue
			case 's':
				m.handleStepInto()
				continue
			case 'f':
				m.handleFinalize()
				continue
			case 't':
				if err := m.TriggerKeypress(); err != nil && log != nil {
					log.Warn("keypress trigger rejected", zap.Error(err))
				}
				continue
			case 'r':
				m.ResetRegisters()
				continue
			case 'q':
				return nil
			case 'n':
				// fall through to execute one instruction
			default:
				continue
			}
		}

		halted, err := m.Step()
		if err != nil {
			if log != nil {
				log.Error("interpreter halted on error", zap.Error(err))
			}
			return err
		}
		if halted {
			if log != nil {
				log.Info("program halted", zap.Uint32("pc", m.R(PC)))
			}
			return nil
		}
	}
}

// restoreGC reads the currently configured GOGC percentage without changing
// it, so Run can put it back once the interpreter loop exits.
func restoreGC() int {
	cur := debug.SetGCPercent(100)
	debug.SetGCPercent(cur)
	return cur
}

// headlessDriver answers debugger prompts from a fixed scripted command
// list, used by -t test-mode runs that carry -d but have no terminal.
type headlessDriver struct {
	commands []rune
	idx      int
}

// NewHeadlessDriver builds a DebugDriver that replays commands in order,
// then emits 'c' (continue) forever once exhausted.
func NewHeadlessDriver(commands []rune) DebugDriver {
	return &headlessDriver{commands: commands}
}

func (h *headlessDriver) Next(m *Machine) (rune, error) {
	if h.idx < len(h.commands) {
		c := h.commands[h.idx]
		h.idx++
		return c, nil
	}
	return 'c', nil
}
