package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// watch is one entry in the debugger's watch pane: a named register or a raw
// address, assigned via the 'a' command (§4.5).
type watch struct {
	label string
	reg   Register
	addr  uint32
	isReg bool
}

// TUI is the tview/tcell debugger described in §4.5/§2.2: a register pane, a
// disassembly/memory pane windowed around PC, a watch pane, and a one-line
// command prompt. It implements DebugDriver so Run can drive it generically.
type TUI struct {
	app        *tview.Application
	registers  *tview.TextView
	disasm     *tview.TextView
	watches    *tview.TextView
	prompt     *tview.InputField
	binary     bool
	unsigned   bool

	watchList []watch
	cmdCh     chan rune
}

// NewTUI builds the panes and wires the command prompt's SetDoneFunc so that
// each submitted line's first character (n/c/s/f/t/r/a/q) becomes a
// DebugDriver response; "a <register|address>" also adds a watch.
func NewTUI(binary, unsigned bool) *TUI {
	t := &TUI{binary: binary, unsigned: unsigned, cmdCh: make(chan rune, 1)}

	t.registers = tview.NewTextView().SetDynamicColors(true)
	t.registers.SetBorder(true).SetTitle("registers")

	t.disasm = tview.NewTextView().SetDynamicColors(true)
	t.disasm.SetBorder(true).SetTitle("disassembly")

	t.watches = tview.NewTextView().SetDynamicColors(true)
	t.watches.SetBorder(true).SetTitle("watches")

	t.prompt = tview.NewInputField().SetLabel("cmd (n/c/s/f/t/r/a/q)> ")
	t.prompt.SetDoneFunc(func(key tcell.Key) {
		text := strings.TrimSpace(t.prompt.GetText())
		t.prompt.SetText("")
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "a ") {
			t.addWatch(strings.TrimSpace(strings.TrimPrefix(text, "a ")))
			t.cmdCh <- 'a'
			return
		}
		t.cmdCh <- rune(text[0])
	})

	top := tview.NewFlex().
		AddItem(t.registers, 0, 1, false).
		AddItem(t.disasm, 0, 2, false).
		AddItem(t.watches, 0, 1, false)
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(t.prompt, 1, 0, true)

	t.app = tview.NewApplication().SetRoot(layout, true)
	return t
}

func (t *TUI) addWatch(spec string) {
	for i, name := range registerNames {
		if strings.EqualFold(name, spec) {
			t.watchList = append(t.watchList, watch{label: name, reg: Register(i), isReg: true})
			return
		}
	}
	if addr, err := strconv.ParseUint(spec, 0, 32); err == nil {
		t.watchList = append(t.watchList, watch{label: spec, addr: uint32(addr)})
	}
}

func (t *TUI) render(m *Machine) {
	var b strings.Builder
	for i, name := range registerNames[:len(registerNames)-1] {
		fmt.Fprintf(&b, "%-8s %s\n", name, t.formatWord(m.R(Register(i))))
	}
	t.registers.SetText(b.String())

	b.Reset()
	pc := m.R(PC)
	for i := uint32(0); i < 8; i++ {
		addr := pc + i
		word := m.Mem.Read(dsFill(addr, m.R(CS)))
		marker := "  "
		if i == 0 {
			marker = "->"
		}
		ins, err := Decode(word)
		if err != nil {
			fmt.Fprintf(&b, "%s 0x%08X  <invalid>\n", marker, addr)
			continue
		}
		fmt.Fprintf(&b, "%s 0x%08X  %s\n", marker, addr, formatInstruction(ins))
	}
	t.disasm.SetText(b.String())

	b.Reset()
	for _, w := range t.watchList {
		if w.isReg {
			fmt.Fprintf(&b, "%-8s %s\n", w.label, t.formatWord(m.R(w.reg)))
		} else {
			fmt.Fprintf(&b, "0x%08X %s\n", w.addr, t.formatWord(m.Mem.Read(w.addr)))
		}
	}
	t.watches.SetText(b.String())
}

func (t *TUI) formatWord(v uint32) string {
	switch {
	case t.binary:
		return fmt.Sprintf("%032b", v)
	case t.unsigned:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%d", int32(v))
	}
}

func formatInstruction(ins Instruction) string {
	switch ins.Op.family() {
	case familyRegImm, familyLoadStore, familyLoadI:
		return fmt.Sprintf("%s %s %d", ins.Op, ins.R1, ins.Imm)
	case familyRegReg, familyMove:
		return fmt.Sprintf("%s %s %s", ins.Op, ins.R1, ins.R2)
	case familyRegMem:
		return fmt.Sprintf("%s %s %d", ins.Op, ins.R1, ins.Imm)
	case familyLoadStoreIn:
		return fmt.Sprintf("%s %s %s %d", ins.Op, ins.R1, ins.R2, ins.Imm)
	case familyJump:
		return fmt.Sprintf("%s %d", ins.Op, ins.Imm)
	case familyInt:
		return fmt.Sprintf("%s %d", ins.Op, ins.Imm)
	default:
		return ins.Op.String()
	}
}

// Next implements DebugDriver: it renders the current state, then blocks
// until the user submits a command in the prompt.
func (t *TUI) Next(m *Machine) (rune, error) {
	t.app.QueueUpdateDraw(func() { t.render(m) })
	cmd, ok := <-t.cmdCh
	if !ok {
		return 'q', nil
	}
	return cmd, nil
}

// Start runs the tview event loop in the background; callers launch it
// before handing the TUI to Run as a DebugDriver, and call Stop to tear it
// down once the interpreter loop returns.
func (t *TUI) Start() error {
	go func() {
		_ = t.app.Run()
	}()
	return nil
}

// Stop tears down the tview application and unblocks any pending Next call.
func (t *TUI) Stop() {
	t.app.Stop()
	close(t.cmdCh)
}
