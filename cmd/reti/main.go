// Command reti runs the register-machine emulator described by THE CORE: an
// instruction interpreter, a file-backed SRAM/EPROM address space, a
// programmable interrupt controller, and a two-phase UART device.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"reti/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "reti [program]",
		Short: "Run a register-machine program under the reti emulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, args[0])
		},
	}
	vm.BindFlags(cmd.Flags(), v)
	return cmd
}

func run(v *viper.Viper, programPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("reading reti.toml: %w", err)
		}
	}

	cfg, err := vm.LoadConfig(v, programPath)
	if err != nil {
		return err
	}

	log, err := vm.NewLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()
	log.Info("starting reti", zap.String("program", cfg.ProgramPath), zap.Int("sram_size", cfg.SRAMSize))

	programText, err := readProgram(cfg.ProgramPath)
	if err != nil {
		return err
	}

	var isrLines []string
	if cfg.ISRsPath != "" {
		data, err := os.ReadFile(cfg.ISRsPath)
		if err != nil {
			return fmt.Errorf("reading isrs file: %w", err)
		}
		isrLines = strings.Split(string(data), "\n")
	}

	isrAsm, err := vm.Assemble(isrLines)
	if err != nil {
		return fmt.Errorf("assembling ISRs: %w", err)
	}
	progAsm, err := vm.Assemble(strings.Split(programText, "\n"))
	if err != nil {
		return fmt.Errorf("assembling program: %w", err)
	}

	ivtMaxIdx := 0
	for _, e := range isrAsm.IVT {
		if e.Index > ivtMaxIdx {
			ivtMaxIdx = e.Index
		}
	}
	isrsOffset := ivtMaxIdx + 1
	programOffset := isrsOffset + len(isrAsm.Words)

	sramPath := filepath.Join(os.TempDir(), "reti-sram.bin")
	sram, err := vm.NewSRAM(sramPath, cfg.SRAMSize)
	if err != nil {
		return err
	}
	defer sram.Close()

	for _, e := range isrAsm.IVT {
		addr := uint32(0)
		if idx, ok := isrAsm.Labels[e.Label]; ok {
			addr = uint32(isrsOffset + idx)
		}
		sram.Write(uint32(e.Index), addr|0x80000000)
	}
	for i, w := range isrAsm.Words {
		sram.Write(uint32(isrsOffset+i), w)
	}
	for i, w := range progAsm.Words {
		sram.Write(uint32(programOffset+i), w)
	}

	var eprom *vm.EPROM
	if cfg.EPROMPath != "" {
		data, err := os.ReadFile(cfg.EPROMPath)
		if err != nil {
			return fmt.Errorf("reading eprom file: %w", err)
		}
		words, err := vm.Assemble(strings.Split(string(data), "\n"))
		if err != nil {
			return fmt.Errorf("assembling eprom: %w", err)
		}
		eprom = vm.NewEPROM(len(words.Words), log)
		for i, w := range words.Words {
			eprom.Write(uint32(i), w)
		}
	} else {
		boot := vm.BuildBootEPROM(cfg.SRAMSize, ivtMaxIdx, len(isrAsm.Words), len(progAsm.Words))
		eprom = vm.NewEPROM(len(boot), log)
		for i, w := range boot {
			eprom.Write(uint32(i), w)
		}
	}
	eprom.MarkBooted()

	rng := rand.New(rand.NewSource(1))
	var in vm.InputSource = vm.NewStdinInput(bufio.NewReader(os.Stdin))
	out := io.Writer(os.Stdout)
	if cfg.Test {
		f, err := os.Create("out.txt")
		if err != nil {
			return fmt.Errorf("creating out.txt: %w", err)
		}
		defer f.Close()
		out = f
	}
	uart := vm.NewUART(cfg.MaxWaitingInstrs, rng, out, in, log)
	if cfg.Metadata {
		uart.SetScriptedInput(scriptedInputFromComments(programText))
	}
	if cfg.UARTSerial != "" {
		port, err := openSerial(cfg.UARTSerial)
		if err != nil {
			log.Warn("failed to open serial passthrough, falling back to stdio", zap.Error(err))
		} else {
			uart.SetSerial(port)
		}
	}

	addrSpace := vm.NewAddressSpace(eprom, uart, sram, log)

	ctrl := vm.NewController(cfg.TimerInterval)
	for _, e := range append(append([]vm.IVTEntry{}, isrAsm.IVT...), progAsm.IVT...) {
		if e.HasDev {
			ctrl.AssignISR(e.Device, e.Index, e.Priority)
		}
	}

	machine := vm.NewMachine(addrSpace, ctrl, cfg.Debug, log)
	machine.IVTBase = 0

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var driver vm.DebugDriver
	if cfg.Debug {
		if cfg.Test {
			driver = vm.NewHeadlessDriver([]rune{})
		} else {
			tui := vm.NewTUI(cfg.Binary, cfg.Unsigned)
			if err := tui.Start(); err != nil {
				return err
			}
			defer tui.Stop()
			driver = tui
		}
	}

	runErr := vm.Run(ctx, machine, driver, log)
	if cfg.Test {
		errPath := "err.txt"
		if runErr != nil {
			os.WriteFile(errPath, []byte(runErr.Error()+"\n"), 0o644)
		}
		return nil
	}
	return runErr
}

func readProgram(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading program %q: %w", path, err)
	}
	return string(data), nil
}

// scriptedInputFromComments extracts UART input words from "// uart: v1 v2"
// style comment lines in the program source, per the -m flag (§6).
func scriptedInputFromComments(source string) []uint32 {
	var words []uint32
	for _, line := range strings.Split(source, "\n") {
		idx := strings.Index(strings.ToLower(line), "// uart:")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("// uart:"):]
		for _, tok := range strings.Fields(rest) {
			n, err := strconv.ParseInt(tok, 0, 64)
			if err == nil {
				words = append(words, uint32(n))
			}
		}
	}
	return words
}
