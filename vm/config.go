package vm

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every value the reti binary needs to build a Machine, bound
// through viper so CLI flags, RETI_* environment variables, and an optional
// reti.toml all resolve through one precedence chain (flag > env > file >
// default), per §6.
type Config struct {
	SRAMSize        int
	PageSize        int
	PeripheralsDir  string
	EPROMPath       string
	ISRsPath        string
	MaxWaitingInstrs int
	TimerInterval   int

	Debug    bool
	Test     bool
	Metadata bool
	Verbose  bool
	Binary   bool
	Extended bool
	All      bool

	// Unsigned enables unsigned data-segment display in the debugger; set
	// when -u is given with no value or with true/1.
	Unsigned bool
	// UARTSerial names a host serial device to bind the UART to (§4.4). Empty
	// disables passthrough. Set when -u is given a non-boolean value, which
	// must be attached with '=' (-u=/dev/ttyS0) since a bare -u takes none.
	UARTSerial string

	ProgramPath string
}

// BindFlags registers the CLI surface of §6 onto fs and binds every flag to
// v, so the same keys are reachable from flags, RETI_* env vars, and a
// config file.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.IntP("sram-size", "s", 1<<16, "SRAM size in 32-bit words")
	fs.IntP("page-size", "p", 4096, "page size used when laying out SRAM")
	fs.StringP("peripherals-dir", "f", "", "directory containing peripheral metadata")
	fs.StringP("eprom-path", "e", "", "path to an EPROM image (empty synthesizes the boot prologue)")
	fs.StringP("isrs-path", "i", "", "path to assembled ISR source")
	fs.IntP("max-waiting-instrs", "w", 8, "upper bound on UART service latency, in instructions")
	fs.IntP("timer-interval", "I", 1000, "instructions between timer interrupts")
	fs.BoolP("debug", "d", false, "run under the terminal debugger")
	fs.BoolP("test", "t", false, "force legacy stdout mode and write out.txt/err.txt")
	fs.BoolP("metadata", "m", false, "read scripted UART input from program comments")
	fs.BoolP("verbose", "v", false, "verbose logging")
	fs.BoolP("binary", "b", false, "binary register/memory display in the debugger")
	fs.BoolP("extended", "E", false, "enable extended TUI features")
	fs.StringP("uart", "u", "", "unsigned data-segment display, or a serial device path to bind the UART to")
	fs.Lookup("uart").NoOptDefVal = "true"
	fs.BoolP("all", "a", false, "enable-all convenience flag")

	v.BindPFlags(fs)
	v.SetEnvPrefix("REti")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetConfigName("reti")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
}

// LoadConfig reads v's bound values (and, when programPath is non-empty, the
// trailing positional program argument) into a Config, validating the
// numeric ranges the interpreter and memory layout depend on.
func LoadConfig(v *viper.Viper, programPath string) (Config, error) {
	cfg := Config{
		SRAMSize:         v.GetInt("sram-size"),
		PageSize:         v.GetInt("page-size"),
		PeripheralsDir:   v.GetString("peripherals-dir"),
		EPROMPath:        v.GetString("eprom-path"),
		ISRsPath:         v.GetString("isrs-path"),
		MaxWaitingInstrs: v.GetInt("max-waiting-instrs"),
		TimerInterval:    v.GetInt("timer-interval"),
		Debug:            v.GetBool("debug"),
		Test:             v.GetBool("test"),
		Metadata:         v.GetBool("metadata"),
		Verbose:          v.GetBool("verbose"),
		Binary:           v.GetBool("binary"),
		Extended:         v.GetBool("extended"),
		All:              v.GetBool("all"),
		ProgramPath:      programPath,
	}
	// uart is overloaded: a bare -u (or true/1) means unsigned display,
	// empty/false/0 leaves it off, anything else names a serial device
	// (§4.4/§6).
	uartVal := v.GetString("uart")
	switch strings.ToLower(uartVal) {
	case "", "false", "0":
		cfg.Unsigned = false
	case "true", "1":
		cfg.Unsigned = true
	default:
		cfg.UARTSerial = uartVal
	}

	if cfg.SRAMSize <= 0 {
		return cfg, fmt.Errorf("%w: sram-size must be positive, got %d", ErrInvalidConfig, cfg.SRAMSize)
	}
	if cfg.MaxWaitingInstrs < 0 {
		return cfg, fmt.Errorf("%w: max-waiting-instrs must be >= 0, got %d", ErrInvalidConfig, cfg.MaxWaitingInstrs)
	}
	if cfg.TimerInterval <= 0 {
		return cfg, fmt.Errorf("%w: timer-interval must be positive, got %d", ErrInvalidConfig, cfg.TimerInterval)
	}
	return cfg, nil
}
