// Command voz-ser is the serial control-plane bridge (spec §6): it owns the
// UART framing, drives the {Idle, WakeWord, Preprocessor} state machine, and
// supervises the voz-oww/voz-pre child process each mode requires.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hammamikhairi/voz/internal/bridge"
	"github.com/hammamikhairi/voz/internal/catalog"
	"github.com/hammamikhairi/voz/internal/gpio"
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

const version = "voz-ser 0.1.0"

// gpioSpec is a parsed "gpiochipN:line" flag value.
type gpioSpec struct {
	Chip string
	Line int
}

func parseGpioSpec(s string) (gpioSpec, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return gpioSpec{}, fmt.Errorf("expected gpiochipN:line, got %q", s)
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil {
		return gpioSpec{}, fmt.Errorf("bad line offset in %q: %w", s, err)
	}
	return gpioSpec{Chip: parts[0], Line: line}, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	device := pflag.String("device", "/dev/ttyS1", "UART device to open")
	intSpec := pflag.String("int", "gpiochip0:17", "interrupt line, gpiochipN:line")
	ledSpec := pflag.String("led", "gpiochip0:27", "status LED line, gpiochipN:line")
	wwModelDir := pflag.String("wwmodeldir", ".", "directory voz-ser's catalog scans for per-wakeword *.onnx models")
	baseModelDir := pflag.String("basemodeldir", ".", "directory holding melspectrogram.onnx/embedding_model.onnx, forwarded to voz-oww")
	owwBin := pflag.String("owwbin", "voz-oww", "path to the voz-oww binary")
	preBin := pflag.String("prebin", "voz-pre", "path to the voz-pre binary")
	help := pflag.BoolP("help", "h", false, "show usage and exit")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voz-ser [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return bridge.ExitNormal
	}
	if *showVersion {
		fmt.Println(version)
		return bridge.ExitNormal
	}

	log := logger.New(logger.LevelNormal, os.Stderr)

	led, err := parseGpioSpec(*ledSpec)
	if err != nil {
		log.Error("voz-ser: --led: %v", err)
		return bridge.ExitFatal
	}
	intr, err := parseGpioSpec(*intSpec)
	if err != nil {
		log.Error("voz-ser: --int: %v", err)
		return bridge.ExitFatal
	}
	if led.Chip != intr.Chip {
		log.Error("voz-ser: --led and --int must name the same gpiochip (got %s and %s)", led.Chip, intr.Chip)
		return bridge.ExitFatal
	}

	cat, err := catalog.Load(*wwModelDir)
	if err != nil {
		log.Error("voz-ser: loading catalog from %s: %v", *wwModelDir, err)
		return bridge.ExitFatal
	}

	gpioQueue := rollbuffer.NewSync[gpio.Op](16, false)
	gpioCtl, err := gpio.Open(led.Chip, led.Line, intr.Line, gpioQueue, log)
	if err != nil {
		log.Error("voz-ser: opening gpio: %v", err)
		return bridge.ExitFatal
	}
	defer gpioCtl.Close()
	go gpioCtl.Run()

	port, err := bridge.OpenUART(*device)
	if err != nil {
		log.Error("voz-ser: opening %s: %v", *device, err)
		return bridge.ExitFatal
	}
	defer port.Close()

	b := bridge.New(bridge.Config{
		OwwBinPath: *owwBin,
		PreBinPath: *preBin,
		ModelsDir:  *baseModelDir,
	}, log, port, cat, gpioQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	// SIGCHLD arrives whenever a supervised child reaps; the controller
	// already learns about child exit via internal/child's OnExit callback,
	// so this handler exists purely to keep the default SIGCHLD disposition
	// (ignore) from interacting badly with os/exec's own Wait.
	chldCh := make(chan os.Signal, 4)
	signal.Notify(chldCh, syscall.SIGCHLD)

	go func() {
		for {
			select {
			case <-sigCh:
				log.Info("voz-ser: signal received, shutting down")
				cancel()
				return
			case <-chldCh:
				log.Debug("voz-ser: SIGCHLD")
			}
		}
	}()

	gpioQueue.AppendOne(gpio.Op{Line: gpio.StatusLine, Command: gpio.Off})
	code := b.Run(ctx)

	gpioQueue.AppendOne(gpio.Op{Line: gpio.StatusLine, Command: gpio.Quit})
	log.Info("voz-ser: exiting with code %d", code)
	return code
}
