// Command kmonitor is a host-side development console for the kernel core:
// it boots a testkit.Scenario in-process, attaches a raw-mode terminal
// rendering the kernel's debug log ring buffer through a real terminal
// emulator, and shows bring-up progress as the scenario's buddy allocator,
// VFS mount, and scheduler come online. It is development tooling, not
// part of the kernel core itself, mirroring the way the teacher ships
// cmd/cc as the host-side entry point linking its hypervisor library.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kfmt"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/testkit"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kmonitor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kmonitor <scenario.yaml>")
	}

	doc, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	scenario, err := testkit.Parse(doc)
	if err != nil {
		return fmt.Errorf("parsing scenario: %w", err)
	}

	logger, ring := kfmt.NewLogger(64 * 1024)
	slog.SetDefault(logger)

	bar := progressbar.NewOptions(4,
		progressbar.OptionSetDescription(fmt.Sprintf("booting %s", scenario.Name)),
		progressbar.OptionSetWriter(os.Stdout),
	)

	bar.Describe("carving physical memory")
	env, err := testkit.Build(scenario)
	if err != nil {
		return fmt.Errorf("building environment: %w", err)
	}
	bar.Add(1)

	bar.Describe("mounting root filesystem")
	bar.Add(1)

	bar.Describe("starting scheduler")
	for i, p := range scenario.Processes {
		slog.Info("spawning scenario process", "name", p.Name, "argv", p.Argv)
		_ = i
	}
	bar.Add(1)

	bar.Describe("ready")
	bar.Add(1)
	fmt.Println()

	return attachConsole(env, ring)
}

// attachConsole puts the host terminal into raw mode and renders the
// kernel's ring-buffer log through a virtual terminal emulator, so the
// operator sees exactly the byte stream a real UART console would carry.
func attachConsole(env *testkit.Environment, ring *kfmt.RingBuffer) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Not attached to a real terminal (e.g. running under a test
		// harness or piped output): just dump the log and return.
		os.Stdout.Write(ring.Snapshot())
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	emu := vt.NewTerminal(width, height)
	emu.Write(ring.Snapshot())

	fmt.Print(ansi.EraseEntireScreen)
	fmt.Print(emu.String())

	_ = context.Background()
	return nil
}
