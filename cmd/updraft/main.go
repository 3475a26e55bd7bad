package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"updraft/internal/config"
	"updraft/internal/debug"
	"updraft/internal/update"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Exit codes.
const (
	exitOK = 0
	// exitFailure reports a failed check or operation.
	exitFailure = 1
	// exitIndeterminate reports an undetermined status or a usage error.
	exitIndeterminate = 2
)

const usageText = `Usage: updraft [--debug] [--no-color] <command> [flags]

Commands:
  check      Report whether the installed version is current
  update     Check and, when a newer release exists, install it
  unpack     Extract an archive into a directory
  promote    Replace an application file with a downloaded update
  rollback   Restore an application file from its backup
  history    List recorded installs
  config     Read or persist a configuration key (get KEY | set KEY VALUE)
  version    Print version information

Run 'updraft <command> --help' for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries the output streams and global settings shared by commands.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	noColor bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := config.Initialize(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error initializing config: %v\n", err)
		return exitFailure
	}

	global := flag.NewFlagSet("updraft", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { _, _ = fmt.Fprint(stderr, usageText) }
	debugFlag := global.Bool("debug", config.GetBool(config.KeyDebug), "Write a debug log to ~/.updraft/debug.log")
	noColorFlag := global.Bool("no-color", false, "Disable colored output")
	versionFlag := global.Bool("version", false, "Print version information and exit")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitIndeterminate
	}

	if *versionFlag {
		printVersion(stdout)
		return exitOK
	}

	if err := debug.Init(*debugFlag); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: debug log unavailable: %v\n", err)
	}
	defer debug.Close()

	noColor := *noColorFlag || termenv.EnvNoColor()
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	rest := global.Args()
	if len(rest) == 0 {
		_, _ = fmt.Fprint(stderr, usageText)
		return exitIndeterminate
	}

	c := &cli{stdout: stdout, stderr: stderr, noColor: noColor}
	cmd, cmdArgs := rest[0], rest[1:]
	debug.Debugf("command %s %v", cmd, cmdArgs)
	switch cmd {
	case "check":
		return c.runCheck(ctx, cmdArgs)
	case "update":
		return c.runUpdate(ctx, cmdArgs)
	case "unpack":
		return c.runUnpack(cmdArgs)
	case "promote":
		return c.runPromote(cmdArgs)
	case "rollback":
		return c.runRollback(cmdArgs)
	case "history":
		return c.runHistory(ctx, cmdArgs)
	case "config":
		return c.runConfig(cmdArgs)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help":
		_, _ = fmt.Fprint(stdout, usageText)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", cmd, usageText)
		return exitIndeterminate
	}
}

// exitCodeFor maps a status to the process exit code of check and update.
func exitCodeFor(state update.State) int {
	switch state {
	case update.StateOK, update.StateUpdateAvailable:
		return exitOK
	case update.StateFailure:
		return exitFailure
	default:
		return exitIndeterminate
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args into fs. When it reports false the command should
// return the given exit code.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitIndeterminate, false
	}
	return exitOK, true
}

func visitedFlags(fs *flag.FlagSet) map[string]struct{} {
	visited := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) {
		visited[f.Name] = struct{}{}
	})
	return visited
}

func flagWasExplicitlySet(fs *flag.FlagSet, name string, visited map[string]struct{}) bool {
	if _, ok := visited[name]; ok {
		return true
	}
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	return f.Value.String() != f.DefValue
}
