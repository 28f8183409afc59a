// LS9 CLI - the main entry point for running LS9 programs
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chazu/ls9/boot"
	"github.com/chazu/ls9/compiler"
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/manifest"
	"github.com/chazu/ls9/printer"
	"github.com/chazu/ls9/reader"
	"github.com/chazu/ls9/vm"
	"github.com/docopt/docopt-go"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

const version = "ls9 0.9"

const usage = `ls9 - a small Lisp system

Usage:
  ls9 [options] [FILE [ARGUMENTS...]]
  ls9 -h | --help
  ls9 --version

Arguments:
  FILE       Source file to load after booting.
  ARGUMENTS  Returned by (command-line) after FILE.

Options:
  -e, --eval=EXPR     Evaluate EXPR after loading FILE, print the result and exit.
  -b, --build         Boot from source and write the heap image.
  -i, --image=PATH    Heap image to boot from and to write.
  -n, --no-image      Boot from source even if an image exists.
  -z, --compress      Compress written images.
  -c, --config=DIR    Search for ls9.toml from DIR upwards [default: .].
  -q, --quiet         Do not print the REPL banner.
  -v, --verbose       Log at info level.
  -d, --debug         Log at debug level.
  -h, --help          Show this help.
  --version           Print the version.

Without FILE or --eval, ls9 reads expressions from stdin: interactively
with line editing when stdin is a terminal, as a script otherwise.
`

// Exit codes.
const (
	exitOK    = 0
	exitError = 1  // unhandled runtime condition
	exitFatal = 2  // heap exhausted, bad image, bad bytecode
	exitUsage = 64 // usage or configuration error
)

var log = commonlog.GetLogger("ls9.main")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options is the parsed command line.
type options struct {
	file      string
	args      []string
	eval      string
	build     bool
	image     string
	noImage   bool
	compress  bool
	configDir string
	quiet     bool
	verbosity int
}

// parseArgs parses argv. A non-negative code means the program should
// exit with it.
func parseArgs(argv []string, stdout, stderr io.Writer) (*options, int) {
	var shown string
	p := &docopt.Parser{
		HelpHandler:  func(err error, usage string) { shown = usage },
		OptionsFirst: true,
	}
	opts, err := p.ParseArgs(usage, argv, version)
	if err != nil {
		fmt.Fprintln(stderr, shown)
		return nil, exitUsage
	}
	if shown != "" {
		fmt.Fprintln(stdout, shown)
		return nil, exitOK
	}

	o := &options{}
	o.file, _ = opts.String("FILE")
	o.args, _ = opts["ARGUMENTS"].([]string)
	o.eval, _ = opts.String("--eval")
	o.build, _ = opts.Bool("--build")
	o.image, _ = opts.String("--image")
	o.noImage, _ = opts.Bool("--no-image")
	o.compress, _ = opts.Bool("--compress")
	o.configDir, _ = opts.String("--config")
	o.quiet, _ = opts.Bool("--quiet")
	if v, _ := opts.Bool("--verbose"); v {
		o.verbosity = 1
	}
	if d, _ := opts.Bool("--debug"); d {
		o.verbosity = 2
	}
	return o, -1
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, code := parseArgs(argv, stdout, stderr)
	if code >= 0 {
		return code
	}

	man, err := loadManifest(o.configDir)
	if err != nil {
		fmt.Fprintf(stderr, "ls9: %v\n", err)
		return exitUsage
	}
	configureLogging(man, o.verbosity)

	cfg := man.VMConfig()
	cfg.Stdin = stdin
	cfg.Stdout = stdout
	cfg.Stderr = stderr
	if o.image != "" {
		cfg.ImagePath = o.image
	}
	cfg.CompressImage = cfg.CompressImage || o.compress
	if o.file != "" {
		cfg.Args = append([]string{o.file}, o.args...)
	}

	m := vm.New(cfg)
	defer m.Close()
	m.Reader = reader.New(m)
	pr := printer.New(m)
	pr.MaxDepth = man.Machine.PrintDepth
	m.Printer = pr
	m.Compiler = compiler.New(m)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			m.Interrupt()
		}
	}()

	origin, err := boot.Boot(m, boot.Options{
		ImagePath:   cfg.ImagePath,
		PreludePath: man.PreludePath(),
		IgnoreImage: o.noImage || o.build,
	})
	if err != nil {
		return report(m, stderr, err)
	}
	log.Debugf("environment from %s", origin)

	for _, path := range man.LoadPaths() {
		if _, err := m.Load(path); err != nil {
			return report(m, stderr, err)
		}
	}

	if o.build {
		if err := m.DumpImage(cfg.ImagePath); err != nil {
			return report(m, stderr, err)
		}
		fmt.Fprintf(stderr, "wrote %s\n", cfg.ImagePath)
		return exitOK
	}

	if o.file != "" {
		if _, err := m.Load(o.file); err != nil {
			return report(m, stderr, err)
		}
	}
	if o.eval != "" {
		v, err := m.EvalString(o.eval)
		if err != nil {
			return report(m, stderr, err)
		}
		printResult(m, stdout, v)
		return finish(m, stderr, exitOK)
	}
	if o.file != "" {
		return finish(m, stderr, exitOK)
	}

	if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return finish(m, stderr, runREPL(m, stdout, stderr, o.quiet))
	}
	if _, err := m.EvalReader(readerFor(stdin)); err != nil {
		return report(m, stderr, err)
	}
	return finish(m, stderr, exitOK)
}

// loadManifest finds ls9.toml from dir upwards, falling back to the
// defaults rooted at dir.
func loadManifest(dir string) (*manifest.Manifest, error) {
	man, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if man != nil {
		return man, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return manifest.Default(abs), nil
}

func configureLogging(man *manifest.Manifest, extra int) {
	verbosity := man.Log.Verbosity + extra
	if path := man.LogPath(); path != "" {
		commonlog.Configure(verbosity, &path)
		return
	}
	commonlog.Configure(verbosity, nil)
}

// printResult writes v followed by a newline after any pending port
// output. Undefined values print nothing.
func printResult(m *vm.Machine, w io.Writer, v heap.Cell) {
	_ = m.Flush()
	if v == heap.Undef {
		return
	}
	if err := m.Printer.Print(w, v, false); err != nil {
		fmt.Fprintf(w, "; %v", err)
	}
	fmt.Fprintln(w)
}

// finish flushes the output ports before exiting with code.
func finish(m *vm.Machine, stderr io.Writer, code int) int {
	if err := m.Flush(); err != nil {
		fmt.Fprintf(stderr, "ls9: %v\n", err)
		if code == exitOK {
			return exitError
		}
	}
	return code
}

// exitCode maps an error from the machine to a process exit code.
func exitCode(err error) int {
	var exit *vm.Exit
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exit):
		return exit.Code
	case errors.Is(err, vm.ErrHeapExhausted), errors.Is(err, vm.ErrFormat):
		return exitFatal
	}
	return exitError
}

// report flushes pending output, prints err and returns its exit code.
func report(m *vm.Machine, stderr io.Writer, err error) int {
	_ = m.Flush()
	code := exitCode(err)
	var exit *vm.Exit
	if errors.As(err, &exit) {
		return code
	}
	var verr *vm.Error
	if errors.As(err, &verr) {
		fmt.Fprintf(stderr, "ls9: %s\n", verr)
		if len(verr.Trace) > 0 {
			fmt.Fprintf(stderr, "  in %s\n", verr.TraceString())
		}
		return code
	}
	if code == exitFatal {
		log.Errorf("%s", err)
	}
	fmt.Fprintf(stderr, "ls9: %v\n", err)
	return code
}
