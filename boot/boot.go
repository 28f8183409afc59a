// Package boot brings a machine to a usable state. A heap image is used
// when one is available; otherwise the primitives are wrapped as
// procedures and the embedded prelude is compiled.
package boot

import (
	_ "embed" // Blank import required by embed.
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/chazu/ls9/vm"
	"github.com/tliron/commonlog"
)

//go:embed ls9.ls9
var prelude string

var log = commonlog.GetLogger("ls9.boot")

// Prelude returns the source of the embedded prelude.
func Prelude() string {
	return prelude
}

// Origin says where the global environment of a booted machine came from.
type Origin int

const (
	FromSource Origin = iota
	FromImage
)

func (o Origin) String() string {
	if o == FromImage {
		return "image"
	}
	return "source"
}

// Options selects the inputs of Boot.
type Options struct {
	// ImagePath is tried first. A missing file is not an error; an
	// unreadable or invalid one is logged and the prelude is used
	// instead.
	ImagePath string

	// PreludePath names a file that replaces the embedded prelude when
	// it exists.
	PreludePath string

	// SourcePath names a file loaded after the environment is ready.
	SourcePath string

	// IgnoreImage skips ImagePath.
	IgnoreImage bool
}

// Boot prepares m, which must have a reader, printer and compiler
// attached.
func Boot(m *vm.Machine, opts Options) (Origin, error) {
	origin := FromSource
	if opts.ImagePath != "" && !opts.IgnoreImage {
		err := m.LoadImage(opts.ImagePath)
		switch {
		case err == nil:
			origin = FromImage
		case errors.Is(err, fs.ErrNotExist):
			log.Debugf("no image at %s", opts.ImagePath)
		default:
			log.Warningf("ignoring image: %s", err)
		}
	}
	if origin == FromSource {
		text, err := opts.prelude()
		if err != nil {
			return origin, err
		}
		if err := Source(m, text); err != nil {
			return origin, err
		}
	}
	if opts.SourcePath != "" {
		if _, err := m.Load(opts.SourcePath); err != nil {
			return origin, err
		}
	}
	log.Infof("booted from %s", origin)
	return origin, nil
}

func (o Options) prelude() (string, error) {
	if o.PreludePath == "" {
		return prelude, nil
	}
	data, err := os.ReadFile(o.PreludePath)
	switch {
	case err == nil:
		log.Infof("using prelude %s", o.PreludePath)
		return string(data), nil
	case errors.Is(err, fs.ErrNotExist):
		return prelude, nil
	}
	return "", fmt.Errorf("prelude: %w", err)
}

// Source builds the global environment from scratch: first-class
// wrappers for every primitive, then the prelude text.
func Source(m *vm.Machine, text string) error {
	if _, err := m.EvalString(Wrappers()); err != nil {
		return fmt.Errorf("primitive wrappers: %w", err)
	}
	if _, err := m.EvalString(text); err != nil {
		return fmt.Errorf("prelude: %w", err)
	}
	return nil
}

// Wrappers returns definitions that make each primitive available as a
// procedure under its own name. The body of each wrapper is a call the
// compiler inlines.
func Wrappers() string {
	var sb strings.Builder
	for _, p := range vm.Primitives() {
		sb.WriteString(wrapper(p))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func wrapper(p *vm.Primitive) string {
	required := p.Arity
	if p.Optional {
		required--
	}
	params := make([]string, required)
	for i := range params {
		params[i] = fmt.Sprintf("a%d", i+1)
	}
	call := func(args ...string) string {
		return "(" + strings.Join(append([]string{p.Name}, args...), " ") + ")"
	}
	if !p.Optional {
		return fmt.Sprintf("(define %s %s)", call(params...), call(params...))
	}
	head := "(" + strings.Join(append([]string{p.Name}, params...), " ") + " . rest)"
	return fmt.Sprintf("(define %s (if (null? rest) %s %s))",
		head, call(params...), call(append(params, "(car rest)")...))
}
