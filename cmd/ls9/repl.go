package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/reader"
	"github.com/chazu/ls9/vm"
	"github.com/peterh/liner"
)

const historyFile = ".ls9_history"

// readerFor wraps r for the reader, which needs to unread runes.
func readerFor(r io.Reader) io.RuneScanner {
	if rs, ok := r.(io.RuneScanner); ok {
		return rs
	}
	return bufio.NewReader(r)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFile)
}

// runREPL starts an interactive read-eval-print loop on the terminal.
func runREPL(m *vm.Machine, stdout, stderr io.Writer, quiet bool) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetWordCompleter(completer(m))

	history := historyPath()
	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(history); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	if !quiet {
		fmt.Fprintf(stdout, "%s (Ctrl-D or (exit) to quit)\n", version)
	}

	var buf strings.Builder
	for {
		prompt := "> "
		if buf.Len() > 0 {
			prompt = "  "
		}
		text, err := line.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			buf.Reset()
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(stdout)
			return exitOK
		case err != nil:
			fmt.Fprintf(stderr, "ls9: %v\n", err)
			return exitError
		}

		buf.WriteString(text)
		buf.WriteByte('\n')
		src := buf.String()
		if !reader.Complete(src) {
			continue
		}
		buf.Reset()
		if entry := strings.TrimSpace(src); entry != "" {
			line.AppendHistory(entry)
		}
		if code, done := evalPrint(m, stdout, stderr, src); done {
			return code
		}
	}
}

// evalPrint evaluates the forms of src, printing each value. It reports
// whether the session is over, and with which exit code.
func evalPrint(m *vm.Machine, stdout, stderr io.Writer, src string) (int, bool) {
	in := strings.NewReader(src)
	for {
		form, err := m.ReadForm(in)
		if err == nil && form == heap.EOFMark {
			return exitOK, false
		}
		var v heap.Cell
		if err == nil {
			v, err = m.Eval(form)
		}
		if err != nil {
			code := report(m, stderr, err)
			var verr *vm.Error
			if errors.As(err, &verr) {
				// The session survives conditions; discard the rest of
				// the input.
				return exitOK, false
			}
			return code, true
		}
		printResult(m, stdout, v)
	}
}

// completer completes the word before the cursor from the global names.
func completer(m *vm.Machine) liner.WordCompleter {
	return func(line string, pos int) (string, []string, string) {
		head, tail := line[:pos], line[pos:]
		start := strings.LastIndexAny(head, " \t\n()'`,\"") + 1
		prefix := head[start:]
		if prefix == "" {
			return head, nil, tail
		}
		var matches []string
		for _, name := range m.Symbols.Names() {
			if strings.HasPrefix(name, prefix) {
				matches = append(matches, name)
			}
		}
		return head[:start], matches, tail
	}
}
