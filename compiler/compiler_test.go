package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ls9/printer"
	"github.com/chazu/ls9/reader"
	"github.com/chazu/ls9/vm"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newMachine(t *testing.T, cfg vm.Config) *vm.Machine {
	t.Helper()
	if cfg.Nodes == 0 {
		cfg.Nodes = 1 << 16
		cfg.VectorCells = 1 << 16
	}
	if cfg.Stdout == nil {
		cfg.Stdout = &bytes.Buffer{}
		cfg.Stderr = cfg.Stdout
		cfg.Stdin = strings.NewReader("")
	}
	m := vm.New(cfg)
	m.Reader = reader.New(m)
	m.Printer = printer.New(m)
	m.Compiler = New(m)
	return m
}

// eval evaluates every form of src and returns the printed value of the
// last one.
func eval(t *testing.T, m *vm.Machine, src string) string {
	t.Helper()
	v, err := m.EvalString(src)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	var sb strings.Builder
	if err := m.Printer.Print(&sb, v, false); err != nil {
		t.Fatalf("print: %v", err)
	}
	return sb.String()
}

func wantErrorKind(t *testing.T, err error, kind vm.Kind) {
	t.Helper()
	var e *vm.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want a %s error", err, kind)
	}
	if e.Kind != kind {
		t.Fatalf("error kind = %s, want %s (%v)", e.Kind, kind, err)
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestLoopScenario(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, "(define (loop n) (if (= n 0) 'done (loop (- n 1))))")

	if got := eval(t, m, "(loop 5)"); got != "done" {
		t.Errorf("(loop 5) = %s, want done", got)
	}
	if got := eval(t, m, "(loop 1000000)"); got != "done" {
		t.Errorf("(loop 1000000) = %s, want done", got)
	}
	if m.FrameDepth() != 0 || m.StackDepth() != 0 {
		t.Errorf("machine not clean: frames=%d sp=%d", m.FrameDepth(), m.StackDepth())
	}

	_, err := m.EvalString("(car '())")
	wantErrorKind(t, err, vm.KindType)
}

// TestTailCallsUseConstantFrames runs with a frame limit far below the
// iteration count.
func TestTailCallsUseConstantFrames(t *testing.T) {
	m := newMachine(t, vm.Config{Nodes: 1 << 14, VectorCells: 1 << 14, MaxFrameDepth: 100})
	eval(t, m, `
		(define (count-down n) (if (= n 0) 'done (count-down (- n 1))))
		(define (count n) (if (= n 0) 0 (+ 1 (count (- n 1)))))
		(define (even n) (if (= n 0) t (odd (- n 1))))
		(define (odd n) (if (= n 0) nil (even (- n 1))))`)

	if got := eval(t, m, "(count-down 100000)"); got != "done" {
		t.Errorf("count-down = %s", got)
	}
	if got := eval(t, m, "(even 10001)"); got != "nil" {
		t.Errorf("mutual recursion = %s", got)
	}
	if got := eval(t, m, "(count 50)"); got != "50" {
		t.Errorf("count 50 = %s", got)
	}
	_, err := m.EvalString("(count 500)")
	wantErrorKind(t, err, vm.KindResource)
}

// ---------------------------------------------------------------------------
// Special forms
// ---------------------------------------------------------------------------

func TestSpecialForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"integer", "42", "42"},
		{"string", `"hi"`, `"hi"`},
		{"quote", "'(1 2)", "(1 2)"},
		{"quote symbol", "'sym", "sym"},
		{"if true", "(if t 1 2)", "1"},
		{"if false", "(if nil 1 2)", "2"},
		{"if no else", "(if nil 1)", "#<undefined>"},
		{"begin", "(begin 1 2 3)", "3"},
		{"let", "(let ((x 1) (y 2)) (+ x y))", "3"},
		{"let*", "(let* ((x 1) (y (+ x 1))) (* x y))", "2"},
		{"empty let*", "(let* () 5)", "5"},
		{"named let", "(let loop ((i 0) (acc nil)) (if (= i 3) acc (loop (+ i 1) (cons i acc))))", "(2 1 0)"},
		{"letrec", `(letrec ((even? (lambda (n) (if (= n 0) t (odd? (- n 1)))))
		                     (odd? (lambda (n) (if (= n 0) nil (even? (- n 1))))))
		              (even? 100))`, "t"},
		{"cond", "(cond ((= 1 2) 'a) ((= 1 1) 'b) (else 'c))", "b"},
		{"cond else", "(cond (nil 1) (else 2))", "2"},
		{"cond test only", "(cond (nil) (5))", "5"},
		{"cond arrow", "(cond ((assq 'b '((a 1) (b 2))) => (lambda (p) (cadr p))) (else 'none))", "2"},
		{"cond arrow miss", "(cond ((assq 'z '((a 1))) => (lambda (p) p)) (else 'none))", "none"},
		{"and", "(and 1 2 3)", "3"},
		{"and short", "(and 1 nil 3)", "nil"},
		{"empty and", "(and)", "t"},
		{"or", "(or nil 2)", "2"},
		{"empty or", "(or)", "nil"},
		{"rest args", "((lambda (a . rest) rest) 1 2 3)", "(2 3)"},
		{"all rest", "((lambda args args))", "nil"},
		{"apply", "(apply (lambda (a b c) (+ a (* b c))) 1 '(2 3))", "7"},
		{"internal define", "((lambda () (define (sq x) (* x x)) (define y 3) (sq y)))", "9"},
		{"shadowed primitive", "((lambda (car) (car 5)) (lambda (x) (* x 2)))", "10"},
		{"shadowed special form", "((lambda (if) (if 1 2 3)) (lambda (a b c) (+ a (+ b c))))", "6"},
		{"optional argument", `(substring "hello" 1)`, `"ello"`},
		{"eval", "(eval '(+ 1 2))", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t, vm.Config{})
			if got := eval(t, m, tt.src); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
			}
		})
	}
}

func TestQuasiquote(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"`(a b)", "(a b)"},
		{"(let ((x 1) (y '(2 3))) `(a ,x ,@y b))", "(a 1 2 3 b)"},
		{"`(1 . ,(+ 1 1))", "(1 . 2)"},
		{"`#(1 ,(+ 1 1))", "#(1 2)"},
		{"`(,@'(1 2))", "(1 2)"},
		{"`(a `(b ,(c ,(+ 1 2))))", "(a `(b ,(c 3)))"},
	}
	for _, tt := range tests {
		m := newMachine(t, vm.Config{})
		if got := eval(t, m, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestDefineAndSet(t *testing.T) {
	m := newMachine(t, vm.Config{})
	if got := eval(t, m, "(define z 1)"); got != "z" {
		t.Errorf("define returned %s, want z", got)
	}
	if got := eval(t, m, "(set! z 5) z"); got != "5" {
		t.Errorf("z = %s, want 5", got)
	}
	_, err := m.EvalString("(set! never-defined 1)")
	wantErrorKind(t, err, vm.KindRange)

	_, err = m.EvalString("never-defined")
	wantErrorKind(t, err, vm.KindRange)
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosures(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, `
		(define (adder n) (lambda (x) (+ x n)))
		(define (curry3 a) (lambda (b) (lambda (c) (+ a (+ b c)))))
		(define (make-counter)
		  (let ((n 0))
		    (lambda () (set! n (+ n 1)) n)))
		(define c1 (make-counter))
		(define c2 (make-counter))
		(define (shared)
		  (let ((x 0))
		    (let ((inc (lambda () (lambda () (set! x (+ x 1)) x))))
		      ((inc))
		      ((inc)))))`)

	tests := []struct {
		src  string
		want string
	}{
		{"((adder 3) 4)", "7"},
		{"(((curry3 1) 2) 3)", "6"},
		{"(c1)", "1"},
		{"(c1)", "2"},
		{"(c2)", "1"},
		{"(shared)", "2"},
	}
	for _, tt := range tests {
		if got := eval(t, m, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestClosureConversion(t *testing.T) {
	m := newMachine(t, vm.Config{})
	tests := []struct {
		src  string
		flat bool
	}{
		{"(lambda (n) (lambda (x) (+ x n)))", true},
		{"(lambda (n) (lambda () (set! n 1)))", false},
		{"(lambda (n) (set! n 2) (lambda () n))", false},
		{"(lambda (n) (lambda (x) (set! x n)))", true},
	}
	for _, tt := range tests {
		form, err := m.ReadForm(strings.NewReader(tt.src))
		if err != nil {
			t.Fatal(err)
		}
		c := m.Compiler.(*Compiler)
		c.push(form)
		e, err := c.syntax(form, nil)
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		analyze(e)
		outer := e.(*Lambda)
		var inner *Lambda
		switch body := outer.Body.(type) {
		case *Lambda:
			inner = body
		case *Seq:
			inner = body.Body[len(body.Body)-1].(*Lambda)
		}
		if inner.Flat != tt.flat {
			t.Errorf("%s: inner flat = %v, want %v", tt.src, inner.Flat, tt.flat)
		}
		if len(inner.Free) != 1 || inner.Free[0].Name != "n" {
			t.Errorf("%s: free = %v", tt.src, inner.Free)
		}
		c.roots = c.roots[:0]
	}
}

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

func TestTailCallEmitted(t *testing.T) {
	m := newMachine(t, vm.Config{})
	form, err := m.ReadForm(strings.NewReader("(define (loop n) (if (= n 0) 'done (loop (- n 1))))"))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := m.Compile(form)
	if err != nil {
		t.Fatal(err)
	}
	dis := vm.Disassemble(m.Heap.Bytes(m.Heap.Car(prog)))
	for _, want := range []string{"ENTER 1", "PRIM =", "PRIM -", "TAILAPP 1", "RETURN", "MKENV 0", "CLOSURE", "DEF", "HALT"} {
		if !strings.Contains(dis, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, dis)
		}
	}
	if strings.Contains(dis, "APPLY") {
		t.Errorf("tail call compiled as APPLY:\n%s", dis)
	}
}

func TestTopLevelCallIsNotTail(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, "(define (id x) x)")
	form, _ := m.ReadForm(strings.NewReader("(id 1)"))
	prog, err := m.Compile(form)
	if err != nil {
		t.Fatal(err)
	}
	dis := vm.Disassemble(m.Heap.Bytes(m.Heap.Car(prog)))
	if !strings.Contains(dis, "APPLY 1") {
		t.Errorf("top-level call should use APPLY:\n%s", dis)
	}
}

func TestQuotedDataIsConstant(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, `(define l '(1 2)) (define s "abc") (define v '#(1 2))`)

	for _, src := range []string{
		"(set-car! l 5)",
		"(set-cdr! (cdr l) 5)",
		"(string-set! s 0 #\\x)",
		"(vector-set! v 0 9)",
	} {
		_, err := m.EvalString(src)
		wantErrorKind(t, err, vm.KindType)
	}
	if got := eval(t, m, "l"); got != "(1 2)" {
		t.Errorf("l = %s after rejected mutation", got)
	}
	if got := eval(t, m, "(let ((p (cons 1 2))) (set-car! p 5) p)"); got != "(5 . 2)" {
		t.Errorf("fresh pair mutation = %s", got)
	}
	if got := eval(t, m, "(constant? l)"); got != "t" {
		t.Errorf("(constant? l) = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Macros
// ---------------------------------------------------------------------------

func TestMacros(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, "(macro my-if (lambda (c a b) `(cond (,c ,a) (else ,b))))")
	if got := eval(t, m, "(my-if t 1 2)"); got != "1" {
		t.Errorf("my-if = %s", got)
	}
	if got := eval(t, m, "(my-if nil 1 2)"); got != "2" {
		t.Errorf("my-if = %s", got)
	}

	eval(t, m, "(macro def2 (lambda (n v) `(define ,n ,v)))")
	if got := eval(t, m, "((lambda () (def2 q 7) (+ q 1)))"); got != "8" {
		t.Errorf("macro expanding to an internal define = %s", got)
	}

	// A local binding hides the macro.
	if got := eval(t, m, "((lambda (my-if) (my-if 1 2 3)) (lambda (a b c) c))"); got != "3" {
		t.Errorf("shadowed macro = %s", got)
	}
}

func TestMacroUsedRightAfterDefinition(t *testing.T) {
	m := newMachine(t, vm.Config{})
	got := eval(t, m, "(macro twice (lambda (e) `(begin ,e ,e))) (define n 0) (twice (set! n (+ n 1))) n")
	if got != "2" {
		t.Errorf("n = %s, want 2", got)
	}
	// Same expander program, run again from a new top-level form.
	if got := eval(t, m, "(twice (set! n (+ n 1))) n"); got != "4" {
		t.Errorf("n = %s, want 4", got)
	}
}

func TestMacroDepthLimit(t *testing.T) {
	m := newMachine(t, vm.Config{MacroDepth: 50})
	eval(t, m, "(macro forever (lambda () '(forever)))")
	_, err := m.EvalString("(forever)")
	wantErrorKind(t, err, vm.KindControl)

	_, err = m.EvalString("((lambda () (forever)))")
	wantErrorKind(t, err, vm.KindControl)

	// The machine is still usable.
	if got := eval(t, m, "(+ 1 1)"); got != "2" {
		t.Errorf("after failed expansion: %s", got)
	}
}

func TestMacroExpansionSurvivesCollection(t *testing.T) {
	m := newMachine(t, vm.Config{Nodes: 8192, VectorCells: 1 << 14})
	eval(t, m, `(macro big
	  (lambda ()
	    (let loop ((i 0) (acc nil))
	      (if (= i 3000) (list 'quote acc) (loop (+ i 1) (cons i acc))))))`)
	// list is not defined without the prelude.
	eval(t, m, "(define (list . xs) xs)")
	if got := eval(t, m, "(length (big))"); got != "3000" {
		t.Errorf("length = %s", got)
	}
	if m.Heap.Collections() == 0 {
		t.Error("expected collections during expansion")
	}
}

// ---------------------------------------------------------------------------
// Catch and throw
// ---------------------------------------------------------------------------

func TestCatchThrow(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, "(define (escape k) (throw* k 'out))")
	tests := []struct {
		src  string
		want string
	}{
		{"(catch* (lambda (k) 7))", "7"},
		{"(catch* (lambda (k) (+ 1 (throw* k 42))))", "42"},
		{"(catch* (lambda (k) (escape k) 'not-reached))", "out"},
		{"(catch* (lambda (outer) (+ 1 (catch* (lambda (inner) (throw* outer 10))))))", "10"},
		{"(catch* (lambda (outer) (+ 1 (catch* (lambda (inner) (throw* inner 10))))))", "11"},
		{"(catch* (lambda (k) (catch-tag? k)))", "t"},
		{"(catch-tag? 'k)", "nil"},
	}
	for _, tt := range tests {
		if got := eval(t, m, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
		if m.StackDepth() != 0 || m.FrameDepth() != 0 {
			t.Fatalf("%s left sp=%d frames=%d", tt.src, m.StackDepth(), m.FrameDepth())
		}
	}

	_, err := m.EvalString("(throw* (catch* (lambda (k) k)) 1)")
	wantErrorKind(t, err, vm.KindControl)
}

func TestErrorTagCatchesRuntimeErrors(t *testing.T) {
	m := newMachine(t, vm.Config{})
	got := eval(t, m, "(catch* (lambda (k) (seterrtag! k) (car 5)))")
	if !strings.HasPrefix(got, "(error type ") {
		t.Errorf("condition = %s", got)
	}
	got = eval(t, m, `(catch* (lambda (k) (seterrtag! k) (error "boom" 'x)))`)
	if got != `(error user "boom" x)` {
		t.Errorf("condition = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestSyntaxErrors(t *testing.T) {
	tests := []string{
		"(if)",
		"(if 1 2 3 4)",
		"(lambda)",
		"(lambda (x x) x)",
		"(lambda (1) 1)",
		"(let ((x)) x)",
		"(let)",
		"(quote)",
		"(define)",
		"(define 5 1)",
		"(set! 5 1)",
		"(cond (else 1) (t 2))",
		"(cond ())",
		"((lambda () (if t (define x 1))))",
		"(macro 5 (lambda () 1))",
		"(throw* 1)",
		"(apply 1)",
		"(f . x)",
		"`(,@x)",
		"`,@x",
	}
	for _, src := range tests {
		m := newMachine(t, vm.Config{})
		_, err := m.EvalString(src)
		if src == "`(,@x)" {
			// Splicing inside a list is valid; x is simply unbound.
			wantErrorKind(t, err, vm.KindRange)
			continue
		}
		if err == nil {
			t.Errorf("%s: expected error", src)
			continue
		}
		wantErrorKind(t, err, vm.KindSyntax)
	}
}

func TestArityErrors(t *testing.T) {
	m := newMachine(t, vm.Config{})
	eval(t, m, "(define (two a b) a) (define (at-least-one a . r) a)")
	for _, src := range []string{"(two 1)", "(two 1 2 3)", "(at-least-one)"} {
		_, err := m.EvalString(src)
		wantErrorKind(t, err, vm.KindType)
	}
	if got := eval(t, m, "(at-least-one 1 2 3)"); got != "1" {
		t.Errorf("got %s", got)
	}
}

func TestCompileWithoutRootsLeak(t *testing.T) {
	m := newMachine(t, vm.Config{})
	c := m.Compiler.(*Compiler)
	eval(t, m, "(define (f x) `(a ,x))")
	if len(c.roots) != 0 {
		t.Errorf("compiler kept %d roots after compiling", len(c.roots))
	}
	_, _ = m.EvalString("(if)")
	if len(c.roots) != 0 {
		t.Errorf("compiler kept %d roots after an error", len(c.roots))
	}
	if c.depth != 0 {
		t.Errorf("macro depth = %d after compiling", c.depth)
	}
}
