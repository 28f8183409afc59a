package compiler

// ---------------------------------------------------------------------------
// Semantic pass: free variables and closure conversion
// ---------------------------------------------------------------------------

// analyze fills in the free variables of every lambda in e and decides how
// each closure captures them. A closure whose free variables are never
// assigned copies them into a fresh frame (flat); otherwise it shares the
// frames of its creator so assignments stay visible.
func analyze(e Expr) {
	free(e)
}

// varSet is an insertion-ordered set of variables.
type varSet struct {
	list []*Variable
	seen map[*Variable]bool
}

func (s *varSet) add(v *Variable) {
	if s.seen == nil {
		s.seen = make(map[*Variable]bool)
	}
	if !s.seen[v] {
		s.seen[v] = true
		s.list = append(s.list, v)
	}
}

func (s *varSet) addAll(vs []*Variable) {
	for _, v := range vs {
		s.add(v)
	}
}

// free returns the local variables referenced in e, in order of first
// reference. Duplicates are allowed.
func free(e Expr) []*Variable {
	switch n := e.(type) {
	case *Const:
		return nil
	case *VarRef:
		if n.Var != nil {
			return []*Variable{n.Var}
		}
		return nil
	case *SetVar:
		vs := free(n.Value)
		if n.Var != nil {
			vs = append(vs, n.Var)
		}
		return vs
	case *Define:
		return free(n.Value)
	case *MacroDef:
		return free(n.Fn)
	case *If:
		return freeAll(n.Test, n.Then, n.Else)
	case *Seq:
		return freeAll(n.Body...)
	case *And:
		return freeAll(n.Exprs...)
	case *Or:
		return freeAll(n.Exprs...)
	case *Call:
		return append(free(n.Fn), freeAll(n.Args...)...)
	case *PrimCall:
		return freeAll(n.Args...)
	case *Apply:
		return append(free(n.Fn), freeAll(n.Args...)...)
	case *Catch:
		return free(n.Fn)
	case *Throw:
		return freeAll(n.Tag, n.Value)
	case *Lambda:
		var set varSet
		for _, v := range free(n.Body) {
			if v.Owner != n {
				set.add(v)
			}
		}
		n.Free = set.list
		n.Flat = true
		for _, v := range n.Free {
			if v.Mutated {
				n.Flat = false
				break
			}
		}
		return n.Free
	}
	panic("compiler: unknown expression type")
}

func freeAll(es ...Expr) []*Variable {
	var set varSet
	for _, e := range es {
		set.addAll(free(e))
	}
	return set.list
}

// layout returns the frames visible inside l, innermost first: the
// parameters, then either the captured copies of a flat closure or the
// frames of the enclosing lambda.
func layout(l *Lambda) [][]*Variable {
	if l == nil {
		return nil
	}
	frames := [][]*Variable{l.Params}
	if l.Flat {
		if len(l.Free) > 0 {
			frames = append(frames, l.Free)
		}
		return frames
	}
	return append(frames, layout(l.Parent)...)
}

// resolve returns the (depth, index) address of v in frames.
func resolve(v *Variable, frames [][]*Variable) (int, int, bool) {
	for d, f := range frames {
		for i, fv := range f {
			if fv == v {
				return d, i, true
			}
		}
	}
	return 0, 0, false
}
