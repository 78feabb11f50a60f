/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package datalog

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/launix-de/rfdb/graph"
	"github.com/launix-de/rfdb/storage"
)

// recursion cap for user rule expansion
const maxRuleDepth = 32

// Value is a binding value: a node id or a string.
type Value struct {
	Id   storage.NodeID
	IsId bool
	Str  string
}

// IdValue wraps a node id.
func IdValue(id storage.NodeID) Value {
	return Value{Id: id, IsId: true}
}

// StrValue wraps a string.
func StrValue(s string) Value {
	return Value{Str: s}
}

// AsId interprets the value as a node id (hex form accepted).
func (v Value) AsId() (storage.NodeID, bool) {
	if v.IsId {
		return v.Id, true
	}
	id, err := storage.ParseNodeID(v.Str)
	if err != nil {
		return storage.NodeID{}, false
	}
	return id, true
}

// AsStr renders the value as a string.
func (v Value) AsStr() string {
	if v.IsId {
		return v.Id.String()
	}
	return v.Str
}

// Equal compares two values, treating a hex id string and the id it
// names as equal.
func (v Value) Equal(other Value) bool {
	if v.IsId && other.IsId {
		return v.Id == other.Id
	}
	if !v.IsId && !other.IsId {
		return v.Str == other.Str
	}
	id1, ok1 := v.AsId()
	id2, ok2 := other.AsId()
	return ok1 && ok2 && id1 == id2
}

// Bindings maps variable names to values.
type Bindings map[string]Value

// clone copies the bindings before extension.
func (b Bindings) clone() Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

// SortedVars returns the bound variable names, sorted.
func (b Bindings) SortedVars() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evaluator answers Datalog queries against a graph store.
type Evaluator struct {
	engine graph.GraphStore
	rules  map[string][]Rule
	// fresh variable counter for rule renaming
	renameCounter int
}

// NewEvaluator creates an evaluator without user rules.
func NewEvaluator(engine graph.GraphStore) *Evaluator {
	return &Evaluator{
		engine: engine,
		rules:  make(map[string][]Rule),
	}
}

// AddRule registers a user rule under its head predicate.
func (ev *Evaluator) AddRule(rule Rule) {
	ev.rules[rule.Head.Predicate] = append(ev.rules[rule.Head.Predicate], rule)
}

// LoadRules registers a batch of rules.
func (ev *Evaluator) LoadRules(rules []Rule) {
	for _, r := range rules {
		ev.AddRule(r)
	}
}

// Query evaluates a conjunction and returns all bindings.
func (ev *Evaluator) Query(literals []Literal) ([]Bindings, error) {
	ordered := reorderLiterals(literals)
	return ev.evalConjunction(ordered, Bindings{}, 0)
}

// QueryText parses and evaluates a query string.
func (ev *Evaluator) QueryText(text string) ([]Bindings, error) {
	literals, err := ParseQuery(text)
	if err != nil {
		return nil, err
	}
	return ev.Query(literals)
}

func (ev *Evaluator) evalConjunction(literals []Literal, binding Bindings, depth int) ([]Bindings, error) {
	if len(literals) == 0 {
		return []Bindings{binding}, nil
	}
	head, rest := literals[0], literals[1:]

	if head.Negated {
		matches, err := ev.evalLiteral(head.Atom, binding, depth)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return nil, nil
		}
		return ev.evalConjunction(rest, binding, depth)
	}

	matches, err := ev.evalLiteral(head.Atom, binding, depth)
	if err != nil {
		return nil, err
	}
	var results []Bindings
	for _, m := range matches {
		sub, err := ev.evalConjunction(rest, m, depth)
		if err != nil {
			return nil, err
		}
		results = append(results, sub...)
	}
	return results, nil
}

func (ev *Evaluator) evalLiteral(atom Atom, binding Bindings, depth int) ([]Bindings, error) {
	switch atom.Predicate {
	case "node":
		return ev.evalNode(atom, binding)
	case "edge":
		return ev.evalEdge(atom, binding)
	case "path":
		return ev.evalPath(atom, binding)
	default:
		return ev.evalRules(atom, binding, depth)
	}
}

// resolve returns the value a term stands for under the binding, or
// nothing when it is an unbound variable.
func resolve(t Term, binding Bindings) (Value, bool) {
	if !t.IsVar {
		return StrValue(t.Value), true
	}
	v, ok := binding[t.Value]
	return v, ok
}

// bind extends the binding with term=value, failing on mismatch with
// an existing binding or constant.
func bind(t Term, v Value, binding Bindings) (Bindings, bool) {
	if existing, ok := resolve(t, binding); ok {
		if !existing.Equal(v) {
			return nil, false
		}
		return binding, true
	}
	if t.Value == "_" {
		return binding, true
	}
	out := binding.clone()
	out[t.Value] = v
	return out, true
}

// node(Id, Type, Name, File)
func (ev *Evaluator) evalNode(atom Atom, binding Bindings) ([]Bindings, error) {
	if len(atom.Args) != 4 {
		return nil, fmt.Errorf("node/4 expects 4 arguments, got %d", len(atom.Args))
	}
	idTerm, typeTerm, nameTerm, fileTerm := atom.Args[0], atom.Args[1], atom.Args[2], atom.Args[3]

	matchRecord := func(record *graph.NodeRecord, b Bindings) (Bindings, bool) {
		b, ok := bind(idTerm, IdValue(record.Id), b)
		if !ok {
			return nil, false
		}
		b, ok = bind(typeTerm, StrValue(deref(record.NodeType)), b)
		if !ok {
			return nil, false
		}
		b, ok = bind(nameTerm, StrValue(deref(record.Name)), b)
		if !ok {
			return nil, false
		}
		b, ok = bind(fileTerm, StrValue(deref(record.File)), b)
		return b, ok
	}

	// point lookup when the id is known
	if v, ok := resolve(idTerm, binding); ok {
		id, valid := v.AsId()
		if !valid {
			return nil, nil
		}
		record := ev.engine.GetNode(id)
		if record == nil {
			return nil, nil
		}
		if b, ok := matchRecord(record, binding); ok {
			return []Bindings{b}, nil
		}
		return nil, nil
	}

	// attribute scan otherwise
	query := &graph.AttrQuery{}
	if v, ok := resolve(typeTerm, binding); ok {
		t := v.AsStr()
		query.NodeType = &t
	}
	if v, ok := resolve(nameTerm, binding); ok {
		n := v.AsStr()
		query.Name = &n
	}
	if v, ok := resolve(fileTerm, binding); ok {
		f := v.AsStr()
		query.File = &f
	}
	var results []Bindings
	for _, id := range ev.engine.FindByAttr(query) {
		record := ev.engine.GetNode(id)
		if record == nil {
			continue
		}
		if b, ok := matchRecord(record, binding); ok {
			results = append(results, b)
		}
	}
	return results, nil
}

// edge(Src, Dst, Type)
func (ev *Evaluator) evalEdge(atom Atom, binding Bindings) ([]Bindings, error) {
	if len(atom.Args) != 3 {
		return nil, fmt.Errorf("edge/3 expects 3 arguments, got %d", len(atom.Args))
	}
	srcTerm, dstTerm, typeTerm := atom.Args[0], atom.Args[1], atom.Args[2]

	var typeFilter []string
	if v, ok := resolve(typeTerm, binding); ok {
		typeFilter = []string{v.AsStr()}
	}

	matchEdge := func(edge *graph.EdgeRecord, b Bindings) (Bindings, bool) {
		b, ok := bind(srcTerm, IdValue(edge.Src), b)
		if !ok {
			return nil, false
		}
		b, ok = bind(dstTerm, IdValue(edge.Dst), b)
		if !ok {
			return nil, false
		}
		b, ok = bind(typeTerm, StrValue(deref(edge.EdgeType)), b)
		return b, ok
	}

	var edges []graph.EdgeRecord
	if v, ok := resolve(srcTerm, binding); ok {
		if id, valid := v.AsId(); valid {
			edges = ev.engine.GetOutgoingEdges(id, typeFilter)
		}
	} else if v, ok := resolve(dstTerm, binding); ok {
		if id, valid := v.AsId(); valid {
			edges = ev.engine.GetIncomingEdges(id, typeFilter)
		}
	} else {
		edges = ev.engine.GetAllEdges()
	}

	var results []Bindings
	for i := range edges {
		if b, ok := matchEdge(&edges[i], binding); ok {
			results = append(results, b)
		}
	}
	return results, nil
}

// path(Src, Dst, Type, MaxDepth)
func (ev *Evaluator) evalPath(atom Atom, binding Bindings) ([]Bindings, error) {
	if len(atom.Args) != 4 {
		return nil, fmt.Errorf("path/4 expects 4 arguments, got %d", len(atom.Args))
	}
	srcTerm, dstTerm, typeTerm, depthTerm := atom.Args[0], atom.Args[1], atom.Args[2], atom.Args[3]

	depthVal, ok := resolve(depthTerm, binding)
	if !ok {
		return nil, fmt.Errorf("path/4 needs a bound max depth")
	}
	maxDepth, err := strconv.Atoi(depthVal.AsStr())
	if err != nil || maxDepth < 0 {
		return nil, fmt.Errorf("path/4 max depth must be a non-negative integer")
	}

	var typeFilter []string
	if v, ok := resolve(typeTerm, binding); ok {
		typeFilter = []string{v.AsStr()}
	}

	walk := func(start storage.NodeID, backward bool) []storage.NodeID {
		var reached []storage.NodeID
		if backward {
			reached = bfsBackward(ev.engine, start, maxDepth, typeFilter)
		} else {
			reached = ev.engine.BFS([]storage.NodeID{start}, maxDepth, typeFilter)
		}
		// the start node itself is not a path target
		out := reached[:0]
		for _, id := range reached {
			if id != start {
				out = append(out, id)
			}
		}
		return out
	}

	var results []Bindings
	if v, ok := resolve(srcTerm, binding); ok {
		src, valid := v.AsId()
		if !valid {
			return nil, nil
		}
		for _, id := range walk(src, false) {
			if b, ok := bind(dstTerm, IdValue(id), binding); ok {
				results = append(results, b)
			}
		}
		return results, nil
	}
	if v, ok := resolve(dstTerm, binding); ok {
		dst, valid := v.AsId()
		if !valid {
			return nil, nil
		}
		for _, id := range walk(dst, true) {
			if b, ok := bind(srcTerm, IdValue(id), binding); ok {
				results = append(results, b)
			}
		}
		return results, nil
	}
	return nil, fmt.Errorf("path/4 needs a bound source or destination")
}

// bfsBackward walks incoming edges via the read interface.
func bfsBackward(engine graph.GraphStore, start storage.NodeID, maxDepth int, typeFilter []string) []storage.NodeID {
	return graph.BFS([]storage.NodeID{start}, maxDepth, func(id storage.NodeID) []storage.NodeID {
		edges := engine.GetIncomingEdges(id, typeFilter)
		out := make([]storage.NodeID, 0, len(edges))
		for i := range edges {
			out = append(out, edges[i].Src)
		}
		return out
	})
}

// evalRules expands user rules for the predicate.
func (ev *Evaluator) evalRules(atom Atom, binding Bindings, depth int) ([]Bindings, error) {
	rules, ok := ev.rules[atom.Predicate]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %s/%d", atom.Predicate, len(atom.Args))
	}
	if depth >= maxRuleDepth {
		return nil, nil // cut: recursive rules bottom out
	}

	var results []Bindings
	for _, rule := range rules {
		if len(rule.Head.Args) != len(atom.Args) {
			continue
		}
		renamed := ev.renameRule(rule)

		// unify call args with head args into a fresh rule-local binding
		ruleBinding := Bindings{}
		okAll := true
		for i, headArg := range renamed.Head.Args {
			callVal, bound := resolve(atom.Args[i], binding)
			if bound {
				ruleBinding, ok = bind(headArg, callVal, ruleBinding)
				if !ok {
					okAll = false
					break
				}
			}
		}
		if !okAll {
			continue
		}

		bodyResults, err := ev.evalConjunction(reorderLiterals(renamed.Body), ruleBinding, depth+1)
		if err != nil {
			return nil, err
		}
		for _, bodyBinding := range bodyResults {
			// project head values back onto the caller's terms
			out := binding
			projected := true
			for i, headArg := range renamed.Head.Args {
				headVal, bound := resolve(headArg, bodyBinding)
				if !bound {
					continue // unbound head var, caller term stays free
				}
				out, ok = bind(atom.Args[i], headVal, out)
				if !ok {
					projected = false
					break
				}
			}
			if projected {
				results = append(results, out)
			}
		}
	}
	return results, nil
}

// renameRule gives every variable a fresh name so recursive calls do
// not capture each other's bindings.
func (ev *Evaluator) renameRule(rule Rule) Rule {
	ev.renameCounter++
	suffix := "#" + strconv.Itoa(ev.renameCounter)
	renameTerm := func(t Term) Term {
		if t.IsVar && t.Value != "_" {
			return Var(t.Value + suffix)
		}
		return t
	}
	out := Rule{Head: Atom{Predicate: rule.Head.Predicate}}
	for _, a := range rule.Head.Args {
		out.Head.Args = append(out.Head.Args, renameTerm(a))
	}
	for _, lit := range rule.Body {
		renamed := Literal{Negated: lit.Negated, Atom: Atom{Predicate: lit.Atom.Predicate}}
		for _, a := range lit.Atom.Args {
			renamed.Atom.Args = append(renamed.Atom.Args, renameTerm(a))
		}
		out.Body = append(out.Body, renamed)
	}
	return out
}

// reorderLiterals moves literals with more constants first so the
// cheap, selective ones bind variables before the expensive scans.
// Negated literals go last: they only filter.
func reorderLiterals(literals []Literal) []Literal {
	out := append([]Literal{}, literals...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Negated != out[j].Negated {
			return !out[i].Negated
		}
		return literalConstCount(out[i]) > literalConstCount(out[j])
	})
	return out
}

func literalConstCount(l Literal) int {
	n := 0
	for _, t := range l.Atom.Args {
		if !t.IsVar {
			n++
		}
	}
	return n
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
