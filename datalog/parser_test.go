package datalog

import (
	"testing"
)

func TestParseQuerySimple(t *testing.T) {
	literals, err := ParseQuery(`?- node(X, "FUNCTION", Name, File).`)
	if err != nil {
		t.Fatal(err)
	}
	if len(literals) != 1 {
		t.Fatalf("got %d literals, want 1", len(literals))
	}
	atom := literals[0].Atom
	if atom.Predicate != "node" {
		t.Fatalf("predicate %q", atom.Predicate)
	}
	if len(atom.Args) != 4 {
		t.Fatalf("args %d, want 4", len(atom.Args))
	}
	if !atom.Args[0].IsVar || atom.Args[0].Value != "X" {
		t.Fatalf("arg 0 = %+v", atom.Args[0])
	}
	if atom.Args[1].IsVar || atom.Args[1].Value != "FUNCTION" {
		t.Fatalf("arg 1 = %+v", atom.Args[1])
	}
}

func TestParseQueryConjunction(t *testing.T) {
	literals, err := ParseQuery(`edge(X, Y, "CALLS"), edge(Y, Z, "CALLS")`)
	if err != nil {
		t.Fatal(err)
	}
	if len(literals) != 2 {
		t.Fatalf("got %d literals, want 2", len(literals))
	}
	if literals[1].Atom.Args[0].Value != "Y" {
		t.Fatalf("second literal args = %+v", literals[1].Atom.Args)
	}
}

func TestParseQueryNegation(t *testing.T) {
	literals, err := ParseQuery(`node(X, "FUNCTION", N, F), not edge(X, Y, "CALLS")`)
	if err != nil {
		t.Fatal(err)
	}
	if literals[0].Negated || !literals[1].Negated {
		t.Fatalf("negation flags wrong: %+v", literals)
	}
}

func TestParseRule(t *testing.T) {
	rule, err := ParseRule(`calls(X, Y) :- edge(X, Y, "CALLS").`)
	if err != nil {
		t.Fatal(err)
	}
	if rule.Head.Predicate != "calls" || len(rule.Head.Args) != 2 {
		t.Fatalf("head = %+v", rule.Head)
	}
	if len(rule.Body) != 1 || rule.Body[0].Atom.Predicate != "edge" {
		t.Fatalf("body = %+v", rule.Body)
	}
}

func TestParseProgram(t *testing.T) {
	program, err := ParseProgram(`
		calls(X, Y) :- edge(X, Y, "CALLS").
		reach(X, Y) :- path(X, Y, "CALLS", 5).
		?- calls(A, B)
	`)
	if err != nil {
		t.Fatal(err)
	}
	if len(program.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(program.Rules))
	}
	if len(program.Query) != 1 || program.Query[0].Atom.Predicate != "calls" {
		t.Fatalf("query = %+v", program.Query)
	}
}

func TestParseNumbersAndLowercaseConstants(t *testing.T) {
	literals, err := ParseQuery(`path(X, Y, "CALLS", 3)`)
	if err != nil {
		t.Fatal(err)
	}
	args := literals[0].Atom.Args
	if args[3].IsVar || args[3].Value != "3" {
		t.Fatalf("number arg = %+v", args[3])
	}
	literals, err = ParseQuery(`edge(X, Y, calls)`)
	if err != nil {
		t.Fatal(err)
	}
	if literals[0].Atom.Args[2].IsVar || literals[0].Atom.Args[2].Value != "calls" {
		t.Fatalf("lowercase constant = %+v", literals[0].Atom.Args[2])
	}
}
