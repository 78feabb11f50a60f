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

// Package datalog evaluates Datalog queries against a graph engine.
// Built-in predicates expose the graph:
//
//	node(Id, Type, Name, File)
//	edge(Src, Dst, Type)
//	path(Src, Dst, Type, MaxDepth)
//
// User rules with conjunctive bodies extend them:
//
//	calls(X, Y) :- edge(X, Y, "CALLS").
//	reachable(X, Y) :- path(X, Y, "CALLS", 10).
package datalog

// Term is a variable or a constant. Variables start with an uppercase
// letter or underscore; everything else is a constant.
type Term struct {
	IsVar bool
	Value string
}

// Var creates a variable term.
func Var(name string) Term {
	return Term{IsVar: true, Value: name}
}

// Const creates a constant term.
func Const(value string) Term {
	return Term{Value: value}
}

// Atom is a predicate applied to terms.
type Atom struct {
	Predicate string
	Args      []Term
}

// Literal is an atom, possibly negated.
type Literal struct {
	Atom    Atom
	Negated bool
}

// Rule is "Head :- Body." — the head holds for every binding that
// satisfies the whole body conjunction.
type Rule struct {
	Head Atom
	Body []Literal
}

// Program is a parsed rule set plus the trailing query, if any.
type Program struct {
	Rules []Rule
	Query []Literal
}
