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
	"strconv"
	"strings"

	packrat "github.com/launix-de/go-packrat/v2"
)

// Grammar, packrat combinators over two terminal classes:
//
//	term     := string | number | identifier
//	atom     := identifier "(" term ("," term)* ")"
//	literal  := ["not"] atom
//	body     := literal ("," literal)*
//	rule     := atom ":-" body "."
//	query    := ["?-"] body ["."]
//	program  := (rule)* [query]
//
// Identifiers starting with an uppercase letter or "_" are variables,
// everything else is a constant. Namespaced edge/node types like
// "http:route" fit through identifiers or quoted strings.

type datalogGrammar struct {
	ident    packrat.Parser
	str      packrat.Parser
	number   packrat.Parser
	term     packrat.Parser
	termList packrat.Parser
	atom     packrat.Parser
	literal  packrat.Parser
	notKw    packrat.Parser
	body     packrat.Parser
	rule     packrat.Parser
	query    packrat.Parser
}

func newGrammar() *datalogGrammar {
	g := &datalogGrammar{}
	g.ident = packrat.NewRegexParser(`[A-Za-z_][A-Za-z0-9_:.*]*`, false, true)
	g.str = packrat.NewRegexParser(`"(?:[^"\\]|\\.)*"`, false, true)
	g.number = packrat.NewRegexParser(`[0-9]+`, false, true)
	g.term = packrat.NewOrParser(g.str, g.number, g.ident)
	g.termList = packrat.NewKleeneParser(g.term, packrat.NewAtomParser(",", false, true))
	g.atom = packrat.NewAndParser(
		g.ident,
		packrat.NewAtomParser("(", false, true),
		g.termList,
		packrat.NewAtomParser(")", false, true),
	)
	g.notKw = packrat.NewMaybeParser(packrat.NewAtomParser("not", false, true))
	g.literal = packrat.NewAndParser(g.notKw, g.atom)
	g.body = packrat.NewKleeneParser(g.literal, packrat.NewAtomParser(",", false, true))
	g.rule = packrat.NewAndParser(
		g.atom,
		packrat.NewAtomParser(":-", false, true),
		g.body,
		packrat.NewAtomParser(".", false, true),
	)
	g.query = packrat.NewAndParser(
		packrat.NewMaybeParser(packrat.NewAtomParser("?-", false, true)),
		g.body,
		packrat.NewMaybeParser(packrat.NewAtomParser(".", false, true)),
		packrat.NewEndParser(true),
	)
	return g
}

var grammar = newGrammar()

func (g *datalogGrammar) extractTerm(n *packrat.Node) Term {
	// Or node wraps the chosen alternative
	child := n
	if len(n.Children) == 1 && n.Parser == g.term {
		child = n.Children[0]
	}
	text := strings.TrimSpace(child.Matched)
	switch child.Parser {
	case g.str:
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			unquoted = strings.Trim(text, `"`)
		}
		return Const(unquoted)
	case g.number:
		return Const(text)
	default:
		if text != "" && (text[0] == '_' || (text[0] >= 'A' && text[0] <= 'Z')) {
			return Var(text)
		}
		return Const(text)
	}
}

func (g *datalogGrammar) extractAtom(n *packrat.Node) Atom {
	// And children: ident, "(", termList, ")"
	predicate := strings.TrimSpace(n.Children[0].Matched)
	var args []Term
	termList := n.Children[2]
	for i := 0; i < len(termList.Children); i += 2 {
		args = append(args, g.extractTerm(termList.Children[i]))
	}
	return Atom{Predicate: predicate, Args: args}
}

func (g *datalogGrammar) extractLiteral(n *packrat.Node) Literal {
	// And children: maybe-not, atom
	negated := len(n.Children[0].Children) > 0
	return Literal{Atom: g.extractAtom(n.Children[1]), Negated: negated}
}

func (g *datalogGrammar) extractBody(n *packrat.Node) []Literal {
	var out []Literal
	for i := 0; i < len(n.Children); i += 2 {
		out = append(out, g.extractLiteral(n.Children[i]))
	}
	return out
}

// ParseRule parses a single "head :- body." rule.
func ParseRule(input string) (*Rule, error) {
	scanner := packrat.NewScanner(input, packrat.SkipWhitespaceAndCommentsRegex)
	node, err := packrat.Parse(packrat.NewAndParser(grammar.rule, packrat.NewEndParser(true)), scanner)
	if err != nil {
		return nil, fmt.Errorf("datalog rule parse error: %w", err)
	}
	ruleNode := node.Children[0]
	rule := &Rule{
		Head: grammar.extractAtom(ruleNode.Children[0]),
		Body: grammar.extractBody(ruleNode.Children[2]),
	}
	return rule, nil
}

// ParseQuery parses a conjunctive query, with or without the leading
// "?-" and trailing ".".
func ParseQuery(input string) ([]Literal, error) {
	scanner := packrat.NewScanner(input, packrat.SkipWhitespaceAndCommentsRegex)
	node, err := packrat.Parse(grammar.query, scanner)
	if err != nil {
		return nil, fmt.Errorf("datalog query parse error: %w", err)
	}
	return grammar.extractBody(node.Children[1]), nil
}

// ParseProgram parses period-terminated rules followed by an optional
// query statement starting with "?-".
func ParseProgram(input string) (*Program, error) {
	program := &Program{}
	for _, stmt := range splitStatements(input) {
		if strings.HasPrefix(stmt, "?-") {
			query, err := ParseQuery(stmt)
			if err != nil {
				return nil, err
			}
			program.Query = query
			continue
		}
		if strings.Contains(stmt, ":-") {
			rule, err := ParseRule(stmt + ".")
			if err != nil {
				return nil, err
			}
			program.Rules = append(program.Rules, *rule)
			continue
		}
		query, err := ParseQuery(stmt)
		if err != nil {
			return nil, err
		}
		program.Query = query
	}
	return program, nil
}

// splitStatements splits on statement-final periods, leaving periods
// inside quoted strings alone.
func splitStatements(input string) []string {
	var out []string
	var sb strings.Builder
	inString := false
	escaped := false
	for _, r := range input {
		switch {
		case escaped:
			escaped = false
			sb.WriteRune(r)
		case r == '\\' && inString:
			escaped = true
			sb.WriteRune(r)
		case r == '"':
			inString = !inString
			sb.WriteRune(r)
		case r == '.' && !inString:
			stmt := strings.TrimSpace(sb.String())
			if stmt != "" {
				out = append(out, stmt)
			}
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if stmt := strings.TrimSpace(sb.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}
