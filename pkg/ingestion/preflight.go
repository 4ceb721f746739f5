// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// DesignPreflight syntax-checks design documents before they are submitted.
//
// A design that does not parse is still ingested (the knowledge base stores
// text, not JSON), but the run reports a warning so the author can fix it.
// JSON is parsed with the JavaScript grammar as a parenthesized expression,
// which accepts every valid JSON document. The tree is then checked against
// the JSON subset, so JavaScript-only syntax such as unquoted keys, trailing
// commas or comments is reported too.
type DesignPreflight struct {
	pool sync.Pool
}

// NewDesignPreflight creates a preflight checker.
func NewDesignPreflight() *DesignPreflight {
	p := &DesignPreflight{}
	p.pool.New = func() any {
		parser := sitter.NewParser()
		parser.SetLanguage(javascript.GetLanguage())
		return parser
	}
	return p
}

// Applies reports whether path is checked.
func (p *DesignPreflight) Applies(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Check returns a human-readable problem, or "" when content parses cleanly.
func (p *DesignPreflight) Check(ctx context.Context, content []byte) (string, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return "design document is empty", nil
	}

	parser, ok := p.pool.Get().(*sitter.Parser)
	if !ok {
		return "", fmt.Errorf("preflight: parser pool returned unexpected type")
	}
	defer p.pool.Put(parser)

	src := make([]byte, 0, len(content)+2)
	src = append(src, '(')
	src = append(src, content...)
	src = append(src, ')')

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return "", fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		if n, reason := jsonViolation(root, src); n != nil {
			return fmt.Sprintf("not valid JSON: %s near line %d", reason, n.StartPoint().Row+1), nil
		}
		return "", nil
	}

	count := countSyntaxErrors(root)
	first := firstSyntaxError(root)
	if first == nil {
		return fmt.Sprintf("%d syntax error(s)", count), nil
	}
	return fmt.Sprintf("%d syntax error(s), first near line %d", count, first.StartPoint().Row+1), nil
}

var (
	jsonString = regexp.MustCompile(`^"(?:[^"\\\x00-\x1f]|\\["\\/bfnrt]|\\u[0-9a-fA-F]{4})*"$`)
	jsonNumber = regexp.MustCompile(`^-?(?:0|[1-9][0-9]*)(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?$`)
)

// jsonViolation returns the first node of an error-free JavaScript tree that
// falls outside JSON, with a short reason. src is the parenthesized document.
func jsonViolation(root *sitter.Node, src []byte) (*sitter.Node, string) {
	if root.ChildCount() != 1 || root.Child(0).Type() != "expression_statement" {
		return root, "content outside the top-level value"
	}
	stmt := root.Child(0)
	expr := stmt.NamedChild(0)
	if stmt.NamedChildCount() != 1 || expr.Type() != "parenthesized_expression" ||
		expr.StartByte() != 0 || int(expr.EndByte()) != len(src) {
		return stmt, "content outside the top-level value"
	}

	var value *sitter.Node
	for i := 0; i < int(expr.NamedChildCount()); i++ {
		child := expr.NamedChild(i)
		if value != nil || child.Type() == "comment" {
			return child, describeNode(child)
		}
		value = child
	}
	if value == nil {
		return expr, "no value"
	}
	return valueViolation(value, src)
}

func valueViolation(n *sitter.Node, src []byte) (*sitter.Node, string) {
	switch n.Type() {
	case "true", "false", "null":
		return nil, ""
	case "string":
		return stringViolation(n, src)
	case "number", "unary_expression":
		if n.Type() == "unary_expression" && n.NamedChild(0).Type() != "number" {
			return n, describeNode(n)
		}
		if !jsonNumber.MatchString(n.Content(src)) {
			return n, "invalid number " + n.Content(src)
		}
		return nil, ""
	case "object":
		return containerViolation(n, src, "{", "}", pairViolation)
	case "array":
		return containerViolation(n, src, "[", "]", valueViolation)
	default:
		return n, describeNode(n)
	}
}

func stringViolation(n *sitter.Node, src []byte) (*sitter.Node, string) {
	text := n.Content(src)
	switch {
	case strings.HasPrefix(text, "'"):
		return n, "single-quoted string"
	case !jsonString.MatchString(text):
		return n, "invalid string escape or control character"
	}
	return nil, ""
}

func pairViolation(n *sitter.Node, src []byte) (*sitter.Node, string) {
	if n.Type() != "pair" {
		return n, describeNode(n)
	}
	key := n.ChildByFieldName("key")
	value := n.ChildByFieldName("value")
	if key == nil || value == nil {
		return n, "incomplete member"
	}
	if key.Type() != "string" {
		return key, "unquoted key"
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "comment" {
			return c, "comment"
		}
	}
	if bad, reason := stringViolation(key, src); bad != nil {
		return bad, reason
	}
	return valueViolation(value, src)
}

// containerViolation checks element separators and each element of an
// object or array.
func containerViolation(n *sitter.Node, src []byte, open, closing string,
	element func(*sitter.Node, []byte) (*sitter.Node, string)) (*sitter.Node, string) {
	prev := ""
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		t := c.Type()
		switch {
		case t == open:
		case t == ",":
			if prev == open || prev == "," {
				return c, "empty element"
			}
		case t == closing:
			if prev == "," {
				return c, "trailing comma"
			}
		case t == "comment":
			return c, "comment"
		default:
			if bad, reason := element(c, src); bad != nil {
				return bad, reason
			}
			t = "element"
		}
		prev = t
	}
	return nil, ""
}

func describeNode(n *sitter.Node) string {
	switch n.Type() {
	case "identifier":
		return "bare identifier"
	case "undefined":
		return "undefined"
	case "template_string":
		return "template string"
	case "comment":
		return "comment"
	}
	return strings.ReplaceAll(n.Type(), "_", " ") + " is not JSON"
}

func isSyntaxError(n *sitter.Node) bool {
	return n.Type() == "ERROR" || n.IsMissing()
}

// countSyntaxErrors counts ERROR and MISSING nodes.
func countSyntaxErrors(node *sitter.Node) int {
	count := 0
	if isSyntaxError(node) {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countSyntaxErrors(node.Child(i))
	}
	return count
}

func firstSyntaxError(node *sitter.Node) *sitter.Node {
	if isSyntaxError(node) {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstSyntaxError(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
