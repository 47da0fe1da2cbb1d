// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyvalues parses and writes Valve's text KeyValues format:
// tab-indented, double-quoted name/value pairs with brace-delimited
// nesting. Steam's backup descriptor (sku.sis) is a KeyValues
// document. Only the string-valued text dialect is supported — binary
// KeyValues files are out of scope.
package keyvalues

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Node is a single key in a KeyValues document. A node is either a
// leaf (Value holds the string) or an object (Children holds the
// subkeys in file order). The zero distinction is Children == nil.
type Node struct {
	Name     string
	Value    string
	Children []*Node
}

// IsObject reports whether the node holds subkeys rather than a
// string value.
func (n *Node) IsObject() bool {
	return n.Children != nil
}

// Child returns the first child with the given name, matched
// case-insensitively (Valve tools write keys in inconsistent case).
// Returns nil if absent or if n is a leaf.
func (n *Node) Child(name string) *Node {
	for _, child := range n.Children {
		if strings.EqualFold(child.Name, name) {
			return child
		}
	}
	return nil
}

// String returns the string value of the named child. It is an error
// if the child is missing or is an object.
func (n *Node) String(name string) (string, error) {
	child := n.Child(name)
	if child == nil {
		return "", fmt.Errorf("key %q: missing child %q", n.Name, name)
	}
	if child.IsObject() {
		return "", fmt.Errorf("key %q: child %q is an object, not a string", n.Name, name)
	}
	return child.Value, nil
}

// Uint32 returns the named child's value parsed as a base-10 uint32.
func (n *Node) Uint32(name string) (uint32, error) {
	text, err := n.String(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("key %q: child %q: %w", n.Name, name, err)
	}
	return uint32(value), nil
}

// Uint64 returns the named child's value parsed as a base-10 uint64.
func (n *Node) Uint64(name string) (uint64, error) {
	text, err := n.String(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q: child %q: %w", n.Name, name, err)
	}
	return value, nil
}

// IndexedStrings interprets the named child object as a Valve-style
// indexed list ("0", "1", ...) and returns the values in index order.
// The indices must be contiguous from zero.
func (n *Node) IndexedStrings(name string) ([]string, error) {
	child := n.Child(name)
	if child == nil {
		return nil, fmt.Errorf("key %q: missing child %q", n.Name, name)
	}
	if !child.IsObject() {
		return nil, fmt.Errorf("key %q: child %q is a string, not an indexed list", n.Name, name)
	}

	values := make([]string, len(child.Children))
	for expected, entry := range child.Children {
		index, err := strconv.Atoi(entry.Name)
		if err != nil || index != expected {
			return nil, fmt.Errorf("key %q: list %q: expected index %d, got %q",
				n.Name, name, expected, entry.Name)
		}
		if entry.IsObject() {
			return nil, fmt.Errorf("key %q: list %q entry %d is an object", n.Name, name, index)
		}
		values[index] = entry.Value
	}
	return values, nil
}

// ParseError reports a syntax problem with its byte offset and line.
type ParseError struct {
	Offset  int
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("keyvalues: line %d (offset %d): %s", e.Line, e.Offset, e.Message)
}

// Parse decodes a KeyValues document and returns its single top-level
// node. Whitespace between tokens is free-form: Valve's own writers
// disagree about tabs versus spaces, so the parser only requires that
// tokens are quoted strings, '{', or '}'.
func Parse(data []byte) (*Node, error) {
	p := &parser{data: data}
	p.skipSpace()
	top, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.data) {
		return nil, p.errorf("trailing data after top-level value")
	}
	return top, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) parseNode() (*Node, error) {
	name, err := p.parseString()
	if err != nil {
		return nil, err
	}
	node := &Node{Name: name}

	p.skipSpace()
	if p.pos >= len(p.data) {
		return nil, p.errorf("key %q has no value", name)
	}

	switch p.data[p.pos] {
	case '"':
		node.Value, err = p.parseString()
		if err != nil {
			return nil, err
		}
	case '{':
		p.pos++
		node.Children = []*Node{}
		for {
			p.skipSpace()
			if p.pos >= len(p.data) {
				return nil, p.errorf("unterminated object for key %q", name)
			}
			if p.data[p.pos] == '}' {
				p.pos++
				break
			}
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
	default:
		return nil, p.errorf("expected '\"' or '{' after key %q, got %q", name, p.data[p.pos])
	}

	return node, nil
}

// parseString reads a double-quoted string with the escape set that
// Valve's tier1 utlbuffer recognizes.
func (p *parser) parseString() (string, error) {
	if p.pos >= len(p.data) || p.data[p.pos] != '"' {
		return "", p.errorf("expected '\"'")
	}
	p.pos++

	var out []byte
	for p.pos < len(p.data) {
		ch := p.data[p.pos]
		switch ch {
		case '"':
			p.pos++
			return string(out), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.data) {
				return "", p.errorf("backslash at end of input")
			}
			escaped, ok := unescape(p.data[p.pos])
			if !ok {
				return "", p.errorf("bad escape sequence \\%c", p.data[p.pos])
			}
			out = append(out, escaped)
			p.pos++
		default:
			out = append(out, ch)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func unescape(ch byte) (byte, bool) {
	switch ch {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '"', '\\', '\'', '?':
		return ch, true
	}
	return 0, false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{
		Offset:  p.pos,
		Line:    bytes.Count(p.data[:min(p.pos, len(p.data))], []byte{'\n'}) + 1,
		Message: fmt.Sprintf(format, args...),
	}
}

// Encode writes the node as a tab-indented KeyValues document. The
// output parses back to an identical tree, which is what the fixture
// builders in tests rely on.
func (n *Node) Encode() []byte {
	var buf bytes.Buffer
	n.encode(&buf, 0)
	return buf.Bytes()
}

func (n *Node) encode(buf *bytes.Buffer, depth int) {
	indent := strings.Repeat("\t", depth)
	if !n.IsObject() {
		fmt.Fprintf(buf, "%s%s\t\t%s\n", indent, quote(n.Name), quote(n.Value))
		return
	}
	fmt.Fprintf(buf, "%s%s\n%s{\n", indent, quote(n.Name), indent)
	for _, child := range n.Children {
		child.encode(buf, depth+1)
	}
	fmt.Fprintf(buf, "%s}\n", indent)
}

func quote(s string) string {
	var out strings.Builder
	out.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '"':
			out.WriteString(`\"`)
		case '\\':
			out.WriteString(`\\`)
		case '\n':
			out.WriteString(`\n`)
		case '\t':
			out.WriteString(`\t`)
		default:
			out.WriteByte(ch)
		}
	}
	out.WriteByte('"')
	return out.String()
}
