package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const maxParseDepth = 512

var (
	undefinedRe     = regexp.MustCompile(`\bundefined\b`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Node is a parsed JSON value: *Object, Array or Scalar.
type Node interface {
	isNode()
}

type Field struct {
	Key   string
	Value Node
}

// Object keeps fields in source order so walks are deterministic.
type Object struct {
	Fields []Field
}

type Array []Node

// Scalar holds a string, json.Number, bool or nil.
type Scalar struct {
	Value any
}

func (*Object) isNode() {}
func (Array) isNode()   {}
func (Scalar) isNode()  {}

// Get returns the value of the first field named key.
func (o *Object) Get(key string) (Node, bool) {
	for _, f := range o.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// First returns the first of keys whose value is present and not null.
func (o *Object) First(keys ...string) (Node, bool) {
	for _, k := range keys {
		if v, ok := o.Get(k); ok && !IsNull(v) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first of keys holding a non-empty string or number.
func (o *Object) String(keys ...string) string {
	for _, k := range keys {
		if v, ok := o.Get(k); ok {
			if s, ok := AsString(v); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func IsNull(n Node) bool {
	s, ok := n.(Scalar)
	return n == nil || (ok && s.Value == nil)
}

// AsString renders string and number scalars as text.
func AsString(n Node) (string, bool) {
	s, ok := n.(Scalar)
	if !ok {
		return "", false
	}
	switch v := s.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// Parse decodes strict JSON into a Node tree.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decodeNode(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return n, nil
}

// ParseLenient parses raw strictly and, on failure, retries once after
// replacing bare undefined tokens with null and dropping trailing commas.
func ParseLenient(raw string) (Node, error) {
	n, err := Parse([]byte(raw))
	if err == nil {
		return n, nil
	}

	repaired := undefinedRe.ReplaceAllString(raw, "null")
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")

	n, retryErr := Parse([]byte(repaired))
	if retryErr != nil {
		return nil, fmt.Errorf("parse failed after repair: %w (strict: %v)", retryErr, err)
	}
	return n, nil
}

func decodeNode(dec *json.Decoder, depth int) (Node, error) {
	if depth > maxParseDepth {
		return nil, fmt.Errorf("nesting deeper than %d", maxParseDepth)
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return Scalar{Value: tok}, nil
	}

	switch delim {
	case '{':
		obj := &Object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T, not string", keyTok)
			}
			val, err := decodeNode(dec, depth+1)
			if err != nil {
				return nil, err
			}
			obj.Fields = append(obj.Fields, Field{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil

	case '[':
		arr := Array{}
		for dec.More() {
			val, err := decodeNode(dec, depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}

	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

// Walk visits root and its descendants depth-first in source order using an
// explicit stack. It stops after maxNodes visits when maxNodes > 0, or as soon
// as visit returns false.
func Walk(root Node, maxNodes int, visit func(Node) bool) {
	if root == nil {
		return
	}

	stack := []Node{root}
	visited := 0

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(n) {
			return
		}
		visited++
		if maxNodes > 0 && visited >= maxNodes {
			return
		}

		switch v := n.(type) {
		case *Object:
			for i := len(v.Fields) - 1; i >= 0; i-- {
				stack = append(stack, v.Fields[i].Value)
			}
		case Array:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, v[i])
			}
		}
	}
}
