package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Kind identifies the shape held by a Node.
type Kind int

const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindText
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Node is one value of a decoded JSON document. The zero Node is absent.
type Node struct {
	kind   Kind
	flag   bool
	number json.Number
	text   string
	fields map[string]Node
	items  []Node
}

// ErrTrailingData is returned when a document carries bytes after its first value.
var ErrTrailingData = errors.New("payload: trailing data after document")

// Parse decodes a JSON document into a Node tree. Numbers keep their literal text.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Node{}, fmt.Errorf("payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Node{}, ErrTrailingData
	}
	return FromValue(raw), nil
}

// FromValue converts a value produced by encoding/json (or built by hand) into a Node.
// Unsupported Go types become absent.
func FromValue(v any) Node {
	switch value := v.(type) {
	case nil:
		return Node{kind: KindNull}
	case Node:
		return value
	case bool:
		return Node{kind: KindBool, flag: value}
	case json.Number:
		return Node{kind: KindNumber, number: value}
	case float64:
		return Node{kind: KindNumber, number: json.Number(strconv.FormatFloat(value, 'g', -1, 64))}
	case float32:
		return Node{kind: KindNumber, number: json.Number(strconv.FormatFloat(float64(value), 'g', -1, 32))}
	case int:
		return Node{kind: KindNumber, number: json.Number(strconv.Itoa(value))}
	case int64:
		return Node{kind: KindNumber, number: json.Number(strconv.FormatInt(value, 10))}
	case string:
		return Node{kind: KindText, text: value}
	case map[string]any:
		fields := make(map[string]Node, len(value))
		for key, item := range value {
			fields[key] = FromValue(item)
		}
		return Node{kind: KindObject, fields: fields}
	case []any:
		items := make([]Node, 0, len(value))
		for _, item := range value {
			items = append(items, FromValue(item))
		}
		return Node{kind: KindArray, items: items}
	default:
		return Node{}
	}
}

// Kind reports the node's shape.
func (n Node) Kind() Kind { return n.kind }

// IsAbsent reports whether the node was not present in the document.
func (n Node) IsAbsent() bool { return n.kind == KindAbsent }

// IsObject reports whether the node is a JSON object.
func (n Node) IsObject() bool { return n.kind == KindObject }

// Present reports whether the node carries a non-null value.
func (n Node) Present() bool { return n.kind != KindAbsent && n.kind != KindNull }

// Get returns the member named key, or an absent node when n is not an object
// or has no such member.
func (n Node) Get(key string) Node {
	if n.kind != KindObject {
		return Node{}
	}
	return n.fields[key]
}

// Path walks nested objects key by key.
func (n Node) Path(keys ...string) Node {
	current := n
	for _, key := range keys {
		current = current.Get(key)
		if current.kind == KindAbsent {
			return current
		}
	}
	return current
}

// Index returns the i-th array element, or an absent node.
func (n Node) Index(i int) Node {
	if n.kind != KindArray || i < 0 || i >= len(n.items) {
		return Node{}
	}
	return n.items[i]
}

// Len returns the number of array elements or object members.
func (n Node) Len() int {
	switch n.kind {
	case KindArray:
		return len(n.items)
	case KindObject:
		return len(n.fields)
	default:
		return 0
	}
}

// Text returns the string value when n is text.
func (n Node) Text() (string, bool) {
	if n.kind != KindText {
		return "", false
	}
	return n.text, true
}

// Number returns the literal number when n is numeric.
func (n Node) Number() (json.Number, bool) {
	if n.kind != KindNumber {
		return "", false
	}
	return n.number, true
}

// Bool returns the boolean value when n is a bool.
func (n Node) Bool() (bool, bool) {
	if n.kind != KindBool {
		return false, false
	}
	return n.flag, true
}

// Keys lists object member names in sorted order.
func (n Node) Keys() []string {
	if n.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(n.fields))
	for key := range n.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts the node back into plain Go values.
func (n Node) Interface() any {
	switch n.kind {
	case KindBool:
		return n.flag
	case KindNumber:
		return n.number
	case KindText:
		return n.text
	case KindObject:
		out := make(map[string]any, len(n.fields))
		for key, item := range n.fields {
			if item.kind == KindAbsent {
				continue
			}
			out[key] = item.Interface()
		}
		return out
	case KindArray:
		out := make([]any, 0, len(n.items))
		for _, item := range n.items {
			out = append(out, item.Interface())
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the node. Absent nodes encode as null.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Interface())
}

// UnmarshalJSON decodes a JSON value into the node.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
