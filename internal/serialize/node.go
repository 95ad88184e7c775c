// Package serialize persists a force descriptor as a versioned
// hierarchical document and reconstructs it exactly. The document is a
// tree of named nodes with ordered string properties; the XML codec in
// this package is one concrete rendering of that tree.
package serialize

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrMissingProperty = errors.New("missing document property")

// Prop is one named value on a node. Property order is preserved.
type Prop struct {
	Name  string
	Value string
}

// Node is one element of the document tree. Children keep insertion order;
// sequences in the descriptor (particle indices, inputs, parameters) rely
// on that.
type Node struct {
	Name     string
	Props    []Prop
	Children []*Node
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Child appends and returns a new child node.
func (n *Node) Child(name string) *Node {
	child := NewNode(name)
	n.Children = append(n.Children, child)
	return child
}

// Find returns the first child with the given name.
func (n *Node) Find(name string) (*Node, bool) {
	for _, child := range n.Children {
		if child.Name == name {
			return child, true
		}
	}
	return nil, false
}

func (n *Node) SetString(name, value string) *Node {
	for i, p := range n.Props {
		if p.Name == name {
			n.Props[i].Value = value
			return n
		}
	}
	n.Props = append(n.Props, Prop{Name: name, Value: value})
	return n
}

func (n *Node) SetInt(name string, value int) *Node {
	return n.SetString(name, strconv.Itoa(value))
}

func (n *Node) SetBool(name string, value bool) *Node {
	return n.SetString(name, strconv.FormatBool(value))
}

// SetFloat stores a float with just enough digits to round-trip exactly at
// the given bit size (32 for tensor values, 64 for parameter defaults).
func (n *Node) SetFloat(name string, value float64, bitSize int) *Node {
	return n.SetString(name, strconv.FormatFloat(value, 'g', -1, bitSize))
}

func (n *Node) GetString(name string) (string, error) {
	for _, p := range n.Props {
		if p.Name == name {
			return p.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", ErrMissingProperty, name, n.Name)
}

func (n *Node) GetInt(name string) (int, error) {
	s, err := n.GetString(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("property %s on %s: %w", name, n.Name, err)
	}
	return value, nil
}

func (n *Node) GetBool(name string) (bool, error) {
	s, err := n.GetString(name)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("property %s on %s: %w", name, n.Name, err)
	}
	return value, nil
}

func (n *Node) GetFloat(name string, bitSize int) (float64, error) {
	s, err := n.GetString(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(s, bitSize)
	if err != nil {
		return 0, fmt.Errorf("property %s on %s: %w", name, n.Name, err)
	}
	return value, nil
}
