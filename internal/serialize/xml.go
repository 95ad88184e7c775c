package serialize

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// EncodeXML renders the document tree as indented XML. Node properties
// become attributes, children become nested elements.
func EncodeXML(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := encodeNode(enc, n); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, p := range n.Props {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: p.Name}, Value: p.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := encodeNode(enc, child); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// DecodeXML parses XML produced by EncodeXML back into a document tree.
func DecodeXML(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *Node
	var stack []*Node
	for {
		token, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			n := NewNode(t.Name.Local)
			for _, attr := range t.Attr {
				n.Props = append(n.Props, Prop{Name: attr.Name.Local, Value: attr.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parse document: multiple roots")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse document: empty input")
	}
	return root, nil
}
