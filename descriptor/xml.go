package descriptor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c360/labstream/errors"
)

// ToXML renders the descriptor in its canonical XML form: a root
// <info> element with one leaf per core and hosting field plus the
// <desc> subtree. This form is the descriptor wire format and the
// header format of recorded streams.
func (d *StreamDescriptor) ToXML() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	info := xml.StartElement{Name: xml.Name{Local: "info"}}
	if err := enc.EncodeToken(info); err != nil {
		return nil, errors.WrapInternal(err, "StreamDescriptor", "ToXML", "open root")
	}

	leaves := []struct {
		name  string
		value string
	}{
		{"name", d.name},
		{"type", d.streamType},
		{"channel_count", strconv.Itoa(d.channelCount)},
		{"nominal_srate", strconv.FormatFloat(d.nominalRate, 'f', -1, 64)},
		{"channel_format", d.format.String()},
		{"source_id", d.sourceID},
		{"version", strconv.Itoa(d.version)},
		{"created_at", strconv.FormatFloat(d.createdAt, 'f', 6, 64)},
		{"uid", d.uid},
		{"session_id", d.sessionID},
		{"hostname", d.hostname},
	}
	for _, leaf := range leaves {
		if err := encodeLeaf(enc, leaf.name, leaf.value); err != nil {
			return nil, errors.WrapInternal(err, "StreamDescriptor", "ToXML", "encode leaf")
		}
	}

	if err := encodeNode(enc, d.desc.Root()); err != nil {
		return nil, errors.WrapInternal(err, "StreamDescriptor", "ToXML", "encode desc tree")
	}

	if err := enc.EncodeToken(info.End()); err != nil {
		return nil, errors.WrapInternal(err, "StreamDescriptor", "ToXML", "close root")
	}
	if err := enc.Flush(); err != nil {
		return nil, errors.WrapInternal(err, "StreamDescriptor", "ToXML", "flush")
	}
	return buf.Bytes(), nil
}

func encodeLeaf(enc *xml.Encoder, name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if value != "" {
		if err := enc.EncodeToken(xml.CharData(value)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// encodeNode writes one tree node and its subtree.
func encodeNode(enc *xml.Encoder, n Node) error {
	if n.Empty() {
		return nil
	}
	if n.IsText() {
		return enc.EncodeToken(xml.CharData(n.Value()))
	}

	start := xml.StartElement{Name: xml.Name{Local: n.Name()}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for c := n.FirstChildAny(); !c.Empty(); c = c.NextSiblingAny() {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// FromXML parses the canonical XML form back into a descriptor,
// enforcing the same invariants as New.
func FromXML(data []byte) (*StreamDescriptor, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	// Find the root element.
	root, err := nextStart(dec)
	if err != nil {
		return nil, errors.WrapInvalid(err, "StreamDescriptor", "FromXML", "locate root")
	}
	if root.Name.Local != "info" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unexpected root element %q: %w", root.Name.Local, errors.ErrInvalidArgument),
			"StreamDescriptor", "FromXML", "root validation")
	}

	leaves := map[string]string{}
	var desc *DescriptionTree

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.WrapInvalid(err, "StreamDescriptor", "FromXML", "token scan")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "desc" {
				desc, err = decodeTree(dec, t)
				if err != nil {
					return nil, err
				}
				continue
			}
			value, err := decodeLeaf(dec, t)
			if err != nil {
				return nil, err
			}
			leaves[t.Name.Local] = value
		case xml.EndElement:
			if t.Name.Local == "info" {
				return buildDescriptor(leaves, desc)
			}
		}
	}
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// decodeLeaf consumes the content of a simple text element.
func decodeLeaf(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", errors.WrapInvalid(err, "StreamDescriptor", "FromXML", "leaf scan")
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return strings.TrimSpace(sb.String()), nil
			}
		case xml.StartElement:
			// Nested markup inside a core leaf is malformed; skip it
			// so the field keeps its flat text content.
			if err := dec.Skip(); err != nil {
				return "", errors.WrapInvalid(err, "StreamDescriptor", "FromXML", "leaf skip")
			}
		}
	}
}

// decodeTree consumes a <desc> subtree into a DescriptionTree.
func decodeTree(dec *xml.Decoder, start xml.StartElement) (*DescriptionTree, error) {
	tree := NewTree(start.Name.Local)
	stack := []Node{tree.Root()}

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, errors.WrapInvalid(
					fmt.Errorf("unterminated desc subtree: %w", errors.ErrInvalidArgument),
					"StreamDescriptor", "FromXML", "desc scan")
			}
			return nil, errors.WrapInvalid(err, "StreamDescriptor", "FromXML", "desc scan")
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, top.AppendChild(t.Name.Local))
		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" {
				top.AppendText(text)
			}
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return tree, nil
			}
		}
	}
}

func buildDescriptor(leaves map[string]string, desc *DescriptionTree) (*StreamDescriptor, error) {
	channelCount, err := strconv.Atoi(leaves["channel_count"])
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bad channel_count %q: %w", leaves["channel_count"], errors.ErrInvalidArgument),
			"StreamDescriptor", "FromXML", "channel count parse")
	}
	nominalRate, err := strconv.ParseFloat(leaves["nominal_srate"], 64)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bad nominal_srate %q: %w", leaves["nominal_srate"], errors.ErrInvalidArgument),
			"StreamDescriptor", "FromXML", "rate parse")
	}
	format, err := ParseChannelFormat(leaves["channel_format"])
	if err != nil {
		return nil, err
	}

	d, err := New(leaves["name"], leaves["type"], channelCount, nominalRate, format, leaves["source_id"])
	if err != nil {
		return nil, err
	}

	if v := leaves["version"]; v != "" {
		if d.version, err = strconv.Atoi(v); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("bad version %q: %w", v, errors.ErrInvalidArgument),
				"StreamDescriptor", "FromXML", "version parse")
		}
	}
	if v := leaves["created_at"]; v != "" {
		if d.createdAt, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("bad created_at %q: %w", v, errors.ErrInvalidArgument),
				"StreamDescriptor", "FromXML", "created_at parse")
		}
	}
	d.uid = leaves["uid"]
	d.sessionID = leaves["session_id"]
	d.hostname = leaves["hostname"]

	if desc != nil {
		d.desc = desc
	}
	return d, nil
}
