// Package decode implements C6: the four response-body decoders, each
// normalizing a raw HTTP body into a list of decoded JSON-like records
// (map[string]interface{}).
package decode

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/flowbridge/connectkit/jsonpath"
)

// Decoder turns a raw response body into a list of records.
type Decoder interface {
	Decode(body []byte) ([]map[string]interface{}, error)
}

// JSON decodes a single JSON document, optionally navigating to
// records_path first. If the destination is an array its elements become
// the records; otherwise the destination itself is the sole record. A
// failed navigation yields an empty list, not an error.
type JSON struct {
	RecordsPath string
}

func (d JSON) Decode(body []byte) ([]map[string]interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding json body: %w", err)
	}

	var target = doc
	if d.RecordsPath != "" {
		v, ok := jsonpath.Extract(doc, d.RecordsPath)
		if !ok {
			return nil, nil
		}
		target = v
	}

	switch t := target.(type) {
	case []interface{}:
		var out = make([]map[string]interface{}, 0, len(t))
		for _, el := range t {
			if m, ok := el.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out, nil
	case map[string]interface{}:
		return []map[string]interface{}{t}, nil
	default:
		return nil, nil
	}
}

// JSONL decodes newline-delimited JSON objects, one per non-empty line.
type JSONL struct{}

func (JSONL) Decode(body []byte) ([]map[string]interface{}, error) {
	var lines = bytes.Split(body, []byte("\n"))
	var out = make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		var trimmed = bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("decoding jsonl line: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// CSV decodes delimited text into objects keyed by header row, or by
// positional col0, col1, ... when HasHeader is false.
type CSV struct {
	Delimiter string
	HasHeader bool
}

func (d CSV) Decode(body []byte) ([]map[string]interface{}, error) {
	var r = csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	if d.Delimiter != "" {
		r.Comma = []rune(d.Delimiter)[0]
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decoding csv body: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var headers []string
	var dataRows = rows
	if d.HasHeader {
		headers = rows[0]
		dataRows = rows[1:]
	} else {
		for i := range rows[0] {
			headers = append(headers, fmt.Sprintf("col%d", i))
		}
	}

	var out = make([]map[string]interface{}, 0, len(dataRows))
	for _, row := range dataRows {
		var rec = make(map[string]interface{}, len(headers))
		for i, v := range row {
			if i < len(headers) {
				rec[headers[i]] = v
			} else {
				rec[fmt.Sprintf("col%d", i)] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// XML locates element(s) at RecordsPath (a slash-separated element path
// from the document root) and projects each into a map via element-to-map
// projection: child elements become keys, attributes are prefixed with
// "@", and leaf text becomes the value.
type XML struct {
	RecordsPath string
}

func (d XML) Decode(body []byte) ([]map[string]interface{}, error) {
	var root xmlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("decoding xml body: %w", err)
	}

	var targets = []xmlNode{root}
	if d.RecordsPath != "" {
		targets = locateXML(root, strings.Split(d.RecordsPath, "/"))
	}

	var out = make([]map[string]interface{}, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.toMap())
	}
	return out, nil
}

// xmlNode is a generic XML element projection, grounded on the decode
// pattern XML-to-map libraries in the Go ecosystem use: capture attrs,
// content and children generically via xml.Name + recursive nodes.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n xmlNode) toMap() map[string]interface{} {
	var m = map[string]interface{}{}
	for _, a := range n.Attrs {
		m["@"+a.Name.Local] = a.Value
	}
	for _, c := range n.Children {
		if len(c.Children) == 0 && len(c.Attrs) == 0 {
			m[c.XMLName.Local] = strings.TrimSpace(c.Content)
		} else {
			m[c.XMLName.Local] = c.toMap()
		}
	}
	if len(n.Children) == 0 {
		if text := strings.TrimSpace(n.Content); text != "" {
			m["_text"] = text
		}
	}
	return m
}

func locateXML(n xmlNode, path []string) []xmlNode {
	if len(path) == 0 {
		return []xmlNode{n}
	}
	var matches []xmlNode
	for _, c := range n.Children {
		if c.XMLName.Local == path[0] {
			matches = append(matches, locateXML(c, path[1:])...)
		}
	}
	return matches
}
