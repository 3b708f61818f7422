// Package recordfile converts between record vault files (YAML frontmatter
// plus Markdown body) and records.
package recordfile

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/tiwaz/internal/models"
)

// BodyField is the record field that holds the Markdown body.
const BodyField = "description"

// Result holds the output of parsing a record file.
type Result struct {
	Fields map[string]any
	Body   string
}

// Parse splits frontmatter from body. A file without frontmatter, or with
// frontmatter that is not valid YAML, is treated as body only.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)
	if fm == nil {
		fm = map[string]any{}
	}
	return &Result{Fields: fm, Body: body}, nil
}

// ToRecord parses data as the file of record name of type recordType.
// A non-empty body overrides any description given in frontmatter.
func ToRecord(recordType, name string, data []byte) (models.Record, error) {
	res, err := Parse(data)
	if err != nil {
		return models.Record{}, fmt.Errorf("recordfile: parse %s/%s: %w", recordType, name, err)
	}
	delete(res.Fields, "name")
	if body := strings.TrimSpace(res.Body); body != "" {
		res.Fields[BodyField] = body
	}
	return models.Record{
		Type:   recordType,
		Name:   name,
		Fields: res.Fields,
	}, nil
}

// Render produces the vault file for rec. The description field becomes
// the body; every other field goes to frontmatter.
func Render(rec models.Record) ([]byte, error) {
	fm := make(map[string]any, len(rec.Fields))
	var body string
	for k, v := range rec.Fields {
		if k == BodyField {
			if s, ok := v.(string); ok {
				body = s
				continue
			}
		}
		if k == "name" {
			continue
		}
		fm[k] = v
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	if len(fm) > 0 {
		out, err := yaml.Marshal(fm)
		if err != nil {
			return nil, fmt.Errorf("recordfile: render %s/%s: %w", rec.Type, rec.Name, err)
		}
		buf.Write(out)
	}
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString(strings.TrimRight(body, "\n"))
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	var yamlBlock, afterDelim []byte
	if bytes.HasPrefix(rest, []byte("\n"+delim)) {
		// Empty frontmatter block.
		afterDelim = rest[1+len(delim):]
	} else {
		idx := bytes.Index(rest, []byte("\n"+delim))
		if idx < 0 {
			return nil, string(data)
		}
		yamlBlock = rest[:idx]
		afterDelim = rest[idx+1+len(delim):]
	}
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	fm := map[string]any{}
	if len(bytes.TrimSpace(yamlBlock)) > 0 {
		if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
			return nil, string(data)
		}
	}
	return fm, body
}
