package recordfile

// FormatContract describes the record file layout for MCP clients that
// create or edit records.
const FormatContract = `# Record File Format

Each business record is one Markdown file in the record vault:

    <vault>/<Record Type>/<record name>.md

The directory name is the record type exactly as configured (for example
"Sales Order"). The file name is the record name, URL path-escaped, so a
name containing "/" is written as "%2F".

## Structure

` + "```" + `markdown
---
customer_name: Acme Corp
customer_group: Commercial
territory: Europe
contacts:
  - email: buyer@acme.test
  - email: ap@acme.test
---
Free-text notes about the record. Stored as the "description" field.
` + "```" + `

## Rules

1. Frontmatter keys are the record type's field names.
2. List values are child tables; they appear in record context as
   "(Contains a list of N items)".
3. The body, when present, replaces any "description" key in frontmatter.
4. Do not write a "name" key; the file name is the record name.
5. Encoding is UTF-8 with a trailing newline.
`
