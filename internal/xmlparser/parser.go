// =============================================================================
// CFDI Control - XML Field Mapper
// =============================================================================
//
// This module extracts a fixed set of named values from CFDI XML documents
// using the declarative FieldMapping table. Each mapping entry is either:
//
//   - "prefix:Element/@Attribute" : read an attribute of an element
//   - "prefix:Element"            : read the element's text content
//
// Element paths are relative to the document root, except that a path equal
// to the root element's own name selects the root itself. A missing element
// or attribute yields "" for that one field; it is never an error.
//
// A document only fails when it cannot be opened, is not well-formed XML,
// has no root element or content beside it, or its root is not the expected element in one of
// the namespaces declared for its prefix.
//
// =============================================================================

package xmlparser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/logging"
	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// =============================================================================
// MAPPER
// =============================================================================

// Mapper applies one FieldMapping to source documents. It is safe for
// concurrent use: the compiled expressions are read-only after New.
type Mapper struct {
	mapping config.FieldMapping
	root    qname
	fields  []compiledField

	// maxConcurrency bounds ExtractMany's worker pool.
	maxConcurrency int

	log logrus.FieldLogger
}

// qname is a parsed "prefix:Local" name with the namespace URIs its
// prefix stands for.
type qname struct {
	prefix string
	local  string
	uris   []string
}

// compiledField is a mapping entry with its element path precompiled.
type compiledField struct {
	column types.ColumnID
	path   string

	// attr is the attribute to read; empty means element text.
	attr string

	// isRoot selects the root element itself.
	isRoot bool

	// expr selects the element relative to the root. Nil when isRoot.
	expr *xpath.Expr
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithMaxConcurrency sets the number of documents parsed in parallel by
// ExtractMany. Values below 1 mean sequential.
func WithMaxConcurrency(n int) Option {
	return func(m *Mapper) {
		if n < 1 {
			n = 1
		}
		m.maxConcurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Mapper) {
		m.log = logging.OrDiscard(log)
	}
}

// New validates mapping and compiles one XPath expression per element path.
//
// PARAMETERS:
//   - mapping: The field mapping. It is copied; later changes by the
//     caller do not affect the Mapper.
//   - opts: Optional settings.
//
// RETURNS:
//   - The Mapper.
//   - An error if the mapping is invalid.
func New(mapping config.FieldMapping, opts ...Option) (*Mapper, error) {
	if err := mapping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field mapping: %w", err)
	}

	m := &Mapper{
		mapping:        mapping.Clone(),
		maxConcurrency: 1,
		log:            logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.root = m.parseQName(m.mapping.Root)

	for _, entry := range m.mapping.Entries {
		field, err := m.compile(entry)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", entry.Path, err)
		}
		m.fields = append(m.fields, field)
	}

	return m, nil
}

// compile turns one mapping entry into a compiledField.
func (m *Mapper) compile(entry config.MappingEntry) (compiledField, error) {
	elementPath, attr, _ := strings.Cut(entry.Path, "/@")
	field := compiledField{
		column: entry.Column,
		path:   entry.Path,
		attr:   attr,
	}

	if elementPath == m.mapping.Root {
		field.isRoot = true
		return field, nil
	}

	segments := strings.Split(elementPath, "/")
	steps := make([]string, 0, len(segments))
	for _, seg := range segments {
		steps = append(steps, elementStep(m.parseQName(seg)))
	}

	expr, err := xpath.Compile(strings.Join(steps, "/"))
	if err != nil {
		return compiledField{}, err
	}
	field.expr = expr
	return field, nil
}

func (m *Mapper) parseQName(name string) qname {
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return qname{local: name}
	}
	return qname{prefix: prefix, local: local, uris: m.mapping.Namespaces[prefix]}
}

// elementStep builds a child-axis step that matches by local name and
// namespace URI, so the prefix used inside the document does not matter.
func elementStep(q qname) string {
	test := fmt.Sprintf("local-name()='%s'", q.local)
	if q.prefix == "" {
		return fmt.Sprintf("*[%s and namespace-uri()='']", test)
	}
	ns := make([]string, 0, len(q.uris))
	for _, uri := range q.uris {
		ns = append(ns, fmt.Sprintf("namespace-uri()='%s'", uri))
	}
	return fmt.Sprintf("*[%s and (%s)]", test, strings.Join(ns, " or "))
}

// =============================================================================
// SINGLE DOCUMENT EXTRACTION
// =============================================================================

// utf8BOM is stripped before parsing; some CFDI generators emit it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extract parses one document and applies every mapping entry.
//
// PARAMETERS:
//   - path: The path to the XML document.
//
// RETURNS:
//   - The RawRecord, with "" for every field that could not be found.
//   - A KindDocumentParse error if the document is unusable as a whole.
func (m *Mapper) Extract(path string) (types.RawRecord, error) {
	root, err := m.loadRoot(path)
	if err != nil {
		m.log.WithField("file", path).WithError(err).Warn("failed to parse CFDI document")
		return types.RawRecord{}, err
	}

	fields := make(map[types.ColumnID]string, len(m.fields))
	for _, f := range m.fields {
		fields[f.column] = f.extract(root)
	}

	m.log.WithField("file", path).Debug("parsed CFDI document")
	return types.NewRawRecord(fields, path, filepath.Base(path)), nil
}

// extract reads one field from the root element.
func (f compiledField) extract(root *xmlquery.Node) string {
	node := root
	if !f.isRoot {
		node = xmlquery.QuerySelector(root, f.expr)
	}
	if node == nil {
		return ""
	}
	if f.attr != "" {
		return node.SelectAttr(f.attr)
	}
	return node.InnerText()
}

// loadRoot reads, parses and checks the document root.
func (m *Mapper) loadRoot(path string) (*xmlquery.Node, error) {
	fail := func(err error) error {
		return types.NewOpError("xmlparser.extract", types.KindDocumentParse, path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fail(fmt.Errorf("failed to open document: %w", err))
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fail(fmt.Errorf("malformed XML: %w", err))
	}

	root := rootElement(doc)
	if root == nil {
		return nil, fail(errors.New("malformed XML: no root element"))
	}
	if strayTopLevelContent(doc, root) {
		return nil, fail(errors.New("malformed XML: content outside the root element"))
	}
	if !m.isExpectedRoot(root) {
		return nil, fail(fmt.Errorf("unexpected root element {%s}%s, want %s", root.NamespaceURI, root.Data, m.mapping.Root))
	}

	return root, nil
}

// rootElement returns the first element child of the document node.
func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// strayTopLevelContent reports whether the document holds a second element
// or non-blank text next to root. Comments and processing instructions are
// allowed there.
func strayTopLevelContent(doc, root *xmlquery.Node) bool {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n == root {
			continue
		}
		switch n.Type {
		case xmlquery.ElementNode:
			return true
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(n.Data) != "" {
				return true
			}
		}
	}
	return false
}

func (m *Mapper) isExpectedRoot(n *xmlquery.Node) bool {
	if n.Data != m.root.local {
		return false
	}
	if m.root.prefix == "" {
		return n.NamespaceURI == ""
	}
	for _, uri := range m.root.uris {
		if n.NamespaceURI == uri {
			return true
		}
	}
	return false
}

// ValidateStructure reports whether path is a well-formed document whose
// root is the expected CFDI element. It never returns field data.
func (m *Mapper) ValidateStructure(path string) bool {
	_, err := m.loadRoot(path)
	if err != nil {
		m.log.WithField("file", path).WithError(err).Debug("document is not a CFDI")
		return false
	}
	return true
}
