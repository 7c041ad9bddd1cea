package rules

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/activator/pkg/pattern"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

const ruleFileExt = ".md"

// Header is the frontmatter of a rule document
type Header struct {
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Paths       []string `mapstructure:"paths"`
	Globs       []string `mapstructure:"globs"`
	Order       *int     `mapstructure:"order"`
}

// Loader reads rule documents from files and assigns registration order in
// the order they are read.
type Loader struct {
	next int
	docs []*Document
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDir loads every markdown file below dir in lexical path order. IDs are
// the slash separated path relative to dir without the extension. Every
// failing file is reported; nothing is added when any file fails.
func (l *Loader) LoadDir(dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ruleFileExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to read rule directory %s", dir)
	}
	sort.Strings(files)

	var result *multierror.Error
	docs := make([]*Document, 0, len(files))
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		id := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))

		doc, err := readDocument(id, path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		docs = append(docs, doc)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	l.add(docs...)
	return nil
}

// LoadFile loads a single rule file. The ID defaults to the file name without
// its extension.
func (l *Loader) LoadFile(path string) error {
	base := filepath.Base(path)
	doc, err := readDocument(strings.TrimSuffix(base, filepath.Ext(base)), path)
	if err != nil {
		return err
	}
	l.add(doc)
	return nil
}

// Add appends already constructed documents, assigning them the next
// registration orders.
func (l *Loader) Add(docs ...*Document) {
	l.add(docs...)
}

func (l *Loader) add(docs ...*Document) {
	for _, d := range docs {
		if !d.fixedOrder {
			d.Order = l.next
		}
		l.next++
		l.docs = append(l.docs, d)
	}
}

// Documents returns the documents loaded so far in registration order
func (l *Loader) Documents() []*Document {
	return l.docs
}

func readDocument(id, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule file %s", path)
	}
	return Parse(id, path, content)
}

// Parse builds a document from markdown content with optional YAML
// frontmatter. A `paths` (or `globs`) key makes the document scoped; without
// it the document is common. The frontmatter `name` overrides id.
func Parse(id, source string, content []byte) (*Document, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, &ValidationError{ID: id, Source: source, Err: errors.Wrap(err, "failed to parse markdown")}
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, &ValidationError{ID: id, Source: source, Err: errors.Wrap(err, "invalid frontmatter")}
	}

	header, err := decodeHeader(metaData)
	if err != nil {
		return nil, &ValidationError{ID: id, Source: source, Err: err}
	}

	doc := &Document{
		ID:      id,
		Scope:   ScopeCommon,
		Payload: extractBodyContent(string(content)),
		Source:  source,
	}
	if header.Name != "" {
		doc.ID = header.Name
	}
	if header.Order != nil {
		doc.Order = *header.Order
		doc.fixedOrder = true
	}

	_, hasPaths := metaData["paths"]
	_, hasGlobs := metaData["globs"]
	if hasPaths || hasGlobs {
		doc.Scope = ScopeScoped
		for _, p := range append(header.Paths, header.Globs...) {
			doc.Patterns = append(doc.Patterns, strings.TrimSpace(p))
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeHeader(metaData map[string]interface{}) (Header, error) {
	var header Header
	if len(metaData) == 0 {
		return header, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &header,
		WeaklyTypedInput: true,
		DecodeHook:       patternListHook,
	})
	if err != nil {
		return header, errors.Wrap(err, "failed to create header decoder")
	}
	if err := decoder.Decode(metaData); err != nil {
		return header, errors.Wrap(err, "invalid rule header")
	}
	return header, nil
}

// patternListHook accepts `paths: "a, b"` as well as a YAML list. Commas
// inside brace alternations do not separate patterns.
func patternListHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
		return data, nil
	}
	return pattern.SplitList(reflect.ValueOf(data).String()), nil
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}
