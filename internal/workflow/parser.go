// ABOUTME: Markdown workflow parser built on the goldmark AST.
// ABOUTME: Section headings and step annotations drive the extraction.

package workflow

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section headings recognized in workflow documents, compared
// case-insensitively.
const (
	sectionObjective = "objective"
	sectionInputs    = "required inputs"
	sectionSteps     = "execution steps"
	sectionOutputs   = "expected outputs"
	sectionEdgeCases = "edge cases"
	sectionLearning  = "learning loop"
)

// Library reads workflow definitions from a directory tree. Categories are
// subdirectories; a workflow's name is "<category>/<file>" without the .md
// extension, or just "<file>" at the top level.
type Library struct {
	dir    string
	md     goldmark.Markdown
	logger *slog.Logger
}

// NewLibrary opens a workflow library rooted at dir. Pass nil for the
// default logger.
func NewLibrary(dir string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		dir:    dir,
		md:     goldmark.New(),
		logger: logger.With("component", "workflow"),
	}
}

// List returns the workflow names under the given category, or every
// workflow when category is empty. Names come back sorted.
func (l *Library) List(category string) ([]string, error) {
	root := l.dir
	if category != "" {
		root = filepath.Join(l.dir, category)
	}

	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".md"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Load parses the named workflow from the library.
func (l *Library) Load(name string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, name+".md"))
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", name, err)
	}
	def, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", name, err)
	}
	def.Name = name
	return def, nil
}

// Parse extracts a Definition from markdown source.
func (l *Library) Parse(source []byte) (*Definition, error) {
	doc := l.md.Parser().Parse(text.NewReader(source))

	def := &Definition{}
	section := ""

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := nodeText(n, source)
			if n.Level == 1 {
				def.Title = title
				section = ""
				continue
			}
			section = strings.ToLower(strings.TrimSpace(title))
		case *ast.Paragraph:
			if section == sectionObjective {
				if def.Objective != "" {
					def.Objective += "\n"
				}
				def.Objective += nodeText(n, source)
			}
		case *ast.List:
			l.consumeList(def, section, n, source)
		}
	}

	def.RequiredTools = collectTools(def.Steps)
	return def, nil
}

// consumeList routes a top-level list into the current section.
func (l *Library) consumeList(def *Definition, section string, list *ast.List, source []byte) {
	switch section {
	case sectionSteps:
		for item := list.FirstChild(); item != nil; item = item.NextSibling() {
			def.Steps = append(def.Steps, parseStep(len(def.Steps)+1, item, source))
		}
	case sectionInputs:
		def.RequiredInputs = append(def.RequiredInputs, listItems(list, source)...)
	case sectionOutputs:
		def.ExpectedOutputs = append(def.ExpectedOutputs, listItems(list, source)...)
	case sectionEdgeCases:
		def.EdgeCases = append(def.EdgeCases, listItems(list, source)...)
	case sectionLearning:
		def.LearningNotes = append(def.LearningNotes, listItems(list, source)...)
	}
}

// parseStep builds one Step from a list item: its leading text is the
// description, nested "Tool:"/"Workflow:" bullets annotate it, and a fenced
// block becomes the code example.
func parseStep(number int, item ast.Node, source []byte) Step {
	step := Step{Number: number}

	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.TextBlock, *ast.Paragraph:
			if step.Description == "" {
				step.Description = nodeText(c, source)
			}
		case *ast.List:
			for sub := c.FirstChild(); sub != nil; sub = sub.NextSibling() {
				applyAnnotation(&step, firstLineText(sub, source))
				// A code example may hang off the annotation bullet.
				if code := findCode(sub, source); code != "" && step.CodeExample == "" {
					step.CodeExample = code
				}
			}
		case *ast.FencedCodeBlock:
			if step.CodeExample == "" {
				step.CodeExample = codeText(c, source)
			}
		}
	}
	return step
}

// applyAnnotation interprets a "Key: value" bullet under a step.
func applyAnnotation(step *Step, line string) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "tool":
		step.Tool = value
	case "workflow":
		step.WorkflowRef = value
	}
}

// collectTools gathers the unique tools named across steps, in first-use
// order.
func collectTools(steps []Step) []string {
	seen := make(map[string]bool)
	var tools []string
	for _, s := range steps {
		if s.Tool == "" || seen[s.Tool] {
			continue
		}
		seen[s.Tool] = true
		tools = append(tools, s.Tool)
	}
	return tools
}

// listItems extracts the first-line text of every item in a flat list.
func listItems(list *ast.List, source []byte) []string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		if s := firstLineText(item, source); s != "" {
			items = append(items, s)
		}
	}
	return items
}

// firstLineText returns the text of the item's leading block, ignoring any
// nested lists or code.
func firstLineText(item ast.Node, source []byte) string {
	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.TextBlock, *ast.Paragraph:
			return nodeText(child, source)
		}
	}
	return ""
}

// findCode returns the first fenced code block under the node, if any.
func findCode(node ast.Node, source []byte) string {
	var code string
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || code != "" {
			return ast.WalkContinue, nil
		}
		if fc, ok := n.(*ast.FencedCodeBlock); ok {
			code = codeText(fc, source)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return code
}

// codeText concatenates the raw lines of a fenced code block.
func codeText(fc *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	lines := fc.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// nodeText flattens the inline text under a node, skipping nested blocks.
func nodeText(node ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.List, *ast.FencedCodeBlock:
			if n != node {
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
