// Package codeblock extracts annotated fenced code blocks from assistant
// markdown, porting the original implementation's parse_code_blocks (which
// walked a Rust `markdown` crate AST) onto goldmark's AST.
package codeblock

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	xtext "golang.org/x/text/unicode/norm"
)

// Language classifies a fenced code block's info-string language tag.
type Language string

const (
	LanguageUnknown  Language = "Unknown"
	LanguageShell    Language = "Shell"
	LanguageMarkdown Language = "Markdown"
	LanguagePython   Language = "Python"
	LanguageOther    Language = "Other"
)

func languageFromTag(tag string) Language {
	switch strings.ToLower(tag) {
	case "sh", "shell":
		return LanguageShell
	case "markdown", "md":
		return LanguageMarkdown
	case "python":
		return LanguagePython
	default:
		return LanguageOther
	}
}

// Action is what the executor should do with an extracted CodeBlock.
type Action string

const (
	ActionDoNothing Action = "DoNothing"
	ActionExecute   Action = "Execute"
	ActionSave      Action = "Save"
)

// CodeBlock is one annotated fenced code block found in a document.
type CodeBlock struct {
	Code     string
	Language Language
	Filename string // only set when Action == ActionSave
	Action   Action
}

var md = goldmark.New()

// Extract walks the top-level nodes of text, matching a blockquote
// annotation (a single paragraph reading "execute" or "save: `filename`")
// immediately followed by a fenced code block. Unannotated code blocks are
// ignored. Extraction state resets after each fenced code block is
// consumed, so an annotation only ever applies to the block that follows
// it directly.
func Extract(text_ string) []CodeBlock {
	source := []byte(xtext.NFC.String(text_))
	doc := md.Parser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	var pending CodeBlock

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Blockquote:
			if action, filename, ok := matchAnnotation(node, source); ok {
				pending = CodeBlock{Action: action, Filename: filename}
			}
		case *ast.FencedCodeBlock:
			if pending.Action == ActionDoNothing {
				continue
			}
			pending.Code = fencedCodeBlockText(node, source)
			pending.Language = languageFromTag(string(node.Language(source)))
			blocks = append(blocks, pending)
			pending = CodeBlock{}
		default:
			// any other top-level node interrupts a pending annotation,
			// matching the original's strict "directly preceding" rule
			pending = CodeBlock{}
		}
	}

	return blocks
}

// matchAnnotation recognizes a blockquote with exactly one paragraph child
// reading "execute" (case-insensitive) or "save:" followed by an
// inline-code filename.
func matchAnnotation(bq *ast.Blockquote, source []byte) (Action, string, bool) {
	if bq.ChildCount() != 1 {
		return ActionDoNothing, "", false
	}
	para, ok := bq.FirstChild().(*ast.Paragraph)
	if !ok {
		return ActionDoNothing, "", false
	}

	children := inlineChildren(para)
	switch len(children) {
	case 1:
		textNode, ok := children[0].(*ast.Text)
		if !ok {
			return ActionDoNothing, "", false
		}
		if strings.TrimSpace(strings.ToLower(string(textNode.Segment.Value(source)))) != "execute" {
			return ActionDoNothing, "", false
		}
		return ActionExecute, "", true
	case 2:
		textNode, ok := children[0].(*ast.Text)
		if !ok {
			return ActionDoNothing, "", false
		}
		if strings.TrimSpace(strings.ToLower(string(textNode.Segment.Value(source)))) != "save:" {
			return ActionDoNothing, "", false
		}
		codeSpan, ok := children[1].(*ast.CodeSpan)
		if !ok {
			return ActionDoNothing, "", false
		}
		return ActionSave, codeSpanText(codeSpan, source), true
	default:
		return ActionDoNothing, "", false
	}
}

func inlineChildren(n ast.Node) []ast.Node {
	var out []ast.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, c)
	}
	return out
}

func codeSpanText(cs *ast.CodeSpan, source []byte) string {
	var sb strings.Builder
	for c := cs.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return sb.String()
}

func fencedCodeBlockText(fc *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	lines := fc.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String()
}
