// Package parser turns repository artifacts into normalized,
// deterministically-identified document chunks.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	firstH1Re = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// MarkdownDoc is a Markdown file prepared for chunking: frontmatter
// stripped, body split at heading boundaries.
type MarkdownDoc struct {
	Title    string
	Content  string
	Sections []Section
}

// Section is the content under one heading. Path carries the full
// heading trail so chunks keep their place in the document.
type Section struct {
	Level   int
	Heading string
	Path    string // e.g. "## Setup > ### Install"
	Content string
}

// ParseMarkdown splits a Markdown document into titled sections.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	frontmatter, body := splitFrontmatter(content)

	doc := &MarkdownDoc{
		Content:  body,
		Sections: splitSections(body),
	}
	doc.Title = documentTitle(frontmatter, body)
	return doc, nil
}

// splitFrontmatter separates a leading YAML frontmatter block from the
// body. Malformed YAML is treated as absent rather than failing the file.
func splitFrontmatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content
	}
	end := strings.Index(content[4:], "\n---")
	if end <= 0 {
		return nil, content
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(content[4:4+end]), &fm); err != nil {
		fm = nil
	}
	body := strings.TrimPrefix(content[4+end+4:], "\n")
	return fm, body
}

func documentTitle(fm map[string]any, body string) string {
	for _, key := range []string{"title", "name"} {
		if title, ok := fm[key].(string); ok && title != "" {
			return title
		}
	}
	if match := firstH1Re.FindStringSubmatch(body); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// splitSections walks the body line by line, opening a section at each
// heading and tracking the heading trail across nesting levels.
func splitSections(body string) []Section {
	var (
		sections []Section
		trail    []string
		levels   []int
		open     *Section
		buf      strings.Builder
	)

	closeOpen := func() {
		if open == nil {
			return
		}
		open.Content = strings.TrimSpace(buf.String())
		sections = append(sections, *open)
		open = nil
		buf.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		match := headingRe.FindStringSubmatch(line)
		if match == nil {
			if open != nil {
				buf.WriteString(line)
				buf.WriteString("\n")
			}
			continue
		}

		closeOpen()
		level := len(match[1])
		heading := strings.TrimSpace(match[2])

		// Pop siblings and deeper headings off the trail.
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			trail = trail[:len(trail)-1]
			levels = levels[:len(levels)-1]
		}
		trail = append(trail, match[1]+" "+heading)
		levels = append(levels, level)

		open = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(trail, " > "),
		}
	}
	closeOpen()

	return sections
}
