package jira

import (
	"strings"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
)

// ADFToText flattens an Atlassian Document Format tree to plain text.
// Block nodes end with a newline; list items are prefixed with "- ".
func ADFToText(node *models.CommentNodeScheme) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	render(&b, node)
	return strings.TrimSpace(b.String())
}

func render(b *strings.Builder, node *models.CommentNodeScheme) {
	if node == nil {
		return
	}
	switch node.Type {
	case "text":
		b.WriteString(node.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "mention", "emoji":
		if t, ok := node.Attrs["text"].(string); ok {
			b.WriteString(t)
		}
	case "paragraph", "heading":
		renderChildren(b, node)
		b.WriteString("\n")
	case "listItem":
		b.WriteString("- ")
		renderChildren(b, node)
	case "codeBlock":
		renderChildren(b, node)
		b.WriteString("\n")
	case "rule":
		b.WriteString("\n")
	default:
		renderChildren(b, node)
	}
}

func renderChildren(b *strings.Builder, node *models.CommentNodeScheme) {
	for _, child := range node.Content {
		render(b, child)
	}
}
