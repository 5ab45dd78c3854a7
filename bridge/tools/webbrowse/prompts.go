package webbrowse

import (
	"encoding/json"
	"fmt"
	"strings"

	bridge "github.com/StarfleetAI/bridge-common"
)

// abilities lists the page-interaction tools offered on a normal turn.
// Invented: the original's Ability::for_fn calls are ported faithfully,
// but the descriptions and parameter schemas below are written fresh
// since Ability itself only carries a name and an OpenAPI-ish JSON blob.
func abilities() []bridge.ToolDefinition {
	return []bridge.ToolDefinition{
		{
			Name:        "scroll_down",
			Description: "Scroll one page down",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "goto",
			Description: "Go to URL",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {
						"type": "string",
						"description": "URL to navigate to"
					}
				},
				"required": ["url"]
			}`),
		},
		{
			Name:        "send_keys",
			Description: "Type text into an element",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {
						"type": "integer",
						"description": "Element ID to type into"
					},
					"text": {
						"type": "string",
						"description": "Text to type"
					}
				},
				"required": ["id", "text"]
			}`),
		},
		{
			Name:        "click",
			Description: "Click an element",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {
						"type": "integer",
						"description": "Element ID to click"
					}
				},
				"required": ["id"]
			}`),
		},
		{
			Name:        "append_notebook",
			Description: "Append text to notebook",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {
						"type": "string",
						"description": "Text to append to notebook"
					}
				},
				"required": ["text"]
			}`),
		},
		{
			Name:        "clear_notebook",
			Description: "Clear notebook",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

// selfReflectionAbilities lists the terminal-control tools offered on a
// self-reflection turn.
func selfReflectionAbilities() []bridge.ToolDefinition {
	return []bridge.ToolDefinition{
		{
			Name:        "done",
			Description: "Mark current objective as complete",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "fail",
			Description: "Mark current objective as failed",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"reason": {
						"type": "string",
						"description": "Reason for failure"
					}
				},
				"required": ["reason"]
			}`),
		},
	}
}

// selfReflectionPrompt asks the model to judge progress against objective
// using only the terminal-control abilities. Invented: the original
// renders this from an empty-field Askama template not present in the
// retrieved source tree.
const selfReflectionPrompt = `Look back at what you just did. If the objective has been fully achieved, call done. If it cannot be achieved, call fail and explain why. Otherwise say nothing further this turn and keep working.`

// systemMessageContent frames the objective and the running notebook for
// the model. Invented: the original renders this from
// web_browsing/system_message.md, not present in the retrieved source
// tree.
func systemMessageContent(objective, notebook string) string {
	var b strings.Builder
	b.WriteString("You are browsing the web on behalf of a task with the following objective:\n\n")
	b.WriteString(objective)
	b.WriteString("\n\nUse the available tools to navigate pages, read their content, and interact with elements. ")
	b.WriteString("Record anything worth keeping in your notebook with append_notebook — it is the only thing that survives once a page is left.")
	if notebook != "" {
		b.WriteString("\n\n## Notebook\n\n")
		b.WriteString(notebook)
	}
	return b.String()
}

// viewportMessageContent describes the current page state: URL, scroll
// position, the elements visible in the viewport, and the navigation
// history so far. Invented: the original renders this from
// web_browsing/viewport_message.md, not present in the retrieved source
// tree.
func viewportMessageContent(currentURL string, scrollPosition int64, elementsJSON string, history []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Current page\n\nURL: %s\nScroll position: %d%%\n\n", currentURL, scrollPosition)
	b.WriteString("## Elements in viewport\n\n")
	b.WriteString(elementsJSON)
	if len(history) > 0 {
		b.WriteString("\n\n## History\n\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
	return b.String()
}
