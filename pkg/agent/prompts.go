package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luoluoluo22/ai-assistant/pkg/session"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

const basePrompt = `You are a capable AI assistant that helps users complete tasks.

Hard rules (always follow):
1. Only use results actually returned by tools. Never invent or guess information.
2. If a tool fails, clearly tell the user why it failed.
3. If more information is needed, suggest what the user could try next.

Tool usage principles:
1. Only use tools when necessary. For greetings, small talk, or questions that need no lookup or action, answer directly.
2. Return at most one tool call per response.
3. If the task is already complete, return an empty array [].
4. If a step depends on the result of a previous step, say so in plain text; the system will re-plan with the observation included.
5. Parameter names must match the tool definition exactly.
6. Provide every required parameter.

Response format:
1. To use a tool, return a JSON array:
   [
     {
       "tool_name": "<name>",
       "parameters": {
         "<param>": "<value>"
       }
     }
   ]
2. If no tool is needed, answer in natural language.

Result handling:
1. Web search results: summarize the main content of each page, keep every source title and URL, order by relevance, and use markdown so links are clickable.
2. Knowledge base results: focus on the retrieved document content; when there are many results, point the user at the knowledge base web page.
3. Email results: show the key fields of each message; on failure, state the exact reason and suggest a next step.`

const summaryPrompt = `Now produce a summarizing answer from the user's original question and the tool results.

Answer requirements:
1. Use clear, plain language.
2. Answer the question directly; do not include process narration like "analyzing" or "execution plan".
3. If a tool failed, state the failure reason directly; never guess or invent a result.
4. If more information is needed, suggest what the user could try next.

Result handling:
1. Web search results: summarize the main content of each page, keep every source title and URL, order by relevance, and use markdown so links are clickable.
2. Knowledge base results: focus on the retrieved document content; when there are many results, point the user at the knowledge base web page.
3. Email results: show the key fields of each message; on failure, state the exact reason and suggest a next step.

Formatting:
1. Use markdown.
2. Highlight important information.
3. Put code and commands in code blocks.
4. Keep links clickable.
5. Use paragraphs and lists for readability.`

// SystemPrompt assembles the planning system prompt: base rules, the tool
// catalogue, and the routing rules.
func SystemPrompt(tools []toolregistry.Description, knowledgeWebURL string) string {
	parts := []string{
		basePrompt,
		toolCatalogue(tools),
		toolRules(knowledgeWebURL),
	}

	return strings.Join(parts, "\n\n")
}

// SummarySystemPrompt is the system prompt for the forced-summary completion
func SummarySystemPrompt() string {
	return summaryPrompt
}

func toolCatalogue(tools []toolregistry.Description) string {
	var sb strings.Builder
	sb.WriteString("Available tools:\n\n")

	for i, tool := range tools {
		fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, tool.Name, tool.Description)
		sb.WriteString("   Parameters:\n")
		for _, param := range tool.Parameters {
			requirement := "optional"
			if param.Required {
				requirement = "required"
			}
			fmt.Fprintf(&sb, "   - %s: %s (%s)\n", param.Name, param.Description, requirement)
			if len(param.Enum) > 0 {
				fmt.Fprintf(&sb, "     one of: %s\n", strings.Join(param.Enum, ", "))
			}
		}
		if i < len(tools)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func toolRules(knowledgeWebURL string) string {
	rules := `Tool routing rules:

1. Email operations:
   - Reading mail uses the list_emails action.
   - Deleting mail uses the delete_email action and needs a message_id.
   - Sending mail uses the send_email action and needs to, subject and body.

2. For search requests, prefer web search:
   - When the user message mentions web search or searching online.
   - When the user asks about news, recent developments or real-time information.
   Use the web_browser tool with the search_and_extract operation.

3. Knowledge base operations:
   - Searching knowledge uses the search operation.
   - Creating documents uses the create operation.
   - Updating documents uses the update operation.
   - Deleting documents uses the delete operation.`

	if knowledgeWebURL != "" {
		rules += fmt.Sprintf(`

4. Knowledge base web access:
   The knowledge base has a web interface at %s
   Offer this link when:
   - the user explicitly asks for the knowledge base page,
   - the user wants to browse all documents,
   - a search returned many results and the full set is easier to read on the page,
   - the user wants to manage knowledge base content visually.`, knowledgeWebURL)
	}

	return rules
}

// maxHistoryTurns caps how many prior turns the planning prompt carries.
// Older context ages out first.
const maxHistoryTurns = 20

// RenderHistory formats prior user and assistant turns as a conversation
// block for the planning prompt. Tool turns are skipped: their outcomes are
// already folded into the assistant answers that follow them.
func RenderHistory(turns []session.Turn) string {
	kept := make([]session.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		if turn.Role == session.RoleUser || turn.Role == session.RoleAssistant {
			kept = append(kept, turn)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	if len(kept) > maxHistoryTurns {
		kept = kept[len(kept)-maxHistoryTurns:]
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, turn := range kept {
		speaker := "User"
		if turn.Role == session.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, turn.Content)
	}

	return sb.String()
}

// BuildObservationPrompt rebuilds the planning user prompt each cycle: the
// conversation so far, the current question, the tools already executed and
// their observations, and the instruction to either continue or answer.
func BuildObservationPrompt(history []session.Turn, userMessage string, steps []Step) string {
	conversation := RenderHistory(history)
	if conversation == "" && len(steps) == 0 {
		return userMessage
	}

	var sb strings.Builder
	if conversation != "" {
		sb.WriteString(conversation)
		sb.WriteString("\nCurrent message:\n")
	}
	sb.WriteString(userMessage)

	for _, step := range steps {
		callJSON, err := json.Marshal(step.Call)
		if err != nil {
			callJSON = []byte(step.Call.Name)
		}
		fmt.Fprintf(&sb, "\n\nExecuted tool:\n%s\n\nResult:\n%s", callJSON, step.Result.Output)
	}

	if len(steps) > 0 {
		sb.WriteString("\n\nContinue answering or run the next tool based on the results above. If the task is complete, answer directly without calling a tool.")
	}

	return sb.String()
}

// BuildSummaryPrompt builds the user prompt for the forced-summary call
func BuildSummaryPrompt(userMessage string, steps []Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User question: %s\n\n", userMessage)

	if len(steps) == 0 {
		sb.WriteString("No tools were executed.\n")
		return sb.String()
	}

	sb.WriteString("Tool results:\n")
	for _, step := range steps {
		output := step.Result.Output
		if len(output) > maxSummaryResultChars {
			output = output[:maxSummaryResultChars] + "... (truncated)"
		}
		fmt.Fprintf(&sb, "\n[%s] status=%s\n%s\n", step.Call.Name, step.Result.Status, output)
	}

	return sb.String()
}

const maxSummaryResultChars = 10000
