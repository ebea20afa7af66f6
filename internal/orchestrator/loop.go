package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ToolSchemaCatalog resolves an agent's configured tool names to the
// vendor-independent schemas the LLM needs for function calling.
type ToolSchemaCatalog interface {
	SchemasFor(toolNames []string) []llm.ToolSchema
}

// modeAnnouncement is emitted as an assistant-visible message when the loop
// changes an agent's mode mid-task, per step 7 of the task loop.
type modeAnnouncement struct {
	from, to models.AgentMode
}

func (a modeAnnouncement) text() string {
	return fmt.Sprintf("Switched from %s mode to %s mode.", a.from, a.to)
}

// runTask drives one task through the full agent loop: memory prepend, user
// message append, LLM/tool iteration, inline tool-call extraction, and final
// result recording. It mutates inst.History and task in place and returns
// only terminal errors — LLM/tool failures are captured onto task itself,
// per the documented failure semantics.
func (o *Orchestrator) runTask(ctx context.Context, inst *models.AgentInstance, task *models.Task) {
	if snippets := o.fetchMemorySnippets(ctx, inst.SessionID); len(snippets) > 0 {
		inst.History = append(inst.History, memoryContextMessage(snippets))
	}

	inst.History = append(inst.History, models.Message{
		Role:    models.RoleUser,
		Content: task.Message,
	})

	applyIntentSwitch(inst, task.Message)

	var announcements []modeAnnouncement
	if inst.PreviousMode != "" && inst.Mode != inst.PreviousMode {
		announcements = append(announcements, modeAnnouncement{from: inst.PreviousMode, to: inst.Mode})
	}

	finalContent, toolCalls, usage, err := o.iterate(ctx, inst, task)
	if err != nil {
		task.Status = models.TaskFailed
		task.Error = err.Error()
		task.UpdatedAt = time.Now()
		return
	}

	extracted, strippedContent := extractInlineToolCalls(finalContent)
	if len(extracted) > 0 {
		finalContent = strippedContent
		for _, call := range extracted {
			toolCalls = append(toolCalls, fromLLMToolCall(call))
		}
	}

	applyAutoRevert(inst, finalContent)

	for _, a := range announcements {
		finalContent = a.text() + "\n\n" + finalContent
	}

	inst.History = append(inst.History, models.Message{
		Role:    models.RoleAssistant,
		Content: finalContent,
	})

	task.Result = finalContent
	task.ToolCalls = toolCalls
	task.TokensUsed = usage
	task.Status = models.TaskCompleted
	task.UpdatedAt = time.Now()
}

// iterate runs the LLM-complete/tool-dispatch cycle until the assistant
// responds with no further tool calls, or MaxIterations is reached.
func (o *Orchestrator) iterate(ctx context.Context, inst *models.AgentInstance, task *models.Task) (string, []models.ToolCall, models.Usage, error) {
	var (
		allToolCalls []models.ToolCall
		totalUsage   models.Usage
	)

	for i := 0; i < o.config.MaxIterations; i++ {
		req := &llm.Request{
			Model:       inst.ModelID,
			Messages:    toLLMMessages(inst.History),
			Tools:       o.schema.SchemasFor(inst.ToolSet),
			MaxTokens:   4096,
			SessionID:   inst.SessionID,
			AgentID:     inst.AgentID,
			WorkspaceID: inst.WorkspaceID,
		}

		result, err := o.llm.Complete(ctx, req)
		if err != nil {
			return "", nil, totalUsage, fmt.Errorf("llm complete: %w", err)
		}
		totalUsage.Add(models.Usage{
			Input:  result.Usage.InputTokens,
			Output: result.Usage.OutputTokens,
			Total:  result.Usage.TotalTokens,
		})

		if len(result.ToolCalls) == 0 {
			return result.Content, allToolCalls, totalUsage, nil
		}

		assistantTurn := models.Message{Role: models.RoleAssistant, Content: result.Content}
		for _, c := range result.ToolCalls {
			assistantTurn.ToolCalls = append(assistantTurn.ToolCalls, fromLLMToolCall(c))
		}
		inst.History = append(inst.History, assistantTurn)

		var toolResults []models.ToolResult
		for _, c := range result.ToolCalls {
			call := fromLLMToolCall(c)
			allToolCalls = append(allToolCalls, call)

			res := o.tools.Dispatch(ctx, inst, call)
			toolResults = append(toolResults, models.ToolResult{
				ToolCallID: call.ID,
				Content:    string(res.JSON()),
				IsError:    !res.Success,
			})
		}
		inst.History = append(inst.History, models.Message{
			Role:        models.RoleTool,
			ToolResults: toolResults,
		})

		if i == o.config.MaxIterations-1 {
			return "", allToolCalls, totalUsage, fmt.Errorf("exceeded max iterations (%d)", o.config.MaxIterations)
		}
	}

	return "", allToolCalls, totalUsage, fmt.Errorf("exceeded max iterations (%d)", o.config.MaxIterations)
}

// fetchMemorySnippets retrieves recent long-term memory for sessionID. This
// step is always best effort: a retrieval failure is logged and otherwise
// ignored, never surfaced as a task failure.
func (o *Orchestrator) fetchMemorySnippets(ctx context.Context, sessionID string) []string {
	if o.memory == nil {
		return nil
	}
	snippets, err := o.memory.RecentSnippets(ctx, sessionID, o.config.MemorySnippetLimit)
	if err != nil {
		o.logger.Warn("memory snippet retrieval failed", "error", err, "session_id", sessionID)
		return nil
	}
	return snippets
}

func memoryContextMessage(snippets []string) models.Message {
	content := "Relevant memory:\n"
	for _, s := range snippets {
		content += "- " + s + "\n"
	}
	return models.Message{Role: models.RoleSystem, Content: content}
}
