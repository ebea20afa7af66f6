package llm

import "strings"

// collect drains a stream of Events into a single Result, accumulating text
// tokens and completed tool calls. It is shared by every provider's Complete
// implementation, which is defined in terms of Stream.
func collect(events <-chan *Event) (*Result, error) {
	var text strings.Builder
	var calls []ToolCall
	result := &Result{}

	for event := range events {
		switch event.Type {
		case EventToken:
			text.WriteString(event.Token)
		case EventToolCallEnd:
			if event.ToolCall != nil {
				calls = append(calls, *event.ToolCall)
			}
		case EventDone:
			result.Usage = event.Usage
			result.StopReason = event.StopReason
		case EventError:
			return nil, event.Err
		}
	}

	result.Content = text.String()
	result.ToolCalls = calls
	if result.StopReason == "" {
		if len(calls) > 0 {
			result.StopReason = StopToolUse
		} else {
			result.StopReason = StopEndTurn
		}
	}
	return result, nil
}
