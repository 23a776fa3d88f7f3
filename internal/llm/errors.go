package llm

import "errors"

var (
	errEmptyResponse = errors.New("provider returned neither text nor tool calls")
	errEmptyToolName = errors.New("provider returned a tool call without a name")
)
