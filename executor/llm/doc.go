// Package llm provides model-backed Executor plug-ins.
//
// Scientific and engineering pipelines increasingly include "ask a model to
// draft/summarize/classify X" as one task type among many. These adapters
// let a workflow node's callable target Anthropic, OpenAI, or Google's
// Gemini API behind the same executor.Executor contract used by every
// other task, so the Scheduler and Task Runner never special-case them.
//
// Grounded in the teacher's graph/model/{anthropic,openai,google} chat
// adapters; rewired from LangGraph's model.ChatModel interface onto the
// dispatcher's executor.Executor contract. Each plug-in treats the node's
// executor.Callable.Payload as a single user-turn prompt. The Anthropic and
// OpenAI plug-ins read kwargs["system"] as an optional system prompt; the
// Google plug-in ignores kwargs, and none of them reads a temperature.
package llm
