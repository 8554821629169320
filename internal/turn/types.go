package turn

import "github.com/opencoder/agentshell/internal/agentmgr"

// ItemKind discriminates the two ordered-item payloads a UserMessage can
// carry.
type ItemKind string

const (
	ItemText  ItemKind = "text"
	ItemImage ItemKind = "image"
)

// Item is one ordered piece of a UserMessage's content.
type Item struct {
	Kind ItemKind
	Text string // ItemText
	Path string // ItemImage
	URL  string // ItemImage
}

// UserMessage is a single submit from the user.
type UserMessage struct {
	DisplayText         string
	OrderedItems        []Item
	SuppressPersistence bool
}

// OrderMeta is the provider's ordering envelope for an ingested event.
type OrderMeta struct {
	RequestOrdinal uint64
	OutputIndex    *int32
	SequenceNumber *uint64
}

// SubagentConfig describes a configured subagent a slash command can
// resolve to.
type SubagentConfig struct {
	Name     string
	Models   []string
	ReadOnly bool
}

// SubagentNotice echoes the resolved mode/agents/command for a
// synthesized subagent prompt.
type SubagentNotice struct {
	Command  string
	Models   []string
	ReadOnly bool
}

// agentCreateRequestFromSubagent builds the same AgentCreateRequest
// shape the Agent Tool Dispatcher would construct, so the synthesized
// prompt text matches what create_agent actually composes.
func agentCreateRequestFromSubagent(cfg SubagentConfig, task string) agentmgr.AgentCreateRequest {
	return agentmgr.AgentCreateRequest{
		Prompt:   task,
		ReadOnly: cfg.ReadOnly,
	}
}
