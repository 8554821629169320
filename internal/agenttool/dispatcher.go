// Package agenttool implements the Agent Tool Dispatcher: the JSON
// request/response surface the provider calls to create, poll, and
// cancel agents managed by the Agent Manager, with the Wait Coordinator
// behind its "wait" verb.
package agenttool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/opencoder/agentshell/internal/agentmgr"
	"github.com/opencoder/agentshell/internal/command"
	"github.com/opencoder/agentshell/internal/preview"
	"github.com/opencoder/agentshell/internal/wait"
)

// minPromptTokens is the minimum whitespace-separated token count a
// create task must carry.
const minPromptTokens = 4

// progressSpillThreshold is the progress line count past which the
// status verb spills to a file.
const progressSpillThreshold = 50

// Request is the AgentToolRequest envelope.
type Request struct {
	Action string      `json:"action"`
	Create *CreateSpec `json:"create,omitempty"`
	Status *IDSpec     `json:"status,omitempty"`
	Result *IDSpec     `json:"result,omitempty"`
	Cancel *CancelSpec `json:"cancel,omitempty"`
	Wait   *WaitSpec   `json:"wait,omitempty"`
	List   *ListSpec   `json:"list,omitempty"`
}

// CreateSpec is the create sub-object.
type CreateSpec struct {
	Task       string   `json:"task"`
	Models     []string `json:"models"`
	Context    string   `json:"context,omitempty"`
	OutputGoal string   `json:"output_goal,omitempty"`
	Files      []string `json:"files,omitempty"`
	Name       string   `json:"name,omitempty"`
	ReadOnly   *bool    `json:"read_only,omitempty"`
	Write      *bool    `json:"write,omitempty"`
	BatchID    string   `json:"batch_id,omitempty"`
}

// IDSpec covers status/result, which take just an agent id.
type IDSpec struct {
	AgentID string `json:"agent_id"`
}

// CancelSpec covers cancel, which takes either an agent id or a batch id.
type CancelSpec struct {
	AgentID string `json:"agent_id,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}

// WaitSpec covers wait.
type WaitSpec struct {
	AgentID        string `json:"agent_id,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	ReturnAll      bool   `json:"return_all,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ListSpec covers list.
type ListSpec struct {
	StatusFilter string `json:"status_filter,omitempty"`
	BatchID      string `json:"batch_id,omitempty"`
	RecentOnly   bool   `json:"recent_only,omitempty"`
}

// ModelPolicy resolves per-model enablement and config the way the
// session's configuration collaborator would; Dispatcher consults it
// during models normalization.
type ModelPolicy interface {
	// Resolve returns the AgentConfig for model, whether the model is
	// disabled by configuration, and the configured read_only default.
	Resolve(model string) (cfg *agentmgr.AgentConfig, disabled bool, readOnlyDefault bool)
	// DefaultModels returns the session's configured default model list,
	// or nil to fall back to ["code"].
	DefaultModels() []string
}

// EventPublisher receives the "agent" event mirrored for every verb;
// the dispatcher never embeds provider-facing text in these.
type EventPublisher interface {
	PublishAgentEvent(action string, payload map[string]any)
}

// NoticePublisher receives the background notice for a too-short prompt.
type NoticePublisher interface {
	PublishNotice(text string)
}

// Dispatcher is the Agent Tool Dispatcher.
type Dispatcher struct {
	Manager  *agentmgr.Manager
	Wait     *wait.Coordinator
	Policy   ModelPolicy
	Events   EventPublisher
	Notices  NoticePublisher
	SpillDir string
}

// Dispatch implements the single entry point the provider calls: decode
// action, run the matching verb, return its JSON response string.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) string {
	action := strings.ToLower(strings.TrimSpace(req.Action))

	var payload any
	switch action {
	case "create":
		if req.Create == nil {
			payload = failure("missing create")
			break
		}
		payload = d.create(ctx, *req.Create)
	case "status":
		if req.Status == nil {
			payload = failure("missing status")
			break
		}
		payload = d.status(req.Status.AgentID)
	case "result":
		if req.Result == nil {
			payload = failure("missing result")
			break
		}
		payload = d.result(req.Result.AgentID)
	case "cancel":
		if req.Cancel == nil {
			payload = failure("missing cancel")
			break
		}
		payload = d.cancel(*req.Cancel)
	case "wait":
		if req.Wait == nil {
			payload = failure("missing wait")
			break
		}
		payload = d.wait(ctx, *req.Wait)
	case "list":
		spec := ListSpec{}
		if req.List != nil {
			spec = *req.List
		}
		payload = d.list(spec)
	default:
		payload = failure(fmt.Sprintf("unknown action %q", req.Action))
	}

	if d.Events != nil {
		d.Events.PublishAgentEvent(action, eventMirror(req))
	}
	return marshal(payload)
}

func eventMirror(req Request) map[string]any {
	m := map[string]any{"action": req.Action}
	switch {
	case req.Create != nil:
		m["create"] = req.Create
		if req.Create.BatchID != "" {
			m["batch_id"] = req.Create.BatchID
		}
	case req.Status != nil:
		m["status"] = req.Status
	case req.Result != nil:
		m["result"] = req.Result
	case req.Cancel != nil:
		m["cancel"] = req.Cancel
	case req.Wait != nil:
		m["wait"] = req.Wait
	case req.List != nil:
		m["list"] = req.List
	}
	return m
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"message":"internal error marshaling response"}`
	}
	return string(b)
}

// create implements the create verb.
func (d *Dispatcher) create(ctx context.Context, spec CreateSpec) map[string]any {
	task := strings.TrimSpace(spec.Task)
	if task == "" || len(strings.Fields(task)) < minPromptTokens {
		if d.Notices != nil {
			d.Notices.PublishNotice("⚠️ Agent prompt too short — please include at least a few words describing the task.")
		}
		return map[string]any{
			"success": false,
			"status":  "blocked",
			"reason":  "prompt_too_short",
			"message": "Agent prompt too short: the task must contain at least 4 words.",
		}
	}

	models, explicit := d.normalizeModels(spec.Models)

	batchID := spec.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	var agentIDs []string
	var skipped []agentmgr.SkipReason
	for _, model := range models {
		cfg, disabled, readOnlyDefault := (*agentmgr.AgentConfig)(nil), false, false
		if d.Policy != nil {
			cfg, disabled, readOnlyDefault = d.Policy.Resolve(model)
		}
		if disabled {
			skipped = append(skipped, agentmgr.SkipReason{Model: model, Reason: "disabled by configuration"})
			continue
		}

		var cfgCmd string
		if cfg != nil {
			cfgCmd = cfg.Command
		}
		cli, isBuiltin := command.Resolve(model, &command.ConfiguredCommand{Command: cfgCmd})
		if !isBuiltin && !command.Exists(cli) {
			skipped = append(skipped, agentmgr.SkipReason{Model: model, Reason: "missing: " + cli})
			continue
		}

		readOnly := resolveReadOnly(spec.Write, spec.ReadOnly, readOnlyDefault)
		id, err := d.Manager.CreateAgentWithConfig(ctx, agentmgr.AgentCreateRequest{
			Model:      model,
			Name:       spec.Name,
			Prompt:     task,
			Context:    spec.Context,
			OutputGoal: spec.OutputGoal,
			Files:      spec.Files,
			ReadOnly:   readOnly,
			BatchID:    batchID,
			Config:     cfg,
			SourceKind: agentmgr.SourceUser,
		}, cfg)
		if err != nil {
			skipped = append(skipped, agentmgr.SkipReason{Model: model, Reason: err.Error()})
			continue
		}
		agentIDs = append(agentIDs, id)
	}

	if len(agentIDs) == 0 {
		if explicit {
			return map[string]any{
				"success": false,
				"status":  "failed",
				"message": fmt.Sprintf("No runnable agents matched the requested models. Skipped: %s", formatSkipped(skipped)),
				"skipped": skipped,
			}
		}
		// Fall back to a single builtin agent.
		id, err := d.Manager.CreateAgentWithConfig(ctx, agentmgr.AgentCreateRequest{
			Model:      "code",
			Prompt:     task,
			Context:    spec.Context,
			OutputGoal: spec.OutputGoal,
			Files:      spec.Files,
			ReadOnly:   resolveReadOnly(spec.Write, spec.ReadOnly, false),
			BatchID:    batchID,
			SourceKind: agentmgr.SourceUser,
		}, nil)
		if err != nil {
			return map[string]any{
				"success": false,
				"status":  "failed",
				"message": fmt.Sprintf("No runnable agents matched the requested models. Skipped: %s", formatSkipped(skipped)),
				"skipped": skipped,
			}
		}
		agentIDs = []string{id}
	}

	resp := map[string]any{
		"success":   true,
		"batch_id":  batchID,
		"agent_ids": agentIDs,
		"status":    "started",
		"message":   fmt.Sprintf("Started %d agent(s) in batch %s", len(agentIDs), batchID),
		"next_steps": fmt.Sprintf(
			`Poll with agent {"action":"wait","wait":{"batch_id":%q,"return_all":true}} or fetch a specific result with agent {"action":"result","result":{"agent_id":%q}}.`,
			batchID, agentIDs[0]),
	}
	if len(agentIDs) == 1 {
		resp["agent_id"] = agentIDs[0]
	}
	if len(skipped) > 0 {
		resp["skipped"] = skipped
	}
	return resp
}

func resolveReadOnly(write, readOnly *bool, configDefault bool) bool {
	if write != nil {
		return !*write
	}
	if readOnly != nil {
		return *readOnly
	}
	return configDefault
}

func formatSkipped(skipped []agentmgr.SkipReason) string {
	parts := make([]string, 0, len(skipped))
	for _, s := range skipped {
		parts = append(parts, fmt.Sprintf("%s (%s)", s.Model, s.Reason))
	}
	return strings.Join(parts, ", ")
}

// normalizeModels comma-splits, trims, dedupes case-insensitively, and
// sorts the requested model list. The returned bool
// reports whether the caller supplied any explicit model after
// normalization (used by step 6's skip-vs-fallback decision).
func (d *Dispatcher) normalizeModels(raw []string) (models []string, explicit bool) {
	seen := make(map[string]bool)
	var ordered []string
	for _, entry := range raw {
		for _, tok := range strings.Split(entry, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			key := strings.ToLower(tok)
			if seen[key] {
				continue
			}
			seen[key] = true
			ordered = append(ordered, tok)
		}
	}
	if len(ordered) > 0 {
		sort.Slice(ordered, func(i, j int) bool {
			return strings.ToLower(ordered[i]) < strings.ToLower(ordered[j])
		})
		return ordered, true
	}

	if d.Policy != nil {
		if defaults := d.Policy.DefaultModels(); len(defaults) > 0 {
			return defaults, false
		}
	}
	return []string{"code"}, false
}

// status implements the status verb.
func (d *Dispatcher) status(agentID string) map[string]any {
	agent, ok := d.Manager.GetAgent(agentID)
	if !ok {
		return failure(fmt.Sprintf("Agent %s does not exist", agentID))
	}

	resp := map[string]any{
		"success":        true,
		"agent_id":       agent.ID,
		"status":         agent.Status,
		"model":          agent.Model,
		"batch_id":       agent.BatchID,
		"created_at":     agent.CreatedAt,
		"progress_total": len(agent.Progress),
	}
	if agent.Name != "" {
		resp["name"] = agent.Name
	}
	if agent.StartedAt != nil {
		resp["started_at"] = *agent.StartedAt
	}
	if agent.CompletedAt != nil {
		resp["completed_at"] = *agent.CompletedAt
	}
	if agent.Error != "" {
		resp["error"] = agent.Error
	}
	if agent.WorktreePath != "" {
		resp["worktree_path"] = agent.WorktreePath
	}
	if agent.BranchName != "" {
		resp["branch_name"] = agent.BranchName
	}

	if len(agent.Progress) > progressSpillThreshold {
		full := strings.Join(agent.Progress, "\n")
		if path, err := preview.WriteAgentFile(d.spillDirFor(agentID), "progress.txt", full); err == nil {
			resp["progress_file"] = path
		}
		previewText, _ := preview.PreviewFirstNLines(full, progressSpillThreshold)
		resp["progress_preview"] = strings.Split(previewText, "\n")
	} else {
		resp["progress_preview"] = agent.Progress
	}
	return resp
}

// result implements the result verb.
func (d *Dispatcher) result(agentID string) map[string]any {
	agent, ok := d.Manager.GetAgent(agentID)
	if !ok {
		return failure(fmt.Sprintf("Agent %s does not exist", agentID))
	}

	switch agent.Status {
	case agentmgr.StatusCompleted:
		previewText, total := preview.PreviewFirstNLines(agent.Result, 500)
		resp := map[string]any{
			"success":            true,
			"agent_id":           agent.ID,
			"output_preview":     previewText,
			"output_total_lines": total,
		}
		if path, err := preview.WriteAgentFile(d.spillDirFor(agentID), "result.txt", agent.Result); err == nil {
			resp["output_file"] = path
		}
		return resp
	case agentmgr.StatusFailed:
		previewText, total := preview.PreviewFirstNLines(agent.Error, 500)
		resp := map[string]any{
			"success":           false,
			"agent_id":          agent.ID,
			"error_preview":     previewText,
			"error_total_lines": total,
		}
		if path, err := preview.WriteAgentFile(d.spillDirFor(agentID), "error.txt", agent.Error); err == nil {
			resp["error_file"] = path
		}
		return resp
	default:
		return map[string]any{
			"success": false,
			"message": fmt.Sprintf("Agent is still %s: cannot get result yet", agent.Status),
		}
	}
}

func (d *Dispatcher) spillDirFor(agentID string) string {
	if d.SpillDir == "" {
		return agentID
	}
	return d.SpillDir + "/" + agentID
}

// cancel implements the cancel verb.
func (d *Dispatcher) cancel(spec CancelSpec) map[string]any {
	if spec.AgentID != "" {
		if d.Manager.CancelAgent(spec.AgentID) {
			return map[string]any{"success": true, "message": fmt.Sprintf("Agent %s cancelled", spec.AgentID)}
		}
		return failure(fmt.Sprintf("Agent %s could not be cancelled", spec.AgentID))
	}
	if spec.BatchID != "" {
		n := d.Manager.CancelBatch(spec.BatchID)
		return map[string]any{"success": true, "message": fmt.Sprintf("Cancelled %d agents in batch %s", n, spec.BatchID)}
	}
	return failure("cancel requires agent_id or batch_id")
}

// wait implements the wait verb.
func (d *Dispatcher) wait(ctx context.Context, spec WaitSpec) map[string]any {
	if spec.AgentID != "" {
		if spec.BatchID != "" {
			if agent, ok := d.Manager.GetAgent(spec.AgentID); ok && agent.BatchID != spec.BatchID {
				return failure(fmt.Sprintf("Agent %s does not belong to batch %s", spec.AgentID, spec.BatchID))
			}
		}
		res := d.Wait.WaitSingle(ctx, spec.AgentID, spec.TimeoutSeconds)
		return d.waitResultPayload(spec.BatchID, res)
	}
	if spec.ReturnAll {
		res := d.Wait.WaitBatchAll(ctx, spec.BatchID, spec.TimeoutSeconds)
		return d.waitAllPayload(spec.BatchID, res)
	}
	res := d.Wait.WaitBatchSequential(ctx, spec.BatchID, spec.TimeoutSeconds)
	return d.waitResultPayload(spec.BatchID, res)
}

func (d *Dispatcher) waitResultPayload(batchID string, res wait.Result) map[string]any {
	switch res.State {
	case wait.StateTerminalReturned:
		agent := res.Agent
		resp := map[string]any{
			"success":           true,
			"agent_id":          agent.ID,
			"batch_id":          agent.BatchID,
			"status":            agent.Status,
			"wait_time_seconds": res.ElapsedSeconds,
			"total_lines":       len(agent.Progress),
		}
		switch agent.Status {
		case agentmgr.StatusCompleted:
			p, _ := preview.PreviewFirstNLines(agent.Result, 500)
			resp["output_preview"] = p
			if path, err := preview.WriteAgentFile(d.spillDirFor(agent.ID), "result.txt", agent.Result); err == nil {
				resp["output_file"] = path
			}
			resp["agent_result_hint"] = "completed"
		case agentmgr.StatusFailed:
			p, _ := preview.PreviewFirstNLines(agent.Error, 500)
			resp["error_preview"] = p
			if path, err := preview.WriteAgentFile(d.spillDirFor(agent.ID), "error.txt", agent.Error); err == nil {
				resp["error_file"] = path
			}
			resp["agent_result_hint"] = "failed"
		default:
			resp["status_preview"] = string(agent.Status)
			resp["agent_result_hint"] = "cancelled"
		}
		resp["agent_result_params"] = map[string]string{"agent_id": agent.ID}
		return resp
	case wait.StateTimedOut:
		return map[string]any{
			"success": false, "batch_id": batchID, "status": "time_budget_update",
			"wait_time_seconds": res.ElapsedSeconds,
			"message":           "wait timed out before the agent reached a terminal state",
		}
	default: // Interrupted
		return map[string]any{
			"success": false, "batch_id": batchID, "status": "interrupted",
			"wait_time_seconds": res.ElapsedSeconds,
			"message":           "wait ended due to new user message",
		}
	}
}

func (d *Dispatcher) waitAllPayload(batchID string, res wait.Result) map[string]any {
	switch res.State {
	case wait.StateTerminalReturned:
		ids := make([]string, 0, len(res.CompletedAgents))
		summaries := make([]map[string]any, 0, len(res.CompletedAgents))
		for _, a := range res.CompletedAgents {
			ids = append(ids, a.ID)
			summary := map[string]any{"agent_id": a.ID, "status": a.Status}
			if a.Status == agentmgr.StatusCompleted {
				p, _ := preview.PreviewFirstNLines(a.Result, 500)
				summary["output_preview"] = p
				if path, err := preview.WriteAgentFile(d.spillDirFor(a.ID), "result.txt", a.Result); err == nil {
					summary["output_file"] = path
				}
			} else if a.Status == agentmgr.StatusFailed {
				p, _ := preview.PreviewFirstNLines(a.Error, 500)
				summary["error_preview"] = p
				if path, err := preview.WriteAgentFile(d.spillDirFor(a.ID), "error.txt", a.Error); err == nil {
					summary["error_file"] = path
				}
			}
			summaries = append(summaries, summary)
		}
		return map[string]any{
			"success":             true,
			"batch_id":            batchID,
			"completed_agents":    ids,
			"completed_summaries": summaries,
			"wait_time_seconds":   res.ElapsedSeconds,
		}
	case wait.StateTimedOut:
		return map[string]any{
			"success": false, "batch_id": batchID, "status": "time_budget_update",
			"wait_time_seconds": res.ElapsedSeconds,
			"message":           "wait timed out before all agents reached a terminal state",
		}
	default:
		return map[string]any{
			"success": false, "batch_id": batchID, "status": "interrupted",
			"wait_time_seconds": res.ElapsedSeconds,
			"message":           "wait ended due to new user message",
		}
	}
}

// list implements the list verb.
func (d *Dispatcher) list(spec ListSpec) map[string]any {
	var statusFilter *agentmgr.Status
	if spec.StatusFilter != "" {
		s := agentmgr.Status(strings.ToLower(spec.StatusFilter))
		statusFilter = &s
	}
	agents := d.Manager.ListAgents(statusFilter, spec.BatchID, spec.RecentOnly)

	counts := map[string]int{
		"pending": 0, "running": 0, "completed": 0, "failed": 0, "cancelled": 0,
	}
	for _, a := range agents {
		counts[string(a.Status)]++
	}

	return map[string]any{
		"success":       true,
		"total_agents":  len(agents),
		"status_counts": counts,
		"batch_id":      spec.BatchID,
		"agents":        agents,
	}
}
