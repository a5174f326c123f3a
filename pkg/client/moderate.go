package client

import (
	"context"
	"fmt"
	"time"

	"msgcore/pkg/controller"
	"msgcore/pkg/events"
	"msgcore/pkg/logger"
	"msgcore/pkg/models"
	"msgcore/pkg/moderation"
)

// caseFailed marks a case whose backing mutation the server rejected.
const caseFailed = "FAILED"

func strPtr(s string) *string { return &s }

// applyRemoteModeration folds a mutation response back into the stores.
// The response may carry an updated thread moderation record, a thread
// status, and an updated case.
func (c *Client) applyRemoteModeration(threadID string, resp map[string]any) {
	if resp == nil {
		return
	}
	payload := map[string]any{}
	if m, ok := resp["moderation"].(map[string]any); ok {
		payload["moderation"] = m
	}
	if s, ok := resp["status"].(string); ok && s != "" {
		payload["status"] = s
	}
	if len(payload) > 0 && threadID != "" {
		envelope := map[string]any{
			"type":     events.ThreadModerationUpdated,
			"threadId": threadID,
			"payload":  payload,
		}
		if ev := events.MapThreadEnvelope(envelope); ev != nil {
			c.ctrl.ApplyThreadEvent(threadID, ev)
		}
	}
	if node, ok := resp["case"].(map[string]any); ok {
		cases := events.NormalizeModerationCases(map[string]any{"cases": []any{node}})
		for _, cs := range cases {
			if _, err := c.ctrl.UpdateModerationCase(cs.CaseID, casePatchFromCase(cs)); err != nil && logger.Log != nil {
				logger.Log.Warn("case_merge_failed", "case_id", cs.CaseID, "error", err.Error())
			}
		}
	}
}

func casePatchFromCase(cs models.ModerationCase) moderation.CasePatch {
	patch := moderation.CasePatch{
		RequiresDualApproval: &cs.RequiresDualApproval,
		Approvals:            cs.Approvals,
	}
	if cs.Type != "" {
		patch.Type = &cs.Type
	}
	if cs.Status != "" {
		patch.Status = &cs.Status
	}
	if cs.Severity != "" {
		patch.Severity = &cs.Severity
	}
	if cs.ThreadID != "" {
		patch.ThreadID = &cs.ThreadID
	}
	if cs.MessageID != "" {
		patch.MessageID = &cs.MessageID
	}
	if cs.Reason != "" {
		patch.Reason = &cs.Reason
	}
	if cs.Metadata != nil {
		patch.Metadata = cs.Metadata
		patch.HasMetadata = true
	}
	if cs.Resolution != nil {
		patch.Resolution = cs.Resolution
		patch.HasResolution = true
	}
	return patch
}

// markModerationFailure stamps a rejected case FAILED so the queue shows
// the outcome instead of silently dropping the report.
func (c *Client) markModerationFailure(caseID string, cause error) {
	if caseID == "" {
		return
	}
	meta := map[string]any{
		"errorCode":    errorCode(cause),
		"errorMessage": cause.Error(),
	}
	if _, err := c.ctrl.UpdateModerationCase(caseID, moderation.CasePatch{
		Status:      strPtr(caseFailed),
		Metadata:    meta,
		HasMetadata: true,
	}); err != nil && logger.Log != nil {
		logger.Log.Warn("case_failure_mark_failed", "case_id", caseID, "error", err.Error())
	}
}

func moderationArgs(opts controller.ModerationOptions) map[string]any {
	args := map[string]any{}
	if opts.Reason != "" {
		args["reason"] = opts.Reason
	}
	if opts.Severity != "" {
		args["severity"] = opts.Severity
	}
	if opts.Notes != "" {
		args["notes"] = opts.Notes
	}
	if opts.Metadata != nil {
		args["metadata"] = opts.Metadata
	}
	return args
}

// ReportMessage opens the local case first, then reports to the server.
// A rejected mutation marks the case FAILED and returns the error.
func (c *Client) ReportMessage(ctx context.Context, threadID, messageID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	local, err := c.ctrl.ReportMessage(threadID, messageID, opts)
	if err != nil {
		return nil, err
	}
	if c.mutations == nil {
		return local, nil
	}
	resp, err := c.mutations.ReportMessage(ctx, threadID, messageID, moderationArgs(opts))
	if err != nil {
		if logger.Log != nil {
			logger.Log.Error("report_message_failed", "thread_id", threadID, "message_id", messageID, "error", err.Error())
		}
		if local != nil {
			c.markModerationFailure(local.CaseID, err)
		}
		return local, err
	}
	c.applyRemoteModeration(threadID, resp)
	return local, nil
}

// ReportThread mirrors ReportMessage at thread scope.
func (c *Client) ReportThread(ctx context.Context, threadID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	local, err := c.ctrl.ReportThread(threadID, opts)
	if err != nil {
		return nil, err
	}
	if c.mutations == nil {
		return local, nil
	}
	resp, err := c.mutations.ReportThread(ctx, threadID, moderationArgs(opts))
	if err != nil {
		if logger.Log != nil {
			logger.Log.Error("report_thread_failed", "thread_id", threadID, "error", err.Error())
		}
		if local != nil {
			c.markModerationFailure(local.CaseID, err)
		}
		return local, err
	}
	c.applyRemoteModeration(threadID, resp)
	return local, nil
}

type moderationSnapshot struct {
	moderation *models.ThreadModeration
	status     string
	cases      []models.ModerationCase
}

func (c *Client) snapshotModeration(threadID string) moderationSnapshot {
	snap := moderationSnapshot{cases: c.ctrl.ListModerationCases(moderation.Filters{})}
	if st := c.ctrl.ThreadState(threadID); st != nil {
		snap.moderation = st.Moderation()
		snap.status = st.Thread().Status
	}
	return snap
}

// restoreModeration rewinds thread moderation and the case queue to a
// snapshot taken before an optimistic moderation change.
func (c *Client) restoreModeration(threadID string, snap moderationSnapshot) {
	prior := snap.moderation
	if prior == nil {
		prior = &models.ThreadModeration{UpdatedAt: time.Now()}
	}
	c.ctrl.ApplyThreadEvent(threadID, &events.ThreadEvent{
		Type:             events.ThreadModerationUpdated,
		ThreadID:         threadID,
		ThreadModeration: prior,
		Status:           snap.status,
	})
	c.ctrl.HydrateModerationQueue(snap.cases)
}

// moderateThread runs one lock/block style mutation with rollback: the
// local stores move first, and a server rejection rewinds them to the
// pre-mutation snapshot.
func (c *Client) moderateThread(
	threadID string,
	local func() (*models.ModerationCase, error),
	remote func() (map[string]any, error),
) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread moderation requires threadId")
	}
	snap := c.snapshotModeration(threadID)
	cs, err := local()
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return cs, nil
	}
	resp, err := remote()
	if err != nil {
		if logger.Log != nil {
			logger.Log.Error("thread_moderation_failed", "thread_id", threadID, "error", err.Error())
		}
		c.restoreModeration(threadID, snap)
		return nil, err
	}
	c.applyRemoteModeration(threadID, resp)
	return cs, nil
}

func (c *Client) LockThread(ctx context.Context, threadID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	var remote func() (map[string]any, error)
	if c.mutations != nil {
		remote = func() (map[string]any, error) {
			return c.mutations.LockThread(ctx, threadID, true, moderationArgs(opts))
		}
	}
	return c.moderateThread(threadID,
		func() (*models.ModerationCase, error) { return c.ctrl.LockThread(threadID, opts) },
		remote)
}

func (c *Client) UnlockThread(ctx context.Context, threadID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	var remote func() (map[string]any, error)
	if c.mutations != nil {
		remote = func() (map[string]any, error) {
			return c.mutations.LockThread(ctx, threadID, false, moderationArgs(opts))
		}
	}
	return c.moderateThread(threadID,
		func() (*models.ModerationCase, error) { return c.ctrl.UnlockThread(threadID, opts) },
		remote)
}

func (c *Client) BlockThread(ctx context.Context, threadID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	var remote func() (map[string]any, error)
	if c.mutations != nil {
		remote = func() (map[string]any, error) {
			return c.mutations.BlockThread(ctx, threadID, true, moderationArgs(opts))
		}
	}
	return c.moderateThread(threadID,
		func() (*models.ModerationCase, error) { return c.ctrl.BlockThread(threadID, opts) },
		remote)
}

func (c *Client) UnblockThread(ctx context.Context, threadID string, opts controller.ModerationOptions) (*models.ModerationCase, error) {
	var remote func() (map[string]any, error)
	if c.mutations != nil {
		remote = func() (map[string]any, error) {
			return c.mutations.BlockThread(ctx, threadID, false, moderationArgs(opts))
		}
	}
	return c.moderateThread(threadID,
		func() (*models.ModerationCase, error) { return c.ctrl.UnblockThread(threadID, opts) },
		remote)
}

// queueMutation runs a case-queue mutation with hydrate rollback: the
// queue moves first, and a server rejection restores the prior list.
func (c *Client) queueMutation(local func() error, remote func() error) error {
	prior := c.ctrl.ListModerationCases(moderation.Filters{})
	if err := local(); err != nil {
		return err
	}
	if remote == nil {
		return nil
	}
	if err := remote(); err != nil {
		if logger.Log != nil {
			logger.Log.Error("case_mutation_failed", "error", err.Error())
		}
		c.ctrl.HydrateModerationQueue(prior)
		return err
	}
	return nil
}

// UpdateModerationCase patches a queued case locally and remotely.
func (c *Client) UpdateModerationCase(ctx context.Context, caseID string, patch moderation.CasePatch, args map[string]any) error {
	if caseID == "" {
		return fmt.Errorf("update moderation case requires caseId")
	}
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.UpdateModerationCase(ctx, caseID, args) }
	}
	return c.queueMutation(
		func() error {
			_, err := c.ctrl.UpdateModerationCase(caseID, patch)
			return err
		},
		remote)
}

// SubmitModerationDecision records a decision locally and resolves the
// case remotely when the decision finalizes it.
func (c *Client) SubmitModerationDecision(ctx context.Context, caseID string, decision models.ModerationDecision) error {
	if caseID == "" {
		return fmt.Errorf("submit moderation decision requires caseId")
	}
	var remote func() error
	if c.mutations != nil {
		remote = func() error {
			return c.mutations.ResolveModerationCase(ctx, caseID, map[string]any{
				"decision": decision.Decision,
				"actorId":  decision.ActorID,
				"notes":    decision.Notes,
			})
		}
	}
	return c.queueMutation(
		func() error {
			_, err := c.ctrl.SubmitModerationDecision(caseID, decision)
			return err
		},
		remote)
}

// ResolveModerationCase finalizes a case locally and remotely.
func (c *Client) ResolveModerationCase(ctx context.Context, caseID string, res models.ModerationResolution) error {
	if caseID == "" {
		return fmt.Errorf("resolve moderation case requires caseId")
	}
	var remote func() error
	if c.mutations != nil {
		remote = func() error {
			return c.mutations.ResolveModerationCase(ctx, caseID, map[string]any{
				"outcome":    res.Outcome,
				"notes":      res.Notes,
				"resolvedBy": res.ResolvedBy,
			})
		}
	}
	return c.queueMutation(
		func() error {
			_, err := c.ctrl.ResolveModerationCase(caseID, res)
			return err
		},
		remote)
}

// RemoveModerationCase drops a case locally and remotely.
func (c *Client) RemoveModerationCase(ctx context.Context, caseID string) error {
	if caseID == "" {
		return fmt.Errorf("remove moderation case requires caseId")
	}
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.RemoveModerationCase(ctx, caseID) }
	}
	return c.queueMutation(
		func() error {
			_, err := c.ctrl.RemoveModerationCase(caseID)
			return err
		},
		remote)
}
