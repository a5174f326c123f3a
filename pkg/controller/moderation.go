package controller

import (
	"fmt"
	"strings"
	"time"

	"msgcore/pkg/audit"
	"msgcore/pkg/events"
	"msgcore/pkg/logger"
	"msgcore/pkg/metrics"
	"msgcore/pkg/models"
	"msgcore/pkg/moderation"
)

// ModerationOptions tunes the report/lock/block operations. Enqueue
// overrides each operation's default for opening a moderation case:
// reports and blocks open one unless told otherwise, locks and unlocks
// only on request.
type ModerationOptions struct {
	CaseID       string
	Reason       string
	Severity     string
	Notes        string
	ReportedBy   string
	AuditTrailID string
	Status       string
	ReportedAt   time.Time
	UpdatedAt    time.Time
	Metadata     map[string]any
	Enqueue      *bool
	// Lock and Block escalate ReportThread into the corresponding
	// moderation action.
	Lock  bool
	Block bool
	// Locked overrides the lock flag applied alongside a block.
	Locked *bool
}

func boolOpt(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (o ModerationOptions) reportedAt(now time.Time) time.Time {
	if !o.ReportedAt.IsZero() {
		return o.ReportedAt
	}
	return now
}

func (o ModerationOptions) updatedAt(now time.Time) time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt
	}
	return now
}

// applyThreadModerationLocked merges a moderation mutation into the
// thread's existing record and routes it through the shared event path
// so the inbox picks up block state. Caller holds the lock.
func (c *Controller) applyThreadModerationLocked(threadID, status string, mutate func(*models.ThreadModeration), changes *[]Change) *models.ThreadModeration {
	st, ok := c.threads[threadID]
	if !ok {
		if logger.Log != nil {
			logger.Log.Warn("thread_missing", "thread_id", threadID, "action", "moderation")
		}
		return nil
	}
	mod := st.Moderation()
	if mod == nil {
		mod = &models.ThreadModeration{}
	}
	mutate(mod)
	c.applyThreadEventLocked(threadID, &events.ThreadEvent{
		Type:             events.ThreadModerationUpdated,
		ThreadID:         threadID,
		Status:           status,
		ThreadModeration: mod,
	}, false, changes)
	return mod
}

// enqueueCaseLocked opens a moderation case and returns its normalized
// form. Caller holds the lock.
func (c *Controller) enqueueCaseLocked(caseType, threadID, messageID, defaultReason, defaultSeverity, action string, opts ModerationOptions, now time.Time, changes *[]Change) *models.ModerationCase {
	caseID := opts.CaseID
	if caseID == "" {
		caseID = c.newID("case")
	}
	reason := opts.Reason
	if reason == "" {
		reason = defaultReason
	}
	severity := opts.Severity
	if severity == "" {
		severity = defaultSeverity
	}
	reporter := opts.ReportedBy
	if reporter == "" {
		reporter = c.viewerUserID
	}
	c.updateModeration(func(st *moderation.State) *moderation.State {
		return st.Enqueue(models.ModerationCase{
			CaseID:       caseID,
			Type:         caseType,
			ThreadID:     threadID,
			MessageID:    messageID,
			Reason:       reason,
			Severity:     severity,
			ReportedBy:   reporter,
			ReportedAt:   opts.reportedAt(now),
			AuditTrailID: opts.AuditTrailID,
			Metadata:     opts.Metadata,
		}, false, now)
	}, Change{Action: action, ThreadID: threadID, MessageID: messageID, CaseID: caseID}, changes)

	if c.trail != nil {
		c.trail.Record(audit.Entry{
			Kind:        audit.KindModeration,
			ThreadID:    threadID,
			ActorUserID: reporter,
			Action:      action,
			At:          now,
			Data:        map[string]any{"case_id": caseID, "reason": reason, "severity": severity},
		})
	}
	if mc, ok := c.moderation.Case(caseID); ok {
		return &mc
	}
	return nil
}

// ReportMessage marks one message as reported and, by default, opens a
// MESSAGE moderation case for it.
func (c *Controller) ReportMessage(threadID, messageID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("report message requires threadId")
	}
	if messageID == "" {
		return nil, fmt.Errorf("report message requires messageId")
	}
	c.mu.Lock()
	now := c.now()
	reportedAt := opts.reportedAt(now)
	var changes []Change
	c.applyThreadEventLocked(threadID, &events.ThreadEvent{
		Type:      events.MessageModerationUpdated,
		MessageID: messageID,
		MessageModeration: &models.MessageModeration{
			Reason:    opts.Reason,
			Severity:  strings.ToUpper(opts.Severity),
			UpdatedAt: reportedAt,
		},
	}, false, &changes)
	var reported *models.ModerationCase
	if boolOpt(opts.Enqueue, true) {
		reported = c.enqueueCaseLocked(models.CaseTypeMessage, threadID, messageID, "REPORT", "MEDIUM", "reportMessage", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return reported, nil
}

// ReportThread reports a whole thread. Lock or Block escalate into the
// corresponding moderation action; by default a THREAD case is opened.
func (c *Controller) ReportThread(threadID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("report thread requires threadId")
	}
	if opts.Block {
		return c.BlockThread(threadID, opts)
	}
	if opts.Lock {
		return c.LockThread(threadID, opts)
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.applyThreadModerationLocked(threadID, "", func(m *models.ThreadModeration) {
		if opts.Reason != "" {
			m.Reason = opts.Reason
		}
		if opts.Severity != "" {
			m.Severity = strings.ToUpper(opts.Severity)
		}
		if opts.AuditTrailID != "" {
			m.AuditTrailID = opts.AuditTrailID
		}
		if opts.ReportedBy != "" {
			m.ReportedBy = opts.ReportedBy
		} else if c.viewerUserID != "" {
			m.ReportedBy = c.viewerUserID
		}
		m.UpdatedAt = opts.updatedAt(now)
	}, &changes)
	var reported *models.ModerationCase
	if boolOpt(opts.Enqueue, true) {
		reported = c.enqueueCaseLocked(models.CaseTypeThread, threadID, "", "REPORT", "HIGH", "reportThread", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return reported, nil
}

// LockThread freezes a thread. A moderation case is opened only when
// requested.
func (c *Controller) LockThread(threadID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("lock thread requires threadId")
	}
	status := opts.Status
	if status == "" {
		status = "LOCKED"
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.applyThreadModerationLocked(threadID, status, func(m *models.ThreadModeration) {
		m.Locked = true
		if opts.Reason != "" {
			m.Reason = opts.Reason
		}
		if opts.Severity != "" {
			m.Severity = strings.ToUpper(opts.Severity)
		}
		if opts.AuditTrailID != "" {
			m.AuditTrailID = opts.AuditTrailID
		}
		m.UpdatedAt = opts.updatedAt(now)
	}, &changes)
	var opened *models.ModerationCase
	if boolOpt(opts.Enqueue, false) {
		opened = c.enqueueCaseLocked(models.CaseTypeThread, threadID, "", "LOCK", "HIGH", "lockThread", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return opened, nil
}

// UnlockThread lifts a lock and restores the thread status.
func (c *Controller) UnlockThread(threadID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("unlock thread requires threadId")
	}
	status := opts.Status
	if status == "" {
		status = "OPEN"
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.applyThreadModerationLocked(threadID, status, func(m *models.ThreadModeration) {
		m.Locked = false
		if opts.Reason != "" {
			m.Reason = opts.Reason
		}
		if opts.AuditTrailID != "" {
			m.AuditTrailID = opts.AuditTrailID
		}
		m.UpdatedAt = opts.updatedAt(now)
	}, &changes)
	var opened *models.ModerationCase
	if boolOpt(opts.Enqueue, false) {
		opened = c.enqueueCaseLocked(models.CaseTypeThread, threadID, "", "UNLOCK", "LOW", "unlockThread", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return opened, nil
}

// BlockThread blocks a thread, locking it as well unless overridden,
// and by default opens a THREAD case.
func (c *Controller) BlockThread(threadID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("block thread requires threadId")
	}
	status := opts.Status
	if status == "" {
		status = "LOCKED"
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.applyThreadModerationLocked(threadID, status, func(m *models.ThreadModeration) {
		m.Blocked = true
		m.Locked = boolOpt(opts.Locked, true)
		if opts.Reason != "" {
			m.Reason = opts.Reason
		}
		if opts.Severity != "" {
			m.Severity = strings.ToUpper(opts.Severity)
		}
		if opts.AuditTrailID != "" {
			m.AuditTrailID = opts.AuditTrailID
		}
		m.UpdatedAt = opts.updatedAt(now)
	}, &changes)
	var opened *models.ModerationCase
	if boolOpt(opts.Enqueue, true) {
		opened = c.enqueueCaseLocked(models.CaseTypeThread, threadID, "", "BLOCK", "HIGH", "blockThread", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return opened, nil
}

// UnblockThread clears the block and reopens the thread.
func (c *Controller) UnblockThread(threadID string, opts ModerationOptions) (*models.ModerationCase, error) {
	if threadID == "" {
		return nil, fmt.Errorf("unblock thread requires threadId")
	}
	status := opts.Status
	if status == "" {
		status = "OPEN"
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.applyThreadModerationLocked(threadID, status, func(m *models.ThreadModeration) {
		m.Blocked = false
		m.Locked = boolOpt(opts.Locked, false)
		if opts.Reason != "" {
			m.Reason = opts.Reason
		}
		if opts.AuditTrailID != "" {
			m.AuditTrailID = opts.AuditTrailID
		}
		m.UpdatedAt = opts.updatedAt(now)
	}, &changes)
	var opened *models.ModerationCase
	if boolOpt(opts.Enqueue, false) {
		opened = c.enqueueCaseLocked(models.CaseTypeThread, threadID, "", "UNBLOCK", "LOW", "unblockThread", opts, now, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return opened, nil
}

// HydrateModerationQueue replaces the moderation queue wholesale.
func (c *Controller) HydrateModerationQueue(cases []models.ModerationCase) *moderation.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateModeration(func(*moderation.State) *moderation.State {
		return moderation.NewState(cases, now)
	}, Change{Action: "hydrate"}, &changes)
	state := c.moderation
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// UpdateModerationCase patches one case's fields.
func (c *Controller) UpdateModerationCase(caseID string, patch moderation.CasePatch) (*moderation.State, error) {
	if caseID == "" {
		return nil, fmt.Errorf("update moderation case requires caseId")
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateModeration(func(st *moderation.State) *moderation.State {
		return st.Update(caseID, patch, now)
	}, Change{Action: "updateCase", CaseID: caseID}, &changes)
	state := c.moderation
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state, nil
}

// SubmitModerationDecision records one reviewer decision, applying the
// dual-approval rules configured on the controller.
func (c *Controller) SubmitModerationDecision(caseID string, decision models.ModerationDecision) (*moderation.State, error) {
	if caseID == "" {
		return nil, fmt.Errorf("submit moderation decision requires caseId")
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	changed := c.updateModeration(func(st *moderation.State) *moderation.State {
		return st.SubmitDecision(caseID, decision, c.approvals, now)
	}, Change{Action: "decision", CaseID: caseID}, &changes)
	state := c.moderation
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		metrics.ModerationDecisions.WithLabelValues(moderation.MapOutcome(decision.Decision)).Inc()
		if c.trail != nil {
			c.trail.Record(audit.Entry{
				Kind:        audit.KindModeration,
				ActorUserID: decision.ActorID,
				Action:      moderation.MapOutcome(decision.Decision),
				At:          now,
				Data:        map[string]any{"case_id": caseID, "notes": decision.Notes},
			})
		}
	}
	c.emit(changes, snap)
	return state, nil
}

// ResolveModerationCase finalizes a case with an explicit resolution.
func (c *Controller) ResolveModerationCase(caseID string, res models.ModerationResolution) (*moderation.State, error) {
	if caseID == "" {
		return nil, fmt.Errorf("resolve moderation case requires caseId")
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateModeration(func(st *moderation.State) *moderation.State {
		return st.Resolve(caseID, res, now)
	}, Change{Action: "resolveCase", CaseID: caseID}, &changes)
	state := c.moderation
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state, nil
}

// RemoveModerationCase drops a case from the queue.
func (c *Controller) RemoveModerationCase(caseID string) (*moderation.State, error) {
	if caseID == "" {
		return nil, fmt.Errorf("remove moderation case requires caseId")
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateModeration(func(st *moderation.State) *moderation.State {
		return st.Remove(caseID, now)
	}, Change{Action: "removeCase", CaseID: caseID}, &changes)
	state := c.moderation
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state, nil
}

// ListModerationCases filters the queue.
func (c *Controller) ListModerationCases(f moderation.Filters) []models.ModerationCase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moderation.Select(f)
}

// PendingModerationCases lists unresolved cases in queue order.
func (c *Controller) PendingModerationCases() []models.ModerationCase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moderation.Pending()
}

// ModerationStats reports the queue's aggregate counters.
func (c *Controller) ModerationStats() models.ModerationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moderation.Stats()
}

// ModerationCase looks up one case by id.
func (c *Controller) ModerationCase(caseID string) (models.ModerationCase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moderation.Case(caseID)
}

// ModerationState returns the moderation queue.
func (c *Controller) ModerationState() *moderation.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moderation
}
