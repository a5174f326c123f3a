package events

import (
	"errors"
	"strings"
	"time"

	"msgcore/pkg/models"
)

const (
	defaultRateWindow  = 24 * time.Hour
	defaultRateMax     = 5
	defaultPresenceTTL = 60 * time.Second
)

func normalizeKind(v any) models.ThreadKind {
	if s, ok := v.(string); ok && strings.ToUpper(strings.TrimSpace(s)) == "PROJECT" {
		return models.KindProject
	}
	return models.KindInquiry
}

func normalizeAttachments(v any) []models.Attachment {
	raw, _ := v.([]any)
	if raw == nil {
		return nil
	}
	out := make([]models.Attachment, 0, len(raw))
	for _, item := range raw {
		m := asMap(item)
		if m == nil {
			continue
		}
		att := make(models.Attachment, len(m))
		for k, val := range m {
			att[k] = val
		}
		out = append(out, att)
	}
	return out
}

func normalizeMessageModeration(v any) *models.MessageModeration {
	m := asMap(v)
	if m == nil {
		return nil
	}
	return &models.MessageModeration{
		Hidden:    asBool(pick(m, "hidden", "isHidden")),
		Reason:    asString(pick(m, "reason")),
		Severity:  strings.ToUpper(asString(pick(m, "severity"))),
		UpdatedAt: asTime(pick(m, "updatedAt", "updated_at")),
	}
}

func normalizeThreadModeration(v any) *models.ThreadModeration {
	m := asMap(v)
	if m == nil {
		return nil
	}
	return &models.ThreadModeration{
		Locked:       asBool(pick(m, "locked", "isLocked")),
		Blocked:      asBool(pick(m, "blocked", "isBlocked")),
		Reason:       asString(pick(m, "reason")),
		Severity:     strings.ToUpper(asString(pick(m, "severity"))),
		ReportedBy:   asString(pick(m, "reportedBy", "reported_by")),
		AuditTrailID: asString(pick(m, "auditTrailId", "audit_trail_id")),
		UpdatedAt:    asTime(pick(m, "updatedAt", "updated_at")),
	}
}

// normalizeMessageNode converts a raw message node. A node with no
// server id falls back to the optimistic "temp:<client id>" form; a node
// with neither is dropped.
func normalizeMessageNode(node map[string]any) *models.Message {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "messageId", "message_id", "id", "messageID", "nodeId"))
	clientID := asString(pick(node, "clientId", "client_id", "localId", "optimisticId"))
	if id == "" {
		if clientID == "" {
			return nil
		}
		id = "temp:" + clientID
	}
	msg := &models.Message{
		MessageID: id,
		ClientID:  clientID,
		CreatedAt: asTime(pick(node, "createdAt", "created_at", "timestamp", "sentAt")),
		Body:      asString(pick(node, "body")),
		NSFWBand:  asInt(pick(node, "nsfwBand", "nsfw_band", "safeModeBand", "nsfwLevel"), 0),
	}
	author := pick(node, "authorUserId", "author_user_id", "authorId", "senderId")
	if author == nil {
		if a := asMap(node["author"]); a != nil {
			author = pick(a, "userId", "id")
		}
	}
	msg.AuthorUserID = asID(author)
	if t, ok := pick(node, "type", "messageType", "kind").(string); ok {
		msg.Type = strings.ToUpper(t)
	} else {
		msg.Type = "TEXT"
	}
	msg.Attachments = normalizeAttachments(pick(node, "attachments", "assets"))
	if action := asMap(pick(node, "action", "actionCard")); action != nil {
		msg.Action = make(map[string]any, len(action))
		for k, v := range action {
			msg.Action[k] = v
		}
	}
	msg.Moderation = normalizeMessageModeration(pick(node, "moderation", "moderationState", "moderationMetadata"))
	return msg
}

// normalizeMessagePatch is the partial variant used for MESSAGE_UPDATED:
// only fields present on the wire are set.
func normalizeMessagePatch(node map[string]any) *MessagePatch {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "messageId", "message_id", "id", "messageID", "nodeId"))
	if id == "" {
		return nil
	}
	p := &MessagePatch{MessageID: id}
	if v := pick(node, "createdAt", "created_at", "timestamp", "sentAt"); v != nil {
		t := asTime(v)
		p.CreatedAt = &t
	}
	if v := pick(node, "authorUserId", "author_user_id", "authorId", "senderId"); v != nil {
		s := asID(v)
		p.AuthorUserID = &s
	}
	if v, ok := pick(node, "type", "messageType", "kind").(string); ok {
		s := strings.ToUpper(v)
		p.Type = &s
	}
	if v, ok := node["body"]; ok && v != nil {
		s := asString(v)
		p.Body = &s
	}
	if v := pick(node, "attachments", "assets"); v != nil {
		p.Attachments = normalizeAttachments(v)
		p.HasAttach = true
	}
	if v := pick(node, "action", "actionCard"); v != nil {
		if m := asMap(v); m != nil {
			p.Action = make(map[string]any, len(m))
			for k, val := range m {
				p.Action[k] = val
			}
			p.HasAction = true
		}
	}
	if v := pick(node, "nsfwBand", "nsfw_band", "safeModeBand", "nsfwLevel"); v != nil {
		n := asInt(v, 0)
		p.NSFWBand = &n
	}
	if v, ok := node["moderation"]; ok {
		p.Moderation = normalizeMessageModeration(v)
		p.ModerationSet = true
	} else if v, ok := node["moderationState"]; ok {
		p.Moderation = normalizeMessageModeration(v)
		p.ModerationSet = true
	}
	return p
}

func normalizeActionCardNode(node map[string]any) *models.ActionCard {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "actionId", "action_id", "cardId", "card_id", "id"))
	if id == "" {
		return nil
	}
	card := &models.ActionCard{
		CardID:  id,
		Version: asInt(pick(node, "version", "revision", "actionVersion"), 0),
	}
	if t, ok := pick(node, "type", "actionType", "action_type", "kind").(string); ok {
		card.ActionType = strings.ToUpper(t)
	} else {
		card.ActionType = "UNKNOWN"
	}
	if s, ok := pick(node, "state", "status").(string); ok {
		card.State = strings.ToUpper(s)
	} else {
		card.State = "UNKNOWN"
	}
	card.UpdatedAt = asTime(pick(node, "updatedAt", "updated_at", "modifiedAt", "lastUpdatedAt", "timestamp", "createdAt", "created_at"))
	if payload := asMap(pick(node, "payload", "data")); payload != nil {
		card.Payload = make(map[string]any, len(payload))
		for k, v := range payload {
			card.Payload[k] = v
		}
	}
	if s, ok := pick(node, "category").(string); ok {
		card.Category = strings.ToUpper(s)
	}
	return card
}

func normalizeParticipantNode(node map[string]any) *models.Participant {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "userId", "user_id", "id"))
	if id == "" {
		return nil
	}
	role := asString(pick(node, "role", "participantRole"))
	if role == "" {
		role = "GUEST"
	}
	return &models.Participant{
		UserID:        id,
		Role:          strings.ToUpper(role),
		LastReadMsgID: asID(pick(node, "lastReadMsgId", "last_read_msg_id", "lastReadMessageId")),
		LastReadAt:    asTime(pick(node, "lastReadAt", "last_read_at")),
	}
}

func normalizeRequestNode(node map[string]any) *models.MessageRequest {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "requestId", "request_id", "id"))
	tid := pick(node, "threadId", "thread_id")
	if tid == nil {
		if t := asMap(node["thread"]); t != nil {
			tid = pick(t, "threadId", "id")
		}
	}
	threadID := asID(tid)
	if id == "" || threadID == "" {
		return nil
	}
	status := strings.ToUpper(asString(pick(node, "status", "state")))
	if status == "" {
		status = models.RequestPending
	}
	return &models.MessageRequest{
		RequestID:   id,
		ThreadID:    threadID,
		FromUserID:  asID(pick(node, "fromUserId", "from_user_id", "senderId", "requesterId")),
		Status:      status,
		CreditCost:  asInt(pick(node, "creditCost", "credit_cost", "cost", "creditPrice"), 0),
		ExpiresAt:   asTime(pick(node, "expiresAt", "expires_at", "expiration")),
		CreatedAt:   asTime(pick(node, "createdAt", "created_at", "requestedAt", "insertedAt")),
		PreviewText: asString(pick(node, "previewText", "preview_text", "preview")),
		Kind:        normalizeKind(pick(node, "kind")),
		Title:       asString(pick(node, "title")),
		Subtitle:    asString(pick(node, "subtitle")),
	}
}

func normalizeRateLimitNode(node map[string]any) models.RateLimit {
	rl := models.RateLimit{Window: defaultRateWindow, MaxNew: defaultRateMax}
	if node == nil {
		return rl
	}
	if ms := asInt64(pick(node, "windowMs", "window_ms"), 0); ms > 0 {
		rl.Window = time.Duration(ms) * time.Millisecond
	}
	rl.MaxNew = asInt(pick(node, "maxConversations", "max_conversations", "limit", "max"), defaultRateMax)
	if raw, ok := pick(node, "initiations").([]any); ok {
		for _, item := range raw {
			if t := asTime(item); !t.IsZero() {
				rl.Recent = append(rl.Recent, t)
			}
		}
	}
	return rl
}

func normalizeCreditsNode(node map[string]any) models.Credits {
	if node == nil {
		return models.Credits{Available: -1}
	}
	c := models.Credits{
		CostPer: asInt(pick(node, "costPerRequest", "cost_per_request", "cost", "price"), 0),
		Floor:   asInt(pick(node, "floor", "minimum", "minBalance"), 0),
	}
	if v := pick(node, "available", "remaining", "balance"); v != nil {
		c.Available = asInt(v, -1)
	} else {
		c.Available = -1
	}
	return c
}

func normalizeInboxThreadNode(node map[string]any) *models.InboxEntry {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "threadId", "thread_id", "id"))
	if id == "" {
		return nil
	}
	last := pick(node, "lastMessageAt", "last_message_at")
	if last == nil {
		if lm := asMap(node["lastMessage"]); lm != nil {
			last = pick(lm, "createdAt", "created_at")
		}
	}
	if last == nil {
		last = pick(node, "updatedAt", "createdAt")
	}
	entry := &models.InboxEntry{
		ThreadID:      id,
		Kind:          normalizeKind(pick(node, "kind")),
		LastMessageAt: asTime(last),
		UnreadCount:   asInt(pick(node, "unreadCount", "unread_count", "unread"), 0),
		Pinned:        asBool(pick(node, "pinned", "isPinned")),
		Archived:      asBool(pick(node, "archived", "isArchived")),
		Muted:         asBool(pick(node, "muted", "isMuted")),
		SafeMode:      asBool(pick(node, "safeModeRequired", "safe_mode_required", "requiresSafeMode")),
		Title:         asString(pick(node, "title")),
		Subtitle:      asString(pick(node, "subtitle")),
	}
	if s, ok := pick(node, "status", "state").(string); ok {
		entry.Status = strings.ToUpper(s)
	}
	if raw, ok := pick(node, "labels").([]any); ok {
		for _, l := range raw {
			if s := asString(l); s != "" {
				entry.Labels = append(entry.Labels, s)
			}
		}
	}
	if meta := asMap(pick(node, "metadata")); meta != nil {
		entry.Metadata = make(map[string]any, len(meta))
		for k, v := range meta {
			entry.Metadata[k] = v
		}
	}
	return entry
}

func normalizeThreadHeader(node map[string]any) (models.Thread, error) {
	if node == nil {
		return models.Thread{}, errors.New("thread header requires a thread object")
	}
	id := asID(pick(node, "threadId", "thread_id", "id"))
	if id == "" {
		return models.Thread{}, errors.New("thread header requires threadId")
	}
	status := strings.ToUpper(asString(pick(node, "status", "state")))
	if status == "" {
		status = "OPEN"
	}
	last := pick(node, "lastMessageAt", "last_message_at")
	if last == nil {
		if lm := asMap(node["lastMessage"]); lm != nil {
			last = pick(lm, "createdAt", "created_at")
		}
	}
	if last == nil {
		last = pick(node, "updatedAt", "createdAt")
	}
	return models.Thread{
		ThreadID:         id,
		Kind:             normalizeKind(pick(node, "kind")),
		Status:           status,
		SafeModeRequired: asBool(pick(node, "safeModeRequired", "safe_mode_required", "requiresSafeMode")),
		LastMessageAt:    asTime(last),
		Moderation:       normalizeThreadModeration(pick(node, "moderation")),
	}, nil
}

func normalizeSafeMode(node map[string]any) models.SafeMode {
	if node == nil {
		return models.SafeMode{BandMax: 1}
	}
	band := asInt(pick(node, "bandMax", "band_max", "band", "nsfwBandMax"), 1)
	return models.SafeMode{
		BandMax:  band,
		Override: asBool(pick(node, "override", "hasOverride", "safeModeOverride")),
	}
}

func normalizeProjectPanel(node map[string]any) *models.ProjectPanel {
	if node == nil {
		return nil
	}
	panel := &models.ProjectPanel{
		Version: asInt(pick(node, "version", "revision"), 0),
		Tabs:    map[string]any{},
	}
	if tabs := asMap(node["tabs"]); tabs != nil {
		for k, v := range tabs {
			panel.Tabs[k] = v
		}
	}
	return panel
}

// NormalizeInboxPayload converts a raw inbox query payload into the
// hydration shape the inbox store consumes.
func NormalizeInboxPayload(payload map[string]any) InboxPayload {
	out := InboxPayload{}
	for _, node := range asNodes(pick(payload, "threads", "edges", "items")) {
		if entry := normalizeInboxThreadNode(node); entry != nil {
			out.Threads = append(out.Threads, *entry)
		}
	}
	for _, node := range asNodes(pick(payload, "messageRequests", "message_requests", "requests")) {
		if req := normalizeRequestNode(node); req != nil {
			out.Requests = append(out.Requests, *req)
		}
	}
	out.RateLimit = normalizeRateLimitNode(asMap(pick(payload, "rateLimit", "rate_limit", "rateLimitInfo")))
	out.Credits = normalizeCreditsNode(asMap(pick(payload, "credits", "creditSummary")))
	return out
}

// NormalizeThreadPayload converts a raw thread query payload into the
// hydration shape the thread store consumes.
func NormalizeThreadPayload(payload map[string]any) (ThreadPayload, error) {
	source := asMap(payload["thread"])
	if source == nil {
		source = payload
	}
	header, err := normalizeThreadHeader(source)
	if err != nil {
		return ThreadPayload{}, err
	}
	out := ThreadPayload{Thread: header, PresenceTTL: defaultPresenceTTL}

	sm := asMap(pick(payload, "safeMode", "safe_mode"))
	if sm == nil {
		sm = asMap(pick(source, "safeMode", "safe_mode"))
	}
	out.SafeMode = normalizeSafeMode(sm)

	msgs := pick(payload, "messages")
	if msgs == nil {
		msgs = pick(source, "messages")
	}
	for _, node := range asNodes(msgs) {
		if m := normalizeMessageNode(node); m != nil {
			m.ThreadID = header.ThreadID
			out.Messages = append(out.Messages, *m)
		}
	}

	cards := pick(payload, "actionCards", "action_cards")
	if cards == nil {
		cards = pick(source, "actionCards", "action_cards")
	}
	for _, node := range asNodes(cards) {
		if c := normalizeActionCardNode(node); c != nil {
			c.ThreadID = header.ThreadID
			out.Cards = append(out.Cards, *c)
		}
	}

	parts := pick(payload, "participants")
	if parts == nil {
		parts = pick(source, "participants")
	}
	for _, node := range asNodes(parts) {
		if p := normalizeParticipantNode(node); p != nil {
			out.Participants = append(out.Participants, *p)
		}
	}

	panel := asMap(pick(payload, "projectPanel", "project_panel"))
	if panel == nil {
		panel = asMap(pick(source, "projectPanel", "project_panel"))
	}
	out.Panel = normalizeProjectPanel(panel)

	if ms := asInt64(pick(payload, "presenceTtlMs", "presence_ttl_ms", "presenceTTL"), 0); ms > 0 {
		out.PresenceTTL = time.Duration(ms) * time.Millisecond
	} else if ms := asInt64(pick(source, "presenceTtlMs", "presence_ttl_ms", "presenceTTL"), 0); ms > 0 {
		out.PresenceTTL = time.Duration(ms) * time.Millisecond
	}
	return out, nil
}

// NormalizeMessageAck converts a server send acknowledgment into a
// message. Unlike payload messages, an ack without a server id is
// rejected rather than degraded to a temp entry.
func NormalizeMessageAck(node map[string]any) *models.Message {
	if node == nil {
		return nil
	}
	if inner := asMap(node["message"]); inner != nil {
		node = inner
	}
	if asID(pick(node, "messageId", "message_id", "id", "messageID")) == "" {
		return nil
	}
	msg := normalizeMessageNode(node)
	if msg == nil || strings.HasPrefix(msg.MessageID, "temp:") {
		return nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return msg
}

func normalizeDecisionNode(node map[string]any) *models.ModerationDecision {
	if node == nil {
		return nil
	}
	decision := strings.ToUpper(asString(pick(node, "decision", "outcome")))
	if decision == "" {
		return nil
	}
	return &models.ModerationDecision{
		ActorID:   asID(pick(node, "actorId", "actor_id")),
		ActorRole: strings.ToUpper(asString(pick(node, "actorRole", "actor_role", "role"))),
		Decision:  decision,
		Notes:     asString(pick(node, "notes")),
		DecidedAt: asTime(pick(node, "decidedAt", "decided_at")),
	}
}

func normalizeModerationCaseNode(node map[string]any) *models.ModerationCase {
	if node == nil {
		return nil
	}
	id := asID(pick(node, "caseId", "case_id", "id"))
	if id == "" {
		return nil
	}
	mc := &models.ModerationCase{
		CaseID:               id,
		Type:                 strings.ToUpper(asString(pick(node, "type", "caseType"))),
		ThreadID:             asID(pick(node, "threadId", "thread_id")),
		MessageID:            asID(pick(node, "messageId", "message_id")),
		Status:               strings.ToUpper(asString(pick(node, "status"))),
		Severity:             strings.ToUpper(asString(pick(node, "severity"))),
		Reason:               asString(pick(node, "reason")),
		ReportedBy:           asID(pick(node, "reportedBy", "reported_by")),
		ReportedAt:           asTime(pick(node, "reportedAt", "reported_at")),
		AuditTrailID:         asString(pick(node, "auditTrailId", "audit_trail_id")),
		RequiresDualApproval: asBool(pick(node, "requiresDualApproval", "requires_dual_approval", "dualApproval")),
		CreatedAt:            asTime(pick(node, "createdAt", "created_at")),
		LastUpdatedAt:        asTime(pick(node, "lastUpdatedAt", "last_updated_at", "updatedAt")),
	}
	for _, d := range asNodes(pick(node, "approvals", "decisions")) {
		if dec := normalizeDecisionNode(d); dec != nil {
			mc.Approvals = append(mc.Approvals, *dec)
		}
	}
	if meta := asMap(pick(node, "metadata")); meta != nil {
		mc.Metadata = make(map[string]any, len(meta))
		for k, v := range meta {
			mc.Metadata[k] = v
		}
	}
	if res := asMap(pick(node, "resolution")); res != nil {
		mc.Resolution = &models.ModerationResolution{
			Outcome:    strings.ToUpper(asString(pick(res, "outcome"))),
			Notes:      asString(pick(res, "notes")),
			ResolvedBy: asID(pick(res, "resolvedBy", "resolved_by")),
			ResolvedAt: asTime(pick(res, "resolvedAt", "resolved_at")),
		}
	}
	return mc
}

// NormalizeModerationCases converts a raw moderation queue payload. The
// case list may arrive under "cases", "queue", or as a bare array keyed
// "items".
func NormalizeModerationCases(payload map[string]any) []models.ModerationCase {
	var out []models.ModerationCase
	for _, node := range asNodes(pick(payload, "cases", "queue", "items")) {
		if mc := normalizeModerationCaseNode(node); mc != nil {
			out = append(out, *mc)
		}
	}
	return out
}
