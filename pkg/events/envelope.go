package events

import "strings"

func envelopeType(envelope map[string]any) string {
	raw := pick(envelope, "type", "eventType", "event_type", "__typename")
	if raw == nil {
		if ev := asMap(envelope["event"]); ev != nil {
			raw = pick(ev, "type")
		}
	}
	if raw == nil {
		if p := asMap(envelope["payload"]); p != nil {
			raw = pick(p, "type")
		}
	}
	return CanonicalizeType(asString(raw))
}

// payloadSource resolves the body of an envelope: a named field first,
// then payload.<field>, then the raw payload or data maps.
func payloadSource(envelope map[string]any, field string) map[string]any {
	if m := asMap(envelope[field]); m != nil {
		return m
	}
	if p := asMap(envelope["payload"]); p != nil {
		if m := asMap(p[field]); m != nil {
			return m
		}
		return p
	}
	return asMap(envelope["data"])
}

// MapThreadEnvelope converts a raw subscription envelope into a
// canonical thread event. Unrecognized or unusable envelopes yield nil.
func MapThreadEnvelope(envelope map[string]any) *ThreadEvent {
	if envelope == nil {
		return nil
	}
	etype, ok := threadEventAliases[envelopeType(envelope)]
	if !ok {
		return nil
	}
	switch etype {
	case MessageCreated:
		source := payloadSource(envelope, "message")
		msg := normalizeMessageNode(source)
		if msg == nil {
			return nil
		}
		if cid := asString(pick(envelope, "clientId", "client_id")); cid != "" {
			msg.ClientID = cid
		}
		return &ThreadEvent{Type: etype, Message: msg}
	case MessageUpdated:
		source := payloadSource(envelope, "message")
		if source == nil {
			source = envelope
		}
		patch := normalizeMessagePatch(source)
		if patch == nil {
			return nil
		}
		return &ThreadEvent{Type: etype, Patch: patch}
	case MessageModerationUpdated:
		source := payloadSource(envelope, "message")
		id := asID(pick(source, "messageId", "message_id", "id"))
		if id == "" {
			id = asID(pick(envelope, "messageId", "message_id"))
		}
		if id == "" {
			return nil
		}
		return &ThreadEvent{
			Type:              etype,
			MessageID:         id,
			MessageModeration: normalizeMessageModeration(pick(source, "moderation", "moderationState")),
		}
	case MessageFailed:
		cid := asString(pick(envelope, "clientId", "client_id"))
		code := asString(pick(envelope, "errorCode", "error_code"))
		if p := asMap(envelope["payload"]); p != nil {
			if cid == "" {
				cid = asString(pick(p, "clientId", "client_id"))
			}
			if code == "" {
				code = asString(pick(p, "errorCode", "error_code"))
			}
		}
		if d := asMap(envelope["data"]); d != nil {
			if cid == "" {
				cid = asString(pick(d, "clientId", "client_id"))
			}
			if code == "" {
				code = asString(pick(d, "errorCode", "error_code"))
			}
		}
		if cid == "" {
			return nil
		}
		return &ThreadEvent{Type: etype, ClientID: cid, ErrorCode: code}
	case ActionCardUpsert:
		card := normalizeActionCardNode(payloadSource(envelope, "actionCard"))
		if card == nil {
			return nil
		}
		return &ThreadEvent{Type: etype, Card: card}
	case ReadReceiptUpdated:
		source := payloadSource(envelope, "readReceipt")
		if source == nil {
			return nil
		}
		p := normalizeParticipantNode(source)
		if p == nil {
			return nil
		}
		return &ThreadEvent{Type: etype, Receipt: p}
	case PresenceEvent:
		source := payloadSource(envelope, "presence")
		if source == nil {
			return nil
		}
		userID := asID(pick(source, "userId", "user_id", "participantId"))
		if userID == "" {
			return nil
		}
		update := &PresenceUpdate{
			UserID: userID,
			Typing: asBool(pick(source, "typing", "isTyping")),
		}
		if v := pick(source, "lastSeen", "last_seen"); v != nil {
			t := asTime(v)
			update.LastSeen = &t
		}
		return &ThreadEvent{Type: etype, Presence: update}
	case ThreadStatusChanged:
		source := payloadSource(envelope, "thread")
		status := asString(pick(source, "status"))
		if status == "" {
			if t := asMap(pick(source, "thread")); t != nil {
				status = asString(pick(t, "status"))
			}
		}
		if status == "" {
			status = "OPEN"
		}
		return &ThreadEvent{Type: etype, Status: strings.ToUpper(status)}
	case ThreadModerationUpdated:
		source := payloadSource(envelope, "thread")
		id := asID(pick(source, "threadId", "thread_id", "id"))
		if id == "" {
			id = asID(pick(envelope, "threadId", "thread_id"))
		}
		if id == "" {
			return nil
		}
		return &ThreadEvent{
			Type:             etype,
			ThreadID:         id,
			ThreadModeration: normalizeThreadModeration(pick(source, "moderation")),
			Status:           strings.ToUpper(asString(pick(source, "status", "state"))),
		}
	case SafeModeOverride:
		source := payloadSource(envelope, "safeMode")
		if source == nil {
			return nil
		}
		change := &SafeModeChange{Override: asBool(pick(source, "override", "hasOverride"))}
		if v := pick(source, "bandMax", "band_max", "band", "nsfwBandMax"); v != nil {
			n := asInt(v, 1)
			change.BandMax = &n
		}
		return &ThreadEvent{Type: etype, SafeMode: change}
	case ProjectPanelUpdated:
		source := payloadSource(envelope, "projectPanel")
		if source == nil {
			return nil
		}
		return &ThreadEvent{Type: etype, Panel: normalizeProjectPanel(source)}
	}
	return nil
}

// MapInboxEnvelope converts a raw subscription envelope into a canonical
// inbox event. Unrecognized or unusable envelopes yield nil.
func MapInboxEnvelope(envelope map[string]any) *InboxEvent {
	if envelope == nil {
		return nil
	}
	etype, ok := inboxEventAliases[envelopeType(envelope)]
	if !ok {
		return nil
	}
	switch etype {
	case ThreadCreated, ThreadUpdated:
		source := payloadSource(envelope, "thread")
		entry := normalizeInboxThreadNode(source)
		if entry == nil {
			return nil
		}
		return &InboxEvent{Type: etype, ThreadID: entry.ThreadID, Entry: entry}
	case ThreadMessageReceived:
		source := asMap(envelope["payload"])
		if source == nil {
			source = asMap(envelope["data"])
		}
		id := asID(pick(source, "threadId", "thread_id"))
		if id == "" {
			if t := asMap(pick(source, "thread")); t != nil {
				id = asID(pick(t, "threadId", "id"))
			}
		}
		if id == "" {
			return nil
		}
		last := pick(source, "lastMessageAt", "last_message_at")
		if last == nil {
			if m := asMap(pick(source, "message")); m != nil {
				last = pick(m, "createdAt", "created_at")
			}
		}
		return &InboxEvent{
			Type:            etype,
			ThreadID:        id,
			LastMessageAt:   asTime(last),
			IncrementUnread: asInt(pick(source, "incrementUnread", "increment_unread", "unreadDelta"), 1),
		}
	case ThreadPinned, ThreadUnpinned, ThreadArchived, ThreadUnarchived, ThreadMuted, ThreadBlocked, ThreadUnblocked:
		source := asMap(envelope["payload"])
		if source == nil {
			source = asMap(envelope["data"])
		}
		id := asID(pick(source, "threadId", "thread_id"))
		if id == "" {
			if t := asMap(pick(source, "thread")); t != nil {
				id = asID(pick(t, "threadId", "id"))
			}
		}
		if id == "" {
			return nil
		}
		ev := &InboxEvent{Type: etype, ThreadID: id}
		if etype == ThreadMuted {
			muted := asBool(pick(source, "muted", "isMuted"))
			ev.Muted = &muted
		}
		if etype == ThreadBlocked {
			blocked := true
			ev.Blocked = &blocked
		}
		if etype == ThreadUnblocked {
			blocked := false
			ev.Blocked = &blocked
		}
		if s, ok := pick(source, "status").(string); ok {
			ev.Status = strings.ToUpper(s)
		} else if t := asMap(pick(source, "thread")); t != nil {
			ev.Status = strings.ToUpper(asString(pick(t, "status")))
		}
		ev.Moderation = normalizeThreadModeration(pick(source, "moderation"))
		return ev
	case ThreadRead:
		source := asMap(envelope["payload"])
		if source == nil {
			source = asMap(envelope["data"])
		}
		id := asID(pick(source, "threadId", "thread_id"))
		if id == "" {
			if t := asMap(pick(source, "thread")); t != nil {
				id = asID(pick(t, "threadId", "id"))
			}
		}
		if id == "" {
			return nil
		}
		return &InboxEvent{Type: etype, ThreadID: id}
	case RequestReceived:
		req := normalizeRequestNode(payloadSource(envelope, "request"))
		if req == nil {
			return nil
		}
		return &InboxEvent{Type: etype, ThreadID: req.ThreadID, Request: req}
	}
	return nil
}
