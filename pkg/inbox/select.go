package inbox

import (
	"strconv"
	"strings"

	"msgcore/pkg/models"
)

// Folder names the inbox views.
type Folder string

const (
	FolderDefault  Folder = "default"
	FolderPinned   Folder = "pinned"
	FolderArchived Folder = "archived"
	FolderRequests Folder = "requests"
)

// SelectOptions filters thread selection. Tristate filters (Muted,
// SafeMode) are nil when not applied. Matcher extends the default query
// match; a candidate passes when either matches. Predicate is a final
// arbitrary filter.
type SelectOptions struct {
	Folder          Folder
	IncludeArchived bool
	OnlyUnread      bool
	Kinds           []string
	Muted           *bool
	SafeMode        *bool
	Query           string
	Matcher         func(entry models.InboxEntry, query string) bool
	Predicate       func(entry models.InboxEntry) bool
}

func kindSet(kinds []string) map[string]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, k := range kinds {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			set[k] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// defaultQueryMatch scans an entry's identifying and descriptive fields
// plus the search-oriented metadata keys.
func defaultQueryMatch(entry models.InboxEntry, query string) bool {
	haystack := []string{entry.ThreadID, string(entry.Kind), entry.Status, entry.Title, entry.Subtitle}
	haystack = append(haystack, entry.Labels...)
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["displayName"].(string); ok {
			haystack = append(haystack, v)
		}
		if v, ok := entry.Metadata["searchText"].(string); ok {
			haystack = append(haystack, v)
		}
		if tokens, ok := entry.Metadata["searchTokens"].([]any); ok {
			for _, tok := range tokens {
				if v, ok := tok.(string); ok {
					haystack = append(haystack, v)
				}
			}
		}
	}
	for _, v := range haystack {
		if v != "" && strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}

// Select returns thread summary rows in recency order, filtered. The
// requests folder is served by SelectRequests.
func (s *State) Select(opts SelectOptions) []models.InboxEntry {
	kinds := kindSet(opts.Kinds)
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	candidates := s.order
	switch opts.Folder {
	case FolderPinned:
		candidates = s.pinned
	case FolderArchived:
		candidates = s.archived
	case FolderRequests:
		return nil
	}

	var out []models.InboxEntry
	for _, id := range candidates {
		entry, ok := s.threadsByID[id]
		if !ok {
			continue
		}
		if !opts.IncludeArchived && entry.Archived && opts.Folder != FolderArchived {
			continue
		}
		entry = entry.Clone()
		entry.UnreadCount = s.unread[id]
		if opts.OnlyUnread && entry.UnreadCount == 0 {
			continue
		}
		if kinds != nil && !kinds[strings.ToUpper(string(entry.Kind))] {
			continue
		}
		if opts.Muted != nil && entry.Muted != *opts.Muted {
			continue
		}
		if opts.SafeMode != nil && entry.SafeMode != *opts.SafeMode {
			continue
		}
		if query != "" {
			matched := defaultQueryMatch(entry, query)
			if !matched && opts.Matcher != nil {
				matched = opts.Matcher(entry, query)
			}
			if !matched {
				continue
			}
		}
		if opts.Predicate != nil && !opts.Predicate(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// SelectRequests returns pending and decided message requests in
// arrival order, optionally filtered by a query over the request id,
// thread id, status, and credit cost.
func (s *State) SelectRequests(query string) []models.MessageRequest {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []models.MessageRequest
	for _, id := range s.reqOrder {
		req, ok := s.requests[id]
		if !ok {
			continue
		}
		if query != "" {
			fields := []string{req.RequestID, req.ThreadID, req.Status, strconv.Itoa(req.CreditCost)}
			matched := false
			for _, f := range fields {
				if strings.Contains(strings.ToLower(f), query) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, req)
	}
	return out
}
