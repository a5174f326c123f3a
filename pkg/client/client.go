// Package client is the network-facing layer over the controller. It
// pulls authoritative payloads through a Fetcher, pumps subscription
// envelopes into the canonical event vocabulary, and wraps every
// mutation in the optimistic-update-then-reconcile protocol: the local
// store moves first, the server is told second, and a rejected mutation
// is compensated by a terminal local state or an authoritative re-fetch.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"msgcore/pkg/controller"
	"msgcore/pkg/events"
	"msgcore/pkg/ids"
	"msgcore/pkg/inbox"
	"msgcore/pkg/logger"
	"msgcore/pkg/models"
	"msgcore/pkg/moderation"
	"msgcore/pkg/thread"
	"msgcore/pkg/transport"
)

const (
	defaultPollInterval    = 1500 * time.Millisecond
	defaultPollMaxAttempts = 10
)

// Coded is implemented by transport errors carrying a stable error code.
type Coded interface {
	Code() string
}

func errorCode(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}
	return "UNKNOWN"
}

// Options configures a Client. Controller is required; the four
// transport collaborators are each optional, and operations that need a
// missing one fail with a descriptive error.
type Options struct {
	Controller *controller.Controller
	Fetcher    transport.Fetcher
	Subscriber transport.Subscriber
	Mutations  transport.Mutations
	Uploads    transport.UploadHandlers

	// IDs generates client ids for uploads; defaults to uuid-backed.
	IDs ids.Generator
	// PollInterval and PollMaxAttempts bound the upload status poll.
	PollInterval    time.Duration
	PollMaxAttempts int
	// Sleep is the poll delay; overridable for tests. Defaults to a
	// context-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client orchestrates fetches, subscriptions, and mutations for one
// controller.
type Client struct {
	ctrl       *controller.Controller
	fetcher    transport.Fetcher
	subscriber transport.Subscriber
	mutations  transport.Mutations
	uploads    transport.UploadHandlers

	newID           ids.Generator
	pollInterval    time.Duration
	pollMaxAttempts int
	sleep           func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	inboxDispose  func()
	threadDispose map[string]func()
}

// New builds a client around an existing controller.
func New(opts Options) (*Client, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("client requires a controller")
	}
	c := &Client{
		ctrl:            opts.Controller,
		fetcher:         opts.Fetcher,
		subscriber:      opts.Subscriber,
		mutations:       opts.Mutations,
		uploads:         opts.Uploads,
		newID:           opts.IDs,
		pollInterval:    opts.PollInterval,
		pollMaxAttempts: opts.PollMaxAttempts,
		sleep:           opts.Sleep,
		threadDispose:   map[string]func(){},
	}
	if c.newID == nil {
		c.newID = ids.New()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.pollMaxAttempts <= 0 {
		c.pollMaxAttempts = defaultPollMaxAttempts
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Controller exposes the underlying controller for direct reads.
func (c *Client) Controller() *controller.Controller { return c.ctrl }

// RefreshInbox fetches and hydrates the inbox wholesale.
func (c *Client) RefreshInbox(ctx context.Context, args map[string]any) (*inbox.State, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("refresh inbox requires a fetcher")
	}
	payload, err := c.fetcher.FetchInbox(ctx, args)
	if err != nil {
		return nil, err
	}
	return c.ctrl.HydrateInbox(events.NormalizeInboxPayload(payload)), nil
}

// HydrateOptions tunes HydrateThread.
type HydrateOptions struct {
	Args map[string]any
	// SkipInboxSync leaves the inbox entry untouched by the hydration.
	SkipInboxSync bool
	// Subscribe opens a thread subscription after hydrating.
	Subscribe        bool
	SubscribeOptions SubscribeOptions
}

// HydrateThread fetches one thread and installs its store.
func (c *Client) HydrateThread(ctx context.Context, threadID string, opts HydrateOptions) (*thread.State, error) {
	if threadID == "" {
		return nil, fmt.Errorf("hydrate thread requires threadId")
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("hydrate thread requires a fetcher")
	}
	raw, err := c.fetcher.FetchThread(ctx, threadID, opts.Args)
	if err != nil {
		return nil, err
	}
	payload, err := events.NormalizeThreadPayload(raw)
	if err != nil {
		return nil, err
	}
	if payload.Thread.ThreadID != threadID && logger.Log != nil {
		logger.Log.Warn("thread_id_mismatch", "expected", threadID, "received", payload.Thread.ThreadID)
	}
	st, err := c.ctrl.HydrateThread(payload, !opts.SkipInboxSync)
	if err != nil {
		return nil, err
	}
	if opts.Subscribe {
		if _, serr := c.StartThreadSubscription(ctx, threadID, opts.SubscribeOptions); serr != nil && logger.Log != nil {
			logger.Log.Warn("thread_subscribe_failed", "thread_id", threadID, "error", serr.Error())
		}
	}
	return st, nil
}

// HydrateModerationQueue fetches and replaces the moderation queue.
func (c *Client) HydrateModerationQueue(ctx context.Context, args map[string]any) (*moderation.State, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("hydrate moderation queue requires a fetcher")
	}
	payload, err := c.fetcher.FetchModerationQueue(ctx, args)
	if err != nil {
		return nil, err
	}
	return c.ctrl.HydrateModerationQueue(events.NormalizeModerationCases(payload)), nil
}

// SubscribeOptions tunes subscription error handling.
type SubscribeOptions struct {
	// DisableRefresh suppresses the compensating re-fetch a stream
	// error normally triggers.
	DisableRefresh bool
}

// StartInboxSubscription opens (or returns the already-open) inbox
// stream. The disposer is idempotent.
func (c *Client) StartInboxSubscription(ctx context.Context, opts SubscribeOptions) (func(), error) {
	c.mu.Lock()
	if c.inboxDispose != nil {
		dispose := c.inboxDispose
		c.mu.Unlock()
		return dispose, nil
	}
	c.mu.Unlock()
	if c.subscriber == nil {
		return nil, fmt.Errorf("inbox subscription requires a subscriber")
	}
	handlers := transport.Handlers{
		Next: func(envelope map[string]any) {
			if ev := events.MapInboxEnvelope(envelope); ev != nil {
				c.ctrl.ApplyInboxEvent(ev)
			}
		},
		Error: func(err error) {
			if logger.Log != nil {
				logger.Log.Warn("inbox_stream_error", "error", err.Error())
			}
			if !opts.DisableRefresh && c.fetcher != nil {
				if _, rerr := c.RefreshInbox(context.Background(), nil); rerr != nil && logger.Log != nil {
					logger.Log.Error("inbox_refresh_failed", "error", rerr.Error())
				}
			}
		},
		Complete: func() {
			c.mu.Lock()
			c.inboxDispose = nil
			c.mu.Unlock()
		},
	}
	raw, err := c.subscriber.SubscribeInbox(ctx, handlers)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	dispose := func() {
		once.Do(func() {
			if raw != nil {
				raw()
			}
			c.mu.Lock()
			c.inboxDispose = nil
			c.mu.Unlock()
		})
	}
	c.mu.Lock()
	c.inboxDispose = dispose
	c.mu.Unlock()
	return dispose, nil
}

// StopInboxSubscription tears down the inbox stream if open.
func (c *Client) StopInboxSubscription() {
	c.mu.Lock()
	dispose := c.inboxDispose
	c.mu.Unlock()
	if dispose != nil {
		dispose()
	}
}

// StartThreadSubscription opens (or returns the already-open) stream for
// one thread. A stream error triggers a compensating rehydrate unless
// disabled.
func (c *Client) StartThreadSubscription(ctx context.Context, threadID string, opts SubscribeOptions) (func(), error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread subscription requires threadId")
	}
	c.mu.Lock()
	if dispose, ok := c.threadDispose[threadID]; ok {
		c.mu.Unlock()
		return dispose, nil
	}
	c.mu.Unlock()
	if c.subscriber == nil {
		return nil, fmt.Errorf("thread subscription requires a subscriber")
	}
	handlers := transport.Handlers{
		Next: func(envelope map[string]any) {
			if ev := events.MapThreadEnvelope(envelope); ev != nil {
				c.ctrl.ApplyThreadEvent(threadID, ev)
			}
		},
		Error: func(err error) {
			if logger.Log != nil {
				logger.Log.Warn("thread_stream_error", "thread_id", threadID, "error", err.Error())
			}
			if !opts.DisableRefresh && c.fetcher != nil {
				if _, rerr := c.HydrateThread(context.Background(), threadID, HydrateOptions{}); rerr != nil && logger.Log != nil {
					logger.Log.Error("thread_rehydrate_failed", "thread_id", threadID, "error", rerr.Error())
				}
			}
		},
		Complete: func() {
			c.mu.Lock()
			delete(c.threadDispose, threadID)
			c.mu.Unlock()
		},
	}
	raw, err := c.subscriber.SubscribeThread(ctx, threadID, handlers)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	dispose := func() {
		once.Do(func() {
			if raw != nil {
				raw()
			}
			c.mu.Lock()
			delete(c.threadDispose, threadID)
			c.mu.Unlock()
		})
	}
	c.mu.Lock()
	c.threadDispose[threadID] = dispose
	c.mu.Unlock()
	return dispose, nil
}

// StopThreadSubscription tears down one thread's stream if open.
func (c *Client) StopThreadSubscription(threadID string) {
	c.mu.Lock()
	dispose := c.threadDispose[threadID]
	c.mu.Unlock()
	if dispose != nil {
		dispose()
	}
}

// Dispose tears down every open subscription.
func (c *Client) Dispose() {
	c.StopInboxSubscription()
	c.mu.Lock()
	disposers := make([]func(), 0, len(c.threadDispose))
	for _, d := range c.threadDispose {
		disposers = append(disposers, d)
	}
	c.mu.Unlock()
	for _, d := range disposers {
		d()
	}
}

func toAttachments(raw []map[string]any) []models.Attachment {
	if raw == nil {
		return nil
	}
	out := make([]models.Attachment, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		att := make(models.Attachment, len(m))
		for k, v := range m {
			att[k] = v
		}
		out = append(out, att)
	}
	return out
}

// SendMessage applies the optimistic placeholder, issues the mutation,
// and resolves or fails the placeholder from the outcome. The returned
// message is the server acknowledgment, nil when the ack was unusable.
func (c *Client) SendMessage(ctx context.Context, threadID string, input transport.SendInput) (*models.Message, error) {
	if threadID == "" {
		return nil, fmt.Errorf("send message requires threadId")
	}
	if input.ClientID == "" {
		return nil, fmt.Errorf("send message requires clientId")
	}
	if c.mutations == nil {
		return nil, fmt.Errorf("send message requires mutations")
	}
	if input.AuthorUserID == "" {
		input.AuthorUserID = c.ctrl.ViewerUserID()
	}
	if input.AuthorUserID == "" {
		return nil, fmt.Errorf("send message requires authorUserId")
	}
	if _, err := c.ctrl.EnqueueOptimistic(threadID, thread.OptimisticMessage{
		ClientID:     input.ClientID,
		AuthorUserID: input.AuthorUserID,
		Type:         input.Type,
		Body:         input.Body,
		Attachments:  toAttachments(input.Attachments),
	}); err != nil {
		return nil, err
	}
	resp, err := c.mutations.SendMessage(ctx, threadID, input)
	if err != nil {
		c.ctrl.FailOptimistic(threadID, input.ClientID, errorCode(err))
		if logger.Log != nil {
			logger.Log.Error("send_message_failed", "thread_id", threadID, "client_id", input.ClientID, "error", err.Error())
		}
		return nil, err
	}
	ack := events.NormalizeMessageAck(resp)
	if ack != nil {
		c.ctrl.ResolveOptimistic(threadID, input.ClientID, *ack)
	}
	return ack, nil
}

// MarkThreadRead records the read locally, then tells the server; a
// rejected mutation triggers a compensating rehydrate.
func (c *Client) MarkThreadRead(ctx context.Context, threadID string, opts controller.ReadOptions) error {
	if threadID == "" {
		return fmt.Errorf("mark thread read requires threadId")
	}
	if _, err := c.ctrl.MarkThreadRead(threadID, opts); err != nil {
		return err
	}
	if c.mutations == nil {
		return nil
	}
	if err := c.mutations.MarkThreadRead(ctx, threadID, nil); err != nil {
		if logger.Log != nil {
			logger.Log.Error("mark_read_failed", "thread_id", threadID, "error", err.Error())
		}
		if c.fetcher != nil {
			if _, herr := c.HydrateThread(ctx, threadID, HydrateOptions{}); herr != nil && logger.Log != nil {
				logger.Log.Warn("thread_rehydrate_failed", "thread_id", threadID, "error", herr.Error())
			}
		}
		return err
	}
	return nil
}

func (c *Client) compensateInbox(ctx context.Context) {
	if c.fetcher == nil {
		return
	}
	if _, err := c.RefreshInbox(ctx, nil); err != nil && logger.Log != nil {
		logger.Log.Warn("inbox_refresh_failed", "error", err.Error())
	}
}

// AcceptMessageRequest promotes the request locally, then remotely; a
// rejected mutation triggers a compensating inbox refresh.
func (c *Client) AcceptMessageRequest(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("accept message request requires requestId")
	}
	c.ctrl.AcceptMessageRequest(requestID)
	if c.mutations == nil {
		return nil
	}
	if err := c.mutations.AcceptMessageRequest(ctx, requestID, nil); err != nil {
		if logger.Log != nil {
			logger.Log.Error("request_accept_failed", "request_id", requestID, "error", err.Error())
		}
		c.compensateInbox(ctx)
		return err
	}
	return nil
}

// DeclineMessageRequest declines (or blocks) the request locally, then
// remotely, refreshing the inbox if the server refuses.
func (c *Client) DeclineMessageRequest(ctx context.Context, requestID string, block bool) error {
	if requestID == "" {
		return fmt.Errorf("decline message request requires requestId")
	}
	c.ctrl.DeclineMessageRequest(requestID, block)
	if c.mutations == nil {
		return nil
	}
	if err := c.mutations.DeclineMessageRequest(ctx, requestID, map[string]any{"block": block}); err != nil {
		if logger.Log != nil {
			logger.Log.Error("request_decline_failed", "request_id", requestID, "error", err.Error())
		}
		c.compensateInbox(ctx)
		return err
	}
	return nil
}

// toggleThread runs a mutation-first inbox toggle: the server must
// accept before the local flag moves.
func (c *Client) toggleThread(threadID string, remote func() error, local func() (*inbox.State, error)) (models.InboxEntry, error) {
	if threadID == "" {
		return models.InboxEntry{}, fmt.Errorf("thread toggle requires threadId")
	}
	if remote != nil {
		if err := remote(); err != nil {
			return models.InboxEntry{}, err
		}
	}
	st, err := local()
	if err != nil {
		return models.InboxEntry{}, err
	}
	entry, _ := st.Entry(threadID)
	return entry, nil
}

func (c *Client) PinThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.PinThread(ctx, threadID, true) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.PinThread(threadID) })
}

func (c *Client) UnpinThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.PinThread(ctx, threadID, false) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.UnpinThread(threadID) })
}

func (c *Client) ArchiveThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.ArchiveThread(ctx, threadID, true) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.ArchiveThread(threadID) })
}

func (c *Client) UnarchiveThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.ArchiveThread(ctx, threadID, false) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.UnarchiveThread(threadID) })
}

func (c *Client) MuteThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.MuteThread(ctx, threadID, true) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.MuteThread(threadID, true) })
}

func (c *Client) UnmuteThread(ctx context.Context, threadID string) (models.InboxEntry, error) {
	var remote func() error
	if c.mutations != nil {
		remote = func() error { return c.mutations.MuteThread(ctx, threadID, false) }
	}
	return c.toggleThread(threadID, remote, func() (*inbox.State, error) { return c.ctrl.UnmuteThread(threadID) })
}

// RecordConversationStart records the start locally; the server is told
// best-effort and a failure is logged, not returned.
func (c *Client) RecordConversationStart(ctx context.Context, creditsSpent int) {
	c.ctrl.RecordConversationStart(creditsSpent)
	if c.mutations == nil {
		return
	}
	if err := c.mutations.RecordConversationStart(ctx, map[string]any{"creditsSpent": creditsSpent}); err != nil && logger.Log != nil {
		logger.Log.Error("conversation_start_failed", "error", err.Error())
	}
}
