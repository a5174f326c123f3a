package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"msgcore/pkg/logger"
)

const wsRequestTimeout = 30 * time.Second

// WS talks to a messaging backend over HTTP JSON for fetches and
// mutations and one websocket per subscription scope for push delivery.
type WS struct {
	// BaseURL is the HTTP root, e.g. "https://api.example.com/messaging".
	BaseURL string
	// SocketURL is the websocket root, e.g. "wss://api.example.com/messaging".
	SocketURL string
	// Token, when set, is sent as a bearer Authorization header and as
	// a query parameter on websocket dials.
	Token string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// NewWS builds an adapter for the given HTTP and websocket roots.
func NewWS(baseURL, socketURL, token string) *WS {
	return &WS{BaseURL: baseURL, SocketURL: socketURL, Token: token}
}

func (w *WS) httpClient() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return http.DefaultClient
}

func (w *WS) endpoint(path string, args map[string]any) string {
	u := w.BaseURL + path
	if len(args) == 0 {
		return u
	}
	q := url.Values{}
	for k, v := range args {
		q.Set(k, fmt.Sprint(v))
	}
	return u + "?" + q.Encode()
}

func (w *WS) do(ctx context.Context, method, rawURL string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %s: status %d: %s", method, rawURL, resp.StatusCode, payload)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// FetchInbox implements Fetcher.
func (w *WS) FetchInbox(ctx context.Context, args map[string]any) (map[string]any, error) {
	return w.do(ctx, http.MethodGet, w.endpoint("/inbox", args), nil)
}

// FetchThread implements Fetcher.
func (w *WS) FetchThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error) {
	return w.do(ctx, http.MethodGet, w.endpoint("/threads/"+url.PathEscape(threadID), args), nil)
}

// FetchModerationQueue implements Fetcher.
func (w *WS) FetchModerationQueue(ctx context.Context, args map[string]any) (map[string]any, error) {
	return w.do(ctx, http.MethodGet, w.endpoint("/moderation/queue", args), nil)
}

func (w *WS) dialURL(path string) string {
	u := w.SocketURL + path
	if w.Token != "" {
		u += "?token=" + url.QueryEscape(w.Token)
	}
	return u
}

// subscribe dials one socket and pumps envelopes into the handlers until
// the stream ends or the disposer runs.
func (w *WS) subscribe(ctx context.Context, path string, h Handlers) (func(), error) {
	conn, _, err := websocket.Dial(ctx, w.dialURL(path), nil)
	if err != nil {
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	dispose := func() {
		once.Do(func() {
			cancel()
			conn.Close(websocket.StatusNormalClosure, "")
		})
	}
	go func() {
		defer dispose()
		for {
			var envelope map[string]any
			if err := wsjson.Read(loopCtx, conn, &envelope); err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || loopCtx.Err() != nil {
					if h.Complete != nil {
						h.Complete()
					}
					return
				}
				if logger.Log != nil {
					logger.Log.Warn("ws_read_failed", "path", path, "error", err.Error())
				}
				if h.Error != nil {
					h.Error(err)
				}
				return
			}
			if h.Next != nil {
				h.Next(envelope)
			}
		}
	}()
	return dispose, nil
}

// SubscribeInbox implements Subscriber.
func (w *WS) SubscribeInbox(ctx context.Context, h Handlers) (func(), error) {
	return w.subscribe(ctx, "/subscribe/inbox", h)
}

// SubscribeThread implements Subscriber.
func (w *WS) SubscribeThread(ctx context.Context, threadID string, h Handlers) (func(), error) {
	return w.subscribe(ctx, "/subscribe/threads/"+url.PathEscape(threadID), h)
}

func (w *WS) post(ctx context.Context, path string, body any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	defer cancel()
	return w.do(ctx, http.MethodPost, w.BaseURL+path, body)
}

// SendMessage implements Mutations.
func (w *WS) SendMessage(ctx context.Context, threadID string, input SendInput) (map[string]any, error) {
	return w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/messages", input)
}

func (w *WS) MarkThreadRead(ctx context.Context, threadID string, args map[string]any) error {
	_, err := w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/read", args)
	return err
}

func (w *WS) AcceptMessageRequest(ctx context.Context, requestID string, args map[string]any) error {
	_, err := w.post(ctx, "/requests/"+url.PathEscape(requestID)+"/accept", args)
	return err
}

func (w *WS) DeclineMessageRequest(ctx context.Context, requestID string, args map[string]any) error {
	_, err := w.post(ctx, "/requests/"+url.PathEscape(requestID)+"/decline", args)
	return err
}

func (w *WS) PinThread(ctx context.Context, threadID string, pinned bool) error {
	action := "/pin"
	if !pinned {
		action = "/unpin"
	}
	_, err := w.post(ctx, "/threads/"+url.PathEscape(threadID)+action, nil)
	return err
}

func (w *WS) ArchiveThread(ctx context.Context, threadID string, archived bool) error {
	action := "/archive"
	if !archived {
		action = "/unarchive"
	}
	_, err := w.post(ctx, "/threads/"+url.PathEscape(threadID)+action, nil)
	return err
}

func (w *WS) MuteThread(ctx context.Context, threadID string, muted bool) error {
	_, err := w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/mute", map[string]any{"muted": muted})
	return err
}

func (w *WS) ReportMessage(ctx context.Context, threadID, messageID string, args map[string]any) (map[string]any, error) {
	return w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/messages/"+url.PathEscape(messageID)+"/report", args)
}

func (w *WS) ReportThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error) {
	return w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/report", args)
}

func (w *WS) LockThread(ctx context.Context, threadID string, locked bool, args map[string]any) (map[string]any, error) {
	action := "/lock"
	if !locked {
		action = "/unlock"
	}
	return w.post(ctx, "/threads/"+url.PathEscape(threadID)+action, args)
}

func (w *WS) BlockThread(ctx context.Context, threadID string, blocked bool, args map[string]any) (map[string]any, error) {
	action := "/block"
	if !blocked {
		action = "/unblock"
	}
	return w.post(ctx, "/threads/"+url.PathEscape(threadID)+action, args)
}

func (w *WS) UpdateModerationCase(ctx context.Context, caseID string, patch map[string]any) error {
	_, err := w.post(ctx, "/moderation/cases/"+url.PathEscape(caseID), patch)
	return err
}

func (w *WS) ResolveModerationCase(ctx context.Context, caseID string, resolution map[string]any) error {
	_, err := w.post(ctx, "/moderation/cases/"+url.PathEscape(caseID)+"/resolve", resolution)
	return err
}

func (w *WS) RemoveModerationCase(ctx context.Context, caseID string) error {
	ctx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	defer cancel()
	_, err := w.do(ctx, http.MethodDelete, w.BaseURL+"/moderation/cases/"+url.PathEscape(caseID), nil)
	return err
}

func (w *WS) RecordConversationStart(ctx context.Context, args map[string]any) error {
	_, err := w.post(ctx, "/conversations/start", args)
	return err
}

// CreateUploadSession implements UploadHandlers.
func (w *WS) CreateUploadSession(ctx context.Context, threadID string, req SessionRequest) (*SessionResult, error) {
	resp, err := w.post(ctx, "/threads/"+url.PathEscape(threadID)+"/uploads", req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("upload session response was empty")
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var session SessionResult
	if err := json.Unmarshal(encoded, &session); err != nil {
		return nil, err
	}
	if session.AttachmentID == "" {
		return nil, fmt.Errorf("upload session response missing attachmentId")
	}
	return &session, nil
}

// PerformUpload implements UploadHandlers with a PUT of the payload to
// the signed URL.
func (w *WS) PerformUpload(ctx context.Context, session *SessionResult, payload []byte, onProgress func(uploaded, total int64)) error {
	if session == nil || session.UploadURL == "" {
		return fmt.Errorf("perform upload requires a signed session")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := w.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload PUT: status %d", resp.StatusCode)
	}
	if onProgress != nil {
		size := int64(len(payload))
		onProgress(size, size)
	}
	return nil
}

func decodeStatus(resp map[string]any) *StatusUpdate {
	if resp == nil {
		return nil
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	var update StatusUpdate
	if err := json.Unmarshal(encoded, &update); err != nil || update.Status == "" {
		return nil
	}
	return &update
}

// CompleteUpload implements UploadHandlers.
func (w *WS) CompleteUpload(ctx context.Context, threadID string, attachmentID string, metadata map[string]any) (*StatusUpdate, error) {
	resp, err := w.post(ctx, "/uploads/"+url.PathEscape(attachmentID)+"/complete", map[string]any{
		"threadId": threadID,
		"metadata": metadata,
	})
	if err != nil {
		return nil, err
	}
	return decodeStatus(resp), nil
}

// GetUploadStatus implements UploadHandlers.
func (w *WS) GetUploadStatus(ctx context.Context, attachmentID string) (*StatusUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	defer cancel()
	resp, err := w.do(ctx, http.MethodGet, w.BaseURL+"/uploads/"+url.PathEscape(attachmentID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	return decodeStatus(resp), nil
}
