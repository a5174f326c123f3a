// Command msgcore wires the config, the controller, and a transport into
// a runnable demonstration: it hydrates an inbox and a thread from a
// scripted in-memory backend, pushes a handful of events through the
// full pipeline, and dumps the resulting state snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"msgcore/pkg/audit"
	"msgcore/pkg/client"
	"msgcore/pkg/config"
	"msgcore/pkg/controller"
	"msgcore/pkg/inbox"
	"msgcore/pkg/logger"
	"msgcore/pkg/metrics"
	"msgcore/pkg/models"
	"msgcore/pkg/moderation"
	"msgcore/pkg/notify"
	"msgcore/pkg/transport"
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func notifyConfig(cfg *config.Config) notify.Config {
	nc := notify.Config{
		DedupeWindow: time.Duration(cfg.Notifications.DedupeWindowMs) * time.Millisecond,
		DigestWindow: time.Duration(cfg.Notifications.DigestWindowMs) * time.Millisecond,
		MaxItems:     cfg.Notifications.MaxItems,
	}
	qh := cfg.Notifications.QuietHours
	if qh.Enabled {
		start, err := config.ParseClock(qh.Start)
		if err != nil {
			fatalf("invalid quiet_hours.start: %v", err)
		}
		end, err := config.ParseClock(qh.End)
		if err != nil {
			fatalf("invalid quiet_hours.end: %v", err)
		}
		nc.QuietHours = notify.QuietHours{
			Enabled:     true,
			StartMin:    start,
			EndMin:      end,
			TzOffsetMin: qh.TzOffsetMin,
		}
	}
	if len(cfg.Notifications.BypassSeverity) > 0 {
		nc.QuietHours.Bypass = map[models.Severity]bool{}
		for _, s := range cfg.Notifications.BypassSeverity {
			nc.QuietHours.Bypass[notify.NormalizeSeverity(s)] = true
		}
	}
	return nc
}

// seed scripts the in-memory backend with an inbox and one thread.
func seed(mem *transport.Memory) {
	mem.SetInboxPayload(map[string]any{
		"threads": []any{
			map[string]any{
				"threadId":      "t-100",
				"kind":          "PROJECT",
				"status":        "OPEN",
				"title":         "Kitchen remodel",
				"unreadCount":   0,
				"lastMessageAt": "2026-08-30T09:00:00Z",
			},
			map[string]any{
				"threadId":      "t-101",
				"kind":          "CASUAL",
				"status":        "OPEN",
				"title":         "Weekend plans",
				"lastMessageAt": "2026-08-29T18:30:00Z",
			},
		},
		"messageRequests": []any{
			map[string]any{"requestId": "req-1", "threadId": "t-102", "creditCost": 1},
		},
		"credits": map[string]any{"available": 10, "floor": 0},
	})
	mem.SetThreadPayload("t-100", map[string]any{
		"thread": map[string]any{"threadId": "t-100", "kind": "PROJECT", "status": "OPEN"},
		"messages": []any{
			map[string]any{
				"messageId":    "m-1",
				"authorUserId": "contractor",
				"body":         "Cabinet delivery moved to Friday.",
				"createdAt":    "2026-08-30T09:00:00Z",
			},
		},
		"actionCards": []any{
			map[string]any{
				"cardId":     "card-1",
				"actionType": "RESCHEDULE",
				"state":      "PENDING",
				"version":    1,
			},
		},
	})
}

type dump struct {
	Viewer        string                    `json:"viewer"`
	Inbox         []models.InboxEntry       `json:"inbox"`
	TotalUnread   int                       `json:"total_unread"`
	Thread        []models.Message          `json:"thread"`
	Notifications []models.NotificationItem `json:"notifications"`
	Moderation    []models.ModerationCase   `json:"moderation"`
	Stats         models.ModerationStats    `json:"moderation_stats"`
	Uploads       []models.UploadItem       `json:"uploads"`
}

func main() {
	_ = godotenv.Load(".env")
	cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warn("metrics_server_failed", "addr", cfg.Metrics.Addr, "error", err.Error())
			}
		}()
	}

	trail := audit.New(cfg.Audit.Path)
	defer trail.Close()

	viewer := cfg.Viewer.UserID
	if viewer == "" {
		viewer = "viewer"
	}
	ctrl := controller.New(controller.Options{
		ViewerUserID:      viewer,
		Audit:             trail,
		Notifications:     notifyConfig(cfg),
		UploadTTL:         time.Duration(cfg.Uploads.TTLMs) * time.Millisecond,
		RequiredApprovals: cfg.Moderation.RequiredApprovals,
	})
	ctrl.Subscribe(func(changes []controller.Change, snap controller.Snapshot) {
		for _, ch := range changes {
			logger.Info("state_change", "scope", ch.Scope, "action", ch.Action, "thread_id", ch.ThreadID)
		}
	})

	mem := transport.NewMemory(time.Now)
	seed(mem)

	opts := client.Options{
		Controller:      ctrl,
		Fetcher:         mem,
		Subscriber:      mem,
		Mutations:       mem,
		Uploads:         mem,
		PollInterval:    time.Duration(cfg.Uploads.PollIntervalMs) * time.Millisecond,
		PollMaxAttempts: cfg.Uploads.PollMaxAttempts,
		Sleep:           func(context.Context, time.Duration) error { return nil },
	}
	if cfg.Transport.WSURL != "" {
		base := strings.NewReplacer("ws://", "http://", "wss://", "https://").Replace(cfg.Transport.WSURL)
		ws := transport.NewWS(base, cfg.Transport.WSURL, cfg.Transport.AuthToken)
		opts.Fetcher = ws
		opts.Subscriber = ws
		opts.Mutations = ws
		opts.Uploads = ws
		opts.Sleep = nil
		logger.Info("transport_selected", "kind", "websocket", "url", cfg.Transport.WSURL)
	} else {
		logger.Info("transport_selected", "kind", "memory")
	}

	cl, err := client.New(opts)
	if err != nil {
		fatalf("build client: %v", err)
	}
	defer cl.Dispose()

	ctx := context.Background()
	if _, err := cl.RefreshInbox(ctx, nil); err != nil {
		fatalf("refresh inbox: %v", err)
	}
	if _, err := cl.HydrateThread(ctx, "t-100", client.HydrateOptions{Subscribe: true}); err != nil {
		fatalf("hydrate thread: %v", err)
	}

	if _, err := cl.SendMessage(ctx, "t-100", transport.SendInput{
		ClientID: "cl-demo-1",
		Body:     "Friday works, thanks for the heads up.",
	}); err != nil {
		logger.Warn("demo_send_failed", "error", err.Error())
	}

	// Remote traffic arrives through the subscription.
	mem.EmitThread("t-100", map[string]any{
		"type": "MESSAGE_CREATED",
		"message": map[string]any{
			"messageId":    "m-2",
			"authorUserId": "contractor",
			"body":         "Crew confirmed for 8am.",
			"createdAt":    time.Now().UTC().Format(time.RFC3339Nano),
		},
	})

	if _, err := cl.ReportMessage(ctx, "t-100", "m-2", controller.ModerationOptions{Reason: "spam"}); err != nil {
		logger.Warn("demo_report_failed", "error", err.Error())
	}
	if err := cl.AcceptMessageRequest(ctx, "req-1"); err != nil {
		logger.Warn("demo_accept_failed", "error", err.Error())
	}
	if _, err := cl.PrepareUpload(ctx, "t-100", client.UploadDescriptor{
		ClientID: "up-demo-1",
		FileName: "site-photo.jpg",
		MimeType: "image/jpeg",
		Payload:  []byte("demo bytes"),
	}, client.UploadOptions{}); err != nil {
		logger.Warn("demo_upload_failed", "error", err.Error())
	}

	flushed := ctrl.FlushNotifications()
	logger.Info("notifications_flushed", "count", len(flushed))

	out := dump{
		Viewer:        viewer,
		Inbox:         ctrl.SelectInboxThreads(inbox.SelectOptions{IncludeArchived: true}),
		TotalUnread:   ctrl.InboxState().TotalUnread(),
		Notifications: ctrl.NotificationState().Pending(),
		Moderation:    ctrl.ListModerationCases(moderation.Filters{}),
		Stats:         ctrl.ModerationStats(),
		Uploads:       ctrl.ListUploads(""),
	}
	if st := ctrl.ThreadState("t-100"); st != nil {
		out.Thread = st.Messages()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatalf("encode snapshot: %v", err)
	}
}
