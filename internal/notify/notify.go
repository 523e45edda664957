// Package notify turns push payloads into notifications and routes
// notification clicks. It never touches the cache store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTitle      = "HRIS PWA"
	defaultBody       = "Notifikasi HRIS PWA"
	defaultPrimaryKey = 1

	ActionExplore = "explore"
	ActionClose   = "close"
)

// Action is a button shown on the notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is attached to the notification and returned on click.
type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification 是推送负载经过默认值填充后的展示内容。
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

type pushPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	PrimaryKey int    `json:"primaryKey"`
}

// ParsePush 解析推送负载；空负载、缺失字段以及空串/0/null 都使用默认值。
func ParsePush(payload []byte, now time.Time) (Notification, error) {
	var parsed pushPayload
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return Notification{}, fmt.Errorf("decode push payload: %w", err)
		}
	}

	n := Notification{
		Title:   defaultTitle,
		Body:    defaultBody,
		Icon:    "./icon-192.png",
		Badge:   "./icon-72.png",
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    defaultPrimaryKey,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Buka Aplikasi", Icon: "./icon-192.png"},
			{Action: ActionClose, Title: "Tutup", Icon: "./icon-192.png"},
		},
	}
	if parsed.Title != "" {
		n.Title = parsed.Title
	}
	if parsed.Body != "" {
		n.Body = parsed.Body
	}
	if parsed.PrimaryKey != 0 {
		n.Data.PrimaryKey = parsed.PrimaryKey
	}
	return n, nil
}

// Notifier displays a notification.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Opener opens a client window at the given path.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// LogNotifier 仅记录日志，用于没有真实展示通道的部署。
type LogNotifier struct {
	Logger *logrus.Logger
}

// Show logs the notification.
func (l LogNotifier) Show(_ context.Context, n Notification) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.WithFields(logrus.Fields{
		"action":      "notification_show",
		"title":       n.Title,
		"primary_key": n.Data.PrimaryKey,
	}).Info(n.Body)
	return nil
}

// LogOpener logs the window that would be opened.
type LogOpener struct {
	Logger *logrus.Logger
}

// Open logs the target path.
func (l LogOpener) Open(_ context.Context, path string) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.WithFields(logrus.Fields{
		"action": "notification_open",
		"path":   path,
	}).Info("open client window")
	return nil
}

// Click 处理通知点击：close 什么都不做，其余动作（包括空动作）打开应用根路径。
func Click(ctx context.Context, opener Opener, action string) (bool, error) {
	if action == ActionClose {
		return false, nil
	}
	if opener == nil {
		return false, nil
	}
	if err := opener.Open(ctx, "./"); err != nil {
		return false, err
	}
	return true, nil
}
