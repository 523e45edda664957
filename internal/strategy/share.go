package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/routing"
)

// ErrInvalidForm 表示 share-target 请求体既不是 urlencoded 也不是 multipart 表单。
var ErrInvalidForm = errors.New("share target expects a form body")

const maxFormMemory = 8 << 20

// SharedData 是最近一次分享的内容，每次分享整体覆盖。
type SharedData struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

// ShareTarget 解析表单并写入分享记录，随后以 303 重定向到应用根路径（BaseURL 的路径部分）。
func (e *Engine) ShareTarget(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	form, err := parseForm(req)
	if err != nil {
		return nil, err
	}

	record := SharedData{
		Title:     form.Get("title"),
		Text:      form.Get("text"),
		URL:       form.Get("url"),
		Timestamp: e.now().UnixMilli(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	entry := cache.Entry{
		Key:    e.sharedKey,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   payload,
	}
	release := e.gate.AcquireCache()
	err = e.dynamic.Put(ctx, e.sharedKey, entry)
	release()
	if err != nil {
		return nil, fmt.Errorf("store shared data: %w", err)
	}
	e.logger.WithFields(logrus.Fields{
		"action":   "share_target",
		"strategy": string(routing.ShareTarget),
	}).Info("shared data stored")

	return &fetch.Response{
		Status: http.StatusSeeOther,
		Header: http.Header{"Location": {e.rootPath}},
		Source: fetch.SourceLocal,
	}, nil
}

// ReadSharedData returns the last stored share, or cache.ErrNotFound.
func (e *Engine) ReadSharedData(ctx context.Context) (*SharedData, error) {
	release := e.gate.AcquireCache()
	entry, ok, err := e.dynamic.Match(ctx, e.sharedKey)
	release()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrNotFound
	}
	var record SharedData
	if err := json.Unmarshal(entry.Body, &record); err != nil {
		return nil, fmt.Errorf("decode shared data: %w", err)
	}
	return &record, nil
}

func parseForm(req *fetch.Request) (url.Values, error) {
	mediaType, params := req.ContentType()
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidForm, err)
		}
		return values, nil
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: missing multipart boundary", ErrInvalidForm)
		}
		form, err := multipart.NewReader(bytes.NewReader(req.Body), boundary).ReadForm(maxFormMemory)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidForm, err)
		}
		defer form.RemoveAll()
		return url.Values(form.Value), nil
	default:
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidForm, mediaType)
	}
}
