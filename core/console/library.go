package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"UltimateDJ/model"
)

// HTTPLibrary 通过中继的 /api/tracks 路由读取曲库
type HTTPLibrary struct {
	Base   string
	Token  string
	Client *http.Client
}

func (l *HTTPLibrary) Tracks(ctx context.Context) ([]model.Track, error) {
	var tracks []model.Track
	err := l.call(ctx, http.MethodGet, nil, &tracks, "api", "tracks")
	return tracks, err
}

func (l *HTTPLibrary) Track(ctx context.Context, id string) (*model.Track, error) {
	var t model.Track
	if err := l.call(ctx, http.MethodGet, nil, &t, "api", "tracks", id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (l *HTTPLibrary) Search(ctx context.Context, query string) ([]model.Track, error) {
	var tracks []model.Track
	err := l.call(ctx, http.MethodGet, nil, &tracks, "api", "tracks", "search", query)
	return tracks, err
}

func (l *HTTPLibrary) UpdateBPM(ctx context.Context, id string, bpm float64) error {
	patch := model.TrackPatch{BPM: model.Float64Ptr(bpm)}
	return l.call(ctx, http.MethodPatch, patch, nil, "api", "tracks", id)
}

func (l *HTTPLibrary) call(ctx context.Context, method string, body, out interface{}, elem ...string) error {
	u, err := url.JoinPath(l.Base, elem...)
	if err != nil {
		return fmt.Errorf("invalid library url: %w", err)
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.Token)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, u, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", u, err)
	}
	return nil
}
