package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// Stream は src のMJPEGストリームを開き、JPEGフレームを送るチャンネルを返す
// src はベースURLからの相対パス（例: /video_feed/0?v=1）または絶対URL
// ctx のキャンセルまたはストリームの終了でチャンネルは閉じられる
func (c *Client) Stream(ctx context.Context, src string) (<-chan []byte, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "multipart/x-mixed-replace").
		SetDoNotParseResponse(true).
		Get(src)
	if err != nil {
		return nil, fmt.Errorf("ストリームの接続に失敗: %w", err)
	}

	body := resp.RawBody()
	if !resp.IsSuccess() {
		_ = body.Close()
		return nil, fmt.Errorf("ストリームが失敗応答を返しました: status %d", resp.StatusCode())
	}

	boundary, err := streamBoundary(resp.Header().Get("Content-Type"))
	if err != nil {
		_ = body.Close()
		return nil, err
	}

	frames := make(chan []byte, 1)
	go func() {
		defer close(frames)
		defer func() { _ = body.Close() }()

		// キャンセル時に読み込みを中断させる
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()

		readParts(ctx, multipart.NewReader(body, boundary), frames)
	}()

	return frames, nil
}

// streamBoundary は Content-Type から multipart の境界文字列を取り出す
func streamBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("content-typeを解釈できません: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("multipartではない応答です: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("境界文字列がありません: %s", contentType)
	}
	return boundary, nil
}

// readParts は各パートの本文をフレームとして送る。受信側が遅い場合は古いフレームを捨てる
func readParts(ctx context.Context, mr *multipart.Reader, frames chan []byte) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}
		frame, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return
		}
		if len(frame) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case frames <- frame:
			continue
		default:
		}
		select {
		case <-frames:
		default:
		}
		select {
		case <-ctx.Done():
			return
		case frames <- frame:
		}
	}
}
