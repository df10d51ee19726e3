// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoutil"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// Media already stored on Telegram is referenced with an internal URL
// instead of being re-downloaded: internal:telegram/{self_id}/{file_id}.
// Gateway clients fetch the bytes through the proxy endpoint; sends with an
// internal src short-circuit to the native file id.
const mediaRefPrefix = "internal:telegram/"

func (tc *TelegramClient) makeMediaRef(fileID string) string {
	return mediaRefPrefix + tc.selfID + "/" + fileID
}

func (tc *TelegramClient) parseMediaRef(ref string) (fileID string, err error) {
	rest, ok := strings.CutPrefix(ref, mediaRefPrefix)
	if !ok {
		return "", fmt.Errorf("%w: not an internal media reference: %q", ErrInvalidReference, ref)
	}
	selfID, fileID, ok := strings.Cut(rest, "/")
	if !ok || fileID == "" {
		return "", fmt.Errorf("%w: malformed media reference: %q", ErrInvalidReference, ref)
	}
	if selfID != tc.selfID {
		return "", fmt.Errorf("%w: media reference belongs to another login", ErrInvalidReference)
	}
	return fileID, nil
}

// resolveUpload turns a media element src into something the Bot API can
// send: an existing file id, a public URL passed through for Telegram to
// fetch itself, or downloaded/decoded bytes for data URIs.
func (tc *TelegramClient) resolveUpload(ctx context.Context, src, title string) (telego.InputFile, error) {
	switch {
	case strings.HasPrefix(src, mediaRefPrefix):
		fileID, err := tc.parseMediaRef(src)
		if err != nil {
			return telego.InputFile{}, err
		}
		return telegoutil.FileFromID(fileID), nil
	case strings.HasPrefix(src, "data:"):
		data, err := decodeDataURI(src, tc.cfg.Limits.MediaMaxBytes)
		if err != nil {
			return telego.InputFile{}, err
		}
		if title == "" {
			title = "file"
		}
		return telegoutil.File(telegoutil.NameReader(bytes.NewReader(data), title)), nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		// Telegram fetches public URLs server side, saving a round trip.
		return telegoutil.FileFromURL(src), nil
	default:
		return telego.InputFile{}, fmt.Errorf("%w: unsupported media source %q", ErrInvalidReference, src)
	}
}

func decodeDataURI(src string, maxBytes int64) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URI", ErrInvalidReference)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: data URI must be base64 encoded", ErrInvalidReference)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 payload: %v", ErrInvalidReference, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: media exceeds %d bytes", ErrInvalidReference, maxBytes)
	}
	return data, nil
}

// ProxyFile implements the gateway proxy endpoint: it resolves an internal
// media reference to a download URL and streams the bytes through.
func (tc *TelegramClient) ProxyFile(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	fileID, err := tc.parseMediaRef(ref)
	if err != nil {
		return nil, "", satori.NewStatusError(http.StatusBadRequest, err.Error())
	}

	rpcCtx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
	file, err := tc.bot.GetFile(rpcCtx, &telego.GetFileParams{FileID: fileID})
	cancel()
	if err != nil {
		classified := classifyTelegramError(err)
		return nil, "", asStatusError(classified)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", satori.NewStatusError(http.StatusBadGateway, "media download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", satori.NewStatusError(http.StatusBadGateway, fmt.Sprintf("media download failed with status %d", resp.StatusCode))
	}
	return newLimitedReadCloser(resp.Body, tc.cfg.Limits.MediaMaxBytes), resp.Header.Get("Content-Type"), nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

func newLimitedReadCloser(rc io.ReadCloser, limit int64) io.ReadCloser {
	return &limitedReadCloser{Reader: io.LimitReader(rc, limit), Closer: rc}
}
