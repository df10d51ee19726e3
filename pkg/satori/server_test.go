// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(ServerConfig{Token: "tok", HistorySize: 8}, zerolog.Nop())
	s.SetLoginSource(func() []*Login {
		return []*Login{{SelfID: "10", Platform: "telegram", Status: LoginOnline}}
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func postAction(t *testing.T, ts *httptest.Server, method, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/"+method, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestActionDispatch(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	s.Register("echo.test", func(ctx context.Context, req *Request) (any, error) {
		var params map[string]string
		if err := req.Bind(&params); err != nil {
			return nil, err
		}
		return params, nil
	})

	resp := postAction(t, ts, "echo.test", "tok", `{"key":"value"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("echo: got %v", body)
	}
}

func TestActionAuth(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	s.Register("echo.test", func(ctx context.Context, req *Request) (any, error) {
		return nil, nil
	})

	if resp := postAction(t, ts, "echo.test", "", "{}"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: got %d", resp.StatusCode)
	}
	if resp := postAction(t, ts, "echo.test", "wrong", "{}"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: got %d", resp.StatusCode)
	}
}

func TestActionUnknownMethod(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)
	if resp := postAction(t, ts, "no.such.method", "tok", "{}"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown method: got %d", resp.StatusCode)
	}
}

func TestActionStatusError(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	s.Register("fail.status", func(ctx context.Context, req *Request) (any, error) {
		return nil, NewStatusError(http.StatusNotFound, "gone")
	})
	s.Register("fail.plain", func(ctx context.Context, req *Request) (any, error) {
		return nil, errors.New("boom")
	})

	if resp := postAction(t, ts, "fail.status", "tok", "{}"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status error: got %d", resp.StatusCode)
	}
	if resp := postAction(t, ts, "fail.plain", "tok", "{}"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("plain error: got %d", resp.StatusCode)
	}
}

func TestHistoryTrimAndReplay(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{HistorySize: 3}, zerolog.Nop())
	for i := int64(1); i <= 5; i++ {
		s.PushEvent(&Event{ID: i, Type: EventMessageCreated})
	}

	replay := s.historyAfter(0)
	if len(replay) != 3 || replay[0].ID != 3 || replay[2].ID != 5 {
		t.Errorf("trimmed history: got %v", eventIDs(replay))
	}
	if after := s.historyAfter(4); len(after) != 1 || after[0].ID != 5 {
		t.Errorf("historyAfter(4): got %v", eventIDs(after))
	}
	if after := s.historyAfter(5); len(after) != 0 {
		t.Errorf("historyAfter(5): got %v", eventIDs(after))
	}
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialEvents(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) send(op int, body any) {
	c.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
	}
	if err := c.ws.WriteJSON(&signal{Op: op, Body: raw}); err != nil {
		c.t.Fatalf("WriteJSON: %v", err)
	}
}

func (c *wsClient) recv() *signal {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sig signal
	if err := c.ws.ReadJSON(&sig); err != nil {
		c.t.Fatalf("ReadJSON: %v", err)
	}
	return &sig
}

func (c *wsClient) recvEvent() *Event {
	c.t.Helper()
	sig := c.recv()
	if sig.Op != OpEvent {
		c.t.Fatalf("expected EVENT, got op %d", sig.Op)
	}
	var evt Event
	if err := json.Unmarshal(sig.Body, &evt); err != nil {
		c.t.Fatalf("unmarshal event: %v", err)
	}
	return &evt
}

func TestEventFeedIdentifyAndResume(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	for i := int64(1); i <= 3; i++ {
		s.PushEvent(&Event{ID: i, Type: EventMessageCreated})
	}

	client := dialEvents(t, ts)
	client.send(OpIdentify, &identifyBody{Token: "tok", Sequence: 1})

	ready := client.recv()
	if ready.Op != OpReady {
		t.Fatalf("expected READY, got op %d", ready.Op)
	}
	var body readyBody
	if err := json.Unmarshal(ready.Body, &body); err != nil {
		t.Fatalf("unmarshal READY: %v", err)
	}
	if len(body.Logins) != 1 || body.Logins[0].SelfID != "10" {
		t.Errorf("READY logins: got %+v", body.Logins)
	}

	// Replay resumes after the client's cursor, then the live feed follows
	// with no duplicates.
	if evt := client.recvEvent(); evt.ID != 2 {
		t.Errorf("first replayed event: got id %d, want 2", evt.ID)
	}
	if evt := client.recvEvent(); evt.ID != 3 {
		t.Errorf("second replayed event: got id %d, want 3", evt.ID)
	}

	s.PushEvent(&Event{ID: 4, Type: EventMessageCreated})
	if evt := client.recvEvent(); evt.ID != 4 {
		t.Errorf("live event: got id %d, want 4", evt.ID)
	}
}

func TestEventFeedPingPong(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)
	client := dialEvents(t, ts)
	client.send(OpPing, nil)
	if sig := client.recv(); sig.Op != OpPong {
		t.Errorf("expected PONG, got op %d", sig.Op)
	}
}

func TestEventFeedRejectsBadToken(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)
	client := dialEvents(t, ts)
	client.send(OpIdentify, &identifyBody{Token: "wrong"})

	_ = client.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sig signal
	if err := client.ws.ReadJSON(&sig); err == nil {
		t.Errorf("expected connection close, got op %d", sig.Op)
	}
}

func eventIDs(events []*Event) []int64 {
	out := make([]int64, len(events))
	for i, evt := range events {
		out[i] = evt.ID
	}
	return out
}
