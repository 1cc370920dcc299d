package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

type mockEngine struct {
	mu sync.Mutex

	item  domain.Item
	board domain.Board
	err   error

	lastSession string
	lastScope   string
	lastItemID  string
	lastBucket  domain.Bucket
	lastRank    int
	lastKey     string
	lastPatch   domain.ItemPatch
	lastPin     int64
	deleted     []string
}

func (m *mockEngine) Create(_ context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSession, m.lastScope, m.lastBucket, m.lastKey = sessionID, scope, bucket, key
	return m.item, m.err
}

func (m *mockEngine) Update(_ context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScope, m.lastItemID, m.lastPatch, m.lastPin = scope, itemID, patch, expectedVersion
	return m.item, m.err
}

func (m *mockEngine) Move(_ context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSession, m.lastScope, m.lastItemID = sessionID, scope, itemID
	m.lastBucket, m.lastRank, m.lastKey = destBucket, targetRank, key
	return m.item, m.err
}

func (m *mockEngine) Delete(_ context.Context, scope, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScope = scope
	m.deleted = append(m.deleted, itemID)
	return m.err
}

func (m *mockEngine) Snapshot(_ context.Context, scope string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScope = scope
	return m.board, m.err
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	return "session-1", nil
}

func newTestContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateItem(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{item: domain.Item{ID: "it-1", Scope: "board-1", Bucket: domain.BucketTodo, Title: "write docs", Position: 100, Version: 7}}

	c, rec := newTestContext(e, http.MethodPost, "/api/boards/board-1/items", `{"bucket":"todo","title":"write docs"}`)
	c.SetParamNames("scope")
	c.SetParamValues("board-1")
	c.Request().Header.Set(IdempotencyKeyHeader, "key-1")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.lastSession != "session-1" {
		t.Fatalf("expected session from token, got %q", engine.lastSession)
	}
	if engine.lastScope != "board-1" || engine.lastBucket != domain.BucketTodo {
		t.Fatalf("unexpected scope/bucket: %q %q", engine.lastScope, engine.lastBucket)
	}
	if engine.lastKey != "key-1" {
		t.Fatalf("expected header key to be forwarded, got %q", engine.lastKey)
	}
	var resp itemResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Item.ID != "it-1" || resp.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestCreateItemGeneratesKeyWhenHeaderAbsent(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{item: domain.Item{ID: "it-1"}}

	c, rec := newTestContext(e, http.MethodPost, "/api/boards/b/items", `{"bucket":"todo","title":"x"}`)
	c.SetParamNames("scope")
	c.SetParamValues("b")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	if engine.lastKey == "" {
		t.Fatal("expected a generated idempotency key")
	}
	var resp itemResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.IdempotencyKey != engine.lastKey {
		t.Fatalf("expected generated key %q to be echoed, got %q", engine.lastKey, resp.IdempotencyKey)
	}
}

func TestCreateItemRejectsUnknownFields(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{}

	c, rec := newTestContext(e, http.MethodPost, "/api/boards/b/items", `{"bucket":"todo","title":"x","surprise":true}`)
	c.SetParamNames("scope")
	c.SetParamValues("b")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Code != codeValidation {
		t.Fatalf("unexpected code: %q", resp.Code)
	}
}

func TestCreateItemValidationError(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ValidationError{Field: "title", Reason: "required"}}

	c, rec := newTestContext(e, http.MethodPost, "/api/boards/b/items", `{"bucket":"todo","title":""}`)
	c.SetParamNames("scope")
	c.SetParamValues("b")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestCreateItemDuplicateInFlight(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ErrDuplicateRequest}

	c, rec := newTestContext(e, http.MethodPost, "/api/boards/b/items", `{"bucket":"todo","title":"x"}`)
	c.SetParamNames("scope")
	c.SetParamValues("b")
	c.Request().Header.Set(IdempotencyKeyHeader, "key-9")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}
	var resp itemResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.IdempotencyKey != "key-9" {
		t.Fatalf("expected key echo on duplicate, got %q", resp.IdempotencyKey)
	}
}

func TestCreateItemUnauthorized(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{}

	req := httptest.NewRequest(http.MethodPost, "/api/boards/b/items", strings.NewReader(`{"bucket":"todo","title":"x"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("scope")
	c.SetParamValues("b")

	if err := createItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
	if engine.lastKey != "" {
		t.Fatal("engine must not be called when auth fails")
	}
}

func TestMoveItem(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{item: domain.Item{ID: "it-2", Bucket: domain.BucketDone, Position: 50, Version: 11}}

	c, rec := newTestContext(e, http.MethodPost, "/api/items/it-2/move", `{"scope":"board-1","bucket":"done","rank":0}`)
	c.SetParamNames("id")
	c.SetParamValues("it-2")

	if err := moveItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.lastItemID != "it-2" || engine.lastBucket != domain.BucketDone || engine.lastRank != 0 {
		t.Fatalf("unexpected move args: %q %q %d", engine.lastItemID, engine.lastBucket, engine.lastRank)
	}
}

func TestMoveItemInvalidRank(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ErrInvalidRank}

	c, rec := newTestContext(e, http.MethodPost, "/api/items/it-2/move", `{"scope":"b","bucket":"done","rank":40}`)
	c.SetParamNames("id")
	c.SetParamValues("it-2")

	if err := moveItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Code != codeInvalidRank {
		t.Fatalf("unexpected code: %q", resp.Code)
	}
}

func TestMoveItemMissingScope(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{}

	c, rec := newTestContext(e, http.MethodPost, "/api/items/it-2/move", `{"bucket":"done","rank":0}`)
	c.SetParamNames("id")
	c.SetParamValues("it-2")

	if err := moveItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestUpdateItem(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{item: domain.Item{ID: "it-3", Title: "renamed", Version: 12}}

	c, rec := newTestContext(e, http.MethodPatch, "/api/items/it-3", `{"scope":"board-1","patch":{"title":"renamed"},"expectedVersion":11}`)
	c.SetParamNames("id")
	c.SetParamValues("it-3")

	if err := updateItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.lastPin != 11 {
		t.Fatalf("expected expectedVersion 11, got %d", engine.lastPin)
	}
	if engine.lastPatch.Title == nil || *engine.lastPatch.Title != "renamed" {
		t.Fatalf("unexpected patch: %#v", engine.lastPatch)
	}
}

func TestUpdateItemVersionConflict(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ErrVersionConflict}

	c, rec := newTestContext(e, http.MethodPatch, "/api/items/it-3", `{"scope":"b","patch":{"title":"x"},"expectedVersion":1}`)
	c.SetParamNames("id")
	c.SetParamValues("it-3")

	if err := updateItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestDeleteItem(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{}

	c, rec := newTestContext(e, http.MethodDelete, "/api/items/it-4?scope=board-1", "")
	c.SetParamNames("id")
	c.SetParamValues("it-4")

	if err := deleteItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "it-4" {
		t.Fatalf("unexpected deletes: %#v", engine.deleted)
	}
	if engine.lastScope != "board-1" {
		t.Fatalf("unexpected scope: %q", engine.lastScope)
	}
}

func TestDeleteItemMissingScope(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{}

	c, rec := newTestContext(e, http.MethodDelete, "/api/items/it-4", "")
	c.SetParamNames("id")
	c.SetParamValues("it-4")

	if err := deleteItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestDeleteItemNotFound(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ErrNotFound}

	c, rec := newTestContext(e, http.MethodDelete, "/api/items/missing?scope=b", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := deleteItem(engine, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestGetBoard(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{board: domain.Board{
		Scope: "board-1",
		Columns: map[domain.Bucket][]domain.Item{
			domain.BucketTodo: {{ID: "a", Position: 100}, {ID: "b", Position: 200}},
		},
	}}

	c, rec := newTestContext(e, http.MethodGet, "/api/boards/board-1/items", "")
	c.SetParamNames("scope")
	c.SetParamValues("board-1")

	if err := getBoard(engine, mockAuth{})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var board domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if board.Scope != "board-1" || len(board.Columns[domain.BucketTodo]) != 2 {
		t.Fatalf("unexpected board: %#v", board)
	}
}

func TestGetBoardTransportUnavailable(t *testing.T) {
	e := echo.New()
	engine := &mockEngine{err: domain.ErrTransportUnavailable}

	c, rec := newTestContext(e, http.MethodGet, "/api/boards/b/items", "")
	c.SetParamNames("scope")
	c.SetParamValues("b")

	if err := getBoard(engine, mockAuth{})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}
