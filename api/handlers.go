package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/feed"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, engine Engine, fd feed.Feed, auth Authenticator, logger *log.Logger) {
	e.GET("/api/boards/:scope/items", getBoard(engine, auth))
	e.GET("/api/boards/:scope/stream", streamBoard(engine, fd, auth))
	e.POST("/api/boards/:scope/items", createItem(engine, auth, logger))
	e.POST("/api/items/:id/move", moveItem(engine, auth, logger))
	e.PATCH("/api/items/:id", updateItem(engine, auth, logger))
	e.DELETE("/api/items/:id", deleteItem(engine, auth, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// idempotencyKey returns the caller-supplied key, generating one when the
// header is absent so every mutation attempt is individually identified.
func idempotencyKey(c echo.Context) string {
	if key := c.Request().Header.Get(IdempotencyKeyHeader); key != "" {
		return key
	}
	return uuid.NewString()
}

func getBoard(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		board, err := engine.Snapshot(ctx, c.Param("scope"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func createItem(engine Engine, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/boards/:scope/items")
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		sessionID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req createItemRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Code: codeValidation})
			return err
		}
		key := idempotencyKey(c)

		applyStart := time.Now()
		it, applyErr := engine.Create(ctx, sessionID, c.Param("scope"), req.Bucket, req.fields(), key)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			if errors.Is(applyErr, domain.ErrDuplicateRequest) {
				// The first attempt is still in flight; acknowledge without
				// double effect.
				err = c.JSON(http.StatusAccepted, itemResponse{IdempotencyKey: key})
				return err
			}
			metrics.SetErrorStage("apply")
			err = writeError(c, applyErr)
			return err
		}
		err = c.JSON(http.StatusCreated, itemResponse{Item: it, IdempotencyKey: key})
		return err
	}
}

func moveItem(engine Engine, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/items/:id/move")
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		sessionID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveItemRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil || req.Scope == "" {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Code: codeValidation})
			return err
		}
		key := idempotencyKey(c)

		applyStart := time.Now()
		it, applyErr := engine.Move(ctx, sessionID, req.Scope, c.Param("id"), req.Bucket, req.Rank, key)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			if errors.Is(applyErr, domain.ErrDuplicateRequest) {
				err = c.JSON(http.StatusAccepted, itemResponse{IdempotencyKey: key})
				return err
			}
			metrics.SetErrorStage("apply")
			err = writeError(c, applyErr)
			return err
		}
		err = c.JSON(http.StatusOK, itemResponse{Item: it, IdempotencyKey: key})
		return err
	}
}

func updateItem(engine Engine, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/items/:id")
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req updateItemRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil || req.Scope == "" {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Code: codeValidation})
			return err
		}

		applyStart := time.Now()
		it, applyErr := engine.Update(ctx, req.Scope, c.Param("id"), req.Patch, req.ExpectedVersion)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeError(c, applyErr)
			return err
		}
		err = c.JSON(http.StatusOK, itemResponse{Item: it})
		return err
	}
}

func deleteItem(engine Engine, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/items/:id")
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		scope := c.QueryParam("scope")
		if scope == "" {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "missing scope", Code: codeValidation})
			return err
		}

		applyStart := time.Now()
		applyErr := engine.Delete(ctx, scope, c.Param("id"))
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			metrics.SetErrorStage("apply")
			err = writeError(c, applyErr)
			return err
		}
		err = c.NoContent(http.StatusNoContent)
		return err
	}
}
