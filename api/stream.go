package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/feed"
)

const streamKeepAliveInterval = 15 * time.Second

// streamBoard serves a board over SSE: one snapshot frame up front, then one
// frame per change event until the client disconnects.
func streamBoard(engine Engine, fd feed.Feed, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		scope := c.Param("scope")

		events := make(chan domain.Event, 64)
		unsubscribe, err := fd.Subscribe(ctx, scope, func(ev domain.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return writeError(c, err)
		}
		defer unsubscribe()

		// Subscribed before the snapshot read, so nothing between the two
		// is lost. Events older than the snapshot are harmless replays.
		board, err := engine.Snapshot(ctx, scope)
		if err != nil {
			return writeError(c, err)
		}
		if err := writeSSE(c, flusher, "snapshot", board); err != nil {
			return nil
		}

		ticker := time.NewTicker(streamKeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				if err := writeSSE(c, flusher, "change", ev); err != nil {
					return nil
				}
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(c echo.Context, flusher http.Flusher, event string, payload any) error {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
