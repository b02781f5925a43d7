package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"MarketLens/internal/domain/models"
	apperrors "MarketLens/internal/errors"
	"MarketLens/internal/service/broadcast"
	xhttp "MarketLens/pkg/http"
	xlogger "MarketLens/pkg/logger"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Stream upgrades to a WebSocket that receives the category's ranked report
// on connect and after every ingested scrape.
func (h *MarketHandler) Stream(c echo.Context) error {
	category := strings.TrimSpace(c.QueryParam("itemCategory"))
	if category == "" {
		return xhttp.AppErrorResponse(c, toAppError(apperrors.NewValidationError("itemCategory", "itemCategory is required")))
	}
	cat := h.reports.Catalog()
	if !cat.HasCategory(category) {
		var version uint64
		if cat != nil {
			version = cat.Version
		}
		return xhttp.AppErrorResponse(c, toAppError(
			apperrors.NewNotFoundError("category", category).WithDetail("catalog_version", version)))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", xlogger.String("category", category), xlogger.Error(err))
		return nil
	}

	sub := h.hub.Subscribe(category)
	h.logger.Info("stream subscriber joined", xlogger.String("category", category), xlogger.String("remote_ip", c.RealIP()))

	if report, err := h.reports.Build(c.Request().Context(), models.ReportFilter{Category: category}); err == nil {
		if msg, err := json.Marshal(broadcast.Message{Type: broadcast.MessageTypeReport, Data: report}); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	} else {
		h.logError("stream initial report error", models.ReportFilter{Category: category}, err)
	}

	h.hub.Serve(conn, sub)
	h.logger.Info("stream subscriber left", xlogger.String("category", category))
	return nil
}
