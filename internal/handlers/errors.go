package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
)

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) (int, string) {
	switch {
	case apperr.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case apperr.IsBadRequest(err):
		return http.StatusBadRequest, "bad_request"
	case apperr.IsConflict(err):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(c *gin.Context, log *slog.Logger, err error) {
	code, kind := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(code, gin.H{"error": kind, "msg": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": kind, "msg": err.Error()})
}
