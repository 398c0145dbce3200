package webserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/OneOfOne/xxhash"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/board/validate"
)

type pageData struct {
	ExpireSec   int
	InviteURL   string
	UseCDN      bool
	Description template.HTML
}

func (s *Server) index(page *template.Template) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		err := page.Execute(&buf, pageData{
			ExpireSec:   s.opts.ExpireSec,
			InviteURL:   s.opts.InviteURL,
			UseCDN:      s.opts.CDN,
			Description: descriptionHTML(s.opts.Description),
		})
		if err != nil {
			zap.L().Named("webserver").Error("render page", zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	}
}

// rooms returns the current snapshot as an "all" event. The ETag lets
// pollers skip unchanged listings.
func (s *Server) rooms(c *gin.Context) {
	ev, err := s.board.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		writeError(c, err)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Checksum64(body))
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// party saves a room submitted by a trusted backend.
func (s *Server) party(c *gin.Context) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not a valid JSON"})
		return
	}

	room, err := s.board.Save(c.Request.Context(), validate.Fields(raw))
	if err != nil {
		writeError(c, err)
		return
	}
	zap.L().Named("webserver").Debug("room saved",
		zap.String("room", room.ID), zap.String("subject", c.GetString(subjectKey)))
	c.JSON(http.StatusOK, room)
}

// writeError maps board errors onto HTTP statuses. Only user errors expose
// their message.
func writeError(c *gin.Context, err error) {
	log := zap.L().Named("webserver")
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		log.Warn("rejected submission", zap.String("field", verr.Field), zap.String("reason", verr.Message))
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case board.IsBackendError(err):
		log.Error("backend unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
	default:
		log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
