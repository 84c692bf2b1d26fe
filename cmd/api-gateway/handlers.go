package main

import (
	"context"
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/upturn/internal/fetcher"
	"github.com/lgulliver/upturn/internal/imagestore"
	"github.com/lgulliver/upturn/internal/storage"
	"github.com/lgulliver/upturn/internal/tasks"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
)

func (g *gateway) handleStartDownload(c *gin.Context) {
	var req types.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "Invalid request format",
		})
		return
	}

	if _, err := fetcher.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "Invalid URL: " + err.Error(),
		})
		return
	}

	d, err := g.app.Tracker.Start(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, types.APIResponse{
		Success: true,
		Message: "Download started",
		Data:    d.Handle(),
	})
}

func (g *gateway) handleGetDownload(c *gin.Context) {
	handle, err := g.app.Tracker.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tasks.ErrUnknownDownload) {
			status = http.StatusNotFound
		}
		c.JSON(status, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    handle,
	})
}

func (g *gateway) handleForgetDownload(c *gin.Context) {
	if err := g.app.Tracker.Forget(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tasks.ErrUnknownDownload):
			status = http.StatusNotFound
		case errors.Is(err, tasks.ErrDownloadRunning):
			status = http.StatusConflict
		}
		c.JSON(status, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "Download status removed",
	})
}

func (g *gateway) handleListDownloads(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "Invalid limit",
		})
		return
	}

	records, err := g.app.History.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list downloads")
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error:   "Failed to list downloads",
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    records,
	})
}

func (g *gateway) handleDownloadStats(c *gin.Context) {
	stats, err := g.app.History.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to compute download stats")
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error:   "Failed to compute download stats",
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    stats,
	})
}

func (g *gateway) handleListImages(c *gin.Context) {
	names, err := g.app.Blobs.List(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list images")
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error:   "Failed to list images",
		})
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    names,
	})
}

func (g *gateway) handleImageBounds(c *gin.Context) {
	ref := types.BlobRef(c.Param("ref"))
	bounds, err := g.app.Images.Bounds(c.Request.Context(), ref)
	if err != nil {
		respondImageError(c, ref, err)
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data: types.ImageBounds{
			BlobRef: ref,
			Width:   bounds.Width,
			Height:  bounds.Height,
			Format:  bounds.Format,
		},
	})
}

type rendered struct {
	raster *image.RGBA
	err    error
}

// handleRenderImage decodes a blob through the display scheduler. Requests
// sharing a view supersede each other; a superseded request gets 409.
func (g *gateway) handleRenderImage(c *gin.Context) {
	ref := types.BlobRef(c.Param("ref"))

	width, err := strconv.Atoi(c.DefaultQuery("width", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "Invalid width",
		})
		return
	}

	rotate := g.app.Config.Image.Rotate
	if v, ok := c.GetQuery("rotate"); ok {
		rotate, err = strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "Invalid rotate flag",
			})
			return
		}
	}

	view := c.Query("view")
	if view == "" {
		view = uuid.NewString()
	}

	result := make(chan rendered, 1)
	ticket, err := g.app.Display.Request(view, ref, rotate, width, func(raster *image.RGBA, err error) {
		result <- rendered{raster: raster, err: err}
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	select {
	case <-ticket.Done():
	case <-c.Request.Context().Done():
		ticket.Cancel()
		return
	}

	if !ticket.Applied() {
		c.JSON(http.StatusConflict, types.APIResponse{
			Success: false,
			Error:   "Superseded by a newer request for view " + view,
		})
		return
	}

	r := <-result
	if r.err != nil {
		respondImageError(c, ref, r.err)
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := imagestore.EncodePNG(c.Writer, r.raster); err != nil {
		log.Error().Err(err).Str("blob", ref.String()).Msg("failed to encode image")
	}
}

func respondImageError(c *gin.Context, ref types.BlobRef, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, imagestore.ErrBlobNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, imagestore.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, imagestore.ErrDecodeFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("blob", ref.String()).Msg("failed to load image")
	}

	c.JSON(status, types.APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}
