package handlers

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/tonwerk/abschrift/internal/workspace"
)

// ArtifactHandler serves finished outputs from a user's out/ directory.
type ArtifactHandler struct {
	layout *workspace.Layout
}

// NewArtifactHandler creates an artifact handler.
func NewArtifactHandler(layout *workspace.Layout) *ArtifactHandler {
	return &ArtifactHandler{layout: layout}
}

// SRT downloads the subtitle file for a finished input.
func (h *ArtifactHandler) SRT(c *fiber.Ctx) error {
	userID := c.Params("user")
	name := workspace.SanitizeName(c.Params("name"))
	path := h.layout.SRTPath(userID, name)
	if _, err := os.Stat(path); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "No subtitles for this file", "code": "ERR_NOT_FOUND"})
	}
	return c.Download(path)
}

// Transcript downloads the plain-text transcript.
func (h *ArtifactHandler) Transcript(c *fiber.Ctx) error {
	userID := c.Params("user")
	name := workspace.SanitizeName(c.Params("name"))
	path := h.layout.TranscriptPath(userID, name)
	if _, err := os.Stat(path); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "No transcript for this file", "code": "ERR_NOT_FOUND"})
	}
	return c.Download(path)
}

// Meta returns the segment-level JSON the editor consumes.
func (h *ArtifactHandler) Meta(c *fiber.Ctx) error {
	userID := c.Params("user")
	name := workspace.SanitizeName(c.Params("name"))
	data, err := os.ReadFile(h.layout.MetaPath(userID, name))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "No metadata for this file", "code": "ERR_NOT_FOUND"})
	}
	c.Set("Content-Type", "application/json")
	return c.Send(data)
}
