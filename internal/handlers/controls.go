package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tonwerk/abschrift/internal/workspace"
)

// ControlHandler manages the per-user control files: vocabulary hints and
// transcription language.
type ControlHandler struct {
	layout *workspace.Layout
}

// NewControlHandler creates a control-file handler.
func NewControlHandler(layout *workspace.Layout) *ControlHandler {
	return &ControlHandler{layout: layout}
}

// GetHotwords returns the user's vocabulary hint list.
func (h *ControlHandler) GetHotwords(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"hotwords": h.layout.Hotwords(c.Params("user"))})
}

// SetHotwords replaces the user's vocabulary hint list.
func (h *ControlHandler) SetHotwords(c *fiber.Ctx) error {
	var body struct {
		Hotwords []string `json:"hotwords"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid body", "code": "ERR_BAD_BODY"})
	}
	if err := h.layout.SetHotwords(c.Params("user"), body.Hotwords); err != nil {
		log.Printf("Controls: set hotwords: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to save hotwords", "code": "ERR_SAVE_FAILED"})
	}
	return c.JSON(fiber.Map{"status": "saved"})
}

// GetLanguage returns the user's transcription language.
func (h *ControlHandler) GetLanguage(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"language": h.layout.Language(c.Params("user"))})
}

// SetLanguage sets the user's transcription language (two-letter code).
func (h *ControlHandler) SetLanguage(c *fiber.Ctx) error {
	var body struct {
		Language string `json:"language"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid body", "code": "ERR_BAD_BODY"})
	}
	code := strings.ToLower(strings.TrimSpace(body.Language))
	if len(code) != 2 {
		return c.Status(400).JSON(fiber.Map{"error": "Language must be a two-letter code", "code": "ERR_BAD_LANGUAGE"})
	}
	if err := h.layout.SetLanguage(c.Params("user"), code); err != nil {
		log.Printf("Controls: set language: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to save language", "code": "ERR_SAVE_FAILED"})
	}
	return c.JSON(fiber.Map{"language": code})
}
