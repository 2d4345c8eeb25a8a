package handlers

import (
	"log"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/tonwerk/abschrift/internal/queue"
	"github.com/tonwerk/abschrift/internal/store"
	"github.com/tonwerk/abschrift/internal/types"
	"github.com/tonwerk/abschrift/internal/workspace"
)

// QueueHandler serves the per-user queue view and cancellation.
type QueueHandler struct {
	view   *queue.View
	store  *store.Store
	layout *workspace.Layout
}

// NewQueueHandler creates a queue handler.
func NewQueueHandler(view *queue.View, jobStore *store.Store, layout *workspace.Layout) *QueueHandler {
	return &QueueHandler{view: view, store: jobStore, layout: layout}
}

// List returns the user's queue rows sorted for display.
func (h *QueueHandler) List(c *fiber.Ctx) error {
	userID := c.Params("user")
	rows, newErrors, err := h.view.List(c.Context(), userID)
	if err != nil {
		log.Printf("Queue: list for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to read queue", "code": "ERR_QUEUE"})
	}
	return c.JSON(fiber.Map{
		"files":      rows,
		"new_errors": newErrors,
	})
}

// Delete cancels a queued file by removing it. In-flight jobs are not
// signaled; a processing or finished file cannot be canceled this way.
func (h *QueueHandler) Delete(c *fiber.Ctx) error {
	userID := c.Params("user")
	name := workspace.SanitizeName(c.Params("name"))

	job, err := h.store.FindActive(c.Context(), userID, name)
	if err != nil {
		log.Printf("Queue: find %s for delete: %v", name, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to look up file", "code": "ERR_QUEUE"})
	}
	if job == nil {
		return c.Status(404).JSON(fiber.Map{"error": "File not queued", "code": "ERR_NOT_FOUND"})
	}
	if job.Status != types.StatusQueued {
		return c.Status(409).JSON(fiber.Map{"error": "File is already being processed", "code": "ERR_IN_PROGRESS"})
	}

	if err := h.store.Remove(c.Context(), job.ID); err != nil {
		log.Printf("Queue: remove job %d: %v", job.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove file", "code": "ERR_QUEUE"})
	}
	if err := os.Remove(filepath.Join(h.layout.InDir(userID), name)); err != nil && !os.IsNotExist(err) {
		log.Printf("Queue: remove input %s: %v", name, err)
	}
	return c.JSON(fiber.Map{"file": name, "status": "deleted"})
}
