package handlers

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tonwerk/abschrift/internal/store"
	"github.com/tonwerk/abschrift/internal/workspace"
)

// supportedExtensions lists uploadable media containers. Archives carry
// multi-track batches.
var supportedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true,
	".webm": true, ".aac": true, ".wma": true, ".mp4": true, ".mkv": true,
	".mov": true, ".opus": true, ".zip": true,
}

// UploadHandler receives media files into a user's in/ directory and
// registers the job.
type UploadHandler struct {
	store     *store.Store
	layout    *workspace.Layout
	maxSizeMB int
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(jobStore *store.Store, layout *workspace.Layout, maxSizeMB int) *UploadHandler {
	return &UploadHandler{store: jobStore, layout: layout, maxSizeMB: maxSizeMB}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	userID := c.Params("user")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing user",
			"code":  "ERR_NO_USER",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	name := workspace.SanitizeName(file.Filename)
	if workspace.IsControlFile(name) || !supportedExtensions[strings.ToLower(filepath.Ext(name))] {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported file format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	if err := h.layout.EnsureUser(userID); err != nil {
		log.Printf("Upload: ensure user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to prepare storage",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	// Names are unique per user within in/; collisions get a random infix.
	name = workspace.UniqueName(h.layout.InDir(userID), name)
	destPath := filepath.Join(h.layout.InDir(userID), name)

	if err := c.SaveFile(file, destPath); err != nil {
		log.Printf("Upload: save %s: %v", name, err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	job := &store.Job{
		UserID:     userID,
		FileName:   name,
		SourcePath: destPath,
		Language:   h.layout.Language(userID),
	}
	if err := h.store.Insert(c.Context(), job); err != nil {
		log.Printf("Upload: register %s: %v", name, err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to enqueue file",
			"code":  "ERR_ENQUEUE_FAILED",
		})
	}

	log.Printf("Upload: %s queued for user %s", name, userID)
	return c.JSON(fiber.Map{
		"file":    name,
		"status":  "queued",
		"message": "File uploaded successfully, waiting for the worker",
	})
}
