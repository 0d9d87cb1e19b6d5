package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"workbench/internal/service"
	"workbench/internal/workspace"
)

type WorkspaceHandler struct {
	svc *service.Service
}

func NewWorkspaceHandler(svc *service.Service) *WorkspaceHandler {
	return &WorkspaceHandler{svc: svc}
}

// ListFiles returns the recursive workspace tree.
func (h *WorkspaceHandler) ListFiles(c *gin.Context) {
	nodes, err := h.svc.FileTree(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": nodes})
}

// ReadFile returns one file's normalized content.
func (h *WorkspaceHandler) ReadFile(c *gin.Context) {
	path := c.Query("filepath")
	if path == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("filepath query parameter is required"))
		return
	}

	content, err := h.svc.ReadFile(c.Request.Context(), c.Param("username"), path)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filepath": path, "content": content})
}

// SaveFile writes one file under the quota.
func (h *WorkspaceHandler) SaveFile(c *gin.Context) {
	var req SaveFileRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.svc.SaveFile(c.Request.Context(), req.Username, req.Filename, req.Code); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Saved %s", req.Filename)})
}

// CreateFile creates an empty file or a folder.
func (h *WorkspaceHandler) CreateFile(c *gin.Context) {
	var req CreateFileRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.svc.CreateEntry(c.Request.Context(), req.Username, req.Filepath, req.FileType == "folder"); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Created %s", req.Filepath)})
}

// RenameFile moves a file or folder inside the workspace.
func (h *WorkspaceHandler) RenameFile(c *gin.Context) {
	var req RenameFileRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.svc.RenameEntry(c.Request.Context(), req.Username, req.OldPath, req.NewPath); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Renamed to %s", req.NewPath)})
}

// DeleteFile removes a file or a whole folder.
func (h *WorkspaceHandler) DeleteFile(c *gin.Context) {
	var req DeleteFileRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	isDir, err := h.svc.DeleteEntry(c.Request.Context(), req.Username, req.Filepath)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	kind := "file"
	if isDir {
		kind = "folder"
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Deleted %s %s", kind, req.Filepath)})
}

// UploadFiles accepts a multipart batch, quota-checked as one unit.
func (h *WorkspaceHandler) UploadFiles(c *gin.Context) {
	username := c.PostForm("username")
	if username == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("username is required"))
		return
	}
	targetPath := c.DefaultPostForm("target_path", "/")

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		respondError(c, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	uploads := make([]workspace.Upload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		uploads = append(uploads, workspace.Upload{
			Name:    filepath.Base(fh.Filename),
			Content: content,
		})
	}

	saved, err := h.svc.UploadFiles(c.Request.Context(), username, targetPath, uploads)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Uploaded %d files", len(saved)),
		"saved":   saved,
	})
}

// DownloadFile streams one file as an attachment.
func (h *WorkspaceHandler) DownloadFile(c *gin.Context) {
	path := c.Query("filepath")
	if path == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("filepath query parameter is required"))
		return
	}

	fullPath, err := h.svc.DownloadPath(c.Request.Context(), c.Param("username"), path)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.FileAttachment(fullPath, filepath.Base(fullPath))
}

// DownloadFolder streams a folder as a zip.
func (h *WorkspaceHandler) DownloadFolder(c *gin.Context) {
	folderPath := c.Query("folderpath")

	name := filepath.Base(filepath.Clean("/" + folderPath))
	if name == "/" || name == "." {
		name = "workspace"
	}
	c.Writer.Header().Set("Content-Type", "application/zip")
	c.Writer.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", name))

	// FolderZip validates the path before writing the first byte, so the
	// not-found case still produces a clean JSON error.
	if _, err := h.svc.FolderZip(c.Request.Context(), c.Param("username"), folderPath, c.Writer); err != nil {
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		respondServiceError(c, err)
		return
	}
}
