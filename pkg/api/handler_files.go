package api

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gin-gonic/gin"
)

// artifactName matches the bare filenames the pipeline announces in its
// summary events. Anything else, in particular path separators and dot
// segments, is rejected before touching the filesystem.
var artifactName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Download handles GET /download/?filename=<name>: serves a compiled trace
// or analysis artifact from the analysis directory.
func (s *Server) Download(c *gin.Context) {
	name := c.Query("filename")
	if name == "" || name == "." || name == ".." || !artifactName.MatchString(name) {
		badRequest(c, "invalid file name")
		return
	}

	path := filepath.Join(s.analysisDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		errorResponse(c, http.StatusNotFound, "file not found: "+name)
		return
	}

	c.FileAttachment(path, name)
}
