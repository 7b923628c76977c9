package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// FrontendHandler serves the compiled single page app from dir. Unknown
// GET paths outside /api render index.html so client routes resolve.
func FrontendHandler(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead ||
			path == "/api" || strings.HasPrefix(path, "/api/") {
			abort(c, http.StatusNotFound, errors.New("not found"))
			return
		}

		if dir == "" {
			abort(c, http.StatusNotFound, errors.New("frontend not configured"))
			return
		}

		file := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+path)))
		if serveFile(c, file) {
			return
		}

		if !serveFile(c, index) {
			abort(c, http.StatusNotFound, errors.New("frontend not built"))
		}
	}
}

// serveFile writes the regular file at name whatever the request path;
// http.ServeFile answers 400 for paths containing "..".
func serveFile(c *gin.Context, name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	return true
}
