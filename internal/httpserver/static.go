package httpserver

import (
	"log/slog"
	"net/http"
	"os"
)

// StaticHandler serves the viewer/camera web page out of dir, with
// index.html answering "/". A missing directory is not fatal: every
// request then gets 404 and a warning is logged once.
func StaticHandler(dir string, logger *slog.Logger) http.Handler {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn("static directory unavailable; only the API and signaling will be served", "dir", dir, "err", err)
		return http.NotFoundHandler()
	}

	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}
