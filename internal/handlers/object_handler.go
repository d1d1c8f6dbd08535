// -----------------------------------------------------------------------
// Object Handler
// Serves stored blobs when no CDN fronts the object store
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/services/artifacts"
)

type ObjectHandler struct {
	store  interfaces.ObjectStore
	logger arbor.ILogger
}

func NewObjectHandler(store interfaces.ObjectStore, logger arbor.ILogger) *ObjectHandler {
	return &ObjectHandler{
		store:  store,
		logger: logger,
	}
}

// ServeObjectHandler streams one blob. GET /objects/{key...}
func (h *ObjectHandler) ServeObjectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/objects/")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	data, err := h.store.Get(r.Context(), key)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", artifacts.InferMIME(key))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
