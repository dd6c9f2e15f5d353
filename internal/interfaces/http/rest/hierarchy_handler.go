package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"curio-backend/internal/domain/node"
)

func (rt *Router) handleTree(w http.ResponseWriter, r *http.Request) {
	view, err := node.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	tree, err := rt.hier.GetTree(r.Context(), view)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{
		"view": view.String(),
		"tree": tree,
	})
}

func (rt *Router) handleSubtree(w http.ResponseWriter, r *http.Request) {
	view, err := node.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	prefix := chi.URLParam(r, "prefix")
	tree, err := rt.hier.GetSubtree(r.Context(), view, prefix)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{
		"view":   view.String(),
		"prefix": prefix,
		"tree":   tree,
	})
}

func (rt *Router) handleAncestry(w http.ResponseWriter, r *http.Request) {
	view, err := node.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	path, err := rt.hier.GetAncestry(r.Context(), view, id)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{
		"view":   view.String(),
		"nodeId": id.String(),
		"path":   path,
	})
}

func (rt *Router) handleInvalidateHierarchy(w http.ResponseWriter, r *http.Request) {
	if rt.invalidator != nil {
		rt.invalidator.InvalidateAll()
	}
	rt.respond(w, http.StatusOK, map[string]any{"success": true})
}
