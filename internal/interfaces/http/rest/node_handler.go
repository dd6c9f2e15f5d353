package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"curio-backend/internal/domain/node"
)

func (rt *Router) handleListNodes(w http.ResponseWriter, r *http.Request) {
	filter := filterFrom(r)
	q := r.URL.Query()

	// Paginate only when asked; the unpaged array form is kept for
	// export-style consumers.
	if q.Has("page") || q.Has("limit") {
		result, err := rt.nodes.ListPaginated(r.Context(), filter, pageFrom(r))
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		rt.respond(w, http.StatusOK, result)
		return
	}

	all, err := rt.nodes.ListAll(r.Context(), filter)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if all == nil {
		all = []*node.Node{}
	}
	rt.respond(w, http.StatusOK, all)
}

func (rt *Router) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	n, err := rt.nodes.Get(r.Context(), id)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, n)
}

// updateNodeRequest is the editable slice of a node. Absent fields
// leave the stored value alone; classification and hierarchy codes are
// never writable here.
type updateNodeRequest struct {
	Title             *string  `json:"title" validate:"omitempty,min=1,max=500"`
	Company           *string  `json:"company" validate:"omitempty,max=200"`
	ShortDescription  *string  `json:"shortDescription" validate:"omitempty,max=2000"`
	PhraseDescription *string  `json:"phraseDescription" validate:"omitempty,max=500"`
	MetadataTags      []string `json:"metadataTags" validate:"omitempty,max=15,dive,min=1,max=50"`
	LogoURL           *string  `json:"logoUrl" validate:"omitempty,url"`
}

func (rt *Router) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	var req updateNodeRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}

	n, err := rt.nodes.Get(r.Context(), id)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if req.Title != nil {
		n.Title = *req.Title
	}
	if req.Company != nil {
		n.Company = *req.Company
	}
	if req.ShortDescription != nil {
		n.ShortDescription = *req.ShortDescription
	}
	if req.PhraseDescription != nil {
		n.PhraseDescription = *req.PhraseDescription
	}
	if req.MetadataTags != nil {
		n.MetadataTags = req.MetadataTags
	}
	if req.LogoURL != nil {
		n.LogoURL = *req.LogoURL
	}
	n.RecomputeDescriptor()
	n.Touch()

	if err := rt.nodes.Update(r.Context(), n); err != nil {
		rt.fail(w, r, err)
		return
	}
	// Titles feed the tree projections.
	if rt.invalidator != nil {
		rt.invalidator.InvalidateAll()
	}
	rt.respond(w, http.StatusOK, n)
}

func (rt *Router) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if err := rt.nodes.SoftDelete(r.Context(), id); err != nil {
		rt.fail(w, r, err)
		return
	}
	if rt.invalidator != nil {
		rt.invalidator.InvalidateAll()
	}
	rt.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (rt *Router) handleNodeMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	// 404 for a node that does not exist, empty list for one that has
	// no links yet.
	if _, err := rt.nodes.Get(r.Context(), id); err != nil {
		rt.fail(w, r, err)
		return
	}
	links, err := rt.meta.GetNodeMetadata(r.Context(), id)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{
		"nodeId":   id.String(),
		"metadata": links,
	})
}

func (rt *Router) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	id, err := node.ParseID(chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	history, err := rt.audits.ListForNode(r.Context(), id.String(), pageFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, history)
}
