package http

import (
	"net/http"

	"moneybook/internal/core"
	"moneybook/internal/services"
)

type categoryAddRequest struct {
	Name   string            `json:"name"`
	Type   core.CategoryType `json:"type"`
	Parent string            `json:"parent"`
}

// A present but empty parent moves the category to the root.
type categoryUpdateRequest struct {
	ID     string             `json:"_id"`
	Name   *string            `json:"name"`
	Type   *core.CategoryType `json:"type"`
	Parent *string            `json:"parent"`
}

func (s *Server) writeCategories(w http.ResponseWriter, r *http.Request, list services.CategoryList, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Body(list).Write(w)
}

func (s *Server) handleCategoryLoad(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Categories.List(r.Context(), userID(r.Context()))
	s.writeCategories(w, r, list, err)
}

func (s *Server) handleCategoryAdd(w http.ResponseWriter, r *http.Request) {
	var req categoryAddRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("category.add", err))
		return
	}

	list, err := s.svc.Categories.Add(r.Context(), userID(r.Context()), services.CategoryInput{
		Name:   req.Name,
		Type:   req.Type,
		Parent: req.Parent,
	})
	s.writeCategories(w, r, list, err)
}

func (s *Server) handleCategoryUpdate(w http.ResponseWriter, r *http.Request) {
	var req categoryUpdateRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("category.update", err))
		return
	}

	list, err := s.svc.Categories.Update(r.Context(), userID(r.Context()), services.CategoryUpdate{
		ID:     req.ID,
		Name:   req.Name,
		Type:   req.Type,
		Parent: req.Parent,
	})
	s.writeCategories(w, r, list, err)
}

func (s *Server) handleCategoryRemove(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("category.remove", err))
		return
	}

	list, err := s.svc.Categories.Remove(r.Context(), userID(r.Context()), req.ID)
	s.writeCategories(w, r, list, err)
}
