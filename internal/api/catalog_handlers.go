package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sajanshree/order-api/internal/service"
)

type addOptionRequest struct {
	Key       string `json:"key"`
	DetailKey string `json:"detailKey"`
	Option    string `json:"option"`
}

// registerCatalogRoutes mounts template CRUD for one catalog under prefix
func (s *Server) registerCatalogRoutes(r *mux.Router, prefix string, svc *service.CatalogService) {
	r.HandleFunc(prefix, s.listTemplatesHandler(svc)).Methods(http.MethodGet)
	r.HandleFunc(prefix, s.createTemplateHandler(svc)).Methods(http.MethodPost)
	r.HandleFunc(prefix+"/by-name/{name}", s.getTemplateByNameHandler(svc)).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/{id}", s.getTemplateHandler(svc)).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/{id}", s.updateTemplateHandler(svc)).Methods(http.MethodPut)
	r.HandleFunc(prefix+"/{id}", s.deleteTemplateHandler(svc)).Methods(http.MethodDelete)
	r.HandleFunc(prefix+"/{name}/options", s.addOptionHandler(svc)).Methods(http.MethodPatch)
}

func (s *Server) listTemplatesHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := svc.ListTemplates(r.Context())

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: templates})
	}
}

func (s *Server) createTemplateHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in service.TemplateInput

		if err := decodeJSON(r, &in); err != nil {
			s.respondWithError(w, err)
			return
		}

		tpl, err := svc.CreateTemplate(r.Context(), &in)

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: tpl})
	}
}

func (s *Server) getTemplateHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := svc.GetTemplate(r.Context(), mux.Vars(r)["id"])

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tpl})
	}
}

// getTemplateByNameHandler resolves the template an order item refers to
func (s *Server) getTemplateByNameHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := svc.GetTemplateByName(r.Context(), mux.Vars(r)["name"])

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tpl})
	}
}

func (s *Server) updateTemplateHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in service.TemplateInput

		if err := decodeJSON(r, &in); err != nil {
			s.respondWithError(w, err)
			return
		}

		tpl, err := svc.UpdateTemplate(r.Context(), mux.Vars(r)["id"], &in)

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tpl})
	}
}

func (s *Server) deleteTemplateHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := svc.DeleteTemplate(r.Context(), id); err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"id": id}})
	}
}

// addOptionHandler appends one option to a detail field of the named template
func (s *Server) addOptionHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addOptionRequest

		if err := decodeJSON(r, &req); err != nil {
			s.respondWithError(w, err)
			return
		}

		key := req.DetailKey
		if key == "" {
			key = req.Key
		}

		tpl, err := svc.AddOption(r.Context(), mux.Vars(r)["name"], key, req.Option)

		if err != nil {
			s.respondWithError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tpl})
	}
}
