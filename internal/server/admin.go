package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// AdminHandler exposes the management API: list, create, and configure
// databases, and trigger collection cleanup. Every request must carry the
// admin key.
type AdminHandler struct {
	manager  *Manager
	adminKey string
	logger   zerolog.Logger
}

// NewAdminHandler builds the management API handler. An empty admin key
// disables the whole surface.
func NewAdminHandler(manager *Manager, adminKey string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{manager: manager, adminKey: adminKey, logger: logger}
}

// Register mounts the admin routes on mux.
func (a *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/admin/database", a.withKey(a.handleDatabases))
	mux.HandleFunc("/v1/admin/collections/cleanup", a.withKey(a.handleCleanup))
}

func (a *AdminHandler) withKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.adminKey == "" || r.URL.Query().Get("key") != a.adminKey {
			http.Error(w, "no permission", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type databaseUpsert struct {
	Name      string `json:"name"`
	Rules     string `json:"rules,omitempty"`
	PublicKey string `json:"publickey,omitempty"`
	AccessKey string `json:"accesskey,omitempty"`
	RootKey   string `json:"rootkey,omitempty"`
}

func (a *AdminHandler) handleDatabases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.manager.Names())
	case http.MethodPost:
		a.upsertDatabase(w, r)
	case http.MethodDelete:
		name := r.URL.Query().Get("database")
		if name == "" {
			http.Error(w, "database must be set", http.StatusBadRequest)
			return
		}
		if err := a.manager.Delete(name); err != nil {
			a.logger.Error().Err(err).Str("database", name).Msg("delete database")
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, "deleted")
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (a *AdminHandler) upsertDatabase(w http.ResponseWriter, r *http.Request) {
	var req databaseUpsert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name must be set", http.StatusBadRequest)
		return
	}

	handle := a.manager.Get(req.Name)
	if handle == nil {
		var err error
		handle, err = a.manager.Add(req.Name)
		if err != nil {
			a.logger.Error().Err(err).Str("database", req.Name).Msg("create database")
			http.Error(w, "create failed", http.StatusInternalServerError)
			return
		}
	}

	if req.PublicKey != "" {
		if err := handle.SetPublicKey(req.PublicKey); err != nil {
			http.Error(w, "store public key failed", http.StatusInternalServerError)
			return
		}
	}
	if req.Rules != "" {
		ruleErr, err := handle.SetRules(req.Rules)
		if err != nil {
			http.Error(w, "store rules failed", http.StatusInternalServerError)
			return
		}
		if ruleErr != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ruleErr)
			return
		}
	}
	if req.AccessKey != "" {
		if err := handle.SetAccessKey(req.AccessKey); err != nil {
			http.Error(w, "store access key failed", http.StatusInternalServerError)
			return
		}
	}
	if req.RootKey != "" {
		if err := handle.SetRootKey(req.RootKey); err != nil {
			http.Error(w, "store root key failed", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, "success")
}

func (a *AdminHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("database")
	handle := a.manager.Get(name)
	if handle == nil {
		http.Error(w, "database not found", http.StatusNotFound)
		return
	}
	deleted, err := handle.Database().RunCleanup(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Str("database", name).Msg("cleanup")
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}
