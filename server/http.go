package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-settings-store/server/settings"
)

// maxSettingBodyBytes bounds PUT bodies; setting values are small JSON
// documents, not payload storage.
const maxSettingBodyBytes = 64 * 1024

const headerMattermostUserID = "Mattermost-User-ID"

// settingResponse is the wire representation of one setting.
type settingResponse struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Default json.RawMessage `json:"default"`
	IsSet   bool            `json:"is_set"`
}

// newRouter builds the REST surface over the settings registry:
//
//	GET    /api/v1/settings            list all settings
//	GET    /api/v1/settings/{key}      read one setting
//	PUT    /api/v1/settings/{key}      write one setting (JSON body)
//	DELETE /api/v1/settings/{key}      remove one setting
//	POST   /api/v1/settings/{key}/reset  write the default value
func (p *Plugin) newRouter() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(p.mattermostAuthorizationRequired)
	api.HandleFunc("/settings", p.handleListSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", p.handleGetSetting).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", p.handlePutSetting).Methods(http.MethodPut)
	api.HandleFunc("/settings/{key}", p.handleDeleteSetting).Methods(http.MethodDelete)
	api.HandleFunc("/settings/{key}/reset", p.handleResetSetting).Methods(http.MethodPost)

	return router
}

// ServeHTTP demonstrates the plugin's REST API surface.
func (p *Plugin) ServeHTTP(_ *plugin.Context, w http.ResponseWriter, r *http.Request) {
	if p.getConfiguration().DisableSettingsAPI {
		http.NotFound(w, r)
		return
	}
	p.router.ServeHTTP(w, r)
}

// mattermostAuthorizationRequired rejects requests that did not come through
// the Mattermost server on behalf of a logged-in user.
func (p *Plugin) mattermostAuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerMattermostUserID) == "" {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Plugin) handleListSettings(w http.ResponseWriter, r *http.Request) {
	handles := p.registry.All()
	responses := make([]settingResponse, 0, len(handles))
	for _, h := range handles {
		resp, err := buildSettingResponse(h)
		if err != nil {
			p.client.Log.Error("Failed to list settings", "key", h.Key(), "error", err.Error())
			http.Error(w, "Failed to read settings", http.StatusInternalServerError)
			return
		}
		responses = append(responses, resp)
	}
	p.writeJSON(w, responses)
}

func (p *Plugin) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	h, ok := p.lookupSetting(w, r)
	if !ok {
		return
	}

	resp, err := buildSettingResponse(h)
	if err != nil {
		http.Error(w, "Failed to read setting", http.StatusInternalServerError)
		return
	}
	p.writeJSON(w, resp)
}

func (p *Plugin) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	h, ok := p.lookupSetting(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := h.SetJSON(body); err != nil {
		if errors.Is(err, settings.ErrStoreUnavailable) {
			http.Error(w, "Failed to write setting", http.StatusInternalServerError)
			return
		}
		http.Error(w, "Invalid setting value", http.StatusBadRequest)
		return
	}

	resp, err := buildSettingResponse(h)
	if err != nil {
		http.Error(w, "Failed to read setting", http.StatusInternalServerError)
		return
	}
	p.writeJSON(w, resp)
}

func (p *Plugin) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	h, ok := p.lookupSetting(w, r)
	if !ok {
		return
	}

	if err := h.Remove(); err != nil {
		http.Error(w, "Failed to remove setting", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Plugin) handleResetSetting(w http.ResponseWriter, r *http.Request) {
	h, ok := p.lookupSetting(w, r)
	if !ok {
		return
	}

	if err := h.Reset(); err != nil {
		http.Error(w, "Failed to reset setting", http.StatusInternalServerError)
		return
	}

	resp, err := buildSettingResponse(h)
	if err != nil {
		http.Error(w, "Failed to read setting", http.StatusInternalServerError)
		return
	}
	p.writeJSON(w, resp)
}

func (p *Plugin) lookupSetting(w http.ResponseWriter, r *http.Request) (settings.Handle, bool) {
	key := mux.Vars(r)["key"]
	h, ok := p.registry.Get(key)
	if !ok {
		http.Error(w, "Unknown setting", http.StatusNotFound)
		return nil, false
	}
	return h, true
}

// buildSettingResponse reads one setting, substituting the default for the
// value when nothing is stored so the API always returns a usable value.
func buildSettingResponse(h settings.Handle) (settingResponse, error) {
	def, err := h.DefaultJSON()
	if err != nil {
		return settingResponse{}, err
	}

	value, isSet, err := h.CurrentJSON()
	if err != nil {
		return settingResponse{}, err
	}
	if !isSet {
		value = def
	}

	return settingResponse{
		Key:     h.Key(),
		Value:   value,
		Default: def,
		IsSet:   isSet,
	}, nil
}

func (p *Plugin) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.client.Log.Error("Failed to write HTTP response", "error", err.Error())
	}
}
