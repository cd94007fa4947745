package api

import (
	"net/http"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// ---------- Presets ----------

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := s.presets.ListPresets(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.CreatePresetRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.presets.CreatePreset(r.Context(), userID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDefaultPreset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := s.presets.DefaultPreset(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CreatePresetRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.presets.UpdatePreset(r.Context(), userID, id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.presets.DeletePreset(r.Context(), userID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.presets.SetDefaultPreset(r.Context(), userID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "default preset updated"})
}

// ---------- Rules ----------

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.RuleRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := s.presets.CreateRule(r.Context(), userID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	presetID, ok := pathID(w, r, "presetId")
	if !ok {
		return
	}
	rules, err := s.presets.ListRules(r.Context(), userID, presetID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := pathID(w, r, "ruleId")
	if !ok {
		return
	}
	var req models.RuleRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := s.presets.UpdateRule(r.Context(), userID, ruleID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := pathID(w, r, "ruleId")
	if !ok {
		return
	}
	if err := s.presets.DeleteRule(r.Context(), userID, ruleID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- Feeds ----------

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	presetID, ok := pathID(w, r, "presetId")
	if !ok {
		return
	}
	posts, err := s.presets.GenerateFeed(r.Context(), userID, presetID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleFeedPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	presetID, ok := pathID(w, r, "presetId")
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := queryInt(r, "size", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "size must be an integer")
		return
	}

	fp, err := s.presets.GenerateFeedPage(r.Context(), userID, presetID, page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}
