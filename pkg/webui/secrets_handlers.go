package webui

import (
	"encoding/json"
	"net/http"
	"regexp"
)

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SecretEntry represents a secret for the API response (name only, no value).
type SecretEntry struct {
	Name string `json:"name"`
}

// handleSecretsList implements GET /api/secrets. Values are never returned.
func (s *Server) handleSecretsList(w http.ResponseWriter, _ *http.Request) {
	names := s.secrets.Names()
	entries := make([]SecretEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, SecretEntry{Name: name})
	}
	s.writeJSON(w, http.StatusOK, entries)
	s.logger.Debug("Served secrets list: %d secrets", len(entries))
}

// handleSecretsSet implements POST /api/secrets. The value only lives in
// memory until the secrets file is saved from the CLI.
func (s *Server) handleSecretsSet(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !secretNamePattern.MatchString(reqBody.Name) {
		http.Error(w, "Secret name must contain only alphanumeric characters and underscores", http.StatusBadRequest)
		return
	}
	if reqBody.Value == "" {
		http.Error(w, "Secret value is required", http.StatusBadRequest)
		return
	}

	s.secrets.Set(reqBody.Name, reqBody.Value)
	s.logger.Info("Secret %s updated", reqBody.Name)
	w.WriteHeader(http.StatusNoContent)
}

// handleSecretsDelete implements DELETE /api/secrets/{name}.
func (s *Server) handleSecretsDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !secretNamePattern.MatchString(name) {
		http.Error(w, "Invalid secret name", http.StatusBadRequest)
		return
	}
	s.secrets.Delete(name)
	s.logger.Info("Secret %s deleted", name)
	w.WriteHeader(http.StatusNoContent)
}
