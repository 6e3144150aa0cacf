package api

import "net/http"

func (s *Server) handleWatcherStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.manager.GetStatus())
}
