package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"supportchat/server/room"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
	Admins      int       `json:"admins"`
}

// HandleHealth reports liveness along with current registry counts.
func HandleHealth(registry *room.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connections, admins := registry.Counts()
		response := HealthResponse{
			Status:      "UP",
			Timestamp:   time.Now().UTC(),
			Connections: connections,
			Admins:      admins,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}
}

type StatsResponse struct {
	Connections int      `json:"connections"`
	Admins      int      `json:"admins"`
	AdminIDs    []string `json:"adminIds"`
}

// HandleStats lists the admins currently connected.
func HandleStats(registry *room.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connections, admins := registry.Counts()
		adminIDs := registry.ListAdmins()
		if adminIDs == nil {
			adminIDs = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(StatsResponse{
			Connections: connections,
			Admins:      admins,
			AdminIDs:    adminIDs,
		})
	}
}
