package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"wired/pkg/types"
)

type RoomsResponse struct {
	Rooms map[string]int `json:"rooms"`
}

type RoomResponse struct {
	Room  string   `json:"room"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoomsResponse{Rooms: s.deps.Rooms.Snapshot()})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if !types.IsValidRoomID(room) {
		sendError(w, types.ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, RoomResponse{
		Room:  room,
		Count: s.deps.Rooms.Count(room),
		Users: s.deps.Rooms.MembersOf(room),
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	connections := map[string]int{
		"sockets": s.deps.Connections.ConnectionCount(),
		"rooms":   len(s.deps.Rooms.Snapshot()),
	}
	if stats, ok := s.deps.Store.(statsSource); ok {
		db := stats.Stats()
		connections["db_open"] = db.OpenConnections
		connections["db_in_use"] = db.InUse
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connections,
		System:      s.systemInfo(ctx),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) systemInfo(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		s.logger.Debug().Err(err).Msg("process stats unavailable")
		return info
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		info["cpu_percent"] = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		info["memory_mb"] = float64(mem.RSS) / 1024 / 1024
	}
	return info
}
