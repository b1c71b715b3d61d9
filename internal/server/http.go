package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/zeusync/smartspawner/internal/app"
	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/observer"
	"github.com/zeusync/smartspawner/internal/core/registry"
	"github.com/zeusync/smartspawner/internal/core/settlement"
	"github.com/zeusync/smartspawner/internal/core/spawner"
)

// Handler returns the routing table. It is usable without Start, which is
// how the tests drive it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /spawners", s.handleListSpawners)
	mux.HandleFunc("POST /spawners", s.handlePlace)
	mux.HandleFunc("GET /spawners/{id}", s.handleGetSpawner)
	mux.HandleFunc("DELETE /spawners/{id}", s.handleBreak)
	mux.HandleFunc("POST /spawners/{id}/sell", s.handleSell)

	mux.HandleFunc("GET /worlds", s.handleWorlds)
	mux.HandleFunc("GET /worlds/{world}", s.handleWorldStats)
	mux.HandleFunc("POST /worlds/reindex", s.handleReindex)
	mux.HandleFunc("PUT /worlds/{world}/chunks/{x}/{z}", s.handleChunk(true))
	mux.HandleFunc("DELETE /worlds/{world}/chunks/{x}/{z}", s.handleChunk(false))
	mux.HandleFunc("DELETE /worlds/{world}/chunks", s.handleUnloadWorld)

	mux.HandleFunc("PUT /observers/{id}", s.handleMoveObserver)
	mux.HandleFunc("DELETE /observers/{id}", s.handleLeaveObserver)

	mux.HandleFunc("POST /explosions", s.handleExplosion)
	mux.HandleFunc("PUT /settlement", s.handleSettlementToggle)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("GET /feed", s.handleFeed)
	return mux
}

type spawnerView struct {
	ID        string           `json:"id"`
	Location  spawner.Location `json:"location"`
	Radius    int              `json:"radius"`
	Interval  string           `json:"interval"`
	StackSize int              `json:"stack_size"`
	Active    bool             `json:"active"`
	Items     int64            `json:"items"`
	Inventory []item.Stack     `json:"inventory,omitempty"`
}

func viewOf(sp *spawner.Spawner, withInventory bool) spawnerView {
	v := spawnerView{
		ID:        sp.ID(),
		Location:  sp.Location(),
		Radius:    sp.Radius(),
		Interval:  sp.Interval().String(),
		StackSize: sp.StackSize(),
		Active:    sp.Active(),
		Items:     sp.Inventory().Total(),
	}
	if withInventory {
		v.Inventory = sp.Inventory().Snapshot()
	}
	return v
}

func (s *Server) handleListSpawners(w http.ResponseWriter, r *http.Request) {
	world := r.URL.Query().Get("world")
	all := s.service.Spawners()
	out := make([]spawnerView, 0, len(all))
	for _, sp := range all {
		if world != "" && sp.World() != world {
			continue
		}
		out = append(out, viewOf(sp, false))
	}
	writeJSON(w, http.StatusOK, out)
}

type placeRequest struct {
	Location  spawner.Location `json:"location"`
	StackSize int              `json:"stack_size"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Location.World == "" {
		writeError(w, http.StatusBadRequest, "location.world is required")
		return
	}

	sp, err := s.service.Place(req.Location, req.StackSize)
	switch {
	case errors.Is(err, registry.ErrLocationCollision), errors.Is(err, registry.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Place failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sp, false))
}

func (s *Server) handleGetSpawner(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.service.Spawner(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sp, true))
}

func (s *Server) handleBreak(w http.ResponseWriter, r *http.Request) {
	if !s.service.Break(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sellRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

type sellResponse struct {
	settlement.Result
	Error   string `json:"error,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	if req.ActorName == "" {
		req.ActorName = req.ActorID
	}

	// the final outcome of a pending sale reaches feed clients as a
	// settlement event
	res, err := s.service.Sell(r.Context(), settlement.Actor{ID: req.ActorID, Name: req.ActorName}, r.PathValue("id"), nil)
	if errors.Is(err, app.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := sellResponse{Result: res}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if res.Receipt != nil {
		resp.Summary = res.Receipt.Summary()
	}
	writeJSON(w, sellStatus(res), resp)
}

func sellStatus(res settlement.Result) int {
	switch res.Status {
	case settlement.StatusPending:
		return http.StatusAccepted
	case settlement.StatusRejected:
		if res.Reason == settlement.ReasonCooldown {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	case settlement.StatusFailed:
		if settlement.IsValidation(res.Err) {
			return http.StatusUnprocessableEntity
		}
		if settlement.IsTimeout(res.Err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func (s *Server) handleWorlds(w http.ResponseWriter, _ *http.Request) {
	worlds := s.service.Worlds()
	out := make([]app.WorldStats, 0, len(worlds))
	for _, world := range worlds {
		out = append(out, s.service.WorldStats(world))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWorldStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.WorldStats(r.PathValue("world")))
}

func (s *Server) handleReindex(w http.ResponseWriter, _ *http.Request) {
	s.service.ReloadWorlds()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChunk(load bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		x, errX := strconv.Atoi(r.PathValue("x"))
		z, errZ := strconv.Atoi(r.PathValue("z"))
		if errX != nil || errZ != nil {
			writeError(w, http.StatusBadRequest, "chunk coordinates must be integers")
			return
		}
		world := r.PathValue("world")
		if load {
			s.service.Observers().LoadChunk(world, x, z)
		} else {
			s.service.Observers().UnloadChunk(world, x, z)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleUnloadWorld(w http.ResponseWriter, r *http.Request) {
	s.service.Observers().UnloadWorld(r.PathValue("world"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveObserver(w http.ResponseWriter, r *http.Request) {
	var p observer.Position
	if !s.decode(w, r, &p) {
		return
	}
	if p.World == "" {
		writeError(w, http.StatusBadRequest, "world is required")
		return
	}
	p.ID = r.PathValue("id")
	s.service.Observers().Move(p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveObserver(w http.ResponseWriter, r *http.Request) {
	s.service.Observers().Leave(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type explosionRequest struct {
	Blocks []spawner.Location `json:"blocks"`
}

type explosionResponse struct {
	Broken    []string           `json:"broken"`
	Protected []spawner.Location `json:"protected"`
}

func (s *Server) handleExplosion(w http.ResponseWriter, r *http.Request) {
	var req explosionRequest
	if !s.decode(w, r, &req) {
		return
	}
	broken, protected := s.service.HandleExplosion(r.Context(), req.Blocks)
	if broken == nil {
		broken = []string{}
	}
	if protected == nil {
		protected = []spawner.Location{}
	}
	writeJSON(w, http.StatusOK, explosionResponse{Broken: broken, Protected: protected})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSettlementToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.service.SetSellingEnabled(req.Enabled)
	s.logger.Info("Selling toggled", log.Bool("enabled", req.Enabled))
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Spawners   int              `json:"spawners"`
	Settlement settlement.Stats `json:"settlement"`
	Server     Stats            `json:"server"`
	At         time.Time        `json:"at"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Spawners:   len(s.service.Spawners()),
		Settlement: s.service.SettlementStats(),
		Server:     s.GetStats(),
		At:         time.Now().UTC(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
