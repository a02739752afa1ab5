package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/roundsync/internal/api/apierr"
	"github.com/mcoot/roundsync/internal/api/middleware"
	"github.com/mcoot/roundsync/internal/api/request"
	"github.com/mcoot/roundsync/internal/api/response"
	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/services/round"
)

// RoundHandler handles round mutation and read endpoints
type RoundHandler struct {
	rounds *round.Service
}

// NewRoundHandler creates a new round handler
func NewRoundHandler(rounds *round.Service) *RoundHandler {
	return &RoundHandler{rounds: rounds}
}

// Create handles POST /api/v1/rounds
func (h *RoundHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRoundRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.rounds.CreateRound(r.Context(), req.CourseName, req.Par)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, snap)
}

// Join handles POST /api/v1/rounds/join
func (h *RoundHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req request.JoinRoundRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.rounds.JoinRound(r.Context(), model.AccessCode(req.AccessCode), req.PlayerName, req.Color)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.JoinResponse{
		SessionID: res.Session.SessionID,
		ExpiresAt: res.Session.ExpiresAt,
		Player:    res.Player,
		Snapshot:  res.Snapshot,
	})
}

// Get handles GET /api/v1/rounds/{roundId}
func (h *RoundHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.rounds.GetSnapshot(r.Context(), roundID(r), middleware.GetSessionID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, snap)
}

// UpdateScore handles PUT /api/v1/rounds/{roundId}/scores
func (h *RoundHandler) UpdateScore(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateScoreRequest
	if !decode(w, r, &req) {
		return
	}

	score, err := h.rounds.UpdateScore(r.Context(), roundID(r), middleware.GetSessionID(r.Context()),
		req.PlayerID, req.HoleNumber, req.Strokes)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, score)
}

// PatchState handles PATCH /api/v1/rounds/{roundId}/state
func (h *RoundHandler) PatchState(w http.ResponseWriter, r *http.Request) {
	var req request.PatchStateRequest
	if !decode(w, r, &req) {
		return
	}

	patch := round.StatePatch{CurrentHole: req.CurrentHole, Status: req.Status}
	session := middleware.GetSessionID(r.Context())

	var (
		state *model.RoundState
		err   error
	)
	if req.ExpectedVersion != nil {
		state, err = h.rounds.PatchRoundStateAt(r.Context(), roundID(r), session, *req.ExpectedVersion, patch)
	} else {
		state, err = h.rounds.PatchRoundState(r.Context(), roundID(r), session, patch)
	}
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, state)
}

// UpdatePlayer handles PATCH /api/v1/rounds/{roundId}/players/{playerId}
func (h *RoundHandler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var req request.UpdatePlayerRequest
	if !decode(w, r, &req) {
		return
	}

	playerID := model.PlayerID(mux.Vars(r)["playerId"])
	player, err := h.rounds.UpdatePlayer(r.Context(), roundID(r), middleware.GetSessionID(r.Context()),
		playerID, req.Name, req.Color)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, player)
}

func roundID(r *http.Request) model.RoundID {
	return model.RoundID(mux.Vars(r)["roundId"])
}

// decode reads a JSON body into out, writing a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if model.Kind(err) == model.KindInvalidInput {
			apierr.WriteError(w, err)
		} else {
			apierr.WriteError(w, apierr.NewInvalidRequestError("Invalid request body"))
		}
		return false
	}
	return true
}
