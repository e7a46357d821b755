package admin

import (
	"errors"
	"net/http"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

// challengeResolveResponse is returned after a challenge is solved or cancelled.
type challengeResolveResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleListChallenges returns the pending challenges, oldest first.
// GET /admin/api/v1/challenges
func (h *AdminAPIHandler) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	if h.challenges == nil {
		h.respondJSON(w, http.StatusOK, []challenge.Challenge{})
		return
	}
	list := h.challenges.List()
	if list == nil {
		list = []challenge.Challenge{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// handleSolveChallenge marks a pending challenge as passed.
// POST /admin/api/v1/challenges/{id}/solve
func (h *AdminAPIHandler) handleSolveChallenge(w http.ResponseWriter, r *http.Request) {
	h.resolveChallenge(w, r, challenge.StatusSolved)
}

// handleCancelChallenge ends a pending challenge without success.
// POST /admin/api/v1/challenges/{id}/cancel
func (h *AdminAPIHandler) handleCancelChallenge(w http.ResponseWriter, r *http.Request) {
	h.resolveChallenge(w, r, challenge.StatusCancelled)
}

func (h *AdminAPIHandler) resolveChallenge(w http.ResponseWriter, r *http.Request, status challenge.Status) {
	if h.challenges == nil {
		h.respondError(w, http.StatusServiceUnavailable, "challenges are not managed locally")
		return
	}

	id := h.pathParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "challenge ID is required")
		return
	}

	var err error
	if status == challenge.StatusSolved {
		err = h.challenges.Solve(id)
	} else {
		err = h.challenges.Cancel(id)
	}
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			h.respondError(w, http.StatusNotFound, "challenge not found or already resolved")
			return
		}
		h.logger.Error("failed to resolve challenge", "id", id, "status", status, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to resolve challenge")
		return
	}

	h.logger.Info("challenge resolved via admin API", "id", id, "status", status)
	h.respondJSON(w, http.StatusOK, challengeResolveResponse{ID: id, Status: string(status)})
}
