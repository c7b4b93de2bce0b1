package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/farmyield/backend/internal/ledger"
	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/store"
	"github.com/go-chi/chi/v5"
)

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username"`
	Location      struct {
		District string `json:"district"`
		Province string `json:"province"`
	} `json:"location"`
}

// HandleLogin handles POST /api/auth/login. Login is find-or-create: a
// wallet seen for the first time gets a profile with a generated
// username, an existing wallet gets its profile back with lastActive
// refreshed.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.WalletAddress == "" {
		respondError(w, http.StatusBadRequest, "Wallet address required")
		return
	}
	if !ledger.ValidWalletAddress(req.WalletAddress) {
		respondError(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}

	now := time.Now().UTC()
	user, err := s.store.GetUser(r.Context(), req.WalletAddress)
	switch {
	case errors.Is(err, store.ErrNotFound):
		username := req.Username
		if username == "" {
			username = "Farmer_" + req.WalletAddress[:6]
		}
		user = &model.User{
			WalletAddress: req.WalletAddress,
			Username:      username,
			District:      req.Location.District,
			Province:      req.Location.Province,
			JoinedAt:      now,
			LastActive:    now,
		}
		if err := s.store.CreateUser(r.Context(), user); err != nil {
			s.logger.Error("create user", "wallet", req.WalletAddress, "error", err)
			respondError(w, http.StatusInternalServerError, "Login failed")
			return
		}
	case err != nil:
		s.logger.Error("get user", "wallet", req.WalletAddress, "error", err)
		respondError(w, http.StatusInternalServerError, "Login failed")
		return
	default:
		user.LastActive = now
		if req.Username != "" {
			user.Username = req.Username
		}
		if req.Location.District != "" {
			user.District = req.Location.District
		}
		if req.Location.Province != "" {
			user.Province = req.Location.Province
		}
		if err := s.store.UpdateUser(r.Context(), user); err != nil {
			s.logger.Error("update user", "wallet", req.WalletAddress, "error", err)
			respondError(w, http.StatusInternalServerError, "Login failed")
			return
		}
	}

	respondOK(w, envelope{
		"message": "Login successful",
		"user":    userView(user),
	})
}

// HandleProfile handles GET /api/auth/profile/{wallet}.
func (s *Server) HandleProfile(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")

	user, err := s.store.GetUser(r.Context(), wallet)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("get user", "wallet", wallet, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	respondOK(w, envelope{"user": userView(user)})
}

// HandleLeaderboard handles GET /api/auth/leaderboard?type=&limit=.
// Supported sort types are reputation (default), reports, and earnings.
func (s *Server) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sortBy := r.URL.Query().Get("type")
	switch sortBy {
	case "", "reputation":
		sortBy = "reputation"
	case "reports", "earnings":
	default:
		respondError(w, http.StatusBadRequest, "Unknown leaderboard type")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	users, err := s.store.ListTopUsers(r.Context(), sortBy, limit)
	if err != nil {
		s.logger.Error("list top users", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch leaderboard")
		return
	}

	board := make([]envelope, 0, len(users))
	for i, u := range users {
		v := userView(u)
		v["rank"] = i + 1
		board = append(board, v)
	}
	respondOK(w, envelope{"leaderboard": board})
}

// userView is the JSON projection of a user profile.
func userView(u *model.User) envelope {
	return envelope{
		"walletAddress":   u.WalletAddress,
		"username":        u.Username,
		"district":        u.District,
		"province":        u.Province,
		"totalReports":    u.TotalReports,
		"verifiedReports": u.VerifiedReports,
		"totalEarned":     u.TotalEarned,
		"reputationScore": u.ReputationScore,
		"joinedAt":        u.JoinedAt,
		"lastActive":      u.LastActive,
	}
}
