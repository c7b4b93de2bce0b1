package server

import (
	"errors"
	"net/http"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/store"
	"github.com/go-chi/chi/v5"
)

// HandlePayoutHistory handles GET /api/transactions/history/{wallet}.
func (s *Server) HandlePayoutHistory(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")

	payouts, err := s.store.ListPayoutsByWallet(r.Context(), wallet)
	if err != nil {
		s.logger.Error("list payouts", "wallet", wallet, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch transaction history")
		return
	}

	views := make([]envelope, 0, len(payouts))
	var totalEarned float64
	for _, p := range payouts {
		views = append(views, payoutView(p))
		if p.Status == model.PayoutSent {
			totalEarned += p.Amount
		}
	}
	respondOK(w, envelope{
		"transactions": views,
		"totalEarned":  totalEarned,
	})
}

// HandleGetPayout handles GET /api/transactions/{signature}: lookup of a
// completed payout by its ledger transaction signature.
func (s *Server) HandleGetPayout(w http.ResponseWriter, r *http.Request) {
	signature := chi.URLParam(r, "signature")

	payout, err := s.store.GetPayoutBySignature(r.Context(), signature)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		s.logger.Error("get payout", "signature", signature, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch transaction")
		return
	}

	respondOK(w, envelope{"transaction": payoutView(payout)})
}

func payoutView(p *model.RewardPayout) envelope {
	return envelope{
		"id":          p.ID,
		"reportId":    p.ReportID,
		"wallet":      p.Wallet,
		"amount":      p.Amount,
		"status":      p.Status,
		"txSignature": p.TxSignature,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
}
