package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/store"
	"github.com/farmyield/backend/internal/verify"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// newReportCode builds the human-readable report code assigned once at
// creation, e.g. RPT-1714650000000-3F9A2C81B.
func newReportCode() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:9])
	return fmt.Sprintf("RPT-%d-%s", time.Now().UnixMilli(), suffix)
}

// HandleSubmitReport handles POST /api/reports/submit: a multipart form
// with the crop fields and up to MaxImagesPerReport image files.
func (s *Server) HandleSubmitReport(w http.ResponseWriter, r *http.Request) {
	wallet := WalletFromContext(r.Context())

	if !s.rl.AllowWalletReport(wallet) {
		respondError(w, http.StatusTooManyRequests, "Report submission limit reached")
		return
	}

	maxBody := s.config.MaxImageUploadBytes*int64(s.config.MaxImagesPerReport) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxBody); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	cropType := model.CropType(r.FormValue("cropType"))
	quantityStr := r.FormValue("quantity")
	latStr := r.FormValue("latitude")
	lngStr := r.FormValue("longitude")
	if cropType == "" || quantityStr == "" || latStr == "" || lngStr == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !model.ValidCropType(cropType) {
		respondError(w, http.StatusBadRequest, "Unknown crop type")
		return
	}

	quantity, err := strconv.ParseFloat(quantityStr, 64)
	if err != nil || quantity <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid quantity")
		return
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		respondError(w, http.StatusBadRequest, "Invalid latitude")
		return
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || lng < -180 || lng > 180 {
		respondError(w, http.StatusBadRequest, "Invalid longitude")
		return
	}

	unit := model.QuantityUnit(r.FormValue("unit"))
	if unit == "" {
		unit = model.UnitKg
	}
	if !model.ValidQuantityUnit(unit) {
		respondError(w, http.StatusBadRequest, "Unknown quantity unit")
		return
	}

	var harvestDate *time.Time
	if hd := r.FormValue("harvestDate"); hd != "" {
		t, err := time.Parse("2006-01-02", hd)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid harvest date, want YYYY-MM-DD")
			return
		}
		harvestDate = &t
	}
	marketPrice, _ := strconv.ParseFloat(r.FormValue("marketPrice"), 64)

	images := s.uploadImages(r)

	now := time.Now().UTC()
	rpt := &model.Report{
		ID:           uuid.New().String(),
		Code:         newReportCode(),
		FarmerWallet: wallet,
		CropType:     cropType,
		Quantity:     model.Quantity{Value: quantity, Unit: unit},
		Location: model.Location{
			Latitude:  lat,
			Longitude: lng,
			District:  r.FormValue("district"),
			Province:  r.FormValue("province"),
			Village:   r.FormValue("village"),
		},
		Metadata: model.Metadata{
			SoilType:    r.FormValue("soilType"),
			Irrigation:  r.FormValue("irrigation"),
			Fertilizer:  r.FormValue("fertilizer"),
			HarvestDate: harvestDate,
			MarketPrice: marketPrice,
		},
		Images:    images,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateReport(r.Context(), rpt); err != nil {
		s.logger.Error("create report", "wallet", wallet, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to submit report")
		return
	}

	// Bump the farmer's report count. The report is already saved, so a
	// stats failure is logged rather than surfaced.
	if user, err := s.store.GetUser(r.Context(), wallet); err == nil {
		user.TotalReports++
		if err := s.store.UpdateUser(r.Context(), user); err != nil {
			s.logger.Error("update user report count", "wallet", wallet, "error", err)
		}
	}

	respondOK(w, envelope{
		"message": "Report submitted successfully",
		"report": envelope{
			"id":        rpt.ID,
			"reportId":  rpt.Code,
			"cropType":  rpt.CropType,
			"quantity":  envelope{"value": rpt.Quantity.Value, "unit": rpt.Quantity.Unit},
			"location":  envelope{"latitude": lat, "longitude": lng},
			"images":    rpt.Images,
			"status":    rpt.Status,
			"createdAt": rpt.CreatedAt,
		},
	})
}

// uploadImages pins submitted image files to IPFS concurrently. Uploads
// are best-effort: a failed or unconfigured upload is logged and the
// submission proceeds without that image.
func (s *Server) uploadImages(r *http.Request) []model.Image {
	if r.MultipartForm == nil || !s.ipfs.Configured() {
		return nil
	}
	files := r.MultipartForm.File["images"]
	if len(files) > s.config.MaxImagesPerReport {
		files = files[:s.config.MaxImagesPerReport]
	}

	var mu sync.Mutex
	var images []model.Image
	g, ctx := errgroup.WithContext(r.Context())

	for _, fh := range files {
		fh := fh
		g.Go(func() error {
			if fh.Size > s.config.MaxImageUploadBytes {
				return fmt.Errorf("image %s exceeds size limit", fh.Filename)
			}
			f, err := fh.Open()
			if err != nil {
				return fmt.Errorf("open image %s: %w", fh.Filename, err)
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read image %s: %w", fh.Filename, err)
			}
			res, err := s.ipfs.Add(ctx, data, fh.Filename)
			if err != nil {
				return fmt.Errorf("pin image %s: %w", fh.Filename, err)
			}
			mu.Lock()
			images = append(images, model.Image{
				CID:        res.CID,
				URL:        res.URL,
				UploadedAt: time.Now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("image upload failed, continuing without", "error", err)
	}
	return images
}

// HandleListReports handles GET /api/reports with optional status,
// cropType, province, district, and wallet filters plus pagination.
func (s *Server) HandleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	filter := store.ReportFilter{
		Status:   model.ReportStatus(q.Get("status")),
		CropType: model.CropType(q.Get("cropType")),
		Province: q.Get("province"),
		District: q.Get("district"),
		Wallet:   q.Get("wallet"),
		Limit:    limit,
		Page:     page,
	}

	reports, total, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		s.logger.Error("list reports", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch reports")
		return
	}

	pages := (total + limit - 1) / limit
	respondOK(w, envelope{
		"reports": reportViews(reports),
		"pagination": envelope{
			"total": total,
			"page":  page,
			"limit": limit,
			"pages": pages,
		},
	})
}

// HandleGetReport handles GET /api/reports/{reportID}. The path segment
// may be either the internal ID or the public RPT- code.
func (s *Server) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	rpt, err := s.store.GetReport(r.Context(), reportID)
	if errors.Is(err, store.ErrNotFound) && strings.HasPrefix(reportID, "RPT-") {
		rpt, err = s.store.GetReportByCode(r.Context(), reportID)
	}
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		s.logger.Error("get report", "report_id", reportID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch report")
		return
	}

	respondOK(w, envelope{"report": reportView(rpt)})
}

// voteRequest is the POST /api/reports/{id}/vote body.
type voteRequest struct {
	VoteType string `json:"voteType"`
	Comment  string `json:"comment"`
}

// HandleVote handles POST /api/reports/{reportID}/vote.
func (s *Server) HandleVote(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	wallet := WalletFromContext(r.Context())

	var req voteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Comment) > 500 {
		respondError(w, http.StatusBadRequest, "Comment too long")
		return
	}

	result, err := s.engine.CastVote(r.Context(), reportID, wallet,
		model.VoteChoice(req.VoteType), req.Comment)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Report not found")
		return
	case errors.Is(err, verify.ErrInvalidChoice),
		errors.Is(err, verify.ErrMissingVoter):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, verify.ErrAlreadyProcessed):
		respondError(w, http.StatusBadRequest, "Report already processed")
		return
	case errors.Is(err, verify.ErrDuplicateVote):
		respondError(w, http.StatusBadRequest, "Already voted on this report")
		return
	default:
		s.logger.Error("cast vote", "report_id", reportID, "wallet", wallet, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to vote")
		return
	}

	respondOK(w, envelope{
		"message": "Vote recorded successfully",
		"report": envelope{
			"reportId": result.ReportCode,
			"status":   result.Status,
			"votes": envelope{
				"approve": result.ApproveVotes,
				"reject":  result.RejectVotes,
			},
		},
	})
}

// HandleMapData handles GET /api/reports/map/data: verified report totals
// rolled up by district and crop.
func (s *Server) HandleMapData(w http.ResponseWriter, r *http.Request) {
	aggs, err := s.store.AggregateVerifiedReports(r.Context())
	if err != nil {
		s.logger.Error("aggregate reports", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch map data")
		return
	}

	data := make([]envelope, 0, len(aggs))
	for _, a := range aggs {
		data = append(data, envelope{
			"district":      a.District,
			"cropType":      a.CropType,
			"totalQuantity": a.TotalQuantity,
			"avgPrice":      a.AvgPrice,
			"reportCount":   a.ReportCount,
			"location":      []float64{a.Longitude, a.Latitude},
		})
	}
	respondOK(w, envelope{"data": data})
}

// HandleUserReports handles GET /api/reports/user/{wallet}.
func (s *Server) HandleUserReports(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")

	reports, err := s.store.ListReportsByWallet(r.Context(), wallet)
	if err != nil {
		s.logger.Error("list user reports", "wallet", wallet, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch user reports")
		return
	}
	respondOK(w, envelope{"reports": reportViews(reports)})
}

// reportView is the JSON projection of a report.
func reportView(r *model.Report) envelope {
	v := envelope{
		"id":           r.ID,
		"reportId":     r.Code,
		"farmerWallet": r.FarmerWallet,
		"cropType":     r.CropType,
		"quantity":     envelope{"value": r.Quantity.Value, "unit": r.Quantity.Unit},
		"location": envelope{
			"latitude":  r.Location.Latitude,
			"longitude": r.Location.Longitude,
			"district":  r.Location.District,
			"province":  r.Location.Province,
			"village":   r.Location.Village,
		},
		"images": r.Images,
		"status": r.Status,
		"verification": envelope{
			"votes": envelope{
				"approve": r.Verification.ApproveCount,
				"reject":  r.Verification.RejectCount,
			},
			"verifiedBy":      r.Verification.VerifiedBy,
			"verifiedAt":      r.Verification.VerifiedAt,
			"rejectionReason": r.Verification.RejectionReason,
		},
		"blockchain": envelope{
			"rewardTxSignature": r.Blockchain.RewardTxSignature,
			"rewardAmount":      r.Blockchain.RewardAmount,
		},
		"createdAt": r.CreatedAt,
		"updatedAt": r.UpdatedAt,
	}
	return v
}

func reportViews(reports []*model.Report) []envelope {
	views := make([]envelope, 0, len(reports))
	for _, r := range reports {
		views = append(views, reportView(r))
	}
	return views
}
