package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/models"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine      *auction.Engine
	AuthService *auth.AuthService
	Logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(engine *auction.Engine, authService *auth.AuthService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, AuthService: authService, Logger: logger}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Email, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrEmailTaken), errors.Is(err, auth.ErrUsernameTaken):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.Logger.Error("failed to register user", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		jsonError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		h.Logger.Error("failed to log in", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"token": token})
}

// CreateListing handles listing creation for the authenticated seller
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Title         string  `json:"title"`
		Description   string  `json:"description"`
		StartingPrice float64 `json:"starting_price"`
		ImageURL      string  `json:"image_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	listing, err := h.Engine.CreateListing(r.Context(), userID, req.Title, req.Description, req.StartingPrice, req.ImageURL)
	if err != nil {
		h.engineError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, listing)
}

// MyListings returns every listing of the authenticated seller
func (h *Handler) MyListings(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	listings, err := h.Engine.ListByOwner(r.Context(), userID)
	if err != nil {
		h.engineError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(listings))
}

// ActiveListings returns active listings, optionally filtered by title and price range
func (h *Handler) ActiveListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.ListingFilter{Title: query.Get("title")}

	var err error
	if filter.MinPrice, err = parsePrice(query.Get("min_price")); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid min_price")
		return
	}
	if filter.MaxPrice, err = parsePrice(query.Get("max_price")); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid max_price")
		return
	}

	listings, err := h.Engine.ListActive(r.Context(), filter)
	if err != nil {
		h.engineError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(listings))
}

// GetListing returns a listing with its bid history
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	listing, bids, err := h.Engine.GetListing(r.Context(), listingID)
	if err != nil {
		h.engineError(w, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"listing": listing,
		"bids":    bids,
	})
}

// PlaceBid places a bid for the authenticated user
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	listingID, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bid, err := h.Engine.PlaceBid(r.Context(), userID, listingID, req.Amount)
	if err != nil {
		h.engineError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, bid)
}

// CloseListing lets a seller end their own auction early
func (h *Handler) CloseListing(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	listingID, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	listing, _, err := h.Engine.GetListing(r.Context(), listingID)
	if err != nil {
		h.engineError(w, err)
		return
	}
	if listing.OwnerID != userID {
		jsonError(w, http.StatusForbidden, "Only the owner can close this listing")
		return
	}

	if err := h.Engine.CloseListing(r.Context(), listingID); err != nil {
		h.engineError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "Listing closed"})
}

// engineError maps auction errors onto HTTP statuses
func (h *Handler) engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrValidation):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrInvalidState):
		jsonError(w, http.StatusConflict, "Auction is no longer active")
	case errors.Is(err, auction.ErrConflict):
		jsonError(w, http.StatusConflict, "Listing was updated concurrently, try again")
	default:
		h.Logger.Error("request failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func listingIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, http.StatusBadRequest, "Invalid listing ID")
		return 0, false
	}
	return id, true
}

// parsePrice returns nil for an empty parameter
func parsePrice(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return nil, errors.New("price must be finite")
	}
	return &p, nil
}

func nonNil(listings []models.Listing) []models.Listing {
	if listings == nil {
		return []models.Listing{}
	}
	return listings
}
