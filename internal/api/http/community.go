package apihttp

import (
	"errors"
	"net/http"

	billingapp "community-billing/internal/billing/application"
	billing "community-billing/internal/billing/domain"
)

// CommunityHandler serves owners, properties and meter readings.
type CommunityHandler struct {
	community *billingapp.CommunityService
}

// NewCommunityHandler constructs a CommunityHandler.
func NewCommunityHandler(community *billingapp.CommunityService) (*CommunityHandler, error) {
	if community == nil {
		return nil, errors.New("community handler: nil service")
	}
	return &CommunityHandler{community: community}, nil
}

// Register mounts the handler's routes.
func (h *CommunityHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/owners", h.handleOwners)
	mux.HandleFunc("/api/v1/properties", h.handleProperties)
	mux.HandleFunc("/api/v1/readings", h.handleReadings)
}

func (h *CommunityHandler) handleOwners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		owners, err := h.community.ListOwners(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]ownerDTO, 0, len(owners))
		for _, o := range owners {
			out = append(out, ownerDTO{ID: o.ID, Name: o.Name, IsAdmin: o.IsAdmin, IsResident: o.IsResident, AccountID: o.AccountID})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req ownerDTO
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}
		o, err := h.community.SaveOwner(r.Context(), billing.Owner{
			ID:         req.ID,
			Name:       req.Name,
			IsAdmin:    req.IsAdmin,
			IsResident: req.IsResident,
			AccountID:  req.AccountID,
		})
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ownerDTO{ID: o.ID, Name: o.Name, IsAdmin: o.IsAdmin, IsResident: o.IsResident, AccountID: o.AccountID})
	default:
		methodNotAllowed(w)
	}
}

func (h *CommunityHandler) handleProperties(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		properties, err := h.community.ListProperties(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]propertyDTO, 0, len(properties))
		for _, p := range properties {
			out = append(out, propertyDTO(p))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req propertyDTO
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}
		p, err := h.community.SaveProperty(r.Context(), billing.Property(req))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, propertyDTO(*p))
	default:
		methodNotAllowed(w)
	}
}

func (h *CommunityHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req readingDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	date, err := parseDate("reading_date", req.ReadingDate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	reading, err := h.community.RecordReading(r.Context(), billing.Reading{
		PropertyID:  req.PropertyID,
		Value:       req.Value,
		ReadingDate: date,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, readingDTO{
		ID:          reading.ID,
		PropertyID:  reading.PropertyID,
		Value:       reading.Value,
		ReadingDate: reading.ReadingDate.Format(dateLayout),
	})
}
