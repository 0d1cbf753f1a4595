package api

import (
	"errors"
	"net/http"
	"strings"

	"driveguard/internal/model"
	"driveguard/internal/store"
)

type driverRequest struct {
	Name          string `json:"name" validate:"required"`
	LicenseNumber string `json:"license_number"`
	Phone         string `json:"phone"`
}

type vehicleRequest struct {
	PlateNumber string `json:"plate_number" validate:"required"`
	Make        string `json:"make"`
	Model       string `json:"model"`
	Year        int    `json:"year" validate:"omitempty,min=1900,max=2100"`
}

// storeError maps store sentinels onto HTTP statuses.
func storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, what+" already exists")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		cursor, limit := pageParams(r)
		items, next, err := s.Store.ListDrivers(ctx, pr.OrgID, cursor, limit)
		if err != nil {
			storeError(w, err, "driver")
			return
		}
		writeJSON(w, http.StatusOK, page[model.Driver]{Success: true, Items: items, NextCursor: next})
	case http.MethodPost:
		var req driverRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		d, err := s.Store.CreateDriver(ctx, model.Driver{
			OrganizationID: pr.OrgID,
			Name:           req.Name,
			LicenseNumber:  req.LicenseNumber,
			Phone:          req.Phone,
		})
		if err != nil {
			storeError(w, err, "driver")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "driver": d})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) DriverByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/drivers/")
	if id == "" || len(rest) > 0 {
		writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		d, err := s.Store.GetDriver(ctx, pr.OrgID, id)
		if err != nil {
			storeError(w, err, "driver")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "driver": d})
	case http.MethodPatch:
		var patch model.DriverPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		d, err := s.Store.PatchDriver(ctx, pr.OrgID, id, patch)
		if err != nil {
			storeError(w, err, "driver")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "driver": d})
	case http.MethodDelete:
		if err := s.Store.DeleteDriver(ctx, pr.OrgID, id); err != nil {
			storeError(w, err, "driver")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		cursor, limit := pageParams(r)
		items, next, err := s.Store.ListVehicles(ctx, pr.OrgID, cursor, limit)
		if err != nil {
			storeError(w, err, "vehicle")
			return
		}
		writeJSON(w, http.StatusOK, page[model.Vehicle]{Success: true, Items: items, NextCursor: next})
	case http.MethodPost:
		var req vehicleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.PlateNumber = strings.TrimSpace(req.PlateNumber)
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		v, err := s.Store.CreateVehicle(ctx, model.Vehicle{
			OrganizationID: pr.OrgID,
			PlateNumber:    req.PlateNumber,
			Make:           req.Make,
			Model:          req.Model,
			Year:           req.Year,
		})
		if err != nil {
			storeError(w, err, "vehicle")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "vehicle": v})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/vehicles/")
	if id == "" || len(rest) > 0 {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		v, err := s.Store.GetVehicle(ctx, pr.OrgID, id)
		if err != nil {
			storeError(w, err, "vehicle")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "vehicle": v})
	case http.MethodPatch:
		var patch model.VehiclePatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if patch.PlateNumber != nil && strings.TrimSpace(*patch.PlateNumber) == "" {
			writeError(w, http.StatusBadRequest, "plate_number must not be empty")
			return
		}
		if patch.Year != nil && *patch.Year != 0 && (*patch.Year < 1900 || *patch.Year > 2100) {
			writeError(w, http.StatusBadRequest, "year must be between 1900 and 2100")
			return
		}
		v, err := s.Store.PatchVehicle(ctx, pr.OrgID, id, patch)
		if err != nil {
			storeError(w, err, "vehicle")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "vehicle": v})
	case http.MethodDelete:
		if err := s.Store.DeleteVehicle(ctx, pr.OrgID, id); err != nil {
			storeError(w, err, "vehicle")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
