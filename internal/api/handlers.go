package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/gate"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	Gate            gate.Status   `json:"gate"`
	StreamConnected *bool         `json:"stream_connected,omitempty"`
	StreamQueued    int           `json:"stream_queued,omitempty"`
	Location        *geo.Position `json:"location,omitempty"`
	Detections      int           `json:"detections"`
	AlertVisible    bool          `json:"alert_visible"`
}

// AlertResponse is returned by GET /api/v1/alert
type AlertResponse struct {
	Visible bool         `json:"visible"`
	Alert   *alert.Alert `json:"alert,omitempty"`
}

// AutoModeRequest is the body of PUT /api/v1/automode
type AutoModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// LocationRequest is the body of POST /api/v1/location
type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
}

func (s *Server) getStatus(c echo.Context) error {
	var resp StatusResponse
	if s.deps.Gate != nil {
		resp.Gate = s.deps.Gate.Status()
	}
	if s.deps.Stream != nil {
		connected := s.deps.Stream.Connected()
		resp.StreamConnected = &connected
		resp.StreamQueued = s.deps.Stream.QueueLen()
	}
	if s.deps.Location != nil {
		if pos, err := s.deps.Location.Current(); err == nil {
			resp.Location = &pos
		}
	}
	if s.deps.Detections != nil {
		resp.Detections = len(s.deps.Detections.List())
	}
	if s.deps.Alerts != nil {
		_, resp.AlertVisible = s.deps.Alerts.Current()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getAlert(c echo.Context) error {
	if s.deps.Alerts == nil {
		return c.JSON(http.StatusOK, AlertResponse{})
	}
	a, visible := s.deps.Alerts.Current()
	if !visible {
		return c.JSON(http.StatusOK, AlertResponse{})
	}
	return c.JSON(http.StatusOK, AlertResponse{Visible: true, Alert: &a})
}

func (s *Server) dismissAlert(c echo.Context) error {
	if s.deps.Alerts != nil {
		s.deps.Alerts.Dismiss()
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDetections(c echo.Context) error {
	events := []detection.Event{}
	if s.deps.Detections != nil {
		events = s.deps.Detections.List()
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) deleteDetection(c echo.Context) error {
	if s.deps.Detections == nil {
		return echo.NewHTTPError(http.StatusNotFound, "detection not found")
	}
	id := c.Param("id")
	err := s.deps.Detections.Remove(c.Request().Context(), id)
	switch {
	case errors.Is(err, detection.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "detection not found")
	case err != nil:
		s.log.Warn("detection removal failed", logger.String("id", id), logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to remove detection")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listNotifications(c echo.Context) error {
	items := []alert.Notification{}
	if s.deps.Notifications != nil {
		items = s.deps.Notifications.Items()
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) startRecording(c echo.Context) error {
	if s.deps.Gate == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture pipeline is not running")
	}
	err := s.deps.Gate.StartRecording()
	switch {
	case errors.Is(err, gate.ErrNotRunning):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, gate.ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, s.deps.Gate.Status())
}

func (s *Server) stopRecording(c echo.Context) error {
	if s.deps.Gate == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture pipeline is not running")
	}
	s.deps.Gate.StopRecording()
	return c.JSON(http.StatusOK, s.deps.Gate.Status())
}

func (s *Server) setAutoMode(c echo.Context) error {
	if s.deps.Gate == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture pipeline is not running")
	}
	var req AutoModeRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, `body must be {"enabled": true|false}`)
	}
	s.deps.Gate.SetAutoMode(*req.Enabled)
	return c.JSON(http.StatusOK, s.deps.Gate.Status())
}

func (s *Server) getLocation(c echo.Context) error {
	if s.deps.Location == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no location fix")
	}
	pos, err := s.deps.Location.Current()
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no location fix")
	}
	return c.JSON(http.StatusOK, pos)
}

func (s *Server) postLocation(c echo.Context) error {
	if s.deps.Location == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "location provider is not running")
	}
	var req LocationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid location body")
	}
	pos := geo.FromOptional(req.Latitude, req.Longitude)
	pos.Accuracy = req.Accuracy
	if !pos.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "latitude and longitude are required")
	}

	accepted, err := s.deps.Location.Update(c.Request().Context(), pos)
	if err != nil {
		// the fix was accepted in memory; persisting it failed
		s.log.Warn("location persist failed", logger.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]bool{"accepted": accepted})
}
