package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

type eventDescription struct {
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details"`
}

type postEventsRequest struct {
	Description   *eventDescription `json:"description,omitempty"`
	EventDetailID int64             `json:"eventDetailId,omitempty"`
	DateTimes     []time.Time       `json:"dateTimes"`
}

// postEvents handles POST /api/v1/events. The calling device reports one
// or more occurrences of the same event: either an inline description,
// deduplicated into a shared snapshot, or a reference to a snapshot id
// from an earlier report.
func (s *Server) postEvents(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.devicePrincipal(w, r)
	if !ok {
		return
	}

	var req postEventsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.DateTimes) == 0 {
		httputil.WriteValidationError(w, "at least one dateTime is required")
		return
	}
	if req.Description == nil && req.EventDetailID == 0 {
		httputil.WriteValidationError(w, "either description or eventDetailId is required")
		return
	}
	if req.Description != nil && req.EventDetailID != 0 {
		httputil.WriteValidationError(w, "description and eventDetailId are mutually exclusive")
		return
	}

	var snapshot *DetailSnapshot
	var err error
	if req.EventDetailID != 0 {
		snapshot, err = s.deps.Store.GetDetailSnapshot(r.Context(), req.EventDetailID)
	} else {
		if req.Description.Type == "" {
			httputil.WriteValidationError(w, "description type is required")
			return
		}
		snapshot, err = s.deps.Store.GetOrCreateDetailSnapshot(r.Context(), req.Description.Type, req.Description.Details)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	added, err := s.deps.Store.AddEvents(r.Context(), principal.DeviceID, snapshot.ID, req.DateTimes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.TouchDeviceConnection(r.Context(), principal.DeviceID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to update device connection time")
	}

	httputil.WriteCreated(w, "events added", httputil.Envelope{
		"eventsAdded":   added,
		"eventDetailId": snapshot.ID,
	})
}

// queryEvents handles GET /api/v1/events
func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}

	filter, ok := parseTimeRangeFilter(w, r)
	if !ok {
		return
	}

	events, total, err := s.deps.Store.QueryEvents(r.Context(), authz, EventFilter{
		DeviceID:  filter.deviceID,
		StartTime: filter.startTime,
		EndTime:   filter.endTime,
		Limit:     filter.limit,
		Offset:    filter.offset,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "events", httputil.Envelope{
		"events": events,
		"count":  total,
	})
}

// timeRangeFilter is the shared shape of event and recording queries
type timeRangeFilter struct {
	deviceID  *int64
	startTime *time.Time
	endTime   *time.Time
	limit     int
	offset    int
}

func parseTimeRangeFilter(w http.ResponseWriter, r *http.Request) (timeRangeFilter, bool) {
	var filter timeRangeFilter

	deviceID, err := httputil.ParseQueryInt64(r, "deviceId", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}
	if deviceID > 0 {
		filter.deviceID = &deviceID
	}

	if filter.startTime, err = httputil.ParseQueryTime(r, "startTime"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}
	if filter.endTime, err = httputil.ParseQueryTime(r, "endTime"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}

	if filter.limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}
	if filter.offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return filter, false
	}

	return filter, true
}
