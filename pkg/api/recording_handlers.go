package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/objectstore"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// maxMultipartMemory bounds the in-memory portion of an upload; larger
// file parts spill to disk
const maxMultipartMemory = 32 << 20

type recordingMetadata struct {
	RecordedAt      time.Time `json:"recordingDateTime"`
	DurationSeconds float64   `json:"duration"`
	StationID       *int64    `json:"stationId,omitempty"`
}

// uploadRecording handles POST /api/v1/recordings. The body is
// multipart: a "data" part carrying the metadata JSON and a "file" part
// carrying the media. Bytes go to the object store first; the metadata
// row is only created once the upload succeeded, and a failed row
// insert removes the stored object again.
func (s *Server) uploadRecording(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.devicePrincipal(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		httputil.WriteValidationError(w, "invalid multipart body")
		return
	}

	var meta recordingMetadata
	dataPart := r.FormValue("data")
	if dataPart == "" {
		httputil.WriteValidationError(w, "data part is required")
		return
	}
	if err := json.Unmarshal([]byte(dataPart), &meta); err != nil {
		httputil.WriteValidationError(w, "invalid metadata JSON")
		return
	}
	if meta.RecordedAt.IsZero() {
		httputil.WriteValidationError(w, "recordingDateTime is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteValidationError(w, "file part is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	key := objectstore.NewObjectKey(principal.DeviceID, meta.RecordedAt)

	if err := s.deps.Objects.Put(r.Context(), key, file, header.Size, mimeType); err != nil {
		writeDomainError(w, r, err)
		return
	}

	recording, err := s.deps.Store.CreateRecording(r.Context(), &NewRecording{
		DeviceID:        principal.DeviceID,
		StationID:       meta.StationID,
		ObjectKey:       key,
		DurationSeconds: meta.DurationSeconds,
		RecordedAt:      meta.RecordedAt,
		SizeBytes:       header.Size,
		MimeType:        mimeType,
	})
	if err != nil {
		if delErr := s.deps.Objects.Delete(r.Context(), key); delErr != nil {
			observability.FromContext(r.Context()).WithError(delErr).
				WithField("object_key", key).
				Error("failed to remove orphaned recording object")
		}
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.TouchDeviceConnection(r.Context(), principal.DeviceID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to update device connection time")
	}

	s.record(audit.Entry{
		ActorType:    audit.ActorDevice,
		ActorID:      principal.DeviceID,
		Action:       audit.ActionRecordingUpload,
		ResourceType: "recording",
		ResourceID:   recording.ID,
	})

	httputil.WriteCreated(w, "recording uploaded", httputil.Envelope{
		"recordingId": recording.ID,
	})
}

// queryRecordings handles GET /api/v1/recordings
func (s *Server) queryRecordings(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}

	filter, ok := parseTimeRangeFilter(w, r)
	if !ok {
		return
	}

	recordings, total, err := s.deps.Store.QueryRecordings(r.Context(), authz, RecordingFilter{
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

	httputil.WriteSuccess(w, "recordings", httputil.Envelope{
		"recordings": recordings,
		"count":      total,
	})
}

// getRecording handles GET /api/v1/recordings/{id}. The default response
// is the metadata envelope; raw=true streams the media bytes instead.
// Rows outside the caller's visibility look absent.
func (s *Server) getRecording(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	raw, err := httputil.ParseQueryBool(r, "raw", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	recording, err := s.deps.Store.GetRecording(r.Context(), authz, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if !raw {
		httputil.WriteSuccess(w, "recording", httputil.Envelope{
			"recording": recording,
		})
		return
	}

	body, err := s.deps.Objects.Get(r.Context(), recording.ObjectKey)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", recording.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(recording.SizeBytes, 10))
	if _, err := io.Copy(w, body); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("recording_id", recording.ID).
			Warn("failed to stream recording media")
	}
}
