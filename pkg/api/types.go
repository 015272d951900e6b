// Package api exposes the HTTP surface of the Cacophony API: entity
// types, the Store interface the handlers depend on, and the mux router
// wiring them together.
package api

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/permissions"
)

// User is a registered account
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	GlobalRead  bool      `json:"globalRead"`
	GlobalWrite bool      `json:"globalWrite"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// PasswordHash is never serialized
	PasswordHash []byte `json:"-"`
}

// NewUser is the payload for user registration
type NewUser struct {
	Username     string
	Email        string
	PasswordHash []byte
}

// Group is a named collection of devices, stations, and users
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"groupname"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupMember is a user's membership row in a group, enriched with the
// admin flag
type GroupMember struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// GroupWithMembers is a group query result with its enriched member list
type GroupWithMembers struct {
	Group
	Members []GroupMember `json:"users"`
}

// GroupFilter narrows a group query
type GroupFilter struct {
	Names  []string
	Limit  int
	Offset int
}

// Device is a registered monitoring device belonging to one group
type Device struct {
	ID               int64      `json:"id"`
	Name             string     `json:"devicename"`
	GroupID          int64      `json:"groupId"`
	GroupName        string     `json:"groupname,omitempty"`
	Active           bool       `json:"active"`
	LastConnectionAt *time.Time `json:"lastConnectionAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	PasswordHash []byte `json:"-"`
}

// NewDevice is the payload for device registration
type NewDevice struct {
	Name         string
	GroupID      int64
	PasswordHash []byte
}

// Reregistration is the payload for an in-place device identity change
type Reregistration struct {
	DeviceID     int64
	NewName      string
	NewGroupID   int64
	PasswordHash []byte
}

// DeviceMember is a user's direct association row with a device
type DeviceMember struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// DeviceFilter narrows a device query. Names and GroupNames are combined
// with the Operator ("and" or "or") when both are present.
type DeviceFilter struct {
	Names      []string
	GroupNames []string
	Operator   string
	Limit      int
	Offset     int
}

// Station is a named geographic point within a group
type Station struct {
	ID        int64      `json:"id"`
	GroupID   int64      `json:"groupId"`
	Name      string     `json:"name"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	CreatedAt time.Time  `json:"createdAt"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`
}

// Retired reports whether the station has been retired
func (s *Station) Retired() bool {
	return s.RetiredAt != nil
}

// DetailSnapshot is a deduplicated event description payload
type DetailSnapshot struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details"`
}

// Event is a timestamped occurrence reported by a device
type Event struct {
	ID               int64           `json:"id"`
	DeviceID         int64           `json:"deviceId"`
	DetailSnapshotID int64           `json:"eventDetailId"`
	Type             string          `json:"type"`
	Details          json.RawMessage `json:"details"`
	Timestamp        time.Time       `json:"dateTime"`
}

// EventFilter narrows an event query
type EventFilter struct {
	DeviceID  *int64
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Recording is uploaded media metadata; the bytes live in the object store
type Recording struct {
	ID              int64     `json:"id"`
	DeviceID        int64     `json:"deviceId"`
	StationID       *int64    `json:"stationId,omitempty"`
	ObjectKey       string    `json:"-"`
	DurationSeconds float64   `json:"duration"`
	RecordedAt      time.Time `json:"recordingDateTime"`
	SizeBytes       int64     `json:"fileSize"`
	MimeType        string    `json:"mimeType"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewRecording is the payload for a recording upload
type NewRecording struct {
	DeviceID        int64
	StationID       *int64
	ObjectKey       string
	DurationSeconds float64
	RecordedAt      time.Time
	SizeBytes       int64
	MimeType        string
}

// RecordingFilter narrows a recording query
type RecordingFilter struct {
	DeviceID  *int64
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// UserStore persists user accounts
type UserStore interface {
	CreateUser(ctx context.Context, newUser *NewUser) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByName(ctx context.Context, username string) (*User, error)
}

// GroupStore persists groups and their memberships
type GroupStore interface {
	CreateGroup(ctx context.Context, name string, creatorID int64) (*Group, error)
	GetGroupByName(ctx context.Context, name string) (*Group, error)
	QueryGroups(ctx context.Context, authz auth.Authorization, filter GroupFilter) ([]GroupWithMembers, int64, error)
	ListGroupUsers(ctx context.Context, groupID int64) ([]GroupMember, error)
	AddUserToGroup(ctx context.Context, groupID, userID int64, admin bool) error
	RemoveUserFromGroup(ctx context.Context, groupID, userID int64) error
}

// DeviceStore persists devices and their direct user associations
type DeviceStore interface {
	RegisterDevice(ctx context.Context, newDevice *NewDevice) (*Device, error)
	ReregisterDevice(ctx context.Context, rereg *Reregistration) (*Device, error)
	GetDeviceByID(ctx context.Context, id int64) (*Device, error)
	GetActiveDeviceByName(ctx context.Context, name string) (*Device, error)
	QueryDevices(ctx context.Context, authz auth.Authorization, filter DeviceFilter) ([]Device, int64, error)
	ListDeviceUsers(ctx context.Context, deviceID int64) ([]DeviceMember, error)
	AddUserToDevice(ctx context.Context, deviceID, userID int64, admin bool) error
	RemoveUserFromDevice(ctx context.Context, deviceID, userID int64) error
	TouchDeviceConnection(ctx context.Context, deviceID int64) error
}

// StationStore persists stations
type StationStore interface {
	ListStations(ctx context.Context, groupID int64, includeRetired bool) ([]Station, error)
}

// EventStore persists events and detail snapshots
type EventStore interface {
	GetOrCreateDetailSnapshot(ctx context.Context, eventType string, details json.RawMessage) (*DetailSnapshot, error)
	GetDetailSnapshot(ctx context.Context, id int64) (*DetailSnapshot, error)
	AddEvents(ctx context.Context, deviceID, detailSnapshotID int64, timestamps []time.Time) (int, error)
	QueryEvents(ctx context.Context, authz auth.Authorization, filter EventFilter) ([]Event, int64, error)
}

// RecordingStore persists recording metadata
type RecordingStore interface {
	CreateRecording(ctx context.Context, newRecording *NewRecording) (*Recording, error)
	GetRecording(ctx context.Context, authz auth.Authorization, id int64) (*Recording, error)
	QueryRecordings(ctx context.Context, authz auth.Authorization, filter RecordingFilter) ([]Recording, int64, error)
}

// Store is the full persistence surface the handlers depend on
type Store interface {
	UserStore
	GroupStore
	DeviceStore
	StationStore
	EventStore
	RecordingStore
}

// PermissionResolver resolves effective access, implemented by
// permissions.Resolver
type PermissionResolver interface {
	Authorize(ctx context.Context, userID int64) (auth.Authorization, error)
	GroupAccess(ctx context.Context, authz auth.Authorization, groupID int64) (permissions.AccessLevel, error)
	DeviceAccess(ctx context.Context, authz auth.Authorization, deviceID int64) (permissions.AccessLevel, error)
	GroupCapabilities(ctx context.Context, authz auth.Authorization, groupID int64) (permissions.Capabilities, error)
	DeviceCapabilities(ctx context.Context, authz auth.Authorization, deviceID int64) (permissions.Capabilities, error)
}

// ObjectStore moves recording media in and out of blob storage
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
