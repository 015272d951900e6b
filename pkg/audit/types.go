// Package audit records permission-changing actions to a persistent log.
package audit

import (
	"encoding/json"
	"time"
)

// Action is the category of audited action
type Action string

const (
	ActionUserRegister      Action = "user.register"
	ActionUserAuthenticate  Action = "user.authenticate"
	ActionGroupCreate       Action = "group.create"
	ActionGroupUserAdd      Action = "group.user_add"
	ActionGroupUserRemove   Action = "group.user_remove"
	ActionDeviceRegister    Action = "device.register"
	ActionDeviceReregister  Action = "device.reregister"
	ActionDeviceUserAdd     Action = "device.user_add"
	ActionDeviceUserRemove  Action = "device.user_remove"
	ActionStationBulkImport Action = "station.bulk_import"
	ActionRecordingUpload   Action = "recording.upload"
)

// ActorType distinguishes user actors from device actors
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorDevice ActorType = "device"
)

// Entry is a single audit log row
type Entry struct {
	ID           int64           `json:"id"`
	ActorType    ActorType       `json:"actorType"`
	ActorID      int64           `json:"actorId"`
	Action       Action          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   int64           `json:"resourceId"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
