package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
	"github.com/cacophony-project/cacophony-api/pkg/permissions"
)

type registerDeviceRequest struct {
	DeviceName string `json:"devicename"`
	Group      string `json:"group"`
	Password   string `json:"password"`
}

// registerDevice handles POST /api/v1/devices. Registration is open:
// the device proves nothing yet, it just claims a free name in an
// existing group and receives its credential token.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.DeviceName, "devicename") ||
		!httputil.RequireNonEmpty(w, req.Group, "group") {
		return
	}
	if err := s.deps.Passwords.Validate(req.Password); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), req.Group)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	hash, err := s.deps.Passwords.Hash(req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	device, err := s.deps.Store.RegisterDevice(r.Context(), &NewDevice{
		Name:         req.DeviceName,
		GroupID:      group.ID,
		PasswordHash: hash,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.IssueDeviceToken(device.ID, device.Name, device.GroupID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.record(audit.Entry{
		ActorType:    audit.ActorDevice,
		ActorID:      device.ID,
		Action:       audit.ActionDeviceRegister,
		ResourceType: "device",
		ResourceID:   device.ID,
	})

	httputil.WriteCreated(w, "device registered", httputil.Envelope{
		"id":    device.ID,
		"token": "JWT " + token,
	})
}

type authenticateDeviceRequest struct {
	DeviceName string `json:"devicename"`
	Password   string `json:"password"`
}

// authenticateDevice handles POST /api/v1/devices/authenticate
func (s *Server) authenticateDevice(w http.ResponseWriter, r *http.Request) {
	var req authenticateDeviceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.DeviceName, "devicename") {
		return
	}

	device, err := s.deps.Store.GetActiveDeviceByName(r.Context(), req.DeviceName)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			httputil.WriteUnauthorized(w, "invalid device name or password")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Passwords.Compare(device.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrWrongPassword) {
			observability.FromContext(r.Context()).
				WithField("devicename", req.DeviceName).
				Warn("failed device authentication attempt")
			httputil.WriteUnauthorized(w, "invalid device name or password")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.IssueDeviceToken(device.ID, device.Name, device.GroupID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "authenticated", httputil.Envelope{
		"id":    device.ID,
		"token": "JWT " + token,
	})
}

type reregisterDeviceRequest struct {
	NewName     string `json:"newName"`
	NewGroup    string `json:"newGroup"`
	NewPassword string `json:"newPassword"`
}

// reregisterDevice handles POST /api/v1/devices/reregister. The calling
// device changes its own name, group, and credential atomically. The id
// stays stable, so tokens issued before the change keep working and
// resolve to the updated identity; the response carries a fresh token
// with the new claims.
func (s *Server) reregisterDevice(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.devicePrincipal(w, r)
	if !ok {
		return
	}

	var req reregisterDeviceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.NewName, "newName") ||
		!httputil.RequireNonEmpty(w, req.NewGroup, "newGroup") {
		return
	}
	if err := s.deps.Passwords.Validate(req.NewPassword); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), req.NewGroup)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	hash, err := s.deps.Passwords.Hash(req.NewPassword)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	device, err := s.deps.Store.ReregisterDevice(r.Context(), &Reregistration{
		DeviceID:     principal.DeviceID,
		NewName:      req.NewName,
		NewGroupID:   group.ID,
		PasswordHash: hash,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.IssueDeviceToken(device.ID, device.Name, device.GroupID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	details, _ := json.Marshal(map[string]interface{}{
		"newName":  device.Name,
		"newGroup": device.GroupName,
	})
	s.record(audit.Entry{
		ActorType:    audit.ActorDevice,
		ActorID:      device.ID,
		Action:       audit.ActionDeviceReregister,
		ResourceType: "device",
		ResourceID:   device.ID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "device reregistered", httputil.Envelope{
		"id":    device.ID,
		"token": "JWT " + token,
	})
}

// queryDevices handles GET /api/v1/devices
func (s *Server) queryDevices(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	devices, total, err := s.deps.Store.QueryDevices(r.Context(), authz, DeviceFilter{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "devices", httputil.Envelope{
		"devices": devices,
		"count":   total,
	})
}

// queryDevicesBulk handles GET /api/v1/devices/query: lookup by device
// name set and group name set combined with operator=and|or.
func (s *Server) queryDevicesBulk(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}

	operator := httputil.ParseQueryString(r, "operator", "and")
	if operator != "and" && operator != "or" {
		httputil.WriteValidationError(w, "operator must be \"and\" or \"or\"")
		return
	}

	names := r.URL.Query()["devices"]
	groupNames := r.URL.Query()["groups"]
	if len(names) == 0 && len(groupNames) == 0 {
		httputil.WriteValidationError(w, "at least one device or group name is required")
		return
	}

	devices, total, err := s.deps.Store.QueryDevices(r.Context(), authz, DeviceFilter{
		Names:      names,
		GroupNames: groupNames,
		Operator:   operator,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "devices", httputil.Envelope{
		"devices": devices,
		"count":   total,
	})
}

// listDeviceUsers handles GET /api/v1/devices/users
func (s *Server) listDeviceUsers(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}

	deviceID, err := httputil.ParseQueryInt64(r, "deviceId", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if !httputil.RequirePositive(w, deviceID, "deviceId") {
		return
	}

	access, err := s.deps.Resolver.DeviceAccess(r.Context(), authz, deviceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !access.AtLeast(permissions.Admin) && !authz.CanReadAll() {
		writeDomainError(w, r, NewAuthorizationError("admin access to device %d required", deviceID))
		return
	}

	members, err := s.deps.Store.ListDeviceUsers(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "device users", httputil.Envelope{
		"users": members,
	})
}

type deviceUserRequest struct {
	DeviceID int64  `json:"deviceId"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// addDeviceUser handles POST /api/v1/devices/users
func (s *Server) addDeviceUser(w http.ResponseWriter, r *http.Request) {
	authz, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req deviceUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.DeviceID, "deviceId") ||
		!httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	if _, err := s.deps.Store.GetDeviceByID(r.Context(), req.DeviceID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	caps, err := s.deps.Resolver.DeviceCapabilities(r.Context(), authz, req.DeviceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !caps.CanAddUsers {
		writeDomainError(w, r, NewAuthorizationError("admin access to device %d required", req.DeviceID))
		return
	}

	user, err := s.deps.Store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.AddUserToDevice(r.Context(), req.DeviceID, user.ID, req.Admin); err != nil {
		writeDomainError(w, r, err)
		return
	}

	details, _ := json.Marshal(map[string]interface{}{
		"userId": user.ID,
		"admin":  req.Admin,
	})
	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      principal.UserID,
		Action:       audit.ActionDeviceUserAdd,
		ResourceType: "device",
		ResourceID:   req.DeviceID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "user added to device", nil)
}

// removeDeviceUser handles DELETE /api/v1/devices/users
func (s *Server) removeDeviceUser(w http.ResponseWriter, r *http.Request) {
	authz, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req deviceUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.DeviceID, "deviceId") ||
		!httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	caps, err := s.deps.Resolver.DeviceCapabilities(r.Context(), authz, req.DeviceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !caps.CanRemoveUsers {
		writeDomainError(w, r, NewAuthorizationError("admin access to device %d required", req.DeviceID))
		return
	}

	user, err := s.deps.Store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.RemoveUserFromDevice(r.Context(), req.DeviceID, user.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	details, _ := json.Marshal(map[string]interface{}{"userId": user.ID})
	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      principal.UserID,
		Action:       audit.ActionDeviceUserRemove,
		ResourceType: "device",
		ResourceID:   req.DeviceID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "user removed from device", nil)
}
