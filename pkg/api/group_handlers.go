package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/permissions"
	"github.com/cacophony-project/cacophony-api/pkg/reconcile"
)

type createGroupRequest struct {
	GroupName string `json:"groupname"`
}

// createGroup handles POST /api/v1/groups
func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	_, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.GroupName, "groupname") {
		return
	}

	group, err := s.deps.Store.CreateGroup(r.Context(), req.GroupName, principal.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      principal.UserID,
		Action:       audit.ActionGroupCreate,
		ResourceType: "group",
		ResourceID:   group.ID,
	})

	httputil.WriteCreated(w, "group created", httputil.Envelope{
		"groupId": group.ID,
	})
}

// queryGroups handles GET /api/v1/groups
func (s *Server) queryGroups(w http.ResponseWriter, r *http.Request) {
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

	groups, total, err := s.deps.Store.QueryGroups(r.Context(), authz, GroupFilter{
		Names:  r.URL.Query()["name"],
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "groups", httputil.Envelope{
		"groups": groups,
		"count":  total,
	})
}

// listGroupUsers handles GET /api/v1/groups/{groupName}/users
func (s *Server) listGroupUsers(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}
	groupName, ok := httputil.ParsePathStringOrError(w, r, "groupName")
	if !ok {
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), groupName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	access, err := s.deps.Resolver.GroupAccess(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !access.AtLeast(permissions.Member) {
		writeDomainError(w, r, NewAuthorizationError("not a member of group %q", groupName))
		return
	}

	members, err := s.deps.Store.ListGroupUsers(r.Context(), group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "group users", httputil.Envelope{
		"users": members,
	})
}

type groupUserRequest struct {
	Group    string `json:"group"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// addGroupUser handles POST /api/v1/groups/users
func (s *Server) addGroupUser(w http.ResponseWriter, r *http.Request) {
	authz, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req groupUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Group, "group") ||
		!httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), req.Group)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	caps, err := s.deps.Resolver.GroupCapabilities(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !caps.CanAddUsers {
		writeDomainError(w, r, NewAuthorizationError("admin access to group %q required", req.Group))
		return
	}

	user, err := s.deps.Store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.AddUserToGroup(r.Context(), group.ID, user.ID, req.Admin); err != nil {
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
		Action:       audit.ActionGroupUserAdd,
		ResourceType: "group",
		ResourceID:   group.ID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "user added to group", nil)
}

// removeGroupUser handles DELETE /api/v1/groups/users
func (s *Server) removeGroupUser(w http.ResponseWriter, r *http.Request) {
	authz, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req groupUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Group, "group") ||
		!httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), req.Group)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	caps, err := s.deps.Resolver.GroupCapabilities(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !caps.CanRemoveUsers {
		writeDomainError(w, r, NewAuthorizationError("admin access to group %q required", req.Group))
		return
	}

	user, err := s.deps.Store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Store.RemoveUserFromGroup(r.Context(), group.ID, user.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	details, _ := json.Marshal(map[string]interface{}{"userId": user.ID})
	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      principal.UserID,
		Action:       audit.ActionGroupUserRemove,
		ResourceType: "group",
		ResourceID:   group.ID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "user removed from group", nil)
}

// groupPermissions handles GET /api/v1/groups/{groupName}/permissions
func (s *Server) groupPermissions(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}
	groupName, ok := httputil.ParsePathStringOrError(w, r, "groupName")
	if !ok {
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), groupName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	caps, err := s.deps.Resolver.GroupCapabilities(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "group permissions", httputil.Envelope{
		"permissions": caps,
	})
}

// listStations handles GET /api/v1/groups/{groupName}/stations
func (s *Server) listStations(w http.ResponseWriter, r *http.Request) {
	authz, _, ok := s.authorize(w, r)
	if !ok {
		return
	}
	groupName, ok := httputil.ParsePathStringOrError(w, r, "groupName")
	if !ok {
		return
	}
	includeRetired, err := httputil.ParseQueryBool(r, "includeRetired", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), groupName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	access, err := s.deps.Resolver.GroupAccess(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !access.AtLeast(permissions.Member) {
		writeDomainError(w, r, NewAuthorizationError("not a member of group %q", groupName))
		return
	}

	stations, err := s.deps.Store.ListStations(r.Context(), group.ID, includeRetired)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "stations", httputil.Envelope{
		"stations": stations,
	})
}

type importStationsRequest struct {
	Stations []reconcile.StationSpec `json:"stations"`
	FromDate *time.Time              `json:"fromDate,omitempty"`
}

// importStations handles POST /api/v1/groups/{groupName}/stations. The
// body is the authoritative station list for the group: omitted stations
// are retired, moved ones updated, new names created, all in one
// transaction.
func (s *Server) importStations(w http.ResponseWriter, r *http.Request) {
	authz, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}
	groupName, ok := httputil.ParsePathStringOrError(w, r, "groupName")
	if !ok {
		return
	}

	var req importStationsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	for _, spec := range req.Stations {
		if spec.Name == "" {
			httputil.WriteValidationError(w, "station name is required")
			return
		}
	}

	group, err := s.deps.Store.GetGroupByName(r.Context(), groupName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	caps, err := s.deps.Resolver.GroupCapabilities(r.Context(), authz, group.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !caps.CanAddStations {
		writeDomainError(w, r, NewAuthorizationError("admin access to group %q required", groupName))
		return
	}

	current, err := s.deps.Store.ListStations(r.Context(), group.ID, false)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	existing := make([]reconcile.Station, len(current))
	for i, station := range current {
		existing[i] = reconcile.Station{
			ID:      station.ID,
			Name:    station.Name,
			Lat:     station.Lat,
			Lng:     station.Lng,
			Retired: station.Retired(),
		}
	}

	plan := reconcile.BuildPlan(existing, req.Stations)
	outcome, err := s.deps.Importer.Apply(r.Context(), group.ID, plan, req.FromDate)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	details, _ := json.Marshal(outcome)
	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      principal.UserID,
		Action:       audit.ActionStationBulkImport,
		ResourceType: "group",
		ResourceID:   group.ID,
		Details:      details,
	})

	httputil.WriteSuccess(w, "stations imported", httputil.Envelope{
		"created":    outcome.Created,
		"updated":    outcome.Updated,
		"retired":    outcome.Retired,
		"reassigned": outcome.Reassigned,
	})
}
