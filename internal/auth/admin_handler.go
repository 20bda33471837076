package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type grantsRequest struct {
	Permissions []struct {
		Resource string   `json:"resource"`
		Actions  []string `json:"actions"`
	} `json:"permissions"`
}

type statusRequest struct {
	Active *bool   `json:"isActive"`
	Role   *string `json:"role"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list users")
		return
	}

	views := make([]UserView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accounts[i].View())
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"users": views}})
}

func (h *Handler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	var body grantsRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	verr := &ValidationError{}
	grants := make([]Grant, 0, len(body.Permissions))
	for _, p := range body.Permissions {
		resource, err := ParseResource(strings.TrimSpace(p.Resource))
		if err != nil {
			verr.add("permissions.resource", err.Error())
			continue
		}
		grant := Grant{Resource: resource, Actions: make([]Action, 0, len(p.Actions))}
		for _, raw := range p.Actions {
			action, err := ParseAction(strings.TrimSpace(raw))
			if err != nil {
				verr.add("permissions.actions", err.Error())
				continue
			}
			grant.Actions = append(grant.Actions, action)
		}
		grants = append(grants, grant)
	}
	if err := verr.orNil(); err != nil {
		writeValidation(w, verr)
		return
	}

	// Delegated editors may only hand out what they already hold, and never
	// to themselves.
	principal := AccountFromContext(r.Context())
	if principal.Role != RoleAdmin {
		if principal.ID == id {
			writeError(w, http.StatusForbidden, "cannot change your own permissions")
			return
		}
		for _, g := range grants {
			for _, a := range g.Actions {
				if !Allows(principal, g.Resource, a) {
					writeError(w, http.StatusForbidden, "Access denied. Missing permission: "+string(a)+" on "+string(g.Resource))
					return
				}
			}
		}
	}

	account, err := h.service.SetGrants(r.Context(), id, grants)
	if err != nil {
		h.writeServiceError(w, err, "failed to update permissions")
		return
	}

	h.logger.Info("account_grants_updated", map[string]any{
		"account_id": id,
		"by":         principal.ID,
	})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Permissions updated", Data: map[string]any{"user": account.View()}})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	var body statusRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var update StatusUpdate
	update.Active = body.Active
	if body.Role != nil {
		role, err := ParseRole(strings.TrimSpace(*body.Role))
		if err != nil {
			writeValidation(w, &ValidationError{Fields: []FieldError{{Field: "role", Message: "must be one of admin, editor, author, viewer"}}})
			return
		}
		update.Role = &role
	}

	principal := AccountFromContext(r.Context())
	if principal.ID == id && ((update.Active != nil && !*update.Active) || (update.Role != nil && *update.Role != RoleAdmin)) {
		writeError(w, http.StatusBadRequest, "cannot deactivate or demote your own account")
		return
	}

	account, err := h.service.SetStatus(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, err, "failed to update status")
		return
	}

	h.logger.Info("account_status_updated", map[string]any{
		"account_id": id,
		"by":         principal.ID,
		"active":     account.Active,
		"role":       string(account.Role),
	})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Status updated", Data: map[string]any{"user": account.View()}})
}

func pathAccountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return id, true
}
