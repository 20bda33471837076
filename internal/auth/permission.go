package auth

// Allows reports whether account may perform action on resource. Admins
// bypass grants; every other role relies on explicit grants only.
func Allows(account *Account, resource Resource, action Action) bool {
	if account == nil {
		return false
	}
	if account.Role == RoleAdmin {
		return true
	}
	for _, grant := range account.Grants {
		if grant.Resource != resource {
			continue
		}
		for _, a := range grant.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

func HasRole(account *Account, roles ...Role) bool {
	if account == nil {
		return false
	}
	for _, r := range roles {
		if account.Role == r {
			return true
		}
	}
	return false
}

// normalizeGrants merges duplicate resources and drops duplicate or empty
// action sets so the stored form is canonical.
func normalizeGrants(grants []Grant) []Grant {
	index := make(map[Resource]int, len(grants))
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		i, ok := index[g.Resource]
		if !ok {
			i = len(out)
			index[g.Resource] = i
			out = append(out, Grant{Resource: g.Resource, Actions: []Action{}})
		}
		for _, a := range g.Actions {
			if !containsAction(out[i].Actions, a) {
				out[i].Actions = append(out[i].Actions, a)
			}
		}
	}

	kept := out[:0]
	for _, g := range out {
		if len(g.Actions) > 0 {
			kept = append(kept, g)
		}
	}
	return kept
}

func containsAction(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
