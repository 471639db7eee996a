package syncer

// Identity is the external signal that selects the persistence target.
type Identity struct {
	Authenticated bool   `json:"isAuthenticated"`
	StableID      string `json:"stableId,omitempty"`
}

func Anonymous() Identity {
	return Identity{}
}

func Authenticated(stableID string) Identity {
	return Identity{Authenticated: true, StableID: stableID}
}

func (i Identity) String() string {
	if !i.Authenticated {
		return "anonymous"
	}
	return "user:" + i.StableID
}
