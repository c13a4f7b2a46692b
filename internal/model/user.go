package model

import "time"

// User is one end-user identity interacting through one or more instances.
type User struct {
	ID             string    `json:"id"`
	FirstSeen      time.Time `json:"first_seen"`
	LastActive     time.Time `json:"last_active"`
	Instances      []string  `json:"instances,omitempty"`
	TotalMessages  int64     `json:"total_messages"`
	TotalReactions int64     `json:"total_reactions"`
}

// Touch advances last_active, never backwards.
func (u *User) Touch(now time.Time) {
	if now.After(u.LastActive) {
		u.LastActive = now
	}
}

// AddInstance records instance membership. Membership is append-only.
func (u *User) AddInstance(instanceID string) {
	if instanceID == "" {
		return
	}
	for _, id := range u.Instances {
		if id == instanceID {
			return
		}
	}
	u.Instances = append(u.Instances, instanceID)
}
