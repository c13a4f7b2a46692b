// Package model defines the aggregate dataset tracked by the collector:
// instances, users and dataset-wide statistics. The unit of consistency is
// the whole dataset; it is loaded, mutated and persisted as one document.
package model

import "time"

// SchemaVersion is stamped into new datasets.
const SchemaVersion = "2"

// Settings carries dataset lifecycle metadata.
type Settings struct {
	Version         string    `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	LastMaintenance time.Time `json:"last_maintenance,omitempty"`
}

// Dataset is the top-level persisted document.
type Dataset struct {
	Instances  map[string]*Instance `json:"instances"`
	Users      map[string]*User     `json:"users"`
	Statistics *Statistics          `json:"statistics"`
	Settings   Settings             `json:"settings"`
}

// NewDataset creates a default-initialized dataset with empty maps and
// zeroed counters.
func NewDataset(now time.Time) *Dataset {
	return &Dataset{
		Instances:  map[string]*Instance{},
		Users:      map[string]*User{},
		Statistics: NewStatistics(),
		Settings: Settings{
			Version:   SchemaVersion,
			CreatedAt: now,
		},
	}
}

// Normalize backfills nil maps and missing statistics after decoding a
// document written by an earlier schema version. Earlier shapes are subsets
// of the current one, so missing fields decode to their zero values.
func (d *Dataset) Normalize() {
	if d.Instances == nil {
		d.Instances = map[string]*Instance{}
	}
	if d.Users == nil {
		d.Users = map[string]*User{}
	}
	if d.Statistics == nil {
		d.Statistics = NewStatistics()
	}
	d.Statistics.ensureMaps()
	if d.Settings.Version == "" {
		d.Settings.Version = SchemaVersion
	}
}

// Instance returns the instance for id, or nil if untracked.
func (d *Dataset) Instance(id string) *Instance {
	return d.Instances[id]
}

// User returns the user for id, or nil if untracked.
func (d *Dataset) User(id string) *User {
	return d.Users[id]
}

// EnsureUser returns the user for id, creating it on first reference.
func (d *Dataset) EnsureUser(id string, now time.Time) *User {
	u, ok := d.Users[id]
	if !ok {
		u = &User{
			ID:         id,
			FirstSeen:  now,
			LastActive: now,
		}
		d.Users[id] = u
	}
	return u
}

// ConnectedCount recomputes the number of instances whose explicit status is
// connected. This is the ground truth behind current_connections.
func (d *Dataset) ConnectedCount() int {
	n := 0
	for _, inst := range d.Instances {
		if inst.Status == StatusConnected {
			n++
		}
	}
	return n
}
