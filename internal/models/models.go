// Package models defines the data structures used for API requests and database persistence.
package models

import (
	"fmt"
	"time"
)

// Flag is the yes/no string enum kept by the server state document.
type Flag string

// Flag values.
const (
	FlagYes Flag = "yes"
	FlagNo  Flag = "no"
)

// Valid reports whether f is one of the known values.
func (f Flag) Valid() bool {
	return f == FlagYes || f == FlagNo
}

// Players holds the current and maximum player count.
type Players struct {
	Current int `json:"current" bson:"current"`
	Max     int `json:"max" bson:"max"`
}

// ServerMetrics is the singleton server state document.
// OffRequestSent "no" means the server is considered online,
// "yes" means an offline request is pending.
type ServerMetrics struct {
	LastUpdated      time.Time  `json:"lastUpdated" bson:"lastUpdated"`
	LastBackupTime   *time.Time `json:"last_backup_time" bson:"last_backup_time"`
	IP               string     `json:"ip" bson:"ip"`
	OffRequestSent   Flag       `json:"off_request_sent" bson:"off_request_sent"`
	BackupInProgress Flag       `json:"backup_in_progress" bson:"backup_in_progress"`
	CountryCode      string     `json:"country_code,omitempty" bson:"country_code,omitempty"`
	Players          Players    `json:"players" bson:"players"`
	CPU              float64    `json:"cpu" bson:"cpu"`
	RAM              float64    `json:"ram" bson:"ram"`
	Ping             int        `json:"ping" bson:"ping"`
}

// Online reports whether no offline request is pending.
func (m *ServerMetrics) Online() bool {
	return m.OffRequestSent != FlagYes
}

// PlayersPatch is a partial update of Players.
type PlayersPatch struct {
	Current *int `json:"current,omitempty"`
	Max     *int `json:"max,omitempty"`
}

// MetricsPatch is a partial update of ServerMetrics. Nil fields are left untouched.
type MetricsPatch struct {
	LastUpdated      *time.Time    `json:"lastUpdated,omitempty"`
	LastBackupTime   *time.Time    `json:"last_backup_time,omitempty"`
	IP               *string       `json:"ip,omitempty"`
	OffRequestSent   *Flag         `json:"off_request_sent,omitempty"`
	BackupInProgress *Flag         `json:"backup_in_progress,omitempty"`
	CountryCode      *string       `json:"country_code,omitempty"`
	Players          *PlayersPatch `json:"players,omitempty"`
	CPU              *float64      `json:"cpu,omitempty"`
	RAM              *float64      `json:"ram,omitempty"`
	Ping             *int          `json:"ping,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *MetricsPatch) Empty() bool {
	if p == nil {
		return true
	}

	playersEmpty := p.Players == nil || (p.Players.Current == nil && p.Players.Max == nil)

	return p.LastUpdated == nil && p.LastBackupTime == nil && p.IP == nil &&
		p.OffRequestSent == nil && p.BackupInProgress == nil && p.CountryCode == nil &&
		playersEmpty && p.CPU == nil && p.RAM == nil && p.Ping == nil
}

// Validate checks enum fields of the patch.
func (p *MetricsPatch) Validate() error {
	if p.OffRequestSent != nil && !p.OffRequestSent.Valid() {
		return fmt.Errorf("off_request_sent must be \"yes\" or \"no\", got %q", *p.OffRequestSent)
	}
	if p.BackupInProgress != nil && !p.BackupInProgress.Valid() {
		return fmt.Errorf("backup_in_progress must be \"yes\" or \"no\", got %q", *p.BackupInProgress)
	}

	return nil
}

// Field is a single dotted-path assignment of a patch.
type Field struct {
	Value any
	Key   string
}

// Fields flattens the patch into dotted-path assignments, nested players
// fields become "players.current" and "players.max".
func (p *MetricsPatch) Fields() []Field {
	var out []Field
	add := func(key string, v any) { out = append(out, Field{Key: key, Value: v}) }

	if p.IP != nil {
		add("ip", *p.IP)
	}
	if p.OffRequestSent != nil {
		add("off_request_sent", string(*p.OffRequestSent))
	}
	if p.BackupInProgress != nil {
		add("backup_in_progress", string(*p.BackupInProgress))
	}
	if p.LastBackupTime != nil {
		add("last_backup_time", p.LastBackupTime.UTC())
	}
	if p.CountryCode != nil {
		add("country_code", *p.CountryCode)
	}
	if p.Players != nil {
		if p.Players.Current != nil {
			add("players.current", *p.Players.Current)
		}
		if p.Players.Max != nil {
			add("players.max", *p.Players.Max)
		}
	}
	if p.CPU != nil {
		add("cpu", *p.CPU)
	}
	if p.RAM != nil {
		add("ram", *p.RAM)
	}
	if p.Ping != nil {
		add("ping", *p.Ping)
	}
	if p.LastUpdated != nil {
		add("lastUpdated", p.LastUpdated.UTC())
	}

	return out
}

// ImportantLocation is an append-only record of discovered coordinates.
type ImportantLocation struct {
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	ID             string    `json:"id" bson:"_id"`
	Discovery      string    `json:"discovery" bson:"discovery"`
	Coordinates    string    `json:"coordinates" bson:"coordinates"`
	IsOwnTerritory bool      `json:"isOwnTerritory" bson:"isOwnTerritory"`
}

// LocationRequest is the POST /api/important-locations payload.
type LocationRequest struct {
	Discovery      string `json:"discovery"`
	Coordinates    string `json:"coordinates"`
	IsOwnTerritory bool   `json:"isOwnTerritory"`
}

// BackupTask is a persisted request to complete a backup at DueAt.
type BackupTask struct {
	RequestedAt time.Time  `json:"requestedAt" bson:"requestedAt"`
	DueAt       time.Time  `json:"dueAt" bson:"dueAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	ID          string     `json:"id" bson:"_id"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
