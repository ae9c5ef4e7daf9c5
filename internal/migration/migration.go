// Package migration defines migrations, their ledger rows and on-disk files,
// and generates migrations from changes or drifts.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRolledBack},
}

// CanTransition reports whether a migration may move from one status to
// another. Failed and rolled back are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceDriftReport Source = "drift_report"
	SourceSchemaDiff  Source = "schema_diff"
	SourceManual      Source = "manual"
)

// Metadata records where a migration came from.
type Metadata struct {
	Source            Source   `json:"source"`
	DriftIDs          []string `json:"drift_ids,omitempty"`
	Atomic            bool     `json:"atomic"`
	Statements        int      `json:"statements"`
	RollbackAvailable bool     `json:"rollback_available"`
	// RollbackUnavailable lists why no rollback was generated.
	RollbackUnavailable []string `json:"rollback_unavailable,omitempty"`
	// Part is set when one request produced several migrations.
	Part  int `json:"part,omitempty"`
	Parts int `json:"parts,omitempty"`
}

// Migration is the tracked unit of change.
type Migration struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SQL          string     `json:"sql"`
	RollbackSQL  string     `json:"rollback_sql,omitempty"`
	Checksum     string     `json:"checksum"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	Metadata     Metadata   `json:"metadata"`
}

// Record is a row of the database's own applied-migration ledger.
type Record struct {
	ID                string     `json:"id"`
	Checksum          string     `json:"checksum"`
	MigrationName     string     `json:"migration_name"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	RolledBackAt      *time.Time `json:"rolled_back_at,omitempty"`
	AppliedStepsCount int        `json:"applied_steps_count"`
	Logs              string     `json:"logs,omitempty"`
}

// Applied reports whether the row stands for a migration currently in effect.
func (r Record) Applied() bool {
	return r.FinishedAt != nil && r.RolledBackAt == nil
}

// Failed reports whether the row was started but neither finished nor rolled back.
func (r Record) Failed() bool {
	return r.FinishedAt == nil && r.RolledBackAt == nil
}

// File is a migration folder found on disk.
type File struct {
	ID          string `json:"id"`
	Dir         string `json:"dir"`
	SQL         string `json:"-"`
	RollbackSQL string `json:"-"`
	HasRollback bool   `json:"has_rollback"`
	Checksum    string `json:"checksum"`
}

// Checksum is the hex SHA-256 of a migration body.
func Checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

const idLayout = "20060102150405"

var (
	slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)
	idPattern  = regexp.MustCompile(`^\d{14}_[A-Za-z0-9_-]+$`)
)

// NewID builds "<UTC yyyymmddhhmmss>_<slug>".
func NewID(at time.Time, name string) string {
	return at.UTC().Format(idLayout) + "_" + Slug(name)
}

// IDTime returns the timestamp prefix of id.
func IDTime(id string) (time.Time, bool) {
	if !ValidID(id) {
		return time.Time{}, false
	}
	t, err := time.Parse(idLayout, id[:len(idLayout)])
	return t, err == nil
}

// ValidID reports whether id has the migration folder shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func Slug(name string) string {
	s := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if s == "" {
		return "migration"
	}
	return s
}
