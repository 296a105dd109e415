package domain

import "time"

// IDMapping pairs a legacy identifier with the canonical identifier that
// replaced it. Written once per migrated user, never mutated afterwards
// except for the ReferencesPatched flag, and used both as the audit trail
// and as the idempotency key on replay.
type IDMapping struct {
	ID          string    `json:"id"`
	LegacyID    string    `json:"legacy_id"`
	CanonicalID string    `json:"canonical_id"`
	Role        Role      `json:"role"`
	MigratedAt  time.Time `json:"migrated_at"`

	// ReferencesPatched is false while the user's foreign keys are still
	// being rewritten. A replay that finds it false resumes propagation
	// with the recorded canonical ID instead of allocating a new one.
	ReferencesPatched bool `json:"references_patched"`
}

// MigrationStatus is the on-demand classification of the user collection.
// It is recomputed per request and never cached.
type MigrationStatus struct {
	NeedsMigration bool `json:"needs_migration"`
	OldFormatUsers int  `json:"old_format_users"`
	NewFormatUsers int  `json:"new_format_users"`
}

// MappingEntry is a single old→new identifier pair in a run's result.
type MappingEntry struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
	Role  Role   `json:"role"`
}

// MigrationResult summarizes one migration run. It is built fresh per
// execution, returned to the caller and not persisted.
type MigrationResult struct {
	Success       bool           `json:"success"`
	MigratedCount int            `json:"migrated_count"`
	Errors        []string       `json:"errors"`
	Mappings      []MappingEntry `json:"mappings"`
}

// MigrationOverview is the admin dashboard aggregate: the status plus
// document counts for every collection that references user identifiers.
type MigrationOverview struct {
	Status          MigrationStatus `json:"status"`
	UsersByRole     map[Role]int    `json:"users_by_role"`
	ReferenceCounts map[string]int  `json:"reference_counts"`
	MappingCount    int             `json:"mapping_count"`
}
