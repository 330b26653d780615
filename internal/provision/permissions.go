package provision

import (
	"context"
	"fmt"
	"regexp"

	"github.com/edvin/agentctl/internal/enterprise"
)

// compileFilter builds the database-name filter. An invalid pattern is
// reported before anything is mutated.
func compileFilter(src string) (*regexp.Regexp, error) {
	if src == "" {
		return nil, nil
	}
	pattern, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidFilter, src, err)
	}
	return pattern, nil
}

// filteredDatabases lists databases and applies the optional name
// filter. Matching is unanchored: the pattern matches anywhere in the
// name.
func (m *Manager) filteredDatabases(ctx context.Context, filter *regexp.Regexp) ([]enterprise.Database, error) {
	dbs, err := m.dir.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	if len(dbs) == 0 {
		return nil, fmt.Errorf("no databases found on the cluster")
	}
	if filter == nil {
		return dbs, nil
	}

	filtered := dbs[:0:0]
	for _, db := range dbs {
		if filter.MatchString(db.Name) {
			filtered = append(filtered, db)
		}
	}
	m.logger.Info().
		Str("filter", filter.String()).
		Int("matched", len(filtered)).
		Int("total", len(dbs)).
		Msg("database filter applied")
	return filtered, nil
}

// EnsurePermissions adds the (roleUID, aclUID) binding to every selected
// database that lacks it. The binding is idempotent: a database already
// holding the exact pair is counted as success without a write,
// regardless of skipExisting, which only changes the log wording.
// Per-database update failures are tallied and never abort the batch.
func (m *Manager) EnsurePermissions(ctx context.Context, roleUID, aclUID int, filter *regexp.Regexp, skipExisting bool) (Tally, error) {
	dbs, err := m.filteredDatabases(ctx, filter)
	if err != nil {
		return Tally{}, err
	}

	var tally Tally
	for _, db := range dbs {
		tally.Total++

		if hasBinding(db.Permissions, roleUID, aclUID) {
			msg := "binding already present"
			if skipExisting {
				msg = "binding already present, skipped"
			}
			m.logger.Info().Str("database", db.Name).Msg(msg)
			tally.Succeeded++
			continue
		}

		updated := append(append([]enterprise.Permission{}, db.Permissions...),
			enterprise.Permission{RoleUID: roleUID, ACLUID: aclUID})
		if m.dir.PutDatabasePermissions(ctx, db.UID, updated) {
			m.logger.Info().Str("database", db.Name).Msg("binding added")
			tally.Succeeded++
		} else {
			m.logger.Warn().Str("database", db.Name).Msg("failed to add binding")
		}
	}

	m.logger.Info().Stringer("databases", tally).Msg("database permissions reconciled")
	return tally, nil
}

// RemovePermissions strips every binding exactly matching the
// (roleUID, aclUID) pair from the selected databases. Entries matching
// only one of the two uids are left untouched. A database without the
// pair counts as success with no write.
func (m *Manager) RemovePermissions(ctx context.Context, roleUID, aclUID int, filter *regexp.Regexp) (Tally, error) {
	dbs, err := m.filteredDatabases(ctx, filter)
	if err != nil {
		return Tally{}, err
	}

	var tally Tally
	for _, db := range dbs {
		tally.Total++

		kept := make([]enterprise.Permission, 0, len(db.Permissions))
		for _, perm := range db.Permissions {
			if perm.RoleUID == roleUID && perm.ACLUID == aclUID {
				continue
			}
			kept = append(kept, perm)
		}

		if len(kept) == len(db.Permissions) {
			m.logger.Info().Str("database", db.Name).Msg("no matching binding to remove")
			tally.Succeeded++
			continue
		}

		if m.dir.PutDatabasePermissions(ctx, db.UID, kept) {
			m.logger.Info().
				Str("database", db.Name).
				Int("removed", len(db.Permissions)-len(kept)).
				Msg("binding removed")
			tally.Succeeded++
		} else {
			m.logger.Warn().Str("database", db.Name).Msg("failed to remove binding")
		}
	}

	m.logger.Info().Stringer("databases", tally).Msg("database permission cleanup completed")
	return tally, nil
}

func hasBinding(perms []enterprise.Permission, roleUID, aclUID int) bool {
	for _, perm := range perms {
		if perm.RoleUID == roleUID && perm.ACLUID == aclUID {
			return true
		}
	}
	return false
}
