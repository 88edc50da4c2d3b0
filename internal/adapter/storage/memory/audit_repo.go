package memory

import (
	"context"
	"slices"

	"salvage-settlement/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository. Audit records are kept outside
// the transactional state, like the PostgreSQL driver's pool-level insert.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates an AuditRepo backed by the store.
func NewAuditRepo(s *Store) *AuditRepo {
	return &AuditRepo{store: s}
}

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.store.auditMu.Lock()
	defer r.store.auditMu.Unlock()
	r.store.audit = append(r.store.audit, *entry)
	return nil
}

// Entries returns a snapshot of the audit trail, optionally filtered by action.
func (r *AuditRepo) Entries(actions ...domain.AuditAction) []domain.AuditLog {
	r.store.auditMu.Lock()
	defer r.store.auditMu.Unlock()
	if len(actions) == 0 {
		return slices.Clone(r.store.audit)
	}
	var out []domain.AuditLog
	for _, e := range r.store.audit {
		if slices.Contains(actions, e.Action) {
			out = append(out, e)
		}
	}
	return out
}
