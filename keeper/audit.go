package keeper

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/recsnap/audit"
	"github.com/hazyhaar/recsnap/dbopen"
	"github.com/hazyhaar/recsnap/kit"
	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/tablestore"
)

var errAuditDisabled = errors.New("keeper: audit trail is disabled")

// openAudit opens the audit trail. It shares the snapshot database when the
// table backend points at the same file.
func (k *Keeper) openAudit(backend snapshot.Backend) error {
	var db *sql.DB
	if ts, ok := backend.(*tablestore.Store); ok && k.config.Audit.DBPath == k.config.Table.DBPath {
		db = ts.DB
	} else {
		var err error
		db, err = dbopen.Open(k.config.Audit.DBPath,
			append([]dbopen.Option{dbopen.WithMkdirAll()}, k.config.Table.openOptions()...)...)
		if err != nil {
			return fmt.Errorf("keeper: open audit db: %w", err)
		}
		k.closers = append(k.closers, db)
	}
	return k.attachAudit(db)
}

// attachAudit records mutating operations into db.
func (k *Keeper) attachAudit(db *sql.DB) error {
	l := audit.NewSQLiteLogger(db, audit.WithLogger(k.logger))
	if err := l.Init(); err != nil {
		l.Close()
		return err
	}
	k.audit = l
	// Flushed before the database it writes to is closed.
	k.closers = append([]io.Closer{l}, k.closers...)
	return nil
}

// audited wraps a mutating endpoint with the audit middleware when the
// trail is enabled.
func (k *Keeper) audited(action string, ep kit.Endpoint, opts ...audit.MiddlewareOption) kit.Endpoint {
	if k.audit == nil {
		return ep
	}
	return audit.Middleware(k.audit, action, opts...)(ep)
}

func (k *Keeper) saveEndpoint() kit.Endpoint {
	return k.audited("snapshot_save", func(ctx context.Context, req any) (any, error) {
		return k.save(ctx, req.(*saveRequest))
	}, audit.WithParams(k.saveAuditParams))
}

// saveAuditParams is what the audit log keeps of a save: identity, label,
// event kind and the attributes as they would be stored, exclusions
// applied. Metadata is left out.
func (k *Keeper) saveAuditParams(req any) any {
	r := req.(*saveRequest)
	out := map[string]any{}
	for key, v := range map[string]string{
		"label":       r.Label,
		"record_type": r.RecordType,
		"record_id":   r.RecordID,
		"event_kind":  r.EventKind,
	} {
		if v != "" {
			out[key] = v
		}
	}
	input, err := r.input()
	if err != nil {
		return out
	}
	if n, err := snapshot.Normalize(input, k.svc.Exclude()); err == nil {
		out["record"] = n.Attributes
	}
	return out
}

func (k *Keeper) deleteEndpoint() kit.Endpoint {
	return k.audited("snapshot_delete", func(ctx context.Context, req any) (any, error) {
		ok, err := k.svc.Delete(ctx, req.(*labelRequest).Label)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": ok}, nil
	})
}

func (k *Keeper) clearEndpoint() kit.Endpoint {
	return k.audited("snapshot_clear", func(ctx context.Context, req any) (any, error) {
		n, err := k.svc.Clear(ctx, req.(*scopeRequest).RecordType)
		if err != nil {
			return nil, err
		}
		return map[string]int{"removed": n}, nil
	})
}

func (k *Keeper) auditPrune(removed int, elapsed time.Duration, err error) {
	if k.audit == nil {
		return
	}
	params, _ := json.Marshal(map[string]any{
		"max_age":         k.config.Retention.MaxAge.String(),
		"keep_per_record": k.config.Retention.KeepPerRecord,
		"removed":         removed,
	})
	e := &audit.Entry{
		Action:     "snapshot_prune",
		Actor:      "retention",
		Transport:  "internal",
		Parameters: string(params),
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	k.audit.LogAsync(e)
}

// Audit returns the audit trail, or nil when disabled.
func (k *Keeper) Audit() *audit.SQLiteLogger { return k.audit }

func (k *Keeper) handleAudit(w http.ResponseWriter, r *http.Request) {
	if k.audit == nil {
		writeError(w, http.StatusNotFound, errAuditDisabled)
		return
	}
	f := audit.Filter{
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 100),
	}
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		f.Since = t
	}
	entries, err := k.audit.Query(r.Context(), f)
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
