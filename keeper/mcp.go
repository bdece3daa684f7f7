package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/recsnap/kit"
	"github.com/hazyhaar/recsnap/snapshot"
)

// RegisterMCP registers the snapshot tools on an MCP server.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	k.registerSaveTool(srv)
	k.registerLoadTool(srv)
	k.registerListTool(srv)
	k.registerDiffTool(srv)
	k.registerDeleteTool(srv)
	k.registerClearTool(srv)
	k.registerHistoryTool(srv)
	k.registerStatsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (k *Keeper) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Logging(k.logger, tool.Name), k.metrics.instrument(tool.Name))
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

var (
	labelProp      = map[string]any{"type": "string", "description": "Snapshot label"}
	recordTypeProp = map[string]any{"type": "string", "description": "Record type, e.g. User"}
	recordIDProp   = map[string]any{"type": "string", "description": "Record id"}
)

// --- save ---

type saveRequest struct {
	Record     json.RawMessage `json:"record"`
	RecordType string          `json:"record_type,omitempty"`
	RecordID   string          `json:"record_id,omitempty"`
	Label      string          `json:"label,omitempty"`
	EventKind  string          `json:"event_kind,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Actor      string          `json:"actor,omitempty"`
}

func (k *Keeper) registerSaveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_save",
		Description: "Capture a record. Objects are stored as attribute maps; any other JSON value is stored under \"value\".",
		InputSchema: inputSchema(map[string]any{
			"record":      map[string]any{"description": "Record to capture (JSON object or value)"},
			"record_type": recordTypeProp,
			"record_id":   recordIDProp,
			"label":       map[string]any{"type": "string", "description": "Label to store under (generated when omitted; overwrites an existing one)"},
			"event_kind":  map[string]any{"type": "string", "description": "Why the snapshot is taken: manual (default), scheduled, created, updated, deleted or a custom kind"},
			"metadata":    map[string]any{"type": "object", "description": "Free-form metadata stored alongside, never diffed"},
			"actor":       map[string]any{"type": "string", "description": "Who triggered the capture"},
		}, []string{"record"}),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r saveRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		res := &kit.MCPDecodeResult{Request: &r}
		if r.Actor != "" {
			res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithActor(ctx, r.Actor) }
		}
		return res, nil
	}

	k.register(srv, tool, k.saveEndpoint(), decode)
}

var (
	errNoRecord  = errors.New("keeper: record is required")
	errBadFormat = errors.New("keeper: unknown diff format")
)

// input decodes the record, typed as a Record when record_type is set.
func (r *saveRequest) input() (any, error) {
	if len(r.Record) == 0 {
		return nil, errNoRecord
	}
	value, err := snapshot.DecodeValue(r.Record)
	if err != nil {
		return nil, &snapshot.SerializationError{Type: "json", Reason: err.Error()}
	}
	if value == nil {
		return nil, errNoRecord
	}
	if r.RecordType == "" {
		return value, nil
	}
	fields, ok := value.(map[string]any)
	if !ok {
		fields = map[string]any{"value": value}
	}
	return snapshot.Record{Type: r.RecordType, ID: r.RecordID, Fields: fields}, nil
}

// save is shared by the MCP tool and the HTTP API.
func (k *Keeper) save(ctx context.Context, r *saveRequest) (*snapshot.Snapshot, error) {
	input, err := r.input()
	if err != nil {
		return nil, err
	}

	var opts []snapshot.SaveOption
	if r.Label != "" {
		opts = append(opts, snapshot.WithLabel(r.Label))
	}
	if r.EventKind != "" {
		opts = append(opts, snapshot.WithEventKind(snapshot.EventKind(r.EventKind)))
	}
	if len(r.Metadata) > 0 {
		md, err := snapshot.DecodeMap(r.Metadata)
		if err != nil {
			return nil, &snapshot.SerializationError{Type: "json", Path: "metadata", Reason: err.Error()}
		}
		opts = append(opts, snapshot.WithMetadata(md))
	}
	return k.svc.Save(ctx, input, opts...)
}

// --- load ---

type labelRequest struct {
	Label string `json:"label"`
}

func (k *Keeper) registerLoadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_load",
		Description: "Load a snapshot with its attributes and metadata.",
		InputSchema: inputSchema(map[string]any{"label": labelProp}, []string{"label"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return k.svc.Require(ctx, req.(*labelRequest).Label)
	}

	k.register(srv, tool, endpoint, kit.DecodeJSON[labelRequest]())
}

// --- list ---

type scopeRequest struct {
	RecordType string `json:"record_type,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	Top        int    `json:"top,omitempty"`
}

func (r *scopeRequest) scope() snapshot.Scope {
	return snapshot.Scope{RecordType: r.RecordType, RecordID: r.RecordID}
}

func (k *Keeper) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_list",
		Description: "List snapshot summaries ordered by capture time, optionally filtered by record type and id.",
		InputSchema: inputSchema(map[string]any{
			"record_type": recordTypeProp,
			"record_id":   recordIDProp,
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scopeRequest)
		return k.list(ctx, r.scope())
	}

	k.register(srv, tool, endpoint, kit.DecodeJSON[scopeRequest]())
}

func (k *Keeper) list(ctx context.Context, scope snapshot.Scope) ([]snapshot.Summary, error) {
	if scope == (snapshot.Scope{}) {
		return k.svc.List(ctx)
	}
	return k.svc.History(ctx, scope.RecordType, scope.RecordID)
}

// --- diff ---

type diffRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Format string `json:"format,omitempty"`
}

// Diff output formats.
const (
	formatDiff      = "diff"
	formatJSONPatch = "json_patch"
)

func (k *Keeper) diff(ctx context.Context, r *diffRequest) (any, error) {
	switch r.Format {
	case "", formatDiff:
		return k.svc.Diff(ctx, r.From, r.To)
	case formatJSONPatch:
		patch, err := k.svc.Patch(ctx, r.From, r.To)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(patch), nil
	default:
		return nil, fmt.Errorf("%w: %q", errBadFormat, r.Format)
	}
}

func (k *Keeper) registerDiffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_diff",
		Description: "Compare the attributes of two snapshots: added, modified (from/to) and removed fields.",
		InputSchema: inputSchema(map[string]any{
			"from": map[string]any{"type": "string", "description": "Source snapshot label"},
			"to":   map[string]any{"type": "string", "description": "Target snapshot label"},
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{formatDiff, formatJSONPatch},
				"description": "diff (default) or json_patch for an RFC 6902 JSON Patch",
			},
		}, []string{"from", "to"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return k.diff(ctx, req.(*diffRequest))
	}

	k.register(srv, tool, endpoint, kit.DecodeJSON[diffRequest]())
}

// --- delete ---

func (k *Keeper) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_delete",
		Description: "Delete one snapshot. Reports whether it existed.",
		InputSchema: inputSchema(map[string]any{"label": labelProp}, []string{"label"}),
	}

	k.register(srv, tool, k.deleteEndpoint(), kit.DecodeJSON[labelRequest]())
}

// --- clear ---

func (k *Keeper) registerClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_clear",
		Description: "Delete every snapshot, or only those of one record type.",
		InputSchema: inputSchema(map[string]any{"record_type": recordTypeProp}, nil),
	}

	k.register(srv, tool, k.clearEndpoint(), kit.DecodeJSON[scopeRequest]())
}

// --- history ---

func (k *Keeper) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_history",
		Description: "Timeline of one record, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"record_type": recordTypeProp,
			"record_id":   recordIDProp,
		}, []string{"record_type", "record_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scopeRequest)
		return k.svc.History(ctx, r.RecordType, r.RecordID)
	}

	k.register(srv, tool, endpoint, kit.DecodeJSON[scopeRequest]())
}

// --- stats ---

func (k *Keeper) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapshot_stats",
		Description: "Snapshot statistics: counts by event kind, most changed fields, change frequency by day, week and month.",
		InputSchema: inputSchema(map[string]any{
			"record_type": recordTypeProp,
			"record_id":   recordIDProp,
			"top":         map[string]any{"type": "integer", "description": "Length of the most-changed-fields ranking (default from config)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scopeRequest)
		return k.summarize(ctx, r.scope(), r.Top)
	}

	k.register(srv, tool, endpoint, kit.DecodeJSON[scopeRequest]())
}

func (k *Keeper) summarize(ctx context.Context, scope snapshot.Scope, top int) (*snapshot.StatsSummary, error) {
	sum, err := k.stats.Summarize(ctx, scope)
	if err != nil {
		return nil, err
	}
	if top > 0 && top != k.config.Stats.TopFields {
		if sum.MostChangedFields, err = k.stats.MostChangedFields(ctx, scope, top); err != nil {
			return nil, err
		}
	}
	return sum, nil
}
