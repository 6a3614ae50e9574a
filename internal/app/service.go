package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"labeller/api/internal/auth"
	"labeller/api/internal/config"
	"labeller/api/internal/logging"
	"labeller/api/internal/metrics"
	"labeller/api/internal/rbac"
	"labeller/api/internal/search"
	"labeller/api/internal/store"
	"labeller/api/internal/taxonomy"
)

// Class editor actions accepted by the update endpoint.
const (
	ActionGroup                  = "group"
	ActionGroupReorder           = "group_reorder"
	ActionLabelClass             = "label_class"
	ActionLabelClassReorder      = "label_class_reorder"
	ActionMoveLabelToGroup       = "move_label_to_group"
	ActionUpdateColourSchemes    = "update_colour_schemes"
	ActionUpdateLabelClassGroups = "update_label_class_groups"
)

// Form actions accepted by the forms endpoint.
const (
	FormNewClassLabel      = "new_class_label"
	FormNewLabelClassGroup = "new_label_class_group"
	FormNewColourScheme    = "new_colour_scheme"
)

var errUnknownAction = errors.New("unknown action")

var actionPermissions = map[string]rbac.Action{
	ActionGroup:                  rbac.ActionEdit,
	ActionGroupReorder:           rbac.ActionEdit,
	ActionLabelClass:             rbac.ActionEdit,
	ActionLabelClassReorder:      rbac.ActionEdit,
	ActionMoveLabelToGroup:       rbac.ActionEdit,
	ActionUpdateColourSchemes:    rbac.ActionManageSchemes,
	ActionUpdateLabelClassGroups: rbac.ActionEdit,
	FormNewClassLabel:            rbac.ActionEdit,
	FormNewLabelClassGroup:       rbac.ActionEdit,
	FormNewColourScheme:          rbac.ActionManageSchemes,
}

type Session struct {
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

func (s Session) actor() string {
	if s.UserName != "" {
		return s.UserName
	}
	return "anonymous"
}

type dataStore interface {
	Ping(ctx context.Context) error
}

type historyService interface {
	Record(snapshot any, author, message string) (store.CommitInfo, bool, error)
	History(limit int) ([]store.CommitInfo, error)
	Snapshot(hash string) (json.RawMessage, error)
}

type readinessCheck struct {
	name string
	fn   func(context.Context) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	editor  *taxonomy.Editor
	search  *search.Service
	history historyService
	metrics *metrics.Metrics
	checks  []readinessCheck
}

// New wires the service. history may be nil when snapshots are disabled.
func New(cfg config.Config, dataStore dataStore, editor *taxonomy.Editor, searchService *search.Service, history historyService, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		editor:  editor,
		search:  searchService,
		history: history,
		metrics: m,
	}
}

// AddReadinessCheck registers an extra dependency reported by /api/ready.
func (s *Service) AddReadinessCheck(name string, fn func(context.Context) error) {
	s.checks = append(s.checks, readinessCheck{name: name, fn: fn})
}

// Bootstrap records a baseline snapshot and fills the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.history == nil && !s.searchEnabled() {
		return nil
	}
	schema, err := s.editor.Schema(ctx)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if s.history != nil {
		if _, _, err := s.history.Record(schema, "labeller", "Baseline"); err != nil {
			return fmt.Errorf("record baseline: %w", err)
		}
	}
	if s.searchEnabled() {
		s.search.IndexLabelClasses(ctx, searchRecords(schema))
	}
	return nil
}

func (s *Service) AuthEnabled() bool {
	return strings.TrimSpace(s.cfg.TokenSecret) != ""
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Update applies one class editor action. params holds the action's JSON
// object as posted by the editor.
func (s *Service) Update(ctx context.Context, session Session, action string, params json.RawMessage) (taxonomy.Result, error) {
	started := time.Now()
	ctx = logging.With(ctx, "action", action)

	res, err := s.apply(ctx, action, params)
	s.observe(ctx, action, started, res, err)
	if err != nil {
		return taxonomy.Result{}, err
	}
	if res.Changed {
		s.afterCommit(ctx, session, action)
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, action string, params json.RawMessage) (taxonomy.Result, error) {
	switch action {
	case ActionGroup:
		var p taxonomy.GroupPatch
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		return s.editor.PatchGroup(ctx, p)
	case ActionGroupReorder:
		var p taxonomy.GroupMove
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		return s.editor.ReorderGroup(ctx, p)
	case ActionLabelClass:
		var p taxonomy.LabelClassPatch
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		return s.editor.PatchLabelClass(ctx, p)
	case ActionLabelClassReorder:
		var p taxonomy.LabelClassMove
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		return s.editor.ReorderLabelClass(ctx, p)
	case ActionMoveLabelToGroup:
		var p taxonomy.LabelClassMove
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		return s.editor.MoveLabelClassToGroup(ctx, p)
	case ActionUpdateColourSchemes:
		var p struct {
			ColourSchemes *[]taxonomy.SchemeNode `json:"colour_schemes"`
		}
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		if p.ColourSchemes == nil {
			return taxonomy.Result{}, fmt.Errorf("colour_schemes is required: %w", taxonomy.ErrInvalidRequest)
		}
		return s.editor.SyncColourSchemes(ctx, *p.ColourSchemes)
	case ActionUpdateLabelClassGroups:
		var p struct {
			Groups *[]taxonomy.GroupNode `json:"groups"`
		}
		if err := decodeParams(params, &p); err != nil {
			return taxonomy.Result{}, err
		}
		if p.Groups == nil {
			return taxonomy.Result{}, fmt.Errorf("groups is required: %w", taxonomy.ErrInvalidRequest)
		}
		return s.editor.SyncGroups(ctx, *p.Groups)
	default:
		return taxonomy.Result{}, fmt.Errorf("%w: %q", errUnknownAction, action)
	}
}

// SubmitForm creates one record from a form-encoded request and returns
// its id.
func (s *Service) SubmitForm(ctx context.Context, session Session, action string, form url.Values) (int64, error) {
	started := time.Now()
	ctx = logging.With(ctx, "action", action)

	var (
		id   int64
		kind taxonomy.Kind
		err  error
	)
	switch action {
	case FormNewClassLabel:
		kind = taxonomy.KindLabelClass
		var groupID taxonomy.RecordID
		groupID, err = taxonomy.ParseRecordID(form.Get("group_id"))
		if err == nil {
			id, err = s.editor.CreateLabelClass(ctx, groupID, form.Get("name"), form.Get("human_name"))
		}
	case FormNewLabelClassGroup:
		kind = taxonomy.KindGroup
		id, err = s.editor.CreateGroup(ctx, form.Get("human_name"))
	case FormNewColourScheme:
		kind = taxonomy.KindColourScheme
		id, err = s.editor.CreateColourScheme(ctx, form.Get("name"), form.Get("human_name"))
	default:
		err = fmt.Errorf("%w: %q", errUnknownAction, action)
	}

	res := taxonomy.Result{}
	if err == nil {
		res = taxonomy.Result{Created: map[taxonomy.Kind]int{kind: 1}, Changed: true}
	}
	s.observe(ctx, action, started, res, err)
	if err != nil {
		return 0, err
	}
	s.afterCommit(ctx, session, action)
	return id, nil
}

func (s *Service) Schema(ctx context.Context) (taxonomy.Schema, error) {
	return s.editor.Schema(ctx)
}

func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

func (s *Service) History(limit int) ([]map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "HISTORY_DISABLED", "Schema history is not enabled", nil)
	}
	commits, err := s.history.History(limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	items := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		items = append(items, map[string]any{
			"hash":      c.Hash,
			"message":   strings.TrimSpace(c.Message),
			"author":    c.Author,
			"createdAt": c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) HistorySnapshot(hash string) (json.RawMessage, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "HISTORY_DISABLED", "Schema history is not enabled", nil)
	}
	return s.history.Snapshot(hash)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) searchEnabled() bool {
	return s.search != nil && s.search.Enabled()
}

func (s *Service) observe(ctx context.Context, action string, started time.Time, res taxonomy.Result, err error) {
	status, code := "success", ""
	if err != nil {
		status, code = "failed", failureCode(err)
		logger := slogcontext.FromCtx(ctx)
		if code == "SERVER_ERROR" {
			logger.ErrorContext(ctx, "class editor action failed", "code", code, "error", err)
		} else {
			logger.InfoContext(ctx, "class editor action rejected", "code", code, "error", err)
		}
	}
	s.metrics.ObserveSubmission(action, status, code, started)
	for kind, n := range res.Created {
		s.metrics.AddCreated(string(kind), n)
	}
	s.metrics.AddSkippedColours(res.SkippedColours)
}

// afterCommit refreshes the history and the search index. Failures are
// logged and counted; the committed change stands.
func (s *Service) afterCommit(ctx context.Context, session Session, action string) {
	if s.history == nil && !s.searchEnabled() {
		return
	}
	logger := slogcontext.FromCtx(ctx)
	schema, err := s.editor.Schema(ctx)
	if err != nil {
		logger.WarnContext(ctx, "load schema after commit", "error", err)
		s.metrics.SideEffectFailed("schema")
		return
	}
	if s.history != nil {
		if _, _, err := s.history.Record(schema, session.actor(), "class editor: "+action); err != nil {
			logger.WarnContext(ctx, "record schema history", "error", err)
			s.metrics.SideEffectFailed("history")
		}
	}
	if s.searchEnabled() {
		s.search.IndexLabelClasses(ctx, searchRecords(schema))
	}
}

func searchRecords(schema taxonomy.Schema) []search.LabelClassRecord {
	var records []search.LabelClassRecord
	for _, g := range schema.Groups {
		for _, c := range g.GroupClasses {
			records = append(records, search.LabelClassRecord{
				ID:        c.ID.ID(),
				Name:      c.Name,
				HumanName: c.HumanName,
				GroupID:   g.ID.ID(),
				GroupName: g.GroupName,
				Active:    c.Active,
			})
		}
	}
	return records
}

func decodeParams(params json.RawMessage, target any) error {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("params are required: %w", taxonomy.ErrInvalidRequest)
	}
	if err := json.Unmarshal([]byte(trimmed), target); err != nil {
		if errors.Is(err, taxonomy.ErrInvalidIdentifier) {
			return err
		}
		return fmt.Errorf("decode params: %v: %w", err, taxonomy.ErrInvalidRequest)
	}
	return nil
}
