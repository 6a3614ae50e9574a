package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"labeller/api/internal/taxonomy"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeMap(t, rr); body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/api/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeMap(t, rr); body["status"] != "ready" {
		t.Fatalf("expected ready, got %v", body)
	}
}

func TestReadyEndpointReportsFailingCheck(t *testing.T) {
	env := newTestEnv(t)
	env.service.AddReadinessCheck("redis", func(context.Context) error {
		return errors.New("connection refused")
	})

	rr := env.get(t, "/api/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decodeMap(t, rr)
	checks := body["checks"].(map[string]any)
	redis := checks["redis"].(map[string]any)
	if redis["status"] != "error" || redis["error"] != "connection refused" {
		t.Fatalf("unexpected redis check %v", redis)
	}
	if checks["database"].(map[string]any)["status"] != "ok" {
		t.Fatalf("expected database ok, got %v", checks["database"])
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/api/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestFormsCreateRecordsAtEndOfSiblings(t *testing.T) {
	env := newTestEnv(t)

	animals := env.createGroup(t, "Animals")
	vehicles := env.createGroup(t, "Vehicles")
	dog := env.createClass(t, animals, "dog")
	cat := env.createClass(t, animals, "cat")

	schema := env.schema(t)
	if got := groupNames(schema); !reflect.DeepEqual(got, []string{"Animals", "Vehicles"}) {
		t.Fatalf("unexpected groups %v", got)
	}
	if schema.Groups[1].ID.ID() != vehicles {
		t.Fatalf("expected vehicles id %d, got %v", vehicles, schema.Groups[1].ID)
	}
	classes := schema.Groups[0].GroupClasses
	if len(classes) != 2 || classes[0].ID.ID() != dog || classes[1].ID.ID() != cat {
		t.Fatalf("unexpected classes %+v", classes)
	}
	if classes[0].Colours["default"].HTML != taxonomy.NewClassColour {
		t.Fatalf("expected default colour %s, got %v", taxonomy.NewClassColour, classes[0].Colours)
	}

	rr := env.postForm(t, "/api/class-editor/forms", url.Values{
		"action":     {FormNewColourScheme},
		"name":       {"night"},
		"human_name": {"Night"},
	}, "")
	createdID(t, rr)
	if got := env.schema(t).ColourSchemes; len(got) != 1 || got[0].Name != "night" || !got[0].Active {
		t.Fatalf("unexpected schemes %+v", got)
	}
}

func TestFormsFailures(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		values url.Values
		code   string
	}{
		{name: "unknown action", values: url.Values{"action": {"new_widget"}}, code: "INVALID_REQUEST"},
		{name: "bad group id", values: url.Values{"action": {FormNewClassLabel}, "group_id": {"abc"}, "name": {"dog"}}, code: "INVALID_IDENTIFIER"},
		{name: "missing group", values: url.Values{"action": {FormNewClassLabel}, "group_id": {"999"}, "name": {"dog"}}, code: "NOT_FOUND"},
		{name: "reserved scheme", values: url.Values{"action": {FormNewColourScheme}, "name": {"default"}}, code: "CONFLICT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.postForm(t, "/api/class-editor/forms", tc.values, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			body := decodeMap(t, rr)
			if body["status"] != "failed" || body["code"] != tc.code {
				t.Fatalf("expected failed/%s, got %v", tc.code, body)
			}
		})
	}
}

func TestUpdateGroupReorder(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, "A")
	env.createGroup(t, "B")
	c := env.createGroup(t, "C")

	body := env.update(t, ActionGroupReorder, fmt.Sprintf(`{"src_group_id": %d, "dst_index": 0}`, c))
	if body["status"] != "success" {
		t.Fatalf("expected success, got %v", body)
	}
	if got := groupNames(env.schema(t)); !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestUpdatePatchesAndMoves(t *testing.T) {
	env := newTestEnv(t)
	animals := env.createGroup(t, "Animals")
	pets := env.createGroup(t, "Pets")
	dog := env.createClass(t, animals, "dog")
	env.createClass(t, animals, "cat")

	steps := []struct {
		action string
		params string
	}{
		{ActionGroup, fmt.Sprintf(`{"group_id": "%d", "human_name": "Wild animals", "active": false}`, animals)},
		{ActionLabelClass, fmt.Sprintf(`{"lcls_id": %d, "human_name": "Hound", "colour": {"scheme": "default", "colour": "#112233"}}`, dog)},
		{ActionLabelClassReorder, fmt.Sprintf(`{"src_lcls_id": %d, "dst_index": 1}`, dog)},
		{ActionMoveLabelToGroup, fmt.Sprintf(`{"src_lcls_id": %d, "dst_group_id": %d, "dst_index": 0}`, dog, pets)},
	}
	for _, step := range steps {
		if body := env.update(t, step.action, step.params); body["status"] != "success" {
			t.Fatalf("%s: expected success, got %v", step.action, body)
		}
	}

	schema := env.schema(t)
	if schema.Groups[0].GroupName != "Wild animals" || schema.Groups[0].Active {
		t.Fatalf("group patch not applied: %+v", schema.Groups[0])
	}
	if len(schema.Groups[0].GroupClasses) != 1 || schema.Groups[0].GroupClasses[0].Name != "cat" {
		t.Fatalf("expected only cat left in source group, got %+v", schema.Groups[0].GroupClasses)
	}
	moved := schema.Groups[1].GroupClasses
	if len(moved) != 1 || moved[0].ID.ID() != dog {
		t.Fatalf("expected dog in pets, got %+v", moved)
	}
	if moved[0].HumanName != "Hound" || moved[0].Colours["default"].HTML != "#112233" {
		t.Fatalf("class patch not applied: %+v", moved[0])
	}
}

func TestUpdateLabelClassGroupsReturnsMappings(t *testing.T) {
	env := newTestEnv(t)
	animals := env.createGroup(t, "Animals")

	groupToken := uuid.NewString()
	dogToken := uuid.NewString()
	carToken := uuid.NewString()
	params := fmt.Sprintf(`{"groups": [
		{"id": %d, "group_name": "Animals", "active": true, "group_classes": [
			{"id": %q, "name": "dog", "human_name": "Dog", "active": true, "colours": {"default": {"html": "#ff0000"}}}
		]},
		{"id": %q, "group_name": "Vehicles", "active": true, "group_classes": [
			{"id": %q, "name": "car", "human_name": "Car", "active": true, "colours": {"default": {"html": "#0000ff"}, "unknown": {"html": "#00ff00"}}}
		]}
	]}`, animals, dogToken, groupToken, carToken)

	rr := env.postJSON(t, "/api/class-editor/update",
		fmt.Sprintf(`{"action": %q, "params": %s}`, ActionUpdateLabelClassGroups, params), "")
	body := decodeMap(t, rr)
	if body["status"] != "success" {
		t.Fatalf("expected success, got %v", body)
	}
	groupMapping := body["group_id_mapping"].(map[string]any)
	classMapping := body["label_class_id_mapping"].(map[string]any)
	if len(groupMapping) != 1 || groupMapping[groupToken] == nil {
		t.Fatalf("unexpected group mapping %v", groupMapping)
	}
	if len(classMapping) != 2 || classMapping[dogToken] == nil || classMapping[carToken] == nil {
		t.Fatalf("unexpected class mapping %v", classMapping)
	}
	if _, ok := body["code"]; ok {
		t.Fatalf("success response must not carry a code: %v", body)
	}

	schema := env.schema(t)
	if got := groupNames(schema); !reflect.DeepEqual(got, []string{"Animals", "Vehicles"}) {
		t.Fatalf("unexpected groups %v", got)
	}
	if int64(groupMapping[groupToken].(float64)) != schema.Groups[1].ID.ID() {
		t.Fatalf("mapping does not match stored group")
	}
}

func TestUpdateParamsAsJSONString(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, "A")
	b := env.createGroup(t, "B")

	encoded, _ := json.Marshal(fmt.Sprintf(`{"src_group_id": %d, "dst_index": 0}`, b))
	rr := env.postJSON(t, "/api/class-editor/update",
		fmt.Sprintf(`{"action": %q, "params": %s}`, ActionGroupReorder, encoded), "")
	if body := decodeMap(t, rr); body["status"] != "success" {
		t.Fatalf("expected success, got %v", body)
	}
	if got := groupNames(env.schema(t)); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestUpdateColourSchemesReturnsIDMapping(t *testing.T) {
	env := newTestEnv(t)
	token := uuid.NewString()

	body := env.update(t, ActionUpdateColourSchemes,
		fmt.Sprintf(`{"colour_schemes": [{"id": %q, "name": "night", "human_name": "Night", "active": true}]}`, token))
	if body["status"] != "success" {
		t.Fatalf("expected success, got %v", body)
	}
	mapping := body["id_mapping"].(map[string]any)
	if len(mapping) != 1 || mapping[token] == nil {
		t.Fatalf("unexpected mapping %v", mapping)
	}
}

func TestUpdateFailuresAreReportedWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	animals := env.createGroup(t, "Animals")
	before := env.schema(t)

	cases := []struct {
		name   string
		action string
		params string
		code   string
	}{
		{name: "unknown action", action: "delete_everything", params: `{}`, code: "INVALID_REQUEST"},
		{name: "malformed params", action: ActionGroup, params: `{"group_id": `, code: "INVALID_REQUEST"},
		{name: "missing params", action: ActionGroup, params: ``, code: "INVALID_REQUEST"},
		{name: "float id", action: ActionGroup, params: `{"group_id": 1.5}`, code: "INVALID_IDENTIFIER"},
		{name: "missing group", action: ActionGroup, params: `{"group_id": 999, "human_name": "x"}`, code: "NOT_FOUND"},
		{name: "bad colour", action: ActionUpdateLabelClassGroups, params: fmt.Sprintf(
			`{"groups": [{"id": %d, "group_name": "Renamed", "active": true, "group_classes": [
				{"id": %q, "name": "dog", "human_name": "Dog", "active": true, "colours": {"default": {"html": "red"}}}]}]}`,
			animals, uuid.NewString()), code: "INVALID_COLOUR"},
		{name: "not a token", action: ActionUpdateLabelClassGroups, params: `{"groups": [{"id": "abc", "group_name": "X", "active": true, "group_classes": []}]}`, code: "INVALID_IDENTIFIER"},
		{name: "zero group id", action: ActionUpdateLabelClassGroups, params: `{"groups": [{"id": 0, "group_name": "Ghost", "active": true, "group_classes": []}]}`, code: "NOT_FOUND"},
		{name: "zero scheme id", action: ActionUpdateColourSchemes, params: `{"colour_schemes": [{"id": 0, "name": "ghost", "human_name": "Ghost", "active": true}]}`, code: "NOT_FOUND"},
		{name: "missing groups", action: ActionUpdateLabelClassGroups, params: `{}`, code: "INVALID_REQUEST"},
		{name: "missing index", action: ActionGroupReorder, params: fmt.Sprintf(`{"src_group_id": %d}`, animals), code: "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := env.update(t, tc.action, tc.params)
			if body["status"] != "failed" || body["code"] != tc.code {
				t.Fatalf("expected failed/%s, got %v", tc.code, body)
			}
		})
	}

	if after := env.schema(t); !reflect.DeepEqual(before, after) {
		t.Fatalf("failed submissions changed the schema:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	animals := env.createGroup(t, "Animals")
	env.createClass(t, animals, "zebra")
	env.createClass(t, animals, "dog")

	rr := env.get(t, "/api/label-classes/search?q=zeb", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Results []struct {
			Name    string `json:"name"`
			GroupID int64  `json:"group_id"`
		} `json:"results"`
		Engine string `json:"engine"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Name != "zebra" || resp.Results[0].GroupID != animals {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
	if resp.Engine != "sql" {
		t.Fatalf("expected sql engine, got %q", resp.Engine)
	}

	if rr := env.get(t, "/api/label-classes/search?q=dog&limit=500", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized limit, got %d", rr.Code)
	}
}

func TestMetricsEndpointCountsSubmissions(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, "Animals")
	env.update(t, ActionGroup, `{"group_id": 999}`)

	rr := env.get(t, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	text := rr.Body.String()
	for _, want := range []string{
		`labeller_class_editor_submissions_total{action="new_label_class_group",code="",status="success"} 1`,
		`labeller_class_editor_submissions_total{action="group",code="NOT_FOUND",status="failed"} 1`,
		`labeller_taxonomy_created_total{kind="group"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestFailureCode(t *testing.T) {
	cases := map[string]error{
		"INVALID_IDENTIFIER":    fmt.Errorf("x: %w", taxonomy.ErrInvalidIdentifier),
		"NOT_FOUND":             fmt.Errorf("x: %w", taxonomy.ErrNotFound),
		"PRECONDITION_VIOLATED": fmt.Errorf("x: %w", taxonomy.ErrPreconditionViolated),
		"INVALID_COLOUR":        fmt.Errorf("x: %w", taxonomy.ErrInvalidColour),
		"CONFLICT":              fmt.Errorf("x: %w", taxonomy.ErrConflict),
		"INVALID_REQUEST":       errUnknownAction,
		"SERVER_ERROR":          errors.New("disk full"),
	}
	for want, err := range cases {
		if got := failureCode(err); got != want {
			t.Fatalf("failureCode(%v) = %s, want %s", err, got, want)
		}
	}
}
