package schemavalidation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"textinputd/internal/channel"
	"textinputd/internal/textinput"
)

type schemaCase struct {
	name         string
	schemaPath   string
	instancePath string
}

func TestSchemaValidation(t *testing.T) {
	repoRoot := repoRoot(t)
	cases := []schemaCase{
		{
			name:         "editing-state",
			schemaPath:   filepath.Join(repoRoot, "docs", "schema", "editing-state-v1.schema.json"),
			instancePath: filepath.Join(repoRoot, "docs", "spec", "fixtures", "editing-state-v1.json"),
		},
		{
			name:         "text-input-configuration",
			schemaPath:   filepath.Join(repoRoot, "docs", "schema", "text-input-configuration-v1.schema.json"),
			instancePath: filepath.Join(repoRoot, "docs", "spec", "fixtures", "text-input-configuration-v1.json"),
		},
		{
			name:         "method-call-set-client",
			schemaPath:   filepath.Join(repoRoot, "docs", "schema", "method-call-v1.schema.json"),
			instancePath: filepath.Join(repoRoot, "docs", "spec", "fixtures", "method-call-set-client-v1.json"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validateInstance(t, tc.schemaPath, tc.instancePath)
		})
	}
}

// TestEncodedTrafficMatchesSchemas checks the Go encoders against the
// documented wire contract: whatever MarshalJSON and EncodeMethodCall
// produce must satisfy the published schemas.
func TestEncodedTrafficMatchesSchemas(t *testing.T) {
	repoRoot := repoRoot(t)
	editingSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "editing-state-v1.schema.json"))
	configSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "text-input-configuration-v1.schema.json"))
	callSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "method-call-v1.schema.json"))

	state := textinput.EditingState{
		Text:            "préedit",
		SelectionBase:   2,
		SelectionExtent: 2,
		ComposingBase:   0,
		ComposingExtent: 7,
	}
	validateEncoded(t, editingSchema, state)
	validateEncoded(t, editingSchema, textinput.EmptyEditingState())

	cfg := textinput.DefaultConfiguration()
	cfg.InputType = textinput.TypeNumber(true, false)
	cfg.ActionLabel = "Pay"
	cfg.Autofill = &textinput.AutofillConfig{
		UniqueIdentifier: "card-number",
		Hints:            []string{"creditCardNumber"},
		CurrentValue:     textinput.EmptyEditingState(),
	}
	validateEncoded(t, configSchema, cfg)
	validateEncoded(t, configSchema, textinput.DefaultConfiguration())

	for _, call := range []struct {
		method string
		args   any
	}{
		{textinput.MethodSetClient, []any{1, cfg}},
		{textinput.MethodSetEditingState, state},
		{textinput.MethodShow, nil},
		{textinput.ClientUpdateEditingState, []any{1, state}},
		{textinput.ClientPerformAction, []any{1, "TextInputAction.done"}},
		{textinput.ClientRequestExistingInputState, nil},
	} {
		payload, err := channel.EncodeMethodCall(call.method, call.args)
		if err != nil {
			t.Fatalf("encode %s: %v", call.method, err)
		}
		var instance any
		if err := json.Unmarshal(payload, &instance); err != nil {
			t.Fatalf("unmarshal %s envelope: %v", call.method, err)
		}
		if err := callSchema.Validate(instance); err != nil {
			t.Fatalf("%s envelope violates schema: %v", call.method, err)
		}
	}
}

// TestFixturesDecodeIntoWireTypes ties the fixtures to the Go decoders:
// a fixture must decode losslessly and re-encode into a document the
// schema still accepts.
func TestFixturesDecodeIntoWireTypes(t *testing.T) {
	repoRoot := repoRoot(t)

	stateData, err := os.ReadFile(filepath.Join(repoRoot, "docs", "spec", "fixtures", "editing-state-v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var state textinput.EditingState
	if err := json.Unmarshal(stateData, &state); err != nil {
		t.Fatalf("decode editing state fixture: %v", err)
	}
	if state.SelectionBase != 6 || state.SelectionExtent != 11 {
		t.Fatalf("fixture selection = (%d,%d)", state.SelectionBase, state.SelectionExtent)
	}
	if got := textinput.UTF16Length(state.Text); got != 11 {
		t.Fatalf("fixture text length = %d UTF-16 units, want 11", got)
	}
	schema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "editing-state-v1.schema.json"))
	validateEncoded(t, schema, state)

	cfgData, err := os.ReadFile(filepath.Join(repoRoot, "docs", "spec", "fixtures", "text-input-configuration-v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var cfg textinput.Configuration
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		t.Fatalf("decode configuration fixture: %v", err)
	}
	if cfg.InputType.Kind != textinput.KindEmailAddress {
		t.Fatalf("fixture input kind = %v", cfg.InputType.Kind)
	}
	if cfg.Autofill == nil || cfg.Autofill.UniqueIdentifier != "login-email" {
		t.Fatalf("fixture autofill section = %+v", cfg.Autofill)
	}
	cfgSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "text-input-configuration-v1.schema.json"))
	validateEncoded(t, cfgSchema, cfg)
}

func TestSchemaRejectsMalformed(t *testing.T) {
	repoRoot := repoRoot(t)

	editingSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "editing-state-v1.schema.json"))
	badAffinity := map[string]any{
		"text":                   "x",
		"selectionBase":          0,
		"selectionExtent":        0,
		"selectionAffinity":      "TextAffinity.sideways",
		"selectionIsDirectional": false,
		"composingBase":          -1,
		"composingExtent":        -1,
	}
	if err := editingSchema.Validate(badAffinity); err == nil {
		t.Fatal("unknown affinity tag passed validation")
	}

	callSchema := compileSchema(t, filepath.Join(repoRoot, "docs", "schema", "method-call-v1.schema.json"))
	if err := callSchema.Validate(map[string]any{"args": []any{1}}); err == nil {
		t.Fatal("envelope without method passed validation")
	}
	if err := callSchema.Validate(map[string]any{"method": "noDot"}); err == nil {
		t.Fatal("method without interface prefix passed validation")
	}
}

func validateInstance(t *testing.T, schemaPath, instancePath string) {
	t.Helper()
	instanceData, err := os.ReadFile(instancePath)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}

	var instance any
	if err := json.Unmarshal(instanceData, &instance); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}

	schema := compileSchema(t, schemaPath)
	if err := schema.Validate(instance); err != nil {
		t.Fatalf("schema validation failed for %s: %v", filepath.Base(instancePath), err)
	}
}

func compileSchema(t *testing.T, schemaPath string) *jsonschema.Schema {
	t.Helper()
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

func validateEncoded(t *testing.T, schema *jsonschema.Schema, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		t.Fatalf("unmarshal encoded value: %v", err)
	}
	if err := schema.Validate(instance); err != nil {
		t.Fatalf("encoded value violates schema: %v\n%s", err, data)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
