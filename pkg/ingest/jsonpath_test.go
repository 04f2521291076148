package ingest

import "testing"

func TestEvaluateJSONPathPredicate(t *testing.T) {
	const payload = `{"status":"ok","retries":3,"nested":{"flag":true},"tags":["a","b"]}`

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"literal true", "true", true},
		{"equality match string", `.status == "ok"`, true},
		{"equality mismatch string", `.status == "bad"`, false},
		{"equality match number", ".retries == 3", true},
		{"equality mismatch number", ".retries == 4", false},
		{"bare boolean path true", ".nested.flag", true},
		{"array index match", `.tags[1] == "b"`, true},
		{"array index out of range", ".tags[9] == \"b\"", false},
		{"missing key", `.missing == "x"`, false},
		{"malformed expr no dot", `status == "ok"`, false},
		{"empty expr", "", false},
		{"malformed array brackets", ".tags[ == \"b\"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateJSONPathPredicate(tt.expr, payload)
			if got != tt.want {
				t.Errorf("evaluateJSONPathPredicate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateJSONPathPredicate_MalformedJSONValue(t *testing.T) {
	if evaluateJSONPathPredicate(".a", "{not json") {
		t.Error("expected false against unparseable value JSON")
	}
}

func TestEvaluateJSONPathPredicate_NestedFieldNotObject(t *testing.T) {
	if evaluateJSONPathPredicate(".status.inner", `{"status":"ok"}`) {
		t.Error("expected false when navigating into a non-object")
	}
}
