package logger

import "testing"

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestRedactFields(t *testing.T) {
	fields := map[string]interface{}{
		"license_key": "SKM-PRO-B2F8N6J1-Q7",
		"Authorization": "Bearer abcdefgh12345678",
		"secret":      "shh",
		"token_count": 3,
		"org_name":    "Acme",
	}

	redacted := redactFields(fields)

	if redacted["license_key"] != "SKM...-Q7" {
		t.Errorf("license_key not edge-redacted: %v", redacted["license_key"])
	}
	if got := redacted["Authorization"].(string); got == fields["Authorization"] {
		t.Errorf("Authorization leaked: %v", got)
	}
	if redacted["secret"] != "[REDACTED]" {
		t.Errorf("short secret should be fully redacted: %v", redacted["secret"])
	}
	if redacted["token_count"] != "[REDACTED]" {
		t.Errorf("non-string sensitive value should be fully redacted: %v", redacted["token_count"])
	}
	if redacted["org_name"] != "Acme" {
		t.Errorf("org_name should pass through: %v", redacted["org_name"])
	}
}

func TestRedactFieldsNil(t *testing.T) {
	if redactFields(nil) != nil {
		t.Error("nil fields should stay nil")
	}
}

func TestIsSensitive(t *testing.T) {
	for _, field := range []string{"license_key", "LICENSE_KEY", "api_token", "sentry_dsn", "x-signature"} {
		if !isSensitive(field) {
			t.Errorf("%q should be sensitive", field)
		}
	}
	for _, field := range []string{"org_name", "email", "plan"} {
		if isSensitive(field) {
			t.Errorf("%q should not be sensitive", field)
		}
	}
}

func TestMergeFields(t *testing.T) {
	merged := mergeFields(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
	)
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("unexpected merge result: %v", merged)
	}
}
