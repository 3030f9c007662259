package enforcement

import (
	"crypto/sha256"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedPatternIntegrity(t *testing.T) {
	// 1. Ensure the embedded slice is not empty
	if len(GuardrailPatterns) == 0 {
		t.Fatal("Embedded guardrail data is empty. Did the build fail to include 'guardrail_patterns.yaml'?")
	}

	// 2. Ensure it is valid YAML (The 'Verify' step)
	var dump map[string]interface{}
	if err := yaml.Unmarshal(GuardrailPatterns, &dump); err != nil {
		t.Fatalf("Embedded data is not valid YAML: %v", err)
	}

	// 3. Ensure we can calculate a hash (The 'Verify' command logic)
	hash := sha256.Sum256(GuardrailPatterns)
	if len(hash) != 32 {
		t.Errorf("Hash calculation failed, expected 32 bytes, got %d", len(hash))
	}
	t.Logf("Current Guardrail Pattern Hash: %x", hash)

	// 4. Test that both pattern families are present
	for _, key := range []string{"malicious_patterns", "injection_patterns", "limits"} {
		if _, ok := dump[key]; !ok {
			t.Errorf("embedded guardrail file is missing the %q section", key)
		}
	}
}
