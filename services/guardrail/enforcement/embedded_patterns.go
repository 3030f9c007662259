// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file serves as the bridge between the build system and the runtime logic. It utilizes the Go
embed package to bake the guardrail_patterns.yaml file directly into the compiled binary.
This ensures that the safety rules are immutable at runtime and travel with the executable.
*/

package enforcement

import (
	_ "embed"
)

// GuardrailPatterns holds the raw byte content of the 'guardrail_patterns.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive. By baking the
// YAML directly into the binary, we ensure that the safety rules are immutable and
// cannot be tampered with on the host filesystem without recompiling the application.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.GuardrailPatterns, &targetStruct)
//
//go:embed guardrail_patterns.yaml
var GuardrailPatterns []byte
