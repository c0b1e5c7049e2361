// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command contextgraph queries and serves bounded graph neighborhoods over
// a code index directory.
//
// Usage:
//
//	contextgraph query --index-dir .index --chunk c1 --depth 2
//	contextgraph query --index-dir .index --file src/app.js --direction in
//	contextgraph serve --index-dir .index
//	contextgraph snapshot --index-dir .index --db /var/lib/contextgraph
//	contextgraph stats --index-dir .index
//
// Configuration is read from --config (YAML or JSON) and CONTEXTGRAPH_*
// environment variables. Flags win over both.
//
// Example requests against serve:
//
//	curl http://localhost:8095/v1/graph/health
//
//	curl -X POST http://localhost:8095/v1/graph/neighborhood \
//	  -H "Content-Type: application/json" \
//	  -d '{"seed": {"type": "chunk", "chunkUid": "c1"}, "depth": 2}'
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
