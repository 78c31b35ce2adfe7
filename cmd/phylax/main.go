// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Phylax is the developer-first local LLM tracing, replay, and regression
// checking tool. Run `phylax --help` for the command list.
package main

import "os"

func main() {
	// Run handlers exit with their own codes; an error surfacing here is a
	// cobra parse failure (unknown command, bad flag, wrong arg count).
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitUsage)
	}
}
