// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import "errors"

var (
	// ErrUnknownProvider indicates a lookup for a name nothing registered.
	ErrUnknownProvider = errors.New("providers: unknown provider")

	// ErrNoCredentials indicates a provider that cannot authenticate.
	ErrNoCredentials = errors.New("providers: missing credentials")
)
