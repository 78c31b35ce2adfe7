// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capture

import "errors"

var (
	// ErrInvalidCall indicates a call missing provider, model or invoker.
	// Nothing is invoked and nothing is persisted.
	ErrInvalidCall = errors.New("capture: invalid call")

	// ErrInvokeFailed wraps an invoker error. The error trace has already
	// been persisted by the time this is returned.
	ErrInvokeFailed = errors.New("capture: invoke failed")
)
