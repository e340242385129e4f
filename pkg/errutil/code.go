// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package errutil

import (
	"fmt"

	"github.com/samber/oops"
)

// Code returns the error code carried by err, or "" when err is not an oops
// error or carries no code.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := any(oopsErr.Code()).(type) {
	case nil:
		return ""
	case string:
		return code
	default:
		return fmt.Sprint(code)
	}
}
