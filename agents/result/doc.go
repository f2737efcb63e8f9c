/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package result pulls JSON out of model responses.
//
// Models often wrap JSON in a fenced ```json block, or surround it with
// prose. ExtractJSON finds the payload; Extract and Structured decode it:
//
//	verdict, err := result.Extract[Verdict](turn.Text())
//
//	// Untyped, for recording on a span.
//	v, ok := result.Structured(turn.Text())
package result
