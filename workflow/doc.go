// Copyright (c) AnswerFlow Authors.
// Licensed under the MIT License.

// Package workflow implements the question-answer state machine.
//
// One Engine.Answer call runs a fixed set of named steps with explicit
// conditional edges: input validation, conversation-cache lookup, a cheap
// retrieval probe, category routing, hybrid retrieval, quality evaluation,
// error recovery, an optional one-shot fallback search, reranking,
// answer generation and response formatting. Every step appends to the
// audit log and snapshots the state asynchronously through the
// checkpoint writer.
//
// The engine never returns an internal error to its caller: failures are
// classified by the recovery node into retries, a broadened fallback
// search, or a degraded answer. Only caller cancellation aborts a run.
package workflow
