// Package deploy implements the deployment workflows: resource
// provisioning, image build/publish, container deployment with one-time
// database initialization, post-deploy verification, lifecycle management,
// and the multi-database development stack.
package deploy

import "errors"

// =============================================================================
// Error Types
// =============================================================================

var (
	// Precondition failures abort before any external mutation
	ErrPreconditionFailed = errors.New("precondition failed")

	// Readiness polling exceeded its attempt ceiling
	ErrReadinessTimeout = errors.New("service did not become ready")

	// At least one tag failed to push
	ErrPushFailed = errors.New("push failed for one or more tags")
)
