// Package workflowsteps wires the core algorithm packages
// (claimclustering, claimresolution) into pkg/workflowengine as
// ordinary registered step types that a WorkflowDefinition can
// reference like any other tool. workflowcore.ParseWorkflowFile does
// not accept these two type names, so a definition that uses them is
// built in Go. It is intentionally thin: all the logic lives in
// the wired packages, this only adapts their Run signatures to
// workflowengine.StepFunc.
package workflowsteps

import (
	"context"
	"fmt"

	"github.com/boringdata/kurt/pkg/claimclustering"
	"github.com/boringdata/kurt/pkg/claimresolution"
	"github.com/boringdata/kurt/pkg/workflowengine"
)

// ClusterClaimsStepType is the step type name an index workflow uses
// to run claim clustering once section extraction has populated
// staging_section_extractions for the run.
const ClusterClaimsStepType = "cluster_claims"

// ResolveClaimsStepType is the step type name an index workflow uses
// to run claim resolution once cluster_claims has populated
// staging_claim_groups for the run.
const ResolveClaimsStepType = "resolve_claims"

// RegisterClaimSteps registers both claim steps against registry.
// embed may be nil, in which case cluster_claims falls back to
// normalized-prefix grouping per claimclustering's documented
// behavior when no embedding provider is configured.
func RegisterClaimSteps(registry *workflowengine.Registry, embed claimclustering.EmbedFunc) {
	registry.Register(ClusterClaimsStepType, clusterClaimsStep(embed))
	registry.Register(ResolveClaimsStepType, resolveClaimsStep)
}

func clusterClaimsStep(embed claimclustering.EmbedFunc) workflowengine.StepFunc {
	return func(ctx context.Context, sc *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		sections, err := sc.Repos.Staging.ListSectionExtractions(ctx, sc.RunID)
		if err != nil {
			return nil, fmt.Errorf("cluster_claims: list section extractions: %w", err)
		}
		summary, err := claimclustering.Run(ctx, sc.Repos.Staging, sc.Repos.Claims, sc.RunID, sections, embed, claimclustering.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("cluster_claims: %w", err)
		}
		return &workflowengine.ToolResult{OutputData: summary}, nil
	}
}

func resolveClaimsStep(ctx context.Context, sc *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
	summary, err := claimresolution.Run(ctx, sc.Repos.Staging, sc.Repos.Claims, sc.RunID)
	if err != nil {
		return nil, fmt.Errorf("resolve_claims: %w", err)
	}
	return &workflowengine.ToolResult{OutputData: summary}, nil
}
