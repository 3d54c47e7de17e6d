package workflowsteps_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boringdata/kurt/pkg/models"
	"github.com/boringdata/kurt/pkg/repository"
	"github.com/boringdata/kurt/pkg/workflowcore"
	"github.com/boringdata/kurt/pkg/workflowengine"
	"github.com/boringdata/kurt/pkg/workflowevents"
	"github.com/boringdata/kurt/pkg/workflowsteps"
	testdatabase "github.com/boringdata/kurt/test/database"
)

// TestClusterAndResolveClaimsRunEndToEnd exercises cluster_claims and
// resolve_claims as ordinary dependent workflow steps: a seed step
// stages one document's section extraction and entity resolution
// under the run's own generated workflow id, then cluster_claims and
// resolve_claims consume it exactly as an index workflow would.
func TestClusterAndResolveClaimsRunEndToEnd(t *testing.T) {
	client := testdatabase.NewTestClient(t)
	repos := repository.New(client.Pool)

	registry := workflowengine.NewRegistry()
	workflowsteps.RegisterClaimSteps(registry, nil)
	registry.Register("seed", func(ctx context.Context, sc *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		err := sc.Repos.Staging.InsertSectionExtraction(ctx, &models.SectionExtractionRow{
			WorkflowID:   sc.RunID,
			DocumentID:   "doc-1",
			SectionID:    "sec-1",
			SectionIndex: 0,
			Content:      "Kurt is a content acquisition pipeline.",
			Entities:     []models.SectionEntityMention{{Name: "Kurt", EntityType: "tool"}},
			Claims: []models.SectionClaim{
				{Statement: "Kurt is a content acquisition pipeline", ClaimType: "definition", Confidence: 0.9, EntityIndices: []int{0}},
			},
			Status: "completed",
		})
		if err != nil {
			return nil, err
		}
		if err := sc.Repos.Staging.UpsertEntityResolution(ctx, &models.EntityResolutionRow{
			WorkflowID: sc.RunID, EntityName: "Kurt", ResolvedEntityID: "entity-kurt",
		}); err != nil {
			return nil, err
		}
		return &workflowengine.ToolResult{OutputData: "seeded"}, nil
	})

	workflows := workflowengine.NewWorkflowRegistry()
	workflows.Register(&workflowcore.WorkflowDefinition{
		Workflow: workflowcore.WorkflowMeta{Name: "index-claims"},
		Inputs:   map[string]workflowcore.InputDef{},
		Steps: map[string]workflowcore.StepDef{
			"seed":    {Type: "seed"},
			"cluster": {Type: workflowsteps.ClusterClaimsStepType, DependsOn: []string{"seed"}},
			"resolve": {Type: workflowsteps.ResolveClaimsStepType, DependsOn: []string{"cluster"}},
		},
	})

	rt := workflowengine.NewRuntime(repos, registry, workflows, workflowevents.NewBus())
	handle, err := rt.Run(context.Background(), "index-claims", nil, workflowengine.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, handle.Result)
	assert.Equal(t, models.WorkflowCompleted, handle.Result.Status)

	groups, err := repos.Staging.ListClaimGroups(context.Background(), handle.WorkflowID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "CREATE_NEW", groups[0].Decision)

	resolutions, err := repos.Staging.CountResolutionActions(context.Background(), handle.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, resolutions[models.ResolutionCreated])

	claim, err := repos.Claims.GetByHash(context.Background(), groups[0].ClaimHash)
	require.NoError(t, err)
	assert.Equal(t, "entity-kurt", claim.SubjectEntityID)
}
