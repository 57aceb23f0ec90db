package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func TestTopicsCmd(t *testing.T) {
	svc := &mockTopicService{clusters: []domain.Cluster{
		{ID: 1, Label: "fiscal policy", Size: 12, UpdatedAt: time.Now()},
		{ID: 2, Label: "healthcare", Size: 4, UpdatedAt: time.Now()},
	}}
	withServices(t, &Services{Topics: svc})

	out, err := run(t, "topics")

	require.NoError(t, err)
	assert.Contains(t, out, "fiscal policy")
	assert.Contains(t, out, "healthcare")
	assert.Contains(t, out, "12")
}

func TestTopicsCmd_Empty(t *testing.T) {
	withServices(t, &Services{Topics: &mockTopicService{}})

	out, err := run(t, "topics")

	require.NoError(t, err)
	assert.Contains(t, out, "No topic clusters yet.")
}

func TestTopicsCmd_NotConfigured(t *testing.T) {
	withServices(t, &Services{})

	_, err := run(t, "topics")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic service not configured")
}

func TestTopicsReclusterCmd(t *testing.T) {
	svc := &mockTopicService{report: &domain.ReclusterReport{
		Documents: 20, Clusters: 4, Reassigned: 3, NewClusters: []int{5},
	}}
	withServices(t, &Services{Topics: svc})

	out, err := run(t, "topics", "recluster")

	require.NoError(t, err)
	assert.Contains(t, out, "Clustered 20 document(s) into 4 cluster(s); 3 reassigned.")
	assert.Contains(t, out, "New clusters: [5]")
}

func TestTopicsReclusterCmd_Error(t *testing.T) {
	withServices(t, &Services{Topics: &mockTopicService{err: domain.ErrEmbeddingUnavailable}})

	_, err := run(t, "topics", "recluster")

	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
}

func TestTopicsLabelCmd(t *testing.T) {
	svc := &mockTopicService{}
	withServices(t, &Services{Topics: svc})

	out, err := run(t, "topics", "label", "3", "farm", "subsidies")

	require.NoError(t, err)
	assert.Equal(t, 3, svc.gotID)
	assert.Equal(t, "farm subsidies", svc.gotLabel)
	assert.Contains(t, out, `Cluster 3 (3 document(s)) is now "farm subsidies".`)
}

func TestTopicsLabelCmd_BadID(t *testing.T) {
	withServices(t, &Services{Topics: &mockTopicService{}})

	_, err := run(t, "topics", "label", "three", "farm")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid cluster id "three"`)
}

func TestTopicsLabelCmd_UnknownCluster(t *testing.T) {
	withServices(t, &Services{Topics: &mockTopicService{err: domain.ErrNotFound}})

	_, err := run(t, "topics", "label", "9", "farm")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTopicsLabelCmd_MissingLabel(t *testing.T) {
	withServices(t, &Services{Topics: &mockTopicService{}})

	_, err := run(t, "topics", "label", "3")

	assert.Error(t, err)
}
