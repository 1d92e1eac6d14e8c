package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
)

func TestEstimateMinutes(t *testing.T) {
	assert.Equal(t, 45, EstimateMinutes("robotdog.patrol.rough"))
	assert.Equal(t, 45, EstimateMinutes("drone.patrol.aerial"))
	assert.Equal(t, 20, EstimateMinutes("drone.inspection.facade"))
	assert.Equal(t, 10, EstimateMinutes("drone.delivery.aerial"))
	assert.Equal(t, DefaultEstimateMinutes, EstimateMinutes("robotdog.escort.security"))
	assert.Equal(t, 10, EstimateMinutes("delivery.indoor.standard"))
	assert.Equal(t, 45, EstimateMinutes("patrol.indoor.routine"))
	assert.Equal(t, DefaultEstimateMinutes, EstimateMinutes("unknown"))
}

func TestEstimateMinutesCoversCatalog(t *testing.T) {
	want := map[string]int{
		"cleaning.floor.standard":       DefaultEstimateMinutes,
		"cleaning.floor.deep":           DefaultEstimateMinutes,
		"cleaning.spill.response":       15,
		"delivery.indoor.standard":      10,
		"patrol.indoor.routine":         45,
		"drone.patrol.aerial":           45,
		"drone.inspection.facade":       20,
		"drone.delivery.aerial":         10,
		"robotdog.patrol.rough":         45,
		"robotdog.escort.security":      DefaultEstimateMinutes,
		"robotdog.inspection.equipment": 20,
	}
	for _, c := range capability.All() {
		minutes, ok := want[c.ID]
		require.True(t, ok, "no expected estimate for %s", c.ID)
		assert.Equal(t, minutes, EstimateMinutes(c.ID), c.ID)
	}
}

func TestValidate(t *testing.T) {
	ok := OrchestrationTask{TaskID: "T1", RequiredCapability: "drone.patrol.aerial"}
	assert.NoError(t, ok.Validate())

	for name, bad := range map[string]OrchestrationTask{
		"no id":       {RequiredCapability: "drone.patrol.aerial"},
		"no cap":      {TaskID: "T1"},
		"wildcard":    {TaskID: "T1", RequiredCapability: "drone.*"},
		"neg timeout": {TaskID: "T1", RequiredCapability: "drone.patrol.aerial", TimeoutSec: -1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, bad.Validate(), domain.ErrValidation)
		})
	}
}

func TestResponses(t *testing.T) {
	a := Accepted("T1", "robotdog-001", 45)
	assert.Equal(t, StatusAccepted, a.Status)
	assert.Empty(t, a.Reason)
	assert.Equal(t, 45, a.EstimatedDuration)

	r := Rejected("T2", "robotdog-001", ReasonAgentBusy, "busy with T1")
	assert.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, ReasonAgentBusy, r.Reason)
	assert.Zero(t, r.EstimatedDuration)
}
