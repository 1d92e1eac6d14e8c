package a2a

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
)

type staticSource struct {
	caps   []capability.Capability
	agents []agent.CapabilityInfo
}

func (s staticSource) Capabilities() []capability.Capability { return s.caps }
func (s staticSource) Agents() []agent.CapabilityInfo         { return s.agents }

var testSystem = config.System{ID: "fleet-a", Type: "robot_fleet", DisplayName: "Fleet A"}

func fixture() staticSource {
	return staticSource{
		caps: capability.All(),
		agents: []agent.CapabilityInfo{
			{AgentID: "robotdog-001", Capabilities: []string{"robotdog.patrol.rough"}},
			{AgentID: "robotdog-002", Capabilities: []string{"robotdog.patrol.rough", "robotdog.escort.security"}},
		},
	}
}

func TestBuildAgentCard_OnlyProvidedSkills(t *testing.T) {
	src := fixture()
	card := BuildAgentCard(testSystem, "http://fleet-a:8090", "1.2.3", src.caps, src.agents)

	assert.Equal(t, "Fleet A", card.Name)
	assert.Equal(t, "http://fleet-a:8090", card.URL)
	assert.Equal(t, "1.2.3", card.Version)
	require.Len(t, card.Skills, 2)
	assert.Equal(t, "robotdog.escort.security", card.Skills[0].ID)
	assert.Equal(t, "robotdog.patrol.rough", card.Skills[1].ID)
	assert.Contains(t, card.Skills[1].Tags, "robotdog-001")
	assert.Contains(t, card.Skills[1].Tags, "robotdog-002")
	assert.Contains(t, card.Skills[1].Description, "route_id")
}

func TestBuildAgentCard_FallsBackToSystemID(t *testing.T) {
	card := BuildAgentCard(config.System{ID: "fleet-b"}, "", "dev", nil, nil)
	assert.Equal(t, "fleet-b", card.Name)
	assert.Empty(t, card.Skills)
}

func TestHandler_ServesCard(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(testSystem, "http://fleet-a:8090", "dev", fixture()).MountRoutes(r)

	for _, path := range []string{CardPath, "/.well-known/agent.json"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Fleet A", body["name"])
		skills, _ := body["skills"].([]any)
		assert.Len(t, skills, 2)
	}
}
