package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/auth"
	"github.com/kioku-ai/kioku/internal/mcp"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/server"
	"github.com/kioku-ai/kioku/internal/service/debate"
	"github.com/kioku-ai/kioku/internal/service/decay"
	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/service/graph"
	"github.com/kioku-ai/kioku/internal/service/remediation"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/testutil"
)

var (
	testSrv    *httptest.Server
	testDB     *storage.DB
	debateSvc  *debate.Service
	agentToken string
	humanToken string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}

	// Ephemeral keypair: empty paths make the manager generate one in memory.
	tokenMgr, err := auth.NewTokenManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create token manager: %v\n", err)
		os.Exit(1)
	}
	agentToken, _, _ = tokenMgr.IssueToken("test-agent", model.ContributorAgent)
	humanToken, _, _ = tokenMgr.IssueToken("test-human", model.ContributorHuman)

	graphSvc := graph.New(testDB, logger)
	debateSvc = debate.New(testDB, logger, 5*time.Second)
	decaySvc := decay.New(testDB, logger)
	embedder := embedding.NewNoopProvider(1024)
	remediationSvc := remediation.New(testDB, embedder, nil, logger)
	mcpSrv := mcp.New(graphSvc, debateSvc, remediationSvc, logger)

	seedItems(ctx)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		TokenMgr:            tokenMgr,
		GraphSvc:            graphSvc,
		DebateSvc:           debateSvc,
		DecaySvc:            decaySvc,
		RemediationSvc:      remediationSvc,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Version:             "test",
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})

	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()

	testSrv.Close()
	debateSvc.Wait()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func seedItems(ctx context.Context) {
	pool := testDB.Pool()
	stmts := []string{
		`INSERT INTO adrs (id, title, status, item_date) VALUES
			('ADR-100', 'Adopt event sourcing', 'active', CURRENT_DATE),
			('ADR-900', 'Legacy auth scheme', 'superseded', CURRENT_DATE - INTERVAL '400 days')`,
		`INSERT INTO failures (id, title, error_pattern, resolution, status, resolved_at) VALUES
			('FAIL-100', 'Pool exhaustion under load', 'resource_exhaustion', 'Raised pool ceiling', 'resolved', now())`,
		`INSERT INTO meetings (id, title) VALUES ('MEET-100', 'Q3 architecture review')`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed items: %v\n", err)
			os.Exit(1)
		}
	}
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var result struct {
		Data T `json:"data"`
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result), "body: %s", string(data))
	return result.Data
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	var result model.APIError
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result), "body: %s", string(data))
	return result.Error
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeData[map[string]any](t, resp)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/graph/export")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeUnauthorized, detail.Code)
}

func TestCreateRelationshipAndTraverse(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/relationships", agentToken,
		model.CreateRelationshipRequest{
			FromID: "ADR-100", FromType: "adr",
			ToID: "FAIL-100", ToType: "failure",
			RelationshipType: "references",
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rel := decodeData[model.Relationship](t, resp)
	assert.Equal(t, "ADR-100", rel.FromID)
	assert.Equal(t, 1.0, rel.Strength) // defaulted when omitted
	assert.NotZero(t, rel.ID)

	resp2, err := authedRequest("GET", testSrv.URL+"/v1/items/adr/ADR-100/related", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	related := decodeData[[]model.RelatedItem](t, resp2)
	found := false
	for _, r := range related {
		if r.ID == "FAIL-100" && r.Type == model.ItemTypeFailure {
			found = true
			assert.Equal(t, model.RelReferences, r.Relationship)
		}
	}
	assert.True(t, found, "expected FAIL-100 in traversal result")
}

func TestCreateRelationshipValidation(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/relationships", agentToken,
		model.CreateRelationshipRequest{
			FromID: "ADR-100", FromType: "decision",
			ToID: "FAIL-100", ToType: "failure",
			RelationshipType: "references",
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeValidation, detail.Code)
}

func TestFindRelatedRejectsBadDepth(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/items/adr/ADR-100/related?depth=zero", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAutoLinkEndpoint(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/items/meeting/MEET-100/autolink", agentToken,
		model.AutoLinkRequest{Content: "Discussed ADR-100 and the incident FAIL-100."})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := decodeData[struct {
		Created []model.Relationship `json:"created"`
		Count   int                  `json:"count"`
	}](t, resp)
	assert.Equal(t, 2, data.Count)
	require.Len(t, data.Created, 2)
	for _, rel := range data.Created {
		assert.Equal(t, "MEET-100", rel.FromID)
		assert.Equal(t, model.RelReferences, rel.RelationshipType)
	}
}

func TestGraphExport(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/graph/export", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	export := decodeData[model.GraphExport](t, resp)
	ids := make(map[string]bool)
	for _, n := range export.Nodes {
		ids[n.ID] = true
	}
	assert.True(t, ids["ADR-100"], "expected seeded ADR in export")
	assert.True(t, ids["FAIL-100"], "expected seeded failure in export")
}

func TestDebateFlowTriggersJudgment(t *testing.T) {
	post := func(token, stance, argument string) model.ContributeResponse {
		t.Helper()
		resp, err := authedRequest("POST", testSrv.URL+"/v1/debates/adr/ADR-100/messages", token,
			model.ContributeRequest{Stance: stance, Argument: argument})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return decodeData[model.ContributeResponse](t, resp)
	}

	first := post(agentToken, "agree", "Event sourcing gives us a replayable audit log.")
	assert.Equal(t, model.DebateOpen, first.Debate.Status)
	assert.Equal(t, 1, first.Debate.MessageCount)
	assert.Equal(t, "test-agent", first.Message.ContributorID)

	second := post(humanToken, "agree", "The replay capability already paid off during the outage.")
	assert.Equal(t, 2, second.Debate.MessageCount)

	third := post(agentToken, "disagree", "Snapshot maintenance cost is higher than projected.")
	assert.Equal(t, 3, third.Debate.MessageCount)

	// The judge runs asynchronously off the third contribution.
	debateSvc.Wait()

	resp, err := authedRequest("GET", testSrv.URL+"/v1/debates/"+first.Debate.ID.String(), agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	detail := decodeData[model.DebateDetail](t, resp)
	assert.Equal(t, model.DebateJudged, detail.Debate.Status)
	assert.Len(t, detail.Messages, 3)
	require.NotNil(t, detail.Judgment)
	// 2 agree / 1 disagree: ratio 0.67 scores 4 and suggests a review.
	assert.Equal(t, 4, detail.Judgment.Score)
	assert.Equal(t, model.ActionReview, detail.Judgment.SuggestedAction)
}

func TestContributeValidation(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/debates/adr/ADR-100/messages", agentToken,
		model.ContributeRequest{Stance: "agree", Argument: "short"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeValidation, detail.Code)
}

func TestGetDebateRejectsMalformedID(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/debates/not-a-uuid", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemediateClassifies(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/remediate", agentToken,
		model.RemediateRequest{Message: "dial tcp 10.0.0.5:5432: connect: connection refused"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decodeData[model.RemediationReport](t, resp)
	assert.Equal(t, model.PatternConnectionError, report.Pattern)
	assert.NotEmpty(t, report.Checklist)
	// Seeded failures carry no embeddings, so similarity search finds nothing.
	assert.Empty(t, report.Matches)
}

func TestRemediateValidation(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/remediate", agentToken,
		model.RemediateRequest{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeValidation, detail.Code)
}

func TestDecaySweepEndpoint(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/decay/sweep", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Seeded items are recent and live, so nothing crosses the archive
	// threshold; the superseded ADR is outside the sweep population.
	data := decodeData[map[string]int](t, resp)
	assert.Equal(t, 0, data["archived"])
}

// newMCPClient connects to the test server's /mcp endpoint with the given
// bearer token.
func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func initMCP(t *testing.T, c *mcpclient.Client) context.Context {
	t.Helper()
	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return ctx
}

func TestMCPInitialize(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	initResult, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kioku", initResult.ServerInfo.Name)
}

func TestMCPListTools(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	ctx := initMCP(t, c)

	toolsResult, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)

	toolNames := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		toolNames[tool.Name] = true
	}
	for _, name := range []string{"kioku_find_related", "kioku_auto_link", "kioku_contribute", "kioku_remediate"} {
		assert.True(t, toolNames[name], "expected %s tool", name)
	}
}

func TestMCPFindRelated(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	ctx := initMCP(t, c)

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "kioku_find_related",
			Arguments: map[string]any{
				"item_type": "adr",
				"item_id":   "ADR-100",
			},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "FAIL-100")
}
