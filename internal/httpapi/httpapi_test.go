package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cuemby/forgebox/internal/gateway"
	"github.com/cuemby/forgebox/internal/provisioner"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoErrorf(t, cmd.Run(), "git %v in %s failed: %s", args, dir, out.String())
}

func newSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	runGit(t, dir, "config", "user.email", "fixture@example.com")
	runGit(t, dir, "config", "user.name", "fixture")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	source := newSourceRepo(t)

	prov, err := provisioner.New(string(provisioner.ModeLocal), nil, "", nil, true)
	require.NoError(t, err)

	wctx := workspacecfg.WorkspaceContext{
		Name:         "http-test-" + t.Name(),
		Repositories: []workspacecfg.Repository{{URL: source, Path: "repo"}},
		SetupScript:  "true",
	}

	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(filepath.Join(cwd, "tmp")) })

	gw := gateway.New(prov, wctx)
	srv := httptest.NewServer(New(gw).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHTTPAPI_CreateWorkspace(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workspaces", createWorkspaceRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out workspaceIDResponse
	decodeBody(t, resp, &out)
	assert.NotEmpty(t, out.ID)
}

func TestHTTPAPI_ListWorkspaces(t *testing.T) {
	srv := newTestServer(t)

	createResp := postJSON(t, srv.URL+"/workspaces", createWorkspaceRequest{})
	var created workspaceIDResponse
	decodeBody(t, createResp, &created)

	resp, err := http.Get(srv.URL + "/workspaces")
	require.NoError(t, err)
	var listed workspaceListResponse
	decodeBody(t, resp, &listed)

	require.Len(t, listed.Workspaces, 1)
	assert.Equal(t, created.ID, listed.Workspaces[0].ID)
}

func TestHTTPAPI_CmdAndCmdWithOutput(t *testing.T) {
	srv := newTestServer(t)

	createResp := postJSON(t, srv.URL+"/workspaces", createWorkspaceRequest{})
	var created workspaceIDResponse
	decodeBody(t, createResp, &created)

	okResp := postJSON(t, srv.URL+"/workspaces/"+created.ID+"/cmd", cmdRequest{Cmd: "test -f README.md"})
	assert.Equal(t, http.StatusOK, okResp.StatusCode)

	failResp := postJSON(t, srv.URL+"/workspaces/"+created.ID+"/cmd", cmdRequest{Cmd: "exit 3"})
	assert.Equal(t, http.StatusUnprocessableEntity, failResp.StatusCode)

	outResp := postJSON(t, srv.URL+"/workspaces/"+created.ID+"/cmd_with_output", cmdRequest{Cmd: "exit 3"})
	require.Equal(t, http.StatusOK, outResp.StatusCode)
	var result cmdWithOutputResponse
	decodeBody(t, outResp, &result)
	assert.EqualValues(t, 3, result.ExitCode)
}

func TestHTTPAPI_WriteAndReadFile(t *testing.T) {
	srv := newTestServer(t)

	createResp := postJSON(t, srv.URL+"/workspaces", createWorkspaceRequest{})
	var created workspaceIDResponse
	decodeBody(t, createResp, &created)

	content := base64.StdEncoding.EncodeToString([]byte("written over http"))
	writeResp := postJSON(t, srv.URL+"/workspaces/"+created.ID+"/write_file", writeFileRequest{Path: "note.txt", Content: content})
	require.Equal(t, http.StatusOK, writeResp.StatusCode)

	readResp := postJSON(t, srv.URL+"/workspaces/"+created.ID+"/read_file", readFileRequest{Path: "note.txt"})
	require.Equal(t, http.StatusOK, readResp.StatusCode)
	defer readResp.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(readResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "written over http", buf.String())
}

func TestHTTPAPI_DestroyWorkspace(t *testing.T) {
	srv := newTestServer(t)

	createResp := postJSON(t, srv.URL+"/workspaces", createWorkspaceRequest{})
	var created workspaceIDResponse
	decodeBody(t, createResp, &created)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/workspaces/"+created.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var existed bool
	decodeBody(t, resp, &existed)
	assert.True(t, existed, "DELETE on a known workspace should report true")

	listResp, err := http.Get(srv.URL + "/workspaces")
	require.NoError(t, err)
	var listed workspaceListResponse
	decodeBody(t, listResp, &listed)
	assert.Empty(t, listed.Workspaces)
}

func TestHTTPAPI_CommandOnUnknownWorkspaceIsNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workspaces/does-not-exist/cmd", cmdRequest{Cmd: "true"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health healthResponse
	decodeBody(t, resp, &health)
	assert.True(t, health.Healthy)
}
