package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/policy-agent/pkg/tokenstore"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

type fakeFile struct {
	content string
	sha     string
}

type fakePull struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Draft  bool   `json:"draft"`
	State  string `json:"state"`
	Head   string `json:"-"`
	Base   string `json:"-"`
}

// fakeGitHub is an in-memory stand-in for the subset of the REST API the
// gateway uses.
type fakeGitHub struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	owner      string
	repo       string
	refs       map[string]string              // branch → sha
	files      map[string]map[string]fakeFile // branch → path → file
	pulls      []*fakePull
	comments   map[int][]string
	labels     []Label
	added      map[int][]string
	diff       string
	requests   int
	tokenMints int
	puts       int
	refCreates int
	seq        int

	tokenStatus       int  // non-zero: token endpoint answers with this status
	contentsStatus    int  // non-zero: contents GET answers with this status
	raceOnCreateRef   bool // GetRef 404s but CreateRef reports the ref exists
	lastAuthorization string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{
		t:        t,
		owner:    "acme",
		repo:     "policies",
		refs:     map[string]string{"main": "base-sha"},
		files:    map[string]map[string]fakeFile{"main": {}},
		comments: map[int][]string{},
		added:    map[int][]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/{id}/access_tokens", f.handleToken)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch...}", f.handleGetRef)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.handleCreateRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{ref...}", f.handleTree)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.handlePutContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", f.handleListPulls)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.handleCreatePull)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}", f.handleGetPull)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/pulls/{number}", f.handleEditPull)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/comments", f.handleComment)
	mux.HandleFunc("GET /repos/{owner}/{repo}/labels", f.handleLabels)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/labels", f.handleAddLabels)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		if !strings.HasPrefix(r.URL.Path, "/app/") {
			f.lastAuthorization = r.Header.Get("Authorization")
		}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) app(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(AppConfig{
		AppID:      12345,
		PrivateKey: generateTestKey(t),
		APIURL:     f.srv.URL,
		Timeout:    5 * time.Second,
		Store:      tokenstore.NewMemoryStore(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	app.retry.MaxAttempts = 1
	return app
}

func (f *fakeGitHub) gateway(t *testing.T) *Gateway {
	t.Helper()
	ref := RepositoryRef{Owner: f.owner, Repo: f.repo, BaseBranch: "main"}
	return NewGateway(f.app(t).Installation(67890), ref, 5*time.Second, zerolog.Nop())
}

func (f *fakeGitHub) putFile(branch, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[branch] == nil {
		f.files[branch] = map[string]fakeFile{}
	}
	f.seq++
	f.files[branch][path] = fakeFile{content: content, sha: fmt.Sprintf("blob-%d", f.seq)}
}

func (f *fakeGitHub) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (f *fakeGitHub) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing JWT"})
		return
	}
	if f.tokenStatus != 0 {
		writeJSON(w, f.tokenStatus, map[string]string{"message": "token refused"})
		return
	}
	f.tokenMints++
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      fmt.Sprintf("ghs_test_token_%d", f.tokenMints),
		"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
}

func (f *fakeGitHub) handleGetRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := r.PathValue("branch")
	sha, ok := f.refs[branch]
	if !ok || (f.raceOnCreateRef && branch != "main") {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (f *fakeGitHub) handleCreateRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	branch := strings.TrimPrefix(body.Ref, "refs/heads/")
	if _, exists := f.refs[branch]; exists || f.raceOnCreateRef {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
		return
	}
	f.refCreates++
	f.refs[branch] = body.SHA
	copied := map[string]fakeFile{}
	for p, file := range f.files["main"] {
		copied[p] = file
	}
	f.files[branch] = copied
	writeJSON(w, http.StatusCreated, map[string]any{
		"ref":    body.Ref,
		"object": map[string]string{"sha": body.SHA, "type": "commit"},
	})
}

func (f *fakeGitHub) handleTree(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.files[r.PathValue("ref")]
	if !ok {
		notFound(w)
		return
	}
	entries := []map[string]string{}
	dirs := map[string]bool{}
	for p := range files {
		entries = append(entries, map[string]string{"path": p, "type": "blob", "mode": "100644"})
		if i := strings.LastIndex(p, "/"); i > 0 && !dirs[p[:i]] {
			dirs[p[:i]] = true
			entries = append(entries, map[string]string{"path": p[:i], "type": "tree", "mode": "040000"})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sha": "tree-sha", "tree": entries, "truncated": false})
}

func (f *fakeGitHub) handleGetContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentsStatus != 0 {
		writeJSON(w, f.contentsStatus, map[string]string{"message": "boom"})
		return
	}
	ref := r.URL.Query().Get("ref")
	path := r.PathValue("path")
	file, ok := f.files[ref][path]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     path,
		"sha":      file.sha,
		"content":  base64.StdEncoding.EncodeToString([]byte(file.content)),
	})
}

func (f *fakeGitHub) handlePutContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Message string  `json:"message"`
		Content []byte  `json:"content"`
		SHA     *string `json:"sha"`
		Branch  string  `json:"branch"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	path := r.PathValue("path")
	branchFiles, ok := f.files[body.Branch]
	if !ok {
		notFound(w)
		return
	}
	existing, exists := branchFiles[path]
	switch {
	case exists && body.SHA == nil:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `"sha" wasn't supplied.`})
		return
	case exists && *body.SHA != existing.sha:
		writeJSON(w, http.StatusConflict, map[string]string{"message": "sha does not match"})
		return
	}
	f.puts++
	f.seq++
	branchFiles[path] = fakeFile{content: string(body.Content), sha: fmt.Sprintf("blob-%d", f.seq)}
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{"path": path, "sha": branchFiles[path].sha},
		"commit":  map[string]string{"sha": fmt.Sprintf("commit-%d", f.seq), "message": body.Message},
	})
}

func (f *fakeGitHub) pullJSON(p *fakePull) map[string]any {
	return map[string]any{
		"number":   p.Number,
		"title":    p.Title,
		"body":     p.Body,
		"draft":    p.Draft,
		"state":    p.State,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/pull/%d", f.owner, f.repo, p.Number),
		"head":     map[string]string{"ref": p.Head, "sha": "head-sha"},
		"base":     map[string]string{"ref": p.Base},
	}
}

func (f *fakeGitHub) handleListPulls(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := r.URL.Query()
	head := strings.TrimPrefix(q.Get("head"), f.owner+":")
	out := []map[string]any{}
	// newest first, as the API does by default
	pulls := append([]*fakePull(nil), f.pulls...)
	sort.Slice(pulls, func(i, j int) bool { return pulls[i].Number > pulls[j].Number })
	for _, p := range pulls {
		if p.State == q.Get("state") && p.Head == head && p.Base == q.Get("base") {
			out = append(out, f.pullJSON(p))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeGitHub) handleCreatePull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
		Draft bool   `json:"draft"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	p := &fakePull{Number: len(f.pulls) + 1, Title: body.Title, Body: body.Body, Draft: body.Draft, State: "open", Head: body.Head, Base: body.Base}
	f.pulls = append(f.pulls, p)
	writeJSON(w, http.StatusCreated, f.pullJSON(p))
}

func (f *fakeGitHub) pull(r *http.Request) *fakePull {
	n, _ := strconv.Atoi(r.PathValue("number"))
	for _, p := range f.pulls {
		if p.Number == n {
			return p
		}
	}
	return nil
}

func (f *fakeGitHub) handleGetPull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pull(r)
	if p == nil {
		notFound(w)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "diff") {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(f.diff))
		return
	}
	writeJSON(w, http.StatusOK, f.pullJSON(p))
}

func (f *fakeGitHub) handleEditPull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pull(r)
	if p == nil {
		notFound(w)
		return
	}
	var body struct {
		Title *string `json:"title"`
		Body  *string `json:"body"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	if body.Title != nil {
		p.Title = *body.Title
	}
	if body.Body != nil {
		p.Body = *body.Body
	}
	writeJSON(w, http.StatusOK, f.pullJSON(p))
}

func (f *fakeGitHub) handleComment(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pull(r)
	if p == nil {
		notFound(w)
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.comments[p.Number] = append(f.comments[p.Number], body.Body)
	id := len(f.comments[p.Number])
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"body":     body.Body,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/pull/%d#issuecomment-%d", f.owner, f.repo, p.Number, id),
	})
}

func (f *fakeGitHub) handleLabels(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.labels)
}

func (f *fakeGitHub) handleAddLabels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&names))
	n, _ := strconv.Atoi(r.PathValue("number"))
	f.added[n] = append(f.added[n], names...)
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]string{"name": name})
	}
	writeJSON(w, http.StatusOK, out)
}
