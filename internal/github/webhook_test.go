package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commentPayload = `{
  "action": "created",
  "issue": {
    "number": 5,
    "html_url": "https://github.com/acme/policies/pull/5",
    "pull_request": {"url": "https://api.github.com/repos/acme/policies/pulls/5"}
  },
  "comment": {"body": "/factcheck please", "user": {"login": "reviewer"}}
}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(event, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func TestWebhook_FactCheckComment(t *testing.T) {
	h := NewWebhookHandler("s3cret", zerolog.Nop())
	got := make(chan FactCheckTrigger, 1)
	h.OnFactCheck(func(_ context.Context, trigger FactCheckTrigger) { got <- trigger })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", commentPayload, sign("s3cret", commentPayload)))
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case trigger := <-got:
		assert.Equal(t, "https://github.com/acme/policies/pull/5", trigger.PRURL)
		assert.Equal(t, "reviewer", trigger.Requester)
	case <-time.After(time.Second):
		t.Fatal("fact-check trigger not delivered")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h := NewWebhookHandler("s3cret", zerolog.Nop())
	h.OnFactCheck(func(context.Context, FactCheckTrigger) { t.Error("must not trigger") })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", commentPayload, sign("wrong", commentPayload)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_UnsignedRejectedWithoutSecret(t *testing.T) {
	h := NewWebhookHandler("", zerolog.Nop())
	h.OnFactCheck(func(context.Context, FactCheckTrigger) { t.Error("must not trigger") })

	for _, sig := range []string{"", sign("", commentPayload)} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest("issue_comment", commentPayload, sig))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	h := NewWebhookHandler("s3cret", zerolog.Nop())
	h.OnFactCheck(func(context.Context, FactCheckTrigger) { t.Error("must not trigger") })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", commentPayload, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_IgnoresOtherComments(t *testing.T) {
	h := NewWebhookHandler("s3cret", zerolog.Nop())
	called := make(chan struct{}, 1)
	h.OnFactCheck(func(context.Context, FactCheckTrigger) { called <- struct{}{} })

	plain := strings.Replace(commentPayload, "/factcheck please", "LGTM", 1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", plain, sign("s3cret", plain)))
	require.Equal(t, http.StatusOK, rec.Code)

	issueOnly := strings.Replace(commentPayload, `"pull_request": {"url": "https://api.github.com/repos/acme/policies/pulls/5"}`, `"title": "issue"`, 1)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", issueOnly, sign("s3cret", issueOnly)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("ping", `{"zen":"x"}`, sign("s3cret", `{"zen":"x"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-called:
		t.Fatal("unexpected trigger")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhook_BadPayload(t *testing.T) {
	h := NewWebhookHandler("s3cret", zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest("issue_comment", "{", sign("s3cret", "{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
