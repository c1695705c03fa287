// Package factcheck reviews a pull request's diff for factual errors with a
// completion provider and posts the findings as a PR comment.
package factcheck

// Code tags a failed Result.
type Code string

const (
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeInvalidCredential    Code = "INVALID_CREDENTIAL"
	CodeInvalidPRURL         Code = "INVALID_PR_URL"
	CodePRNotFound           Code = "PR_NOT_FOUND"
	CodeLLMAPIError          Code = "LLM_API_ERROR"
	CodeCommentFailed        Code = "COMMENT_FAILED"
	CodeInternal             Code = "INTERNAL_SERVER_ERROR"
)

var messages = map[Code]string{
	CodeAuthenticationFailed: "認証に失敗しました。有効な認証情報を指定してください。",
	CodeInvalidCredential:    "認証情報が正しくありません。",
	CodeInvalidPRURL:         "PRのURLが正しくありません。'https://github.com/owner/repo/pull/数字' の形式で指定してください。",
	CodePRNotFound:           "指定されたPRが見つかりませんでした。PRが存在するか、アクセス権があるか確認してください。",
	CodeLLMAPIError:          "ファクトチェック処理中にエラーが発生しました。しばらく経ってから再試行してください。",
	CodeCommentFailed:        "ファクトチェック結果の投稿に失敗しました。GitHubの権限設定を確認してください。",
	CodeInternal:             "予期しないエラーが発生しました。",
}

// Message returns the user-facing Japanese message for c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeInternal]
}

// Request asks for one pull request to be fact-checked.
type Request struct {
	PRURL      string `json:"prUrl"`
	Credential string `json:"credential"`
}

// ResultError describes why a run failed.
type ResultError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a run: either Success with CommentURL, or Error.
type Result struct {
	Success    bool         `json:"success"`
	CommentURL string       `json:"commentUrl,omitempty"`
	Error      *ResultError `json:"error,omitempty"`
}

// Succeeded returns a successful Result.
func Succeeded(commentURL string) Result {
	return Result{Success: true, CommentURL: commentURL}
}

// Failed returns a failed Result carrying c's message.
func Failed(c Code) Result {
	return Result{Error: &ResultError{Code: c, Message: c.Message()}}
}

// Source is a reference cited for a detail.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Detail is the verdict on one claim of the document.
type Detail struct {
	Topic      string   `json:"topic"`
	Claim      string   `json:"claim"`
	IsFactual  bool     `json:"isFactual"`
	Correction string   `json:"correction"`
	Sources    []Source `json:"sources,omitempty"`
}

// Analysis is the structured form of the model's review.
type Analysis struct {
	Summary    string   `json:"summary"`
	Details    []Detail `json:"details"`
	Conclusion string   `json:"conclusion"`
}
