package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/agent"
	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/factcheck"
	"github.com/p-blackswan/policy-agent/internal/requestid"
	"github.com/p-blackswan/policy-agent/internal/store"
)

type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

func newHandlers(deps Deps, logger zerolog.Logger) *handlers {
	return &handlers{deps: deps, logger: logger.With().Str("component", "handlers").Logger()}
}

func unavailable(c *fiber.Ctx, feature string) error {
	return problemResponse(c, fiber.StatusServiceUnavailable,
		"not_configured", "Service Unavailable",
		feature+" is not configured")
}

func badBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}

// errorResponse maps a classified error onto a problem response.
func errorResponse(c *fiber.Ctx, err error) error {
	var status int
	switch perrors.KindOf(err) {
	case perrors.KindValidation:
		status = fiber.StatusBadRequest
	case perrors.KindAuthentication:
		status = fiber.StatusUnauthorized
	case perrors.KindNotFound:
		status = fiber.StatusNotFound
	case perrors.KindProvider, perrors.KindGateway:
		status = fiber.StatusBadGateway
	default:
		status = fiber.StatusInternalServerError
	}
	detail := err.Error()
	if status == fiber.StatusInternalServerError {
		detail = "An internal error occurred"
	}
	return problemResponse(c, status, perrors.KindOf(err).String(), http.StatusText(status), detail)
}

func (h *handlers) record(ctx context.Context, r *store.Run) {
	if h.deps.Runs == nil {
		return
	}
	r.RequestID = requestid.FromContext(ctx)
	if err := h.deps.Runs.Record(context.WithoutCancel(ctx), r); err != nil {
		logger := requestid.Logger(ctx, h.logger)
		logger.Warn().Err(err).Str("kind", r.Kind).Msg("recording run failed")
	}
}

// Liveness handles GET /healthz.
func (h *handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Health == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	report := h.deps.Health.Run(c.UserContext())
	if !report.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": report.Checks,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": report.Checks})
}

// Chat handles POST /api/v1/chat.
func (h *handlers) Chat(c *fiber.Ctx) error {
	if h.deps.Chat == nil {
		return unavailable(c, "chat")
	}
	var req agent.TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	ctx := c.UserContext()
	resp, err := h.deps.Chat.Turn(ctx, req)

	run := &store.Run{Kind: store.KindChat, Status: "ok", Branch: req.BranchID}
	if resp != nil {
		run.Detail = resp.TargetFilePath
	}
	if err != nil {
		run.Status = "error"
		run.Detail = err.Error()
	}
	h.record(ctx, run)

	if err != nil {
		logger := requestid.Logger(ctx, h.logger)
		logger.Error().Err(err).Msg("chat turn failed")
		return errorResponse(c, err)
	}
	return c.JSON(resp)
}

// FactCheck handles POST /api/v1/factcheck.
func (h *handlers) FactCheck(c *fiber.Ctx) error {
	if h.deps.FactCheck == nil {
		return unavailable(c, "fact-check")
	}
	var req factcheck.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(factcheck.Failed(factcheck.CodeInvalidPRURL))
	}
	if req.PRURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(factcheck.Failed(factcheck.CodeInvalidPRURL))
	}
	if req.Credential == "" {
		return c.Status(fiber.StatusBadRequest).JSON(factcheck.Failed(factcheck.CodeInvalidCredential))
	}

	ctx := c.UserContext()
	res := h.deps.FactCheck.Run(ctx, req)

	run := &store.Run{Kind: store.KindFactCheck, Status: "ok", PRURL: req.PRURL, Detail: res.CommentURL}
	if res.Error != nil {
		run.Status = string(res.Error.Code)
		run.Detail = ""
	}
	h.record(ctx, run)

	return c.Status(factCheckStatus(res)).JSON(res)
}

func factCheckStatus(res factcheck.Result) int {
	if res.Success || res.Error == nil {
		return fiber.StatusOK
	}
	switch res.Error.Code {
	case factcheck.CodeInvalidPRURL, factcheck.CodeInvalidCredential:
		return fiber.StatusBadRequest
	case factcheck.CodeAuthenticationFailed:
		return fiber.StatusUnauthorized
	case factcheck.CodePRNotFound:
		return fiber.StatusNotFound
	case factcheck.CodeLLMAPIError, factcheck.CodeCommentFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Resolve handles POST /api/v1/resolve.
func (h *handlers) Resolve(c *fiber.Ctx) error {
	if h.deps.Resolver == nil {
		return unavailable(c, "resolver")
	}
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation", "Bad Request", "query is required")
	}
	return c.JSON(h.deps.Resolver.Resolve(c.UserContext(), req.Query, req.CurrentPath))
}

// Research handles POST /api/v1/research.
func (h *handlers) Research(c *fiber.Ctx) error {
	if h.deps.Research == nil {
		return unavailable(c, "research")
	}
	var req ResearchRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	ctx := c.UserContext()
	res, err := h.deps.Research.Execute(ctx, req.Statement)

	run := &store.Run{Kind: store.KindResearch, Status: "ok"}
	if err != nil {
		run.Status = "error"
		run.Detail = err.Error()
	}
	h.record(ctx, run)

	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// ListFiles handles GET /api/v1/files?query=&ref=.
func (h *handlers) ListFiles(c *fiber.Ctx) error {
	if h.deps.Files == nil {
		return unavailable(c, "repository")
	}
	ctx := c.UserContext()
	query, ref := c.Query("query"), c.Query("ref")

	var (
		files []string
		err   error
	)
	if query != "" {
		files, err = h.deps.Files.SearchFiles(ctx, query, ref)
	} else {
		files, err = h.deps.Files.ListMarkdownFiles(ctx, ref)
	}
	if err != nil {
		return errorResponse(c, err)
	}
	if files == nil {
		files = []string{}
	}
	return c.JSON(FileListResponse{Files: files})
}

// GetFile handles GET /api/v1/files/*?branch=.
func (h *handlers) GetFile(c *fiber.Ctx) error {
	if h.deps.Files == nil {
		return unavailable(c, "repository")
	}
	path := c.Params("*")
	if path == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation", "Bad Request", "file path is required")
	}
	rec, err := h.deps.Files.GetFile(c.UserContext(), path, c.Query("branch"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(FileResponse{Path: rec.Path, Content: rec.Content, SHA: rec.SHA, Branch: rec.Branch})
}

// ListRuns handles GET /api/v1/runs?limit=.
func (h *handlers) ListRuns(c *fiber.Ctx) error {
	if h.deps.Runs == nil {
		return unavailable(c, "run history")
	}
	runs, err := h.deps.Runs.List(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return errorResponse(c, err)
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return c.JSON(RunListResponse{Runs: runs})
}
