package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/agent"
	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/requestid"
	"github.com/p-blackswan/policy-agent/internal/store"
)

// StreamFrame is one Server-Sent Events data frame of /chat/stream. Exactly
// one of Chunk, Error or Complete is set.
type StreamFrame struct {
	Chunk    string `json:"chunk,omitempty"`
	Error    string `json:"error,omitempty"`
	Type     string `json:"type,omitempty"`
	Complete bool   `json:"complete,omitempty"`
}

// ChatStatus is the body of GET /api/v1/chat/status.
type ChatStatus struct {
	Initialized bool     `json:"initialized"`
	Tools       []string `json:"tools"`
}

// streamErrorFrame tags a turn failure the way the stream client expects.
func streamErrorFrame(err error) StreamFrame {
	switch perrors.KindOf(err) {
	case perrors.KindValidation:
		return StreamFrame{Error: err.Error(), Type: "validation"}
	case perrors.KindProvider, perrors.KindGateway, perrors.KindNotFound, perrors.KindAuthentication:
		return StreamFrame{Error: err.Error(), Type: "service"}
	default:
		return StreamFrame{Error: "Unknown error", Type: "unknown"}
	}
}

func writeFrame(w *bufio.Writer, f StreamFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	return w.Flush()
}

// ChatStream handles POST /api/v1/chat/stream. The turn runs inside the
// stream writer. Its final text is sent as one chunk frame followed by a
// complete frame, or a single tagged error frame on failure.
func (h *handlers) ChatStream(c *fiber.Ctx) error {
	if h.deps.Chat == nil {
		return unavailable(c, "chat")
	}

	var req agent.TurnRequest
	parseErr := c.BodyParser(&req)
	ctx := c.UserContext()
	logger := requestid.Logger(ctx, h.logger)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		h.streamTurn(ctx, logger, w, req, parseErr)
	})
	return nil
}

func (h *handlers) streamTurn(ctx context.Context, logger zerolog.Logger, w *bufio.Writer, req agent.TurnRequest, parseErr error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("chat stream panicked")
			_ = writeFrame(w, StreamFrame{Error: "Unexpected error occurred", Type: "unexpected"})
		}
	}()

	if parseErr != nil {
		_ = writeFrame(w, StreamFrame{Error: "Invalid request body: " + parseErr.Error(), Type: "validation"})
		return
	}

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
		logger.Error().Err(err).Msg("streamed chat turn failed")
		if werr := writeFrame(w, streamErrorFrame(err)); werr != nil {
			logger.Debug().Err(werr).Msg("client went away")
		}
		return
	}
	if err := writeFrame(w, StreamFrame{Chunk: resp.Text}); err != nil {
		logger.Debug().Err(err).Msg("client went away")
		return
	}
	_ = writeFrame(w, StreamFrame{Complete: true})
}

// ChatStatus handles GET /api/v1/chat/status.
func (h *handlers) ChatStatus(c *fiber.Ctx) error {
	tools := h.deps.ChatTools
	if h.deps.Chat == nil || tools == nil {
		tools = []string{}
	}
	return c.JSON(ChatStatus{Initialized: h.deps.Chat != nil, Tools: tools})
}
