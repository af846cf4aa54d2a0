package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/ops"
	"github.com/ssvlabs/chain-task-gateway/x/task"
)

// payload is a task body that can be checked before it is enqueued.
type payload interface {
	Validate() error
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, ops.TaskCreateRoom, ops.CreateRoomPayload{GameID: r.PathValue("gameId")})
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var p ops.MintTokenPayload
	if s.decode(w, r, &p) {
		s.submit(w, r, ops.TaskMintToken, p)
	}
}

func (s *Server) handlePayChips(w http.ResponseWriter, r *http.Request) {
	var p ops.ChipsPayload
	if s.decode(w, r, &p) {
		s.submit(w, r, ops.TaskPayChips, p)
	}
}

func (s *Server) handleEarnChips(w http.ResponseWriter, r *http.Request) {
	var p ops.ChipsPayload
	if s.decode(w, r, &p) {
		s.submit(w, r, ops.TaskEarnChips, p)
	}
}

func (s *Server) handleCrossChainNFT(w http.ResponseWriter, r *http.Request) {
	var p ops.CrossChainNFTPayload
	if s.decode(w, r, &p) {
		s.submit(w, r, ops.TaskCreateCrossChainNFT, p.WithDefaultSource(s.cfg.HomeChain))
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("taskId")

	out, err := s.status.Resolve(r.Context(), id)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("task_id", id).Msg("Failed to resolve task")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	code := http.StatusOK
	if out.Status == task.StatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, out)
}

// submit enqueues p and, unless the caller asked for async, waits for the
// outcome and maps it to a status code.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, taskName string, p payload) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	async, err := asyncRequested(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if async {
		id, err := s.tasks.Enqueue(ctx, taskName, p)
		if err != nil {
			logger.Error().Err(err).Str("task", taskName).Msg("Failed to enqueue task")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, &task.Outcome{MessageID: id, Status: task.StatusPending})
		return
	}

	out, err := s.tasks.EnqueueAndWait(ctx, taskName, p, task.WaitOptions{})
	if err != nil {
		logger.Error().Err(err).Str("task", taskName).Msg("Task submission failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	code := outcomeCode(out.Status)
	if code == http.StatusInternalServerError && out.Status != task.StatusFailed {
		logger.Error().
			Str("task", taskName).
			Str("task_id", out.MessageID).
			Str("status", string(out.Status)).
			Msg("Wait returned a non-final status")
	}
	writeJSON(w, code, out)
}

// outcomeCode maps the result of a synchronous wait. Anything other than
// SUCCESS, FAILED or TIMEOUT is a broken wait and reported as a server error.
func outcomeCode(status task.Status) int {
	switch status {
	case task.StatusSuccess:
		return http.StatusOK
	case task.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func asyncRequested(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("async")
	if v == "" {
		return false, nil
	}
	async, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("async: %q is not a boolean", v)
	}
	return async, nil
}

// decode reads a JSON body into v, writing a 400 and returning false on error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}
