package gateway

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/c360/objectrelay/deadletter"
	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/errors"
	"github.com/c360/objectrelay/tracker"
)

type listResponse struct {
	Objects    []envelope.ObjectSummary `json:"objects"`
	Total      int                      `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalPages int                      `json:"total_pages"`
}

type deadLettersResponse struct {
	Letters []deadletter.StoredLetter `json:"letters"`
	Counts  map[string]int            `json:"counts"`
}

// handleWriteJSON accepts a raw JSON body and stores it as a JSON object
func (s *Server) handleWriteJSON(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	s.submitWrite(w, r, envelope.Request{
		Operation:   envelope.OpWrite,
		ObjectType:  envelope.TypeJSON,
		Payload:     envelope.Payload{Inline: body},
		ContentType: "application/json",
	})
}

// uploadHandler accepts a multipart form with a "file" field and stores it
// as the given object type
func (s *Server) uploadHandler(objectType envelope.ObjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge,
					"request body exceeds the upload limit")
				return
			}
			writeError(w, http.StatusBadRequest,
				"multipart form with a \"file\" field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
		if len(data) == 0 {
			writeError(w, http.StatusBadRequest, "uploaded file is empty")
			return
		}

		s.submitWrite(w, r, envelope.Request{
			Operation:   envelope.OpWrite,
			ObjectType:  objectType,
			Payload:     envelope.Payload{Inline: data},
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		})
	}
}

func (s *Server) submitWrite(w http.ResponseWriter, r *http.Request, req envelope.Request) {
	res, err := s.submitter.Submit(r.Context(), req)
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	if res.Status != envelope.StatusOK {
		s.respondFailureResult(w, res)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"object_id": res.ObjectID})
}

// handleRead streams the stored object bytes back with their content type
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	res, err := s.submitter.Submit(r.Context(), envelope.Request{
		Operation: envelope.OpRead,
		ObjectID:  r.PathValue("id"),
	})
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	if res.Status != envelope.StatusOK {
		s.respondFailureResult(w, res)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if res.Filename != "" {
		w.Header().Set("X-Object-Filename", res.Filename)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// handleList returns one page of stored object summaries
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, ok := intQuery(w, r, "page", 0)
	if !ok {
		return
	}
	pageSize, ok := intQuery(w, r, "page_size", 0)
	if !ok {
		return
	}

	res, err := s.submitter.Submit(r.Context(), envelope.Request{
		Operation: envelope.OpList,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	if res.Status != envelope.StatusOK {
		s.respondFailureResult(w, res)
		return
	}

	objects := res.Objects
	if objects == nil {
		objects = []envelope.ObjectSummary{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Objects:    objects,
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
	})
}

// handleDeadLetters serves the operator view of the dead-letter sink
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.letters == nil {
		writeError(w, http.StatusNotFound, "dead-letter store not hosted on this instance")
		return
	}

	limit, ok := intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	offset, ok := intQuery(w, r, "offset", 0)
	if !ok {
		return
	}

	letters, err := s.letters.List(r.Context(), limit, offset)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	counts, err := s.letters.CountByReason(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	if letters == nil {
		letters = []deadletter.StoredLetter{}
	}
	writeJSON(w, http.StatusOK, deadLettersResponse{Letters: letters, Counts: counts})
}

// readBody reads a size-capped request body, answering the client on
// failure. The boolean reports whether the caller should proceed.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				"request body exceeds the upload limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return nil, false
	}
	return body, true
}

// respondSubmitError maps pipeline errors to HTTP statuses. Internal
// detail goes to the log, not the client.
func (s *Server) respondSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case stderrors.Is(err, tracker.ErrRequestTimeout):
		s.logger.WarnContext(ctx, "request timed out in pipeline", "error", err)
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.IsInvalid(err):
		s.logger.WarnContext(ctx, "request rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.IsTransient(err):
		s.logger.ErrorContext(ctx, "pipeline unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		s.logger.ErrorContext(ctx, "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondFailureResult maps a non-OK result to its HTTP status, passing the
// worker's diagnostic through to the caller
func (s *Server) respondFailureResult(w http.ResponseWriter, res envelope.Result) {
	detail := res.ErrorDetail
	if detail == "" {
		detail = string(res.Status)
	}
	writeError(w, statusCode(res.Status), detail)
}

func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "dead-letter store query failed", "error", err)
	if errors.IsTransient(err) {
		writeError(w, http.StatusServiceUnavailable, "dead-letter store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func statusCode(status envelope.Status) int {
	switch status {
	case envelope.StatusValidationError:
		return http.StatusBadRequest
	case envelope.StatusNotFound:
		return http.StatusNotFound
	case envelope.StatusStorageError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// intQuery parses an optional integer query parameter, answering 400 on a
// malformed value. The boolean reports whether the caller should proceed.
func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message, "status": code})
}
