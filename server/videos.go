package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"videoRAG/core"
	"videoRAG/processors"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		input    *core.InputError
		conflict *core.StateConflictError
		svc      *core.ServiceUnavailableError
	)
	switch {
	case errors.As(err, &input):
		switch {
		case errors.Is(err, core.ErrUnsupportedMedia):
			return http.StatusUnsupportedMediaType
		case errors.Is(err, core.ErrMediaTooLong):
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case errors.Is(err, core.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmptyIndex):
		return http.StatusUnprocessableEntity
	case errors.As(err, &svc):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := err.Error()
	var perr *core.PipelineError
	if errors.As(err, &perr) {
		detail = "processing failed: " + detail
	}
	core.WriteJSON(w, status, errorBody{Detail: detail})
}

func isAsync(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

type submitBody struct {
	VideoPath string `json:"video_path"`
	Title     string `json:"title"`
}

// uploadHandler accepts either a multipart "file" upload or a JSON body
// naming a media file already on disk.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	var (
		req   processors.SubmitRequest
		saved string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		path, title, err := s.saveUpload(r)
		if err != nil {
			writeError(w, err)
			return
		}
		saved = path
		req = processors.SubmitRequest{MediaPath: path, Title: title}
	} else {
		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			core.WriteJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body: " + err.Error()})
			return
		}
		req = processors.SubmitRequest{MediaPath: body.VideoPath, Title: body.Title}
	}

	submit, status := s.videos.Submit, http.StatusCreated
	if isAsync(r) {
		submit, status = s.videos.SubmitAsync, http.StatusAccepted
	}
	video, err := submit(r.Context(), req)
	if err != nil {
		// rejected uploads leave nothing behind
		if saved != "" && video == nil {
			os.Remove(saved)
		}
		writeError(w, err)
		return
	}
	core.WriteJSON(w, status, video)
}

// saveUpload stores the multipart file under the media directory and returns
// its path plus a title derived from the client file name.
func (s *Server) saveUpload(r *http.Request) (string, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", "", core.NewInputError(core.ErrMediaTooLong, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
		}
		return "", "", core.NewInputError(core.ErrMissingMedia, err.Error())
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !processors.AllowedExtensions[ext] {
		return "", "", core.NewInputError(core.ErrUnsupportedMedia, fmt.Sprintf("%q", ext))
	}
	if err := os.MkdirAll(s.mediaDir, 0755); err != nil {
		return "", "", fmt.Errorf("prepare media directory: %w", err)
	}
	path := filepath.Join(s.mediaDir, uuid.NewString()+ext)
	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("save upload: %w", err)
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}
	return path, title, nil
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	video, err := s.videos.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, video)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.videos.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reprocessHandler(w http.ResponseWriter, r *http.Request) {
	async := isAsync(r)
	video, err := s.videos.Reprocess(r.Context(), mux.Vars(r)["id"], !async)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if async {
		status = http.StatusAccepted
	}
	core.WriteJSON(w, status, video)
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		core.WriteJSON(w, http.StatusBadRequest, errorBody{Detail: "q required"})
		return
	}
	resp, err := s.videos.Search(r.Context(), mux.Vars(r)["id"], q)
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, resp)
}
