package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/orchestrator"
)

// ---- session operations ----

type playRequest struct {
	NovelID    uuid.UUID `json:"novel_id"`
	VoiceID    uuid.UUID `json:"voice_id"`
	StartIndex uint32    `json:"start_index"`
}

type playResponse struct {
	SessionID    string    `json:"session_id"`
	NovelID      uuid.UUID `json:"novel_id"`
	VoiceID      uuid.UUID `json:"voice_id"`
	CurrentIndex uint32    `json:"current_index"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.Play(r.Context(), req.NovelID, req.VoiceID, req.StartIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playResponse{
		SessionID:    res.SessionID,
		NovelID:      res.NovelID,
		VoiceID:      res.VoiceID,
		CurrentIndex: res.CurrentIndex,
	})
}

type seekRequest struct {
	SessionID    string `json:"session_id"`
	SegmentIndex uint32 `json:"segment_index"`
}

type seekResponse struct {
	SessionID      string `json:"session_id"`
	CurrentIndex   uint32 `json:"current_index"`
	CancelledCount int    `json:"cancelled_count"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.Seek(r.Context(), req.SessionID, req.SegmentIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seekResponse{
		SessionID:      res.SessionID,
		CurrentIndex:   res.CurrentIndex,
		CancelledCount: res.CancelledCount,
	})
}

type changeVoiceRequest struct {
	SessionID string    `json:"session_id"`
	VoiceID   uuid.UUID `json:"voice_id"`
}

type changeVoiceResponse struct {
	SessionID      string    `json:"session_id"`
	VoiceID        uuid.UUID `json:"voice_id"`
	CancelledCount int       `json:"cancelled_count"`
}

func (s *Server) handleChangeVoice(w http.ResponseWriter, r *http.Request) {
	var req changeVoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.ChangeVoice(r.Context(), req.SessionID, req.VoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeVoiceResponse{
		SessionID:      res.SessionID,
		VoiceID:        res.VoiceID,
		CancelledCount: res.CancelledCount,
	})
}

type closeSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.CloseSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": res.SessionID})
}

// ---- inference ----

type submitInferRequest struct {
	SessionID      string   `json:"session_id"`
	SegmentIndices []uint32 `json:"segment_indices"`
}

type taskInfoDTO struct {
	TaskID       string `json:"task_id"`
	SegmentIndex uint32 `json:"segment_index"`
	State        string `json:"state"`
}

func (s *Server) handleSubmitInfer(w http.ResponseWriter, r *http.Request) {
	var req submitInferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	infos, err := s.deps.Orchestrator.SubmitInfer(r.Context(), req.SessionID, req.SegmentIndices)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]taskInfoDTO, len(infos))
	for i, info := range infos {
		dtos[i] = taskInfoDTO{TaskID: info.TaskID, SegmentIndex: info.SegmentIndex, State: string(info.State)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": dtos})
}

type taskStatusRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type taskStatusDTO struct {
	TaskID       string `json:"task_id"`
	SegmentIndex uint32 `json:"segment_index"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	statuses := s.deps.Orchestrator.QueryTaskStatus(req.TaskIDs)
	dtos := make([]taskStatusDTO, len(statuses))
	for i, st := range statuses {
		dtos[i] = taskStatusDTO{
			TaskID:       st.TaskID,
			SegmentIndex: st.SegmentIndex,
			State:        string(st.State),
			Error:        st.Error,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": dtos})
}

// ---- audio read path ----

type audioRequest struct {
	SessionID    string `json:"session_id"`
	SegmentIndex uint32 `json:"segment_index"`
}

// handleGetAudio serves the cached audio for one segment of the session's
// novel in its current voice. A transcode failure falls back to the cached
// WAV rather than failing the read.
func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.deps.Sessions.Get(req.SessionID)
	if err != nil {
		writeError(w, &orchestrator.NotFoundError{Resource: "Session", ID: req.SessionID})
		return
	}
	s.deps.Sessions.Touch(req.SessionID)

	key, ok, err := s.deps.Cache.Lookup(sess.NovelID, req.SegmentIndex, sess.VoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "audio not ready"})
		return
	}

	data, err := s.deps.Cache.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if data == nil {
		// Mapping survived an eviction race; treat as not ready.
		writeJSON(w, http.StatusNotFound, errorBody{Error: "audio not ready"})
		return
	}

	contentType := "audio/wav"
	if s.transcoder != nil {
		if opus, err := s.transcoder.Transcode(data); err == nil {
			data = opus
			contentType = "audio/opus"
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// ---- novel catalog ----

type novelDTO struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	TotalSegments int       `json:"total_segments"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toNovelDTO(n *catalog.Novel) novelDTO {
	return novelDTO{
		ID:            n.ID,
		Title:         n.Title,
		TotalSegments: n.TotalSegments,
		Status:        string(n.Status),
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

// handleUploadNovel accepts a multipart form with a "title" field and a
// "file" part holding the raw text.
func (s *Server) handleUploadNovel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed upload: " + err.Error()})
		return
	}

	title := r.FormValue("title")
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file part"})
		return
	}
	defer file.Close()

	text, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + err.Error()})
		return
	}

	novel, err := s.deps.Ingest.UploadNovel(r.Context(), title, string(text))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, toNovelDTO(novel))
}

type novelIDRequest struct {
	NovelID uuid.UUID `json:"novel_id"`
}

func (s *Server) handleDeleteNovel(w http.ResponseWriter, r *http.Request) {
	var req novelIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Ingest.DeleteNovel(r.Context(), req.NovelID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"novel_id": req.NovelID})
}

func (s *Server) handleGetNovel(w http.ResponseWriter, r *http.Request) {
	var req novelIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	novel, err := s.deps.Novels.FindByID(r.Context(), req.NovelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if novel == nil {
		writeError(w, &orchestrator.NotFoundError{Resource: "Novel", ID: req.NovelID.String()})
		return
	}
	writeJSON(w, http.StatusOK, toNovelDTO(novel))
}

func (s *Server) handleListNovels(w http.ResponseWriter, r *http.Request) {
	novels, err := s.deps.Novels.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]novelDTO, len(novels))
	for i := range novels {
		dtos[i] = toNovelDTO(&novels[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"novels": dtos})
}

type novelSegmentsRequest struct {
	NovelID uuid.UUID `json:"novel_id"`
	Offset  int       `json:"offset"`
	Limit   int       `json:"limit"`
}

type segmentDTO struct {
	Index     uint32 `json:"index"`
	Content   string `json:"content"`
	CharCount int    `json:"char_count"`
}

func (s *Server) handleNovelSegments(w http.ResponseWriter, r *http.Request) {
	var req novelSegmentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}

	segments, err := s.deps.Novels.Segments(r.Context(), req.NovelID, req.Offset, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]segmentDTO, len(segments))
	for i, seg := range segments {
		dtos[i] = segmentDTO{Index: seg.Index, Content: seg.Content, CharCount: seg.CharCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": dtos})
}

// ---- voice catalog ----

type voiceDTO struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toVoiceDTO(v *catalog.Voice) voiceDTO {
	return voiceDTO{ID: v.ID, Name: v.Name, Description: v.Description, CreatedAt: v.CreatedAt}
}

func (s *Server) handleUploadVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed upload: " + err.Error()})
		return
	}

	name := r.FormValue("name")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file part"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + err.Error()})
		return
	}

	ext := ".wav"
	if header != nil {
		if i := lastDot(header.Filename); i >= 0 {
			ext = header.Filename[i:]
		}
	}

	voice, err := s.deps.Ingest.UploadVoice(r.Context(), name, ext, data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toVoiceDTO(voice))
}

type voiceIDRequest struct {
	VoiceID uuid.UUID `json:"voice_id"`
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Ingest.DeleteVoice(r.Context(), req.VoiceID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"voice_id": req.VoiceID})
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	voice, err := s.deps.Voices.FindByID(r.Context(), req.VoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if voice == nil {
		writeError(w, &orchestrator.NotFoundError{Resource: "Voice", ID: req.VoiceID.String()})
		return
	}
	writeJSON(w, http.StatusOK, toVoiceDTO(voice))
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.deps.Voices.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]voiceDTO, len(voices))
	for i := range voices {
		dtos[i] = toVoiceDTO(&voices[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": dtos})
}

// handleVoiceAudio serves voice reference audio. This is the endpoint the
// external TTS service fetches when it receives a voice_ref URL.
func (s *Server) handleVoiceAudio(w http.ResponseWriter, r *http.Request) {
	voiceID, err := uuid.Parse(r.PathValue("voice_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid voice id"})
		return
	}

	voice, err := s.deps.Voices.FindByID(r.Context(), voiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if voice == nil {
		writeError(w, &orchestrator.NotFoundError{Resource: "Voice", ID: voiceID.String()})
		return
	}

	data, err := s.deps.Storage.ReadVoiceAudio(voice.AudioPath)
	if err != nil {
		writeError(w, errors.New("voice audio unavailable"))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func lastDot(name string) int {
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '.':
			return i
		case '/', '\\':
			return -1
		}
	}
	return -1
}
