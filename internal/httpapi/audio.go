package httpapi

import (
	"io"
	"net/http"

	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

const maxAudioMemory = 32 * 1024 * 1024

// AudioTranscriptions handles POST /v1/audio/transcriptions.
func (h *Handler) AudioTranscriptions(w http.ResponseWriter, r *http.Request) {
	h.handleAudio(w, r, payload.AudioTranscribe)
}

// AudioTranslations handles POST /v1/audio/translations.
func (h *Handler) AudioTranslations(w http.ResponseWriter, r *http.Request) {
	h.handleAudio(w, r, payload.AudioTranslate)
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request, op payload.AudioOp) {
	if err := r.ParseMultipartForm(maxAudioMemory); err != nil {
		writeLiteralError(w, http.StatusUnprocessableEntity, "failed to parse multipart form: "+err.Error(), "multipart_error")
		return
	}

	req := gatewaytypes.AudioRequest{
		Model:    r.FormValue("model"),
		Language: r.FormValue("language"),
		Format:   r.FormValue("response_format"),
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("audio file field is required"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBodySize+1))
	if err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("failed to read audio file"))
		return
	}
	if int64(len(data)) > h.maxBodySize {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("audio file too large"))
		return
	}

	pld := &payload.Payload{
		Kind:          payload.KindAudio,
		Model:         req.Model,
		Audio:         &req,
		AudioOp:       op,
		AudioFile:     data,
		AudioFileName: header.Filename,
	}
	h.dispatchRequest(w, r, pld, "audio."+string(op))
}
