package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/andresmejia3/faceauth/internal/pipeline"
	"github.com/andresmejia3/faceauth/internal/verify"
	"github.com/google/uuid"
)

// multipart parts above this size spill to temporary files.
const formMemory = 32 << 20

type handlers struct {
	svc       Service
	maxUpload int64
}

type registerResponse struct {
	Message string `json:"message"`
	pipeline.RegistrationResult
}

// verifyResponse keeps the authenticated/similarity_* fields existing
// clients read, next to the full decision.
type verifyResponse struct {
	Authenticated  bool     `json:"authenticated"`
	SimilarityFace float64  `json:"similarity_face"`
	SimilarityID   *float64 `json:"similarity_id,omitempty"`
	verify.Result
}

func newVerifyResponse(res verify.Result) verifyResponse {
	out := verifyResponse{Authenticated: res.Verified, SimilarityFace: res.Scores["face"], Result: res}
	if s, ok := res.Scores["id"]; ok {
		out.SimilarityID = &s
	}
	return out
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	userID, err := formUUID(r, "user_id", true)
	if err != nil {
		respondError(w, r, err)
		return
	}
	concertID, err := formUUID(r, "concert_id", false)
	if err != nil {
		respondError(w, r, err)
		return
	}
	video, _, err := r.FormFile("video")
	if err != nil {
		respondError(w, r, badRequest("video is required"))
		return
	}
	defer video.Close()

	res, err := h.svc.Register(r.Context(), pipeline.RegisterRequest{UserID: userID, ConcertID: concertID, Video: video})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, registerResponse{
		Message:            fmt.Sprintf("face registered for user %s", userID),
		RegistrationResult: res,
	})
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	userID, err := formUUID(r, "user_id", true)
	if err != nil {
		respondError(w, r, err)
		return
	}
	live, err := formBytes(r, "live", true)
	if err != nil {
		respondError(w, r, err)
		return
	}
	idcard, err := formBytes(r, "idcard", false)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.svc.Verify(r.Context(), pipeline.VerifyRequest{UserID: userID, Live: live, IDCard: idcard})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newVerifyResponse(res))
}

func (h *handlers) identify(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	image, err := formBytes(r, "image", true)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.svc.Identify(r.Context(), image)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *handlers) parseForm(w http.ResponseWriter, r *http.Request) error {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mb *http.MaxBytesError
		if errors.As(err, &mb) {
			return err
		}
		return badRequest("failed to parse multipart form")
	}
	return nil
}

// formUUID reads a UUID form field and returns it in canonical form.
func formUUID(r *http.Request, name string, required bool) (string, error) {
	v := r.FormValue(name)
	if v == "" {
		if required {
			return "", badRequest(name + " is required")
		}
		return "", nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return "", badRequest(name + " is not a valid UUID")
	}
	return id.String(), nil
}

func formBytes(r *http.Request, name string, required bool) ([]byte, error) {
	f, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		if required {
			return nil, badRequest(name + " is required")
		}
		return nil, nil
	}
	if err != nil {
		return nil, badRequest(fmt.Sprintf("failed to read %s: %v", name, err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
