package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/eval"
	"github.com/mrc-ide/outpack-server/internal/store"
	"github.com/mrc-ide/outpack-server/internal/web/response"
)

type handlers struct {
	deps Deps
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := response.Classify(err)
	if status == http.StatusInternalServerError {
		h.deps.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	response.FromError(w, err)
}

// decodeJSON reads a JSON body into target, rejecting unknown fields
func (h *handlers) decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxBodySize)
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return &store.InvalidInputError{Message: "request body is empty"}
		}
		return &store.InvalidInputError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if decoder.More() {
		return &store.InvalidInputError{Message: "invalid JSON: unexpected data after object"}
	}
	return nil
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]string{"schema_version": SchemaVersion})
}

func (h *handlers) checksum(w http.ResponseWriter, r *http.Request) {
	digest, err := h.deps.Root.IDsDigest(r.URL.Query().Get("alg"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, digest)
}

func (h *handlers) metadataList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Root.Locations()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, entries)
}

func (h *handlers) metadataJSON(w http.ResponseWriter, r *http.Request) {
	text, err := h.deps.Root.MetadataText(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, json.RawMessage(text))
}

// metadataText serves the stored bytes unchanged so clients can verify the hash
func (h *handlers) metadataText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.deps.Root.MetadataText(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if notModified(w, r, strongETag(id)) {
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write(text)
}

func (h *handlers) packitMetadata(w http.ResponseWriter, r *http.Request) {
	var from *float64
	if raw := r.URL.Query().Get("known_since"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.fail(w, r, &store.InvalidInputError{Message: fmt.Sprintf("Invalid known_since '%s'", raw)})
			return
		}
		from = &v
	}

	packets, err := h.deps.Root.MetadataSince(from)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, packets)
}

type missingPacketsRequest struct {
	IDs      []string `json:"ids"`
	Unpacked bool     `json:"unpacked"`
}

func (h *handlers) missingPackets(w http.ResponseWriter, r *http.Request) {
	var req missingPacketsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	missing, err := h.deps.Root.MissingIDs(req.IDs, req.Unpacked)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, missing)
}

type missingFilesRequest struct {
	Hashes []string `json:"hashes"`
}

func (h *handlers) missingFiles(w http.ResponseWriter, r *http.Request) {
	var req missingFilesRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	missing, err := h.deps.Root.MissingFiles(req.Hashes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, missing)
}

func (h *handlers) getFile(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	f, err := h.deps.Root.OpenFile(hash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	if notModified(w, r, strongETag(hash)) {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, f); err != nil {
		h.deps.Logger.Warn("failed to send file", zap.String("hash", hash), zap.Error(err))
	}
}

func (h *handlers) putFile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if err := h.deps.Root.PutFile(r.Body, chi.URLParam(r, "hash")); err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, nil)
}

func (h *handlers) addPacket(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxBodySize)
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, &store.InvalidInputError{Message: fmt.Sprintf("failed to read metadata: %v", err)})
		return
	}
	if _, err := h.deps.Root.AddPacket(data, chi.URLParam(r, "hash")); err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, nil)
}

type queryRequest struct {
	Query       string                    `json:"query"`
	Environment map[string]metadata.Value `json:"environment"`
	This        string                    `json:"this"`
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.fail(w, r, &store.InvalidInputError{Message: "query must not be empty"})
		return
	}

	c := eval.Context{Environment: req.Environment}
	if req.This != "" {
		p, ok := h.deps.Engine.Index().Get(req.This)
		if !ok {
			h.fail(w, r, &store.NotFoundError{What: "packet", ID: req.This})
			return
		}
		c.This = p
	}

	sel, err := h.deps.Engine.EvaluateQuery(r.Context(), req.Query, c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, sel)
}

type parseRequest struct {
	Query string `json:"query"`
}

type parseResponse struct {
	Query  string `json:"query"`
	Parsed string `json:"parsed"`
}

func (h *handlers) parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	q, err := h.deps.Engine.Parse(req.Query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, parseResponse{Query: req.Query, Parsed: q.String()})
}

func (h *handlers) depends(w http.ResponseWriter, r *http.Request) {
	results, err := h.deps.Engine.ResolveDependencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, results)
}
