package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nemonet1337/zaiWarehouse/pkg/importer"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

// ExportRequest starts an export job
// エクスポート開始リクエスト
type ExportRequest struct {
	Entity string   `json:"entity" validate:"required"`
	Fields []string `json:"fields" validate:"min=1"`
	Format string   `json:"format" validate:"omitempty,oneof=xlsx csv"`
}

// StartExport queues an export and returns its token
// エクスポートを受け付けトークンを返す
func (h *Handlers) StartExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, err := h.exports.Start(r.Context(), req.Entity, req.Fields, tabular.Format(req.Format))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendAccepted(w, job)
}

// ExportStatus reports whether an export is ready
// エクスポート状態を返す
func (h *Handlers) ExportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.exports.Status(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, job)
}

// DownloadExport sends the file once and retires the token
// エクスポートファイルを送信（1回限り）
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	data, job, err := h.exports.FetchAndRetire(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", job.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("エクスポートファイルの送信に失敗しました")
	}
}

// StartImport accepts a multipart upload with "entity" and "file" fields
// 取込ファイルを受け付ける
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "ファイルを指定してください")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "ファイルの読み込みに失敗しました")
		return
	}

	job, err := h.imports.Start(r.Context(), r.FormValue("entity"), importer.Upload{
		Filename: header.Filename,
		Content:  content,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendAccepted(w, job)
}

// ImportStatus returns counts and failed rows of an import
// 取込状態を返す
func (h *Handlers) ImportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.imports.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, job)
}
