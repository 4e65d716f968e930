package server

import (
	"net/http"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/files"
)

type uploadResponse struct {
	FileInfos []files.FileInfo `json:"fileinfos"`
}

type previewResponse struct {
	CSVTable string `json:"csv_table"`
}

// POST /uploadfiles/
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	limitBody(w, r, s.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, rc.Log, common.WithDetail(common.ErrBadRequest, "Expected a multipart/form-data body"))
		return
	}

	infos, err := rc.Files.Upload(r.Context(), rc.User.Username, mr)
	for _, fi := range infos {
		s.metrics.RecordUpload(fi.Size)
	}
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	if len(infos) == 0 {
		writeError(w, r, rc.Log, common.WithDetail(common.ErrValidation, files.FormField+": field required"))
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{FileInfos: infos})
}

// GET /uploadfiles/
func handleListFiles(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	listing, err := rc.Files.List(r.Context(), rc.User.Username)
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GET /uploadfiles/{filename}?headers=&sort_by=
func handleReadFile(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	q := r.URL.Query()
	table, err := rc.Files.Read(r.Context(), rc.User.Username, r.PathValue("filename"), q.Get("headers"), q.Get("sort_by"))
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{CSVTable: table})
}

// DELETE /uploadfiles/{filename}
func handleDeleteFile(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	if err := rc.Files.Delete(r.Context(), rc.User.Username, r.PathValue("filename")); err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
