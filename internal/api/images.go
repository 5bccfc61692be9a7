package api

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/images"
)

// maxImagesPerUpload bounds the files accepted by one upload request.
const maxImagesPerUpload = 20

type imageUploadResult struct {
	Filename string        `json:"filename"`
	Success  bool          `json:"success"`
	Image    *images.Image `json:"image,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type imageListResponse struct {
	Images     []images.Image `json:"images"`
	TotalCount int            `json:"total_count"`
}

type duplicateResponse struct {
	IsDuplicate bool           `json:"is_duplicate"`
	Matches     []images.Match `json:"matches"`
}

type folderListResponse struct {
	Folders      []images.Folder `json:"folders"`
	TotalFolders int             `json:"total_folders"`
}

type folderRequest struct {
	FolderName string `json:"folder_name"`
}

type folderRenameRequest struct {
	NewName string `json:"new_name"`
}

// handleUploadImages stores every file of the "files" field. Each file
// succeeds or fails on its own.
func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.uploadImages"

	r.Body = http.MaxBytesReader(w, r.Body, maxImagesPerUpload*s.maxImageUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, r, errors.E(op, errors.KindValidation, err, "invalid multipart upload"))
		return
	}
	headers := r.MultipartForm.File["files"]
	switch {
	case len(headers) == 0:
		s.writeError(w, r, errors.E(op, errors.KindValidation, "at least one file is required"))
		return
	case len(headers) > maxImagesPerUpload:
		s.writeError(w, r, errors.E(op, errors.KindValidation, "too many files in one upload"))
		return
	}
	folder := r.FormValue("folder")

	results := make([]imageUploadResult, 0, len(headers))
	for _, fh := range headers {
		res := imageUploadResult{Filename: fh.Filename}
		data, err := readPart(fh, s.maxImageUpload)
		if err == nil {
			res.Image, err = s.images.Upload(r.Context(), folder, fh.Filename, data)
		}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		results = append(results, res)
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCheckDuplicate(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.checkDuplicate"

	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageUpload+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.E(op, errors.KindValidation, err, "a file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, errors.E(op, errors.KindIO, err))
		return
	}
	folder := r.FormValue("folder")

	matches, err := s.images.CheckDuplicate(r.Context(), folder, header.Filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, duplicateResponse{IsDuplicate: len(matches) > 0, Matches: matches})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	limit := queryInt(r, "limit", 50, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)

	list, total, err := s.images.List(r.Context(), folder, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, imageListResponse{Images: list, TotalCount: total})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, img)
}

// handleImageFile serves the stored bytes with the verified content type.
func (s *Server) handleImageFile(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/"+img.FileType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, img.FilePath)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.images.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "image deleted"})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.images.ListFolders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, folderListResponse{Folders: folders, TotalFolders: len(folders)})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.images.CreateFolder(r.Context(), req.FolderName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRenameRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.images.RenameFolder(r.Context(), mux.Vars(r)["name"], req.NewName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.images.DeleteFolder(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "folder " + name + " deleted"})
}

// readPart reads one uploaded file, refusing anything above max.
func readPart(fh *multipart.FileHeader, max int64) ([]byte, error) {
	if err := images.CheckSize(fh.Size, max); err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.E(errors.Op("api.readPart"), errors.KindIO, err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, max+1))
}
