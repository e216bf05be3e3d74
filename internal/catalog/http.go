package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"SweetHouse/pkg/kit"
)

const (
	maxImportBody   = 8 << 20
	maxUploadBody   = MaxImageBytes + 64<<10
	streamKeepAlive = 25 * time.Second
	readyTimeout    = 1 * time.Second
)

type Server struct {
	Reader *Reader
	Editor *Editor
	Log    *zap.Logger
}

type productReq struct {
	Title       string `json:"title"`
	Price       any    `json:"price"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Image       string `json:"image"`
}

func (q productReq) draft() Draft {
	return Draft{
		Title:       q.Title,
		Price:       toString(q.Price),
		Description: q.Description,
		Category:    q.Category,
		Image:       q.Image,
	}
}

// Routes serves the public storefront reads.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/products", s.list)
	r.Get("/products/stream", s.stream)
	r.Get("/products/{id}", s.get)
	r.Get("/categories", s.categories)

	return r
}

// AdminRoutes serves catalog editing. Callers mount it behind the admin gate.
func (s *Server) AdminRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/products", s.adminList)
	r.Post("/products", s.create)
	r.Put("/products/{id}", s.update)
	r.Delete("/products/{id}", s.remove)
	r.Post("/products/{id}/move", s.move)
	r.Post("/products/{id}/image", s.attachImage)
	r.Post("/import", s.importCatalog)
	r.Get("/export", s.export)
	r.Post("/clear", s.clear)

	return r
}

// Ready pings the backing storage.
func (s *Server) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return s.Editor.store.Ping(ctx)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := Query{
		Text:     r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
	}
	kit.WriteJSON(w, http.StatusOK, s.Reader.Filter(q))
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, ok := s.Reader.Get(id)
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, append([]string{allCategories}, s.Reader.Categories()...))
}

// stream pushes the full display catalog as a server-sent event after every
// refresh of the reader.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		kit.WriteError(w, r, http.StatusNotImplemented, "streaming unsupported", nil)
		return
	}

	updates := make(chan []Product, 1)
	cancel := s.Reader.OnChange(func(ps []Product) {
		select {
		case updates <- ps:
		default:
			// drop the stale pending snapshot, keep the newest
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- ps:
			default:
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, s.Reader.Products()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ps := <-updates:
			if err := writeEvent(w, ps); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, ps []Product) error {
	b, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: catalog\ndata: %s\n\n", b)
	return err
}

func (s *Server) adminList(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Editor.Reload(r.Context()))
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	p, err := s.Editor.Create(r.Context(), req.draft())
	if err != nil {
		s.writeEditError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}

	p, err := s.Editor.Update(r.Context(), chi.URLParam(r, "id"), req.draft())
	if err != nil {
		s.writeEditError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if err := s.Editor.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEditError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	dir, err := ParseDirection(r.URL.Query().Get("dir"))
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "dir must be up or down", nil)
		return
	}

	if err := s.Editor.Move(r.Context(), chi.URLParam(r, "id"), dir); err != nil {
		s.writeEditError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, s.Editor.Snapshot())
}

// attachImage accepts either a multipart form with an "image" file or the
// raw image bytes as the request body.
func (s *Server) attachImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

	data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeEditError(w, r, fmt.Errorf("%w. Please use an image <= %d KB or use small thumbnails",
				ErrImageTooLarge, roundKB(MaxImageBytes)))
			return
		}
		kit.WriteError(w, r, http.StatusBadRequest, "bad upload", nil)
		return
	}

	p, err := s.Editor.AttachImage(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		s.writeEditError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("image")
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return io.ReadAll(f)
	}
	return io.ReadAll(r.Body)
}

func (s *Server) importCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		kit.WriteError(w, r, http.StatusRequestEntityTooLarge, "import too large", nil)
		return
	}

	n, err := s.Editor.Import(r.Context(), body)
	if err != nil {
		s.writeEditError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"imported": n})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	f := Format(r.URL.Query().Get("format"))
	if f == "" {
		f = FormatJSON
	}

	b, err := s.Editor.Export(r.Context(), f)
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "format must be json or csv", nil)
		return
	}

	name := ExportFileName
	ctype := "application/json"
	if f == FormatCSV {
		name = strings.TrimSuffix(name, ".json") + ".csv"
		ctype = "text/csv"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.Editor.ClearAll(r.Context(), confirmed); err != nil {
		s.writeEditError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEditError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		kit.WriteError(w, r, http.StatusBadRequest, verr.Message, map[string]any{"field": verr.Field})
	case errors.Is(err, ErrNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": chi.URLParam(r, "id")})
	case errors.Is(err, ErrImport):
		kit.WriteError(w, r, http.StatusBadRequest, "Import failed: invalid JSON", err.Error())
	case errors.Is(err, ErrNotConfirmed):
		kit.WriteError(w, r, http.StatusBadRequest, "confirm=true required", nil)
	case errors.Is(err, ErrImageTooLarge):
		kit.WriteError(w, r, http.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, ErrNotAnImage):
		kit.WriteError(w, r, http.StatusUnsupportedMediaType, "Please select an image file", nil)
	case errors.Is(err, ErrReadFailed):
		kit.WriteError(w, r, http.StatusServiceUnavailable, "storage unavailable", nil)
	case errors.Is(err, ErrWriteRejected):
		kit.WriteError(w, r, http.StatusInsufficientStorage, "storage write failed", nil)
	case errors.Is(err, context.DeadlineExceeded):
		kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", nil)
	default:
		if s.Log != nil {
			s.Log.Error("catalog edit failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}
