package cart

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"SweetHouse/internal/catalog"
	"SweetHouse/pkg/kit"
)

type Server struct {
	Carts     *Registry
	Catalog   *catalog.Reader
	Validator *kit.Validator
	Log       *zap.Logger
}

type addItemReq struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"omitempty,min=1,max=999"`
}

type setItemReq struct {
	Qty int `json:"qty" validate:"min=0,max=999"`
}

type cartResp struct {
	Cart
	Count int `json:"count"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.create)
	r.Get("/{id}", s.get)
	r.Post("/{id}/items", s.addItem)
	r.Put("/{id}/items/{pid}", s.setItem)
	r.Delete("/{id}/items/{pid}", s.removeItem)
	r.Get("/{id}/checkout", s.checkout)

	return r
}

func (s *Server) create(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusCreated, respond(s.Carts.Create()))
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, ok := s.Carts.Get(id)
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, respond(c))
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}
	if err := s.Validator.Validate(req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid item", kit.FieldErrors(err))
		return
	}
	if _, ok := s.Catalog.Get(req.ProductID); !ok {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid product_id", map[string]any{"product_id": req.ProductID})
		return
	}

	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	c, err := s.Carts.Update(chi.URLParam(r, "id"), func(c *Cart) error {
		return c.Add(req.ProductID, qty)
	})
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, respond(c))
}

// setItem sets an absolute quantity; zero removes the line.
func (s *Server) setItem(w http.ResponseWriter, r *http.Request) {
	var req setItemReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", nil)
		return
	}
	if err := s.Validator.Validate(req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid quantity", kit.FieldErrors(err))
		return
	}

	pid := chi.URLParam(r, "pid")
	c, err := s.Carts.Update(chi.URLParam(r, "id"), func(c *Cart) error {
		return c.Set(pid, req.Qty)
	})
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, respond(c))
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	c, err := s.Carts.Update(chi.URLParam(r, "id"), func(c *Cart) error {
		c.Remove(pid)
		return nil
	})
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, respond(c))
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, ok := s.Carts.Get(id)
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
		return
	}

	sum := Summarize(c.Items, s.Catalog.Products())
	if len(sum.Missing) > 0 && s.Log != nil {
		s.Log.Info("cart references products no longer in catalog",
			zap.String("cart_id", id), zap.Strings("missing", sum.Missing))
	}
	kit.WriteJSON(w, http.StatusOK, sum)
}

func (s *Server) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCartNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": chi.URLParam(r, "id")})
	case errors.Is(err, ErrBadQuantity):
		kit.WriteError(w, r, http.StatusBadRequest, ErrBadQuantity.Error(), nil)
	case errors.Is(err, ErrBadProductID):
		kit.WriteError(w, r, http.StatusBadRequest, ErrBadProductID.Error(), nil)
	default:
		if s.Log != nil {
			s.Log.Error("cart update failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

func respond(c Cart) cartResp {
	return cartResp{Cart: c, Count: c.Count()}
}
