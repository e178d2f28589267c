package http

import (
	"net/http"

	"moneybook/internal/core"
	"moneybook/internal/services"
)

type operationAddRequest struct {
	Account  string             `json:"account"`
	Category string             `json:"category"`
	Type     core.OperationType `json:"type"`
	Amount   Decimal            `json:"amount"`
	Date     Date               `json:"date"`
	Comment  string             `json:"comment"`
}

type operationUpdateRequest struct {
	ID       string              `json:"_id"`
	Account  *string             `json:"account"`
	Category *string             `json:"category"`
	Type     *core.OperationType `json:"type"`
	Amount   *Decimal            `json:"amount"`
	Date     *Date               `json:"date"`
	Comment  *string             `json:"comment"`
}

func (s *Server) handleOperationList(w http.ResponseWriter, r *http.Request) {
	const scope = "operation.list"
	q := r.URL.Query()

	query := services.OperationQuery{Account: q.Get("account")}
	var err error
	if query.From, err = QueryDate(q, "from"); err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}
	if query.To, err = QueryDate(q, "to"); err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}
	if query.Limit, err = QueryInt(q, "limit"); err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}
	if query.Skip, err = QueryInt(q, "skip"); err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}

	page, err := s.svc.Operations.List(r.Context(), userID(r.Context()), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Body(page).Write(w)
}

func (s *Server) handleOperationSummary(w http.ResponseWriter, r *http.Request) {
	const scope = "operation.summary"
	q := r.URL.Query()

	from, err := QueryDate(q, "from")
	if err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}
	to, err := QueryDate(q, "to")
	if err != nil {
		s.fail(w, r, core.Scoped(scope, err))
		return
	}

	summary, err := s.svc.Operations.Summary(r.Context(), userID(r.Context()), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("summary", summary).Write(w)
}

func (s *Server) handleOperationAdd(w http.ResponseWriter, r *http.Request) {
	var req operationAddRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("operation.add", err))
		return
	}

	op, err := s.svc.Operations.Add(r.Context(), userID(r.Context()), services.OperationInput{
		Account:  req.Account,
		Category: req.Category,
		Type:     req.Type,
		Amount:   req.Amount.String(),
		Date:     req.Date.Date,
		Comment:  req.Comment,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("operation", op).Write(w)
}

func (s *Server) handleOperationUpdate(w http.ResponseWriter, r *http.Request) {
	var req operationUpdateRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("operation.update", err))
		return
	}

	op, err := s.svc.Operations.Update(r.Context(), userID(r.Context()), services.OperationUpdate{
		ID:       req.ID,
		Account:  req.Account,
		Category: req.Category,
		Type:     req.Type,
		Amount:   req.Amount.Ptr(),
		Date:     req.Date.Ptr(),
		Comment:  req.Comment,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("operation", op).Write(w)
}

func (s *Server) handleOperationRemove(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("operation.remove", err))
		return
	}

	if err := s.svc.Operations.Remove(r.Context(), userID(r.Context()), req.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	OK().Write(w)
}
