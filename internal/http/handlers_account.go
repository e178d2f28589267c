package http

import (
	"net/http"

	"moneybook/internal/core"
	"moneybook/internal/services"
)

type accountAddRequest struct {
	Name         string           `json:"name"`
	Type         core.AccountType `json:"type"`
	StartBalance Decimal          `json:"startBalance"`
	Currency     string           `json:"currency"`
}

type accountUpdateRequest struct {
	ID           string              `json:"_id"`
	Name         *string             `json:"name"`
	StartBalance *Decimal            `json:"startBalance"`
	Currency     *string             `json:"currency"`
	Status       *core.AccountStatus `json:"status"`
	Order        *int                `json:"order"`
}

type idRequest struct {
	ID string `json:"_id"`
}

func (s *Server) writeAccounts(w http.ResponseWriter, r *http.Request, accounts []core.Account, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("accounts", accounts).Write(w)
}

func (s *Server) handleAccountLoad(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Accounts.List(r.Context(), userID(r.Context()))
	s.writeAccounts(w, r, accounts, err)
}

func (s *Server) handleAccountAdd(w http.ResponseWriter, r *http.Request) {
	var req accountAddRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("account.add", err))
		return
	}

	accounts, err := s.svc.Accounts.Add(r.Context(), userID(r.Context()), services.AccountInput{
		Name:         req.Name,
		Type:         req.Type,
		StartBalance: req.StartBalance.String(),
		Currency:     req.Currency,
	})
	s.writeAccounts(w, r, accounts, err)
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	var req accountUpdateRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("account.update", err))
		return
	}

	accounts, err := s.svc.Accounts.Update(r.Context(), userID(r.Context()), services.AccountUpdate{
		ID:           req.ID,
		Name:         req.Name,
		StartBalance: req.StartBalance.Ptr(),
		Currency:     req.Currency,
		Status:       req.Status,
		Order:        req.Order,
	})
	s.writeAccounts(w, r, accounts, err)
}

func (s *Server) handleAccountRemove(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("account.remove", err))
		return
	}

	accounts, err := s.svc.Accounts.Remove(r.Context(), userID(r.Context()), req.ID)
	s.writeAccounts(w, r, accounts, err)
}
