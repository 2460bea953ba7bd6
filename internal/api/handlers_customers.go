package api

import (
	"net/http"

	"github.com/pointhed/loyalty-ledger/internal/app"
)

type enrolCustomerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// EnrolCustomerHandler enrols a customer and credits any welcome bonus.
func (h *Handlers) EnrolCustomerHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req enrolCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	enrolment, err := h.service.EnrolCustomer(r.Context(), tenantID, req.Phone, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrolment)
}

// ListCustomersHandler lists the business's customers.
func (h *Handlers) ListCustomersHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	customers, err := h.service.ListCustomers(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

// FindCustomerByPhoneHandler looks a customer up by the ?phone= query parameter.
func (h *Handlers) FindCustomerByPhoneHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customer, err := h.service.FindCustomerByPhone(r.Context(), tenantID, r.URL.Query().Get("phone"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// GetCustomerHandler returns one customer.
func (h *Handlers) GetCustomerHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), tenantID, customerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

type setBlockedRequest struct {
	Blocked bool `json:"blocked"`
}

// SetCustomerBlockedHandler blocks or unblocks a customer.
func (h *Handlers) SetCustomerBlockedHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	var req setBlockedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	customer, err := h.service.SetCustomerBlocked(r.Context(), tenantID, customerID, req.Blocked)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// GetBalanceHandler returns the customer's points balance.
func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), tenantID, customerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListTransactionsHandler returns the customer's ledger, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	transactions, err := h.service.ListTransactions(r.Context(), tenantID, customerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// ListPurchasesHandler returns the customer's recorded purchases.
func (h *Handlers) ListPurchasesHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	purchases, err := h.service.ListPurchases(r.Context(), tenantID, customerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

type adjustPointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

// AdjustPointsHandler applies a signed manual correction by the authenticated staff member.
func (h *Handlers) AdjustPointsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	customerID, ok := uuidParam(w, r, "customerID")
	if !ok {
		return
	}
	var req adjustPointsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	txn, err := h.service.AdjustPoints(r.Context(), app.AdjustmentInput{
		TenantID:   tenantID,
		CustomerID: customerID,
		Points:     req.Points,
		Reason:     req.Reason,
		UserID:     staffUserID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}
