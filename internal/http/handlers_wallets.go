package http

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"

	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

const latestTransactions = 5

// The page shells render skeletons; every list below is fetched as a
// partial on load and again whenever its table changes.

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "dashboard", s.newPage(r, "Dashboard", "dashboard"))
}

func (s *Server) handleDashboardPartial(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	s.renderPartial(w, r, http.StatusOK, "dashboard_summary", map[string]any{
		"Totals": ws.Totals(),
		"Latest": ws.Latest(latestTransactions),
		"Sample": ws.Transactions.Sample(),
		"Limits": ws.LimitSummaries(),
	})
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Wallets", "wallets")
	p.Data = map[string]any{
		"DefaultCurrency": defaultCurrency,
	}
	s.render(w, r, http.StatusOK, "wallets", p)
}

// handleReloadWallets re-reads every table, for when the user suspects the
// local copy drifted.
func (s *Server) handleReloadWallets(w http.ResponseWriter, r *http.Request) {
	s.workspace(r).Reload(r.Context())
	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableTransactions, core.TableLimits, core.TableSubscriptions).
		TriggerSuccessNotification("Wallets reloaded").
		Write(w)
}

func (s *Server) handleTransactionsPartial(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	s.renderPartial(w, r, http.StatusOK, "transactions", map[string]any{
		"Items":  ws.Transactions.Items(),
		"Sample": ws.Transactions.Sample(),
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := parseTransactionForm(r.PostForm)
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	tx, err := s.workspace(r).AddTransaction(r.Context(), f.Amount, f.Type, f.Description, f.Category)
	if err != nil {
		writeFailed(w, r, err, core.TableTransactions, core.TableLimits)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
		applog.FieldRowID, tx.ID,
		applog.FieldAmount, tx.Amount.String(),
		applog.FieldCategory, tx.Category,
		applog.FieldOperation, applog.OpCreate)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableTransactions, core.TableLimits).
		TriggerFormReset().
		TriggerSuccessNotification(fmt.Sprintf("Added %s %s: %s", tx.Type, core.FormatAmount(tx.Amount, ""), tx.Description)).
		Write(w)
}

func (s *Server) handleLimitsPartial(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	s.renderPartial(w, r, http.StatusOK, "limits", map[string]any{
		"Items":  ws.LimitSummaries(),
		"Sample": ws.Limits.Sample(),
	})
}

func (s *Server) handleCreateLimit(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := parseLimitForm(r.PostForm)
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	l, err := s.workspace(r).AddLimit(r.Context(), f.Category, f.Amount)
	if err != nil {
		writeFailed(w, r, err, core.TableLimits)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Limit created",
		applog.FieldRowID, l.ID,
		applog.FieldCategory, l.Category,
		applog.FieldAmount, l.Amount.String(),
		applog.FieldOperation, applog.OpCreate)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableLimits).
		TriggerFormReset().
		TriggerSuccessNotification(fmt.Sprintf("Limit set for %s: %s", l.Category, core.FormatAmount(l.Amount, ""))).
		Write(w)
}

func (s *Server) handleEditLimit(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	id := r.PathValue("id")
	f, err := parseLimitForm(r.PostForm)
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	if err := s.workspace(r).EditLimit(r.Context(), id, f.Category, f.Amount); err != nil {
		writeFailed(w, r, err, core.TableLimits)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Limit updated",
		applog.FieldRowID, id,
		applog.FieldOperation, applog.OpUpdate)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableLimits).
		TriggerSuccessNotification("Limit updated").
		Write(w)
}

func (s *Server) handleDeleteLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.workspace(r).DeleteLimit(r.Context(), id); err != nil {
		writeFailed(w, r, err, core.TableLimits)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Limit deleted",
		applog.FieldRowID, id,
		applog.FieldOperation, applog.OpDelete)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableLimits).
		TriggerSuccessNotification("Limit removed").
		Write(w)
}

// currencyTotal is one line of the subscription footer.
type currencyTotal struct {
	Currency string
	Amount   decimal.Decimal
}

func sortedTotals(totals map[string]decimal.Decimal) []currencyTotal {
	out := make([]currencyTotal, 0, len(totals))
	for cur, amount := range totals {
		out = append(out, currencyTotal{Currency: cur, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

func (s *Server) handleSubscriptionsPartial(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	s.renderPartial(w, r, http.StatusOK, "subscriptions", map[string]any{
		"Items":  ws.Subscriptions.Items(),
		"Sample": ws.Subscriptions.Sample(),
		"Totals": sortedTotals(ws.SubscriptionTotal()),
	})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(w, r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := parseSubscriptionForm(r.PostForm)
	if err != nil {
		writeFailed(w, r, err)
		return
	}

	sub, err := s.workspace(r).AddSubscription(r.Context(), f.Name, f.Amount, f.Currency)
	if err != nil {
		writeFailed(w, r, err, core.TableSubscriptions)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Subscription created",
		applog.FieldRowID, sub.ID,
		applog.FieldAmount, sub.Amount.String(),
		applog.FieldOperation, applog.OpCreate)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableSubscriptions).
		TriggerFormReset().
		TriggerSuccessNotification(fmt.Sprintf("Subscription added: %s (%s)", sub.Name, core.FormatAmount(sub.Amount, sub.Currency))).
		Write(w)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.workspace(r).DeleteSubscription(r.Context(), id); err != nil {
		writeFailed(w, r, err, core.TableSubscriptions)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Subscription deleted",
		applog.FieldRowID, id,
		applog.FieldOperation, applog.OpDelete)

	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerChanged(core.TableSubscriptions).
		TriggerSuccessNotification("Subscription removed").
		Write(w)
}
