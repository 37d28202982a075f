package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/hui-ledger/internal/adapters/security"
	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	head, err := h.service.Head(ctx)
	if err != nil {
		writeMappedError(r.Context(), w, "readyz", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"state": "ready", "head_seq": head.Seq})
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPool(r.Context())
	if err != nil {
		writeMappedError(r.Context(), w, "get_pool", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.NewPoolResponse(view.Pool, len(view.Members)))
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPool(r.Context())
	if err != nil {
		writeMappedError(r.Context(), w, "list_members", err)
		return
	}
	out := contracts.MembersResponse{Members: make([]contracts.MemberResponse, 0, len(view.Members))}
	for _, m := range view.Members {
		out.Members = append(out.Members, contracts.NewMemberResponse(m, view.Pool))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	addr, err := security.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeValidationError(r.Context(), w, "get_member", err)
		return
	}
	member, pool, err := h.service.GetMember(r.Context(), addr)
	if errors.Is(err, domain.ErrNotMember) {
		logHTTPOperationError(r.Context(), "get_member", http.StatusNotFound, "NOT_MEMBER", err.Error(), nil)
		writeError(w, http.StatusNotFound, "NOT_MEMBER", "address is not a member", requestIDFromContext(r.Context()))
		return
	}
	if err != nil {
		writeMappedError(r.Context(), w, "get_member", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.NewMemberResponse(member, pool))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := parseIntDefault(q.Get("after"), 0)
	if after < 0 {
		after = 0
	}
	query := ports.EventQuery{
		AfterSeq: uint64(after),
		Limit:    parseIntDefault(q.Get("limit"), 0),
		Types:    parseTypes(q["type"]),
	}
	events, err := h.service.ListEvents(r.Context(), query)
	if err != nil {
		writeMappedError(r.Context(), w, "list_events", err)
		return
	}
	next := query.AfterSeq
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeSuccess(w, http.StatusOK, contracts.EventsResponse{
		Events:  contracts.NewEventResponses(events),
		NextSeq: next,
	})
}

func (h *Handler) deploy(w http.ResponseWriter, r *http.Request) {
	var req contracts.DeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "deploy", err)
		return
	}
	params, err := parseDeployParams(req)
	if err != nil {
		writeValidationError(r.Context(), w, "deploy", err)
		return
	}
	result, err := h.service.Deploy(r.Context(), actorFromRequest(r), params)
	if err != nil {
		writeMappedError(r.Context(), w, "deploy", err)
		return
	}
	writeSuccess(w, http.StatusCreated, actionResponse(result))
}

type amountAction func(ctx context.Context, actor application.Actor, amount *big.Int) (application.CommitResult, error)

// amountHandler decodes a body that embeds contracts.AmountRequest and runs
// the action with the parsed amount.
func (h *Handler) amountHandler(operation string, status int, action amountAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contracts.AmountRequest
		if err := decodeBody(r, &req); err != nil {
			writeValidationError(r.Context(), w, operation, err)
			return
		}
		amount, err := parseAmount(req)
		if err != nil {
			writeValidationError(r.Context(), w, operation, err)
			return
		}
		result, err := action(r.Context(), actorFromRequest(r), amount)
		if err != nil {
			writeMappedError(r.Context(), w, operation, err)
			return
		}
		writeSuccess(w, status, actionResponse(result))
	}
}

type ownerAction func(ctx context.Context, actor application.Actor) (application.CommitResult, error)

func (h *Handler) ownerHandler(operation string, action ownerAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := action(r.Context(), actorFromRequest(r))
		if err != nil {
			writeMappedError(r.Context(), w, operation, err)
			return
		}
		writeSuccess(w, http.StatusOK, actionResponse(result))
	}
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	h.amountHandler("join", http.StatusCreated, h.service.Join).ServeHTTP(w, r)
}

func (h *Handler) bid(w http.ResponseWriter, r *http.Request) {
	h.amountHandler("bid", http.StatusOK, h.service.Bid).ServeHTTP(w, r)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	h.amountHandler("pay", http.StatusOK, h.service.Pay).ServeHTTP(w, r)
}

func (h *Handler) selectWinner(w http.ResponseWriter, r *http.Request) {
	h.ownerHandler("select_winner", h.service.SelectWinner).ServeHTTP(w, r)
}

func (h *Handler) penalize(w http.ResponseWriter, r *http.Request) {
	h.ownerHandler("penalize_violations", h.service.PenalizeViolations).ServeHTTP(w, r)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	h.ownerHandler("settle_period", h.service.SettlePeriod).ServeHTTP(w, r)
}

func (h *Handler) returnDeposits(w http.ResponseWriter, r *http.Request) {
	h.ownerHandler("return_deposits", h.service.ReturnDeposits).ServeHTTP(w, r)
}

// audit is owner-only. It reports a corrupted history as a 200 with
// ok=false; only failures to run the audit are errors.
func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AuditFor(r.Context(), actorFromRequest(r))
	if err != nil && !errors.Is(err, domain.ErrHistoryCorrupted) {
		writeMappedError(r.Context(), w, "audit", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.AuditResponse{
		OK:         report.OK(),
		EventCount: report.EventCount,
		HeadSeq:    report.Head.Seq,
		HeadHash:   report.Head.Hash.Hex(),
		Problems:   report.Problems,
	})
}
