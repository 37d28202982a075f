package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/units"
)

const maxBodyBytes = 1 << 16

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON value", domain.ErrInvalidInput)
	}
	return nil
}

// parseAmount accepts an ether decimal or an integer wei string, never both.
func parseAmount(req contracts.AmountRequest) (*big.Int, error) {
	hasEther := strings.TrimSpace(req.Amount) != ""
	hasWei := strings.TrimSpace(req.AmountWei) != ""
	switch {
	case hasEther && hasWei:
		return nil, fmt.Errorf("%w: set only one of amount and amount_wei", domain.ErrInvalidInput)
	case hasEther:
		v, err := units.ParseEther(req.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", domain.ErrInvalidInput, err)
		}
		return v, nil
	case hasWei:
		v, err := units.ParseWei(req.AmountWei)
		if err != nil {
			return nil, fmt.Errorf("%w: amount_wei: %v", domain.ErrInvalidInput, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: amount or amount_wei is required", domain.ErrInvalidInput)
	}
}

func parseDeployParams(req contracts.DeployRequest) (domain.Params, error) {
	contribution, err := units.ParseEther(req.ContributionAmount)
	if err != nil {
		return domain.Params{}, fmt.Errorf("%w: contribution_amount: %v", domain.ErrInvalidInput, err)
	}
	minDeposit, err := units.ParseEther(req.MinDeposit)
	if err != nil {
		return domain.Params{}, fmt.Errorf("%w: min_deposit: %v", domain.ErrInvalidInput, err)
	}
	return domain.Params{
		MaxMembers:         req.MaxMembers,
		ContributionAmount: contribution,
		MinDeposit:         minDeposit,
		TotalPeriods:       req.TotalPeriods,
		Penalty: domain.PenaltyPolicy{
			LateThreshold: req.LateThreshold,
			ForfeitBps:    req.ForfeitBps,
		},
	}, nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// parseTypes accepts repeated type parameters as well as comma lists.
func parseTypes(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func actorFromRequest(r *http.Request) application.Actor {
	actor := application.Actor{
		RequestID:      requestIDFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if claims, ok := claimsFromContext(r.Context()); ok {
		actor.Address = claims.Address
	}
	return actor
}

func actionResponse(result application.CommitResult) contracts.ActionResponse {
	return contracts.ActionResponse{
		Pool:   contracts.NewPoolResponse(result.Pool, result.MemberCount),
		Events: contracts.NewEventResponses(result.Events),
	}
}
