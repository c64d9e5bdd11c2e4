package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowInitializeParams struct {
	Caller          string `json:"caller"`
	Seed            uint64 `json:"seed"`
	Counterparty    string `json:"counterparty"`
	AssetPrimary    string `json:"assetPrimary"`
	AssetSecondary  string `json:"assetSecondary,omitempty"`
	AmountDeposited string `json:"amountDeposited"`
	AmountRequested string `json:"amountRequested,omitempty"`
}

type escrowAddressParams struct {
	Address string `json:"address"`
}

type escrowActorParams struct {
	Address string `json:"address"`
	Caller  string `json:"caller"`
}

type escrowExchangeParams struct {
	Address        string `json:"address"`
	Caller         string `json:"caller"`
	Initializer    string `json:"initializer"`
	Counterparty   string `json:"counterparty"`
	AssetPrimary   string `json:"assetPrimary"`
	AssetSecondary string `json:"assetSecondary,omitempty"`
	Vault          string `json:"vault"`
}

type escrowJSON struct {
	Address          string `json:"address"`
	Vault            string `json:"vault"`
	Seed             uint64 `json:"seed"`
	Nonce            uint8  `json:"nonce"`
	Initializer      string `json:"initializer"`
	Counterparty     string `json:"counterparty"`
	AssetPrimary     string `json:"assetPrimary"`
	AssetSecondary   string `json:"assetSecondary"`
	AmountDeposited  string `json:"amountDeposited"`
	AmountRequested  string `json:"amountRequested"`
	PaymentConfirmed bool   `json:"paymentConfirmed"`
	CreatedAt        int64  `json:"createdAt"`
}

func (s *Server) handleEscrowInitialize(w http.ResponseWriter, req *RPCRequest) {
	var params escrowInitializeParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAccount(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	counterparty, err := parseAccount(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	deposited, err := parsePositiveBigInt(params.AmountDeposited)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	requested := big.NewInt(0)
	if strings.TrimSpace(params.AmountRequested) != "" {
		requested, err = parseNonNegativeBigInt(params.AmountRequested)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	esc, err := s.node.EscrowInitialize(caller, params.Seed, counterparty, params.AssetPrimary, params.AssetSecondary, deposited, requested)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowConfirmPayment(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowTransition(w, req, s.node.EscrowConfirmPayment)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowTransition(w, req, s.node.EscrowCancel)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, [20]byte) error) {
	var params escrowActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAccount(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAccount(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(addr, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowExchange(w http.ResponseWriter, req *RPCRequest) {
	var params escrowExchangeParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAccount(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAccount(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	initializer, err := parseAccount(params.Initializer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	counterparty, err := parseAccount(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	vault, err := parseAccount(params.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	accounts := escrow.ExchangeAccounts{
		Initializer:    initializer,
		Counterparty:   counterparty,
		AssetPrimary:   params.AssetPrimary,
		AssetSecondary: params.AssetSecondary,
		Vault:          vault,
	}
	if err := s.node.EscrowExchange(addr, caller, accounts); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var params escrowAddressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAccount(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowGet(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

// decodeParams enforces the single-object parameter convention shared by
// all methods.
func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseAccount(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	amount, err := parseNonNegativeBigInt(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseNonNegativeBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func formatAccount(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	amountDeposited := "0"
	if esc.AmountDeposited != nil {
		amountDeposited = esc.AmountDeposited.String()
	}
	amountRequested := "0"
	if esc.AmountRequested != nil {
		amountRequested = esc.AmountRequested.String()
	}
	return escrowJSON{
		Address:          formatAccount(esc.Address),
		Vault:            formatAccount(esc.Vault()),
		Seed:             esc.Seed,
		Nonce:            esc.Nonce,
		Initializer:      formatAccount(esc.Initializer),
		Counterparty:     formatAccount(esc.Counterparty),
		AssetPrimary:     esc.AssetPrimary,
		AssetSecondary:   esc.AssetSecondary,
		AmountDeposited:  amountDeposited,
		AmountRequested:  amountRequested,
		PaymentConfirmed: esc.PaymentConfirmed,
		CreatedAt:        esc.CreatedAt,
	}
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrAlreadyConfirmed),
		errors.Is(err, escrow.ErrPaymentNotConfirmed),
		errors.Is(err, escrow.ErrPaymentAlreadyConfirmed),
		errors.Is(err, escrow.ErrDuplicateSeed),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrDestinationAccountMissing):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidAsset),
		errors.Is(err, escrow.ErrAccountMismatch):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
