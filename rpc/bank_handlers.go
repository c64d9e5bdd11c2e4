package rpc

import (
	"net/http"
	"strings"
)

type bankAccountParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type bankBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Exists  bool   `json:"exists"`
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) {
	var params bankAccountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAccount(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "asset required")
		return
	}
	amount, err := s.node.Balance(addr, asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bankBalanceResult{
		Address: formatAccount(addr),
		Asset:   asset,
		Amount:  amount.String(),
		Exists:  s.node.HasAccount(addr, asset),
	})
}

func (s *Server) handleBankCreateAccount(w http.ResponseWriter, req *RPCRequest) {
	var params bankAccountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAccount(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "asset required")
		return
	}
	if err := s.node.CreateAccount(addr, asset); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleAssetList(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	list, err := s.node.AssetList()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, list)
}
