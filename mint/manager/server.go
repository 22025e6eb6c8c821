// Package manager exposes the operator surface of the mint on a
// local HTTP server: issuance accounting per keyset and keyset
// rotation. It is meant to listen on localhost only.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/mint"
)

const DefaultAddr = "127.0.0.1:8081"

type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
}

func SetupServer(m *mint.Mint, addr string) *Server {
	if len(addr) == 0 {
		addr = DefaultAddr
	}
	server := &Server{mint: m}

	r := mux.NewRouter()
	r.HandleFunc("/issued", server.getIssuedEcash).Methods(http.MethodGet)
	r.HandleFunc("/issued/{keyset_id}", server.getIssuedByKeyset).Methods(http.MethodGet)
	r.HandleFunc("/redeemed", server.getRedeemedEcash).Methods(http.MethodGet)
	r.HandleFunc("/redeemed/{keyset_id}", server.getRedeemedByKeyset).Methods(http.MethodGet)
	r.HandleFunc("/totalbalance", server.getTotalBalance).Methods(http.MethodGet)
	r.HandleFunc("/keysets", server.getKeysets).Methods(http.MethodGet)
	r.HandleFunc("/rotatekeyset", server.rotateKeyset).Methods(http.MethodPost)
	r.Use(jsonHeader)

	server.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return server
}

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

func jsonHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(rw, req)
	})
}

type KeysetBalance struct {
	Id     string `json:"id"`
	Amount uint64 `json:"amount"`
}

type BalanceResponse struct {
	Keysets []KeysetBalance `json:"keysets"`
	Total   uint64          `json:"total"`
}

type TotalBalanceResponse struct {
	Issued        BalanceResponse `json:"issued"`
	Redeemed      BalanceResponse `json:"redeemed"`
	InCirculation uint64          `json:"total_circulation"`
}

func balanceResponse(amounts map[string]uint64) BalanceResponse {
	var response BalanceResponse
	for keysetId, amount := range amounts {
		response.Keysets = append(response.Keysets, KeysetBalance{Id: keysetId, Amount: amount})
		response.Total += amount
	}
	return response
}

func writeErr(rw http.ResponseWriter, status int, err error) {
	rw.WriteHeader(status)
	rw.Write([]byte(err.Error()))
}

func (s *Server) getIssuedEcash(rw http.ResponseWriter, req *http.Request) {
	issued, err := s.mint.IssuedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, fmt.Errorf("unable to get issued ecash from db: %v", err))
		return
	}

	response, _ := json.Marshal(balanceResponse(issued))
	rw.Write(response)
}

func (s *Server) getIssuedByKeyset(rw http.ResponseWriter, req *http.Request) {
	issued, err := s.mint.IssuedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, fmt.Errorf("unable to get issued ecash from db: %v", err))
		return
	}

	id := mux.Vars(req)["keyset_id"]
	amount, ok := issued[id]
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		errRes, _ := json.Marshal(cashu.UnknownKeysetErr)
		rw.Write(errRes)
		return
	}

	response, _ := json.Marshal(KeysetBalance{Id: id, Amount: amount})
	rw.Write(response)
}

func (s *Server) getRedeemedEcash(rw http.ResponseWriter, req *http.Request) {
	redeemed, err := s.mint.RedeemedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, fmt.Errorf("unable to get redeemed ecash from db: %v", err))
		return
	}

	response, _ := json.Marshal(balanceResponse(redeemed))
	rw.Write(response)
}

func (s *Server) getRedeemedByKeyset(rw http.ResponseWriter, req *http.Request) {
	redeemed, err := s.mint.RedeemedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, fmt.Errorf("unable to get redeemed ecash from db: %v", err))
		return
	}

	id := mux.Vars(req)["keyset_id"]
	amount, ok := redeemed[id]
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		errRes, _ := json.Marshal(cashu.UnknownKeysetErr)
		rw.Write(errRes)
		return
	}

	response, _ := json.Marshal(KeysetBalance{Id: id, Amount: amount})
	rw.Write(response)
}

// returns total amount of ecash in circulation
func (s *Server) getTotalBalance(rw http.ResponseWriter, req *http.Request) {
	issued, err := s.mint.IssuedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, err)
		return
	}
	redeemed, err := s.mint.RedeemedEcash()
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, err)
		return
	}

	issuedBalance := balanceResponse(issued)
	redeemedBalance := balanceResponse(redeemed)

	response, _ := json.Marshal(TotalBalanceResponse{
		Issued:        issuedBalance,
		Redeemed:      redeemedBalance,
		InCirculation: issuedBalance.Total - redeemedBalance.Total,
	})
	rw.Write(response)
}

// same response as NUT-02 /v1/keysets
func (s *Server) getKeysets(rw http.ResponseWriter, req *http.Request) {
	response, _ := json.Marshal(s.mint.ListKeysets())
	rw.Write(response)
}

func (s *Server) rotateKeyset(rw http.ResponseWriter, req *http.Request) {
	fee := req.URL.Query().Get("fee")
	if len(fee) == 0 {
		writeErr(rw, http.StatusBadRequest, fmt.Errorf("fee for keyset not specified"))
		return
	}
	keysetFee, err := strconv.Atoi(fee)
	if err != nil || keysetFee < 0 {
		writeErr(rw, http.StatusBadRequest, fmt.Errorf("invalid fee"))
		return
	}

	newKeyset, err := s.mint.RotateKeyset(uint(keysetFee))
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, err)
		return
	}

	response, _ := json.Marshal(newKeyset)
	rw.Write(response)
}
