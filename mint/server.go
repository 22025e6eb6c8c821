package mint

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut03"
	"github.com/opencash/mintd/cashu/nuts/nut04"
	"github.com/opencash/mintd/cashu/nuts/nut05"
	"github.com/opencash/mintd/cashu/nuts/nut07"
)

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	logger     *slog.Logger
}

func SetupMintServer(m *Mint, port string) *MintServer {
	mintServer := &MintServer{
		mint:   m,
		logger: m.logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/keys", mintServer.getActiveKeysets).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", mintServer.getKeysetById).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", mintServer.getKeysetsList).Methods(http.MethodGet)
	r.HandleFunc("/v1/swap", mintServer.swapTokens).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/{method}", mintServer.mintQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/{method}/{quote_id}", mintServer.getMintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/{method}", mintServer.mintTokens).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}", mintServer.meltQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}/{quote_id}", mintServer.getMeltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/{method}", mintServer.meltTokens).Methods(http.MethodPost)
	r.HandleFunc("/v1/checkstate", mintServer.checkProofStates).Methods(http.MethodPost)
	r.HandleFunc("/v1/info", mintServer.mintInfo).Methods(http.MethodGet)

	mintServer.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return mintServer
}

func (ms *MintServer) Start() error {
	ms.logger.Info("mint server listening on: " + ms.httpServer.Addr)
	err := ms.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	if err := ms.mint.Shutdown(); err != nil {
		return err
	}
	return ms.httpServer.Shutdown(ctx)
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response []byte) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	rw.Write(response)
	ms.logger.Info("response", slog.String("method", req.Method), slog.String("path", req.URL.Path))
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error) {
	var cashuErr cashu.Error
	switch e := err.(type) {
	case cashu.Error:
		cashuErr = e
	case *cashu.Error:
		cashuErr = *e
	default:
		cashuErr = cashu.StandardErr
	}

	// internal error codes never cross the protocol boundary
	if cashuErr.Code == cashu.DBErrCode || cashuErr.Code == cashu.LightningBackendErrCode {
		ms.logger.Error(cashuErr.Detail, slog.String("path", req.URL.Path))
		cashuErr = cashu.StandardErr
	} else {
		ms.logger.Info(cashuErr.Detail, slog.String("path", req.URL.Path))
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	if req.Body == nil {
		return cashu.EmptyBodyErr
	}
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode)
	}
	return nil
}

func (ms *MintServer) getActiveKeysets(rw http.ResponseWriter, req *http.Request) {
	jsonRes, err := json.Marshal(ms.mint.ActiveKeysets())
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	jsonRes, err := json.Marshal(ms.mint.ListKeysets())
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) getKeysetById(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	keysetRes, err := ms.mint.KeysetById(vars["id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	jsonRes, _ := json.Marshal(keysetRes)
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) swapTokens(rw http.ResponseWriter, req *http.Request) {
	var swapRequest nut03.PostSwapRequest
	if err := decodeJsonReqBody(req, &swapRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	blindedSignatures, err := ms.mint.Swap(swapRequest.Inputs, swapRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut03.PostSwapResponse{Signatures: blindedSignatures})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) mintQuote(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	var mintQuoteRequest nut04.PostMintQuoteBolt11Request
	if err := decodeJsonReqBody(req, &mintQuoteRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	mintQuote, err := ms.mint.RequestMintQuote(vars["method"], mintQuoteRequest.Amount, mintQuoteRequest.Unit)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut04.PostMintQuoteBolt11Response{
		Quote:   mintQuote.Id,
		Request: mintQuote.PaymentRequest,
		State:   mintQuote.State,
		Expiry:  mintQuote.Expiry,
	})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) getMintQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	mintQuote, err := ms.mint.GetMintQuoteState(vars["method"], vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut04.PostMintQuoteBolt11Response{
		Quote:   mintQuote.Id,
		Request: mintQuote.PaymentRequest,
		State:   mintQuote.State,
		Expiry:  mintQuote.Expiry,
	})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) mintTokens(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	var mintRequest nut04.PostMintBolt11Request
	if err := decodeJsonReqBody(req, &mintRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	blindedSignatures, err := ms.mint.MintTokens(vars["method"], mintRequest.Quote, mintRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut04.PostMintBolt11Response{Signatures: blindedSignatures})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) meltQuote(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	var meltQuoteRequest nut05.PostMeltQuoteBolt11Request
	if err := decodeJsonReqBody(req, &meltQuoteRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	meltQuote, err := ms.mint.RequestMeltQuote(vars["method"], meltQuoteRequest.Request, meltQuoteRequest.Unit)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut05.PostMeltQuoteBolt11Response{
		Quote:      meltQuote.Id,
		Amount:     meltQuote.Amount,
		FeeReserve: meltQuote.FeeReserve,
		State:      meltQuote.State,
		Expiry:     meltQuote.Expiry,
	})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) getMeltQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	meltQuote, err := ms.mint.GetMeltQuoteState(vars["method"], vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut05.PostMeltQuoteBolt11Response{
		Quote:      meltQuote.Id,
		Amount:     meltQuote.Amount,
		FeeReserve: meltQuote.FeeReserve,
		State:      meltQuote.State,
		Expiry:     meltQuote.Expiry,
		Preimage:   meltQuote.Preimage,
	})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) meltTokens(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	var meltRequest nut05.PostMeltBolt11Request
	if err := decodeJsonReqBody(req, &meltRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	meltQuote, change, err := ms.mint.MeltTokens(req.Context(), vars["method"], meltRequest.Quote, meltRequest.Inputs, meltRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut05.PostMeltQuoteBolt11Response{
		Quote:      meltQuote.Id,
		Amount:     meltQuote.Amount,
		FeeReserve: meltQuote.FeeReserve,
		State:      meltQuote.State,
		Expiry:     meltQuote.Expiry,
		Preimage:   meltQuote.Preimage,
		Change:     change,
	})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) checkProofStates(rw http.ResponseWriter, req *http.Request) {
	var checkStateRequest nut07.PostCheckStateRequest
	if err := decodeJsonReqBody(req, &checkStateRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	proofStates, err := ms.mint.ProofStates(checkStateRequest.Ys)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, _ := json.Marshal(nut07.PostCheckStateResponse{States: proofStates})
	ms.writeResponse(rw, req, jsonRes)
}

func (ms *MintServer) mintInfo(rw http.ResponseWriter, req *http.Request) {
	jsonRes, err := json.Marshal(ms.mint.RetrieveMintInfo())
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes)
}
