package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"
)

const (
	CLN_REST_URL = "CLN_REST_URL"
	CLN_RUNE     = "CLN_RUNE"
)

// CLNClient talks to a core lightning node through the clnrest plugin.
type CLNClient struct {
	restURL string
	clnRune string
	client  *http.Client
}

func CreateCLNClient() (*CLNClient, error) {
	restURL := os.Getenv(CLN_REST_URL)
	if restURL == "" {
		return nil, errors.New(CLN_REST_URL + " cannot be empty")
	}
	clnRune := os.Getenv(CLN_RUNE)
	if clnRune == "" {
		return nil, errors.New(CLN_RUNE + " cannot be empty")
	}

	return &CLNClient{
		restURL: restURL,
		clnRune: clnRune,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (cln *CLNClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cln.restURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Rune", cln.clnRune)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := cln.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errRes struct {
			Code    int    `json:"code"`
			Message string `json:"message,omitempty"`
		}
		if err := json.Unmarshal(bodyBytes, &errRes); err != nil {
			return nil, err
		}
		return nil, errors.New(errRes.Message)
	}

	return bodyBytes, nil
}

func (cln *CLNClient) CreateInvoice(amount uint64) (Invoice, error) {
	body := map[string]any{
		"amount_msat": amount * 1000,
		"label":       fmt.Sprintf("mintd-%d-%d", time.Now().Unix(), rand.Int()),
		"description": "ecash mint invoice",
		"expiry":      InvoiceExpiryMins * 60,
	}

	resBytes, err := cln.post(context.Background(), "/v1/invoice", body)
	if err != nil {
		return Invoice{}, fmt.Errorf("cln.CreateInvoice: %v", err)
	}

	var response struct {
		Bolt11      string `json:"bolt11"`
		PaymentHash string `json:"payment_hash"`
	}
	if err := json.Unmarshal(resBytes, &response); err != nil {
		return Invoice{}, err
	}

	return Invoice{
		PaymentRequest: response.Bolt11,
		PaymentHash:    response.PaymentHash,
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(time.Minute * InvoiceExpiryMins).Unix()),
	}, nil
}

func (cln *CLNClient) InvoiceStatus(hash string) (Invoice, error) {
	resBytes, err := cln.post(context.Background(), "/v1/listinvoices", map[string]string{"payment_hash": hash})
	if err != nil {
		return Invoice{}, fmt.Errorf("cln.InvoiceStatus: %v", err)
	}

	var response struct {
		Invoices []struct {
			Bolt11      string `json:"bolt11"`
			PaymentHash string `json:"payment_hash"`
			Preimage    string `json:"payment_preimage"`
			AmountMsat  uint64 `json:"amount_msat"`
			Status      string `json:"status"`
			ExpiresAt   int64  `json:"expires_at"`
		} `json:"invoices"`
	}
	if err := json.Unmarshal(resBytes, &response); err != nil {
		return Invoice{}, err
	}
	if len(response.Invoices) == 0 {
		return Invoice{}, errors.New("invoice not found")
	}

	invoice := response.Invoices[0]
	return Invoice{
		PaymentRequest: invoice.Bolt11,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       invoice.Preimage,
		Settled:        invoice.Status == "paid",
		Amount:         invoice.AmountMsat / 1000,
		Expiry:         uint64(invoice.ExpiresAt),
	}, nil
}

func (cln *CLNClient) SendPayment(ctx context.Context, request string, amount uint64) (PaymentResult, error) {
	body := map[string]any{
		"bolt11": request,
		"maxfee": cln.FeeReserve(amount) * 1000,
	}

	resBytes, err := cln.post(ctx, "/v1/pay", body)
	if err != nil {
		return PaymentResult{PaymentStatus: Failed}, fmt.Errorf("cln.SendPayment: %v", err)
	}

	var response struct {
		Preimage   string `json:"payment_preimage"`
		Status     string `json:"status"`
		AmountMsat uint64 `json:"amount_msat"`
		AmountSent uint64 `json:"amount_sent_msat"`
	}
	if err := json.Unmarshal(resBytes, &response); err != nil {
		return PaymentResult{PaymentStatus: Pending}, err
	}

	status := Pending
	switch response.Status {
	case "complete":
		status = Succeeded
	case "failed":
		status = Failed
	}

	var fee uint64
	if response.AmountSent > response.AmountMsat {
		fee = (response.AmountSent - response.AmountMsat) / 1000
	}

	return PaymentResult{
		Preimage:      response.Preimage,
		PaymentStatus: status,
		Fee:           fee,
	}, nil
}

func (cln *CLNClient) FeeReserve(amount uint64) uint64 {
	return amount * FeePercent / 100
}
