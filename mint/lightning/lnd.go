package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LND_HOST          = "LND_REST_HOST"
	LND_CERT_PATH     = "LND_CERT_PATH"
	LND_MACAROON_PATH = "LND_MACAROON_PATH"
)

const (
	InvoiceExpiryMins = 10
	FeePercent        = 1
)

// LndClient talks to an LND node over its REST interface.
type LndClient struct {
	host     string
	client   *http.Client
	macaroon string // hex encoded
}

func CreateLndClient() (*LndClient, error) {
	host := os.Getenv(LND_HOST)
	if host == "" {
		return nil, errors.New(LND_HOST + " cannot be empty")
	}
	certPath := os.Getenv(LND_CERT_PATH)
	if certPath == "" {
		return nil, errors.New(LND_CERT_PATH + " cannot be empty")
	}
	macaroonPath := os.Getenv(LND_MACAROON_PATH)
	if macaroonPath == "" {
		return nil, errors.New(LND_MACAROON_PATH + " cannot be empty")
	}

	macaroonBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: os.ReadFile %v", err)
	}

	cert, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("error reading tls cert: os.ReadFile %v", err)
	}
	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(cert)

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: certPool,
			},
		},
	}

	return &LndClient{
		host:     host,
		client:   client,
		macaroon: hex.EncodeToString(macaroonBytes),
	}, nil
}

func (lnd *LndClient) do(method, url string, body any) (map[string]any, error) {
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, lnd.host+url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return res, nil
}

func (lnd *LndClient) CreateInvoice(amount uint64) (Invoice, error) {
	body := map[string]any{"value": amount, "expiry": InvoiceExpiryMins * 60}

	res, err := lnd.do(http.MethodPost, "/v1/invoices", body)
	if err != nil {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: %v", err)
	}

	pr, ok := res["payment_request"].(string)
	if !ok {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: invalid response: %+v", res)
	}
	rhash, _ := res["r_hash"].(string)
	hash, err := base64.StdEncoding.DecodeString(rhash)
	if err != nil {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: invalid payment hash: %v", err)
	}

	return Invoice{
		PaymentRequest: pr,
		PaymentHash:    hex.EncodeToString(hash),
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(time.Minute * InvoiceExpiryMins).Unix()),
	}, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	url := "/v2/invoices/lookup?payment_hash=" + urlSafe(hash)

	res, err := lnd.do(http.MethodGet, url, nil)
	if err != nil {
		return Invoice{}, fmt.Errorf("lnd.InvoiceStatus: %v", err)
	}

	state, _ := res["state"].(string)
	pr, _ := res["payment_request"].(string)

	return Invoice{
		PaymentRequest: pr,
		PaymentHash:    hash,
		Settled:        state == "SETTLED",
	}, nil
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, amount uint64) (PaymentResult, error) {
	body := map[string]any{"payment_request": request}

	res, err := lnd.do(http.MethodPost, "/v1/channels/transactions", body)
	if err != nil {
		return PaymentResult{PaymentStatus: Failed}, fmt.Errorf("lnd.SendPayment: %v", err)
	}

	if paymentErr, ok := res["payment_error"].(string); ok && len(paymentErr) > 0 {
		return PaymentResult{PaymentStatus: Failed}, fmt.Errorf("error making payment: %v", paymentErr)
	}

	preimageB64, _ := res["payment_preimage"].(string)
	preimage, err := base64.StdEncoding.DecodeString(preimageB64)
	if err != nil {
		return PaymentResult{PaymentStatus: Failed}, fmt.Errorf("lnd.SendPayment: invalid preimage: %v", err)
	}

	var fee uint64
	if route, ok := res["payment_route"].(map[string]any); ok {
		if feeStr, ok := route["total_fees"].(string); ok {
			parsedFee, err := strconv.ParseUint(feeStr, 10, 64)
			if err == nil {
				fee = parsedFee
			}
		}
	}

	return PaymentResult{
		Preimage:      hex.EncodeToString(preimage),
		PaymentStatus: Succeeded,
		Fee:           fee,
	}, nil
}

func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	return amount * FeePercent / 100
}

func urlSafe(hash string) string {
	return strings.ReplaceAll(strings.ReplaceAll(hash, "/", "_"), "+", "-")
}
