package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTronGridURL = "https://api.trongrid.io"
	TRONUSDTContract   = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	tronPageSize       = 100
	tronMaxPages       = 20
)

// TronGridReader reads TRC20 transfers through the TronGrid v1 API.
type TronGridReader struct {
	baseURL    string
	apiKey     string
	contract   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

type TronGridOptions struct {
	BaseURL   string
	APIKey    string
	Contract  string
	Timeout   time.Duration
	RateLimit float64 // requests per second
}

func NewTronGridReader(opts TronGridOptions, log *zap.Logger) *TronGridReader {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTronGridURL
	}
	if opts.Contract == "" {
		opts.Contract = TRONUSDTContract
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	return &TronGridReader{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		contract:   opts.Contract,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		log:        log,
	}
}

func (r *TronGridReader) Network() string { return models.NetworkTRON }

type tronGridResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Data    []tronGridTx `json:"data"`
	Meta    tronGridMeta `json:"meta"`
}

type tronGridMeta struct {
	Fingerprint string `json:"fingerprint"`
}

type tronGridTx struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

func (r *TronGridReader) Incoming(ctx context.Context, address string) (iter.Seq[Transfer], error) {
	if r.apiKey == "" {
		return slices.Values([]Transfer(nil)), nil
	}

	decimals := models.NetworkDecimals(models.NetworkTRON)
	var transfers []Transfer
	fingerprint := ""

	for page := 0; page < tronMaxPages; page++ {
		body, err := r.fetchPage(ctx, address, fingerprint)
		if err != nil {
			return nil, err
		}

		for _, tx := range body.Data {
			if !SameAddress(models.NetworkTRON, tx.To, address) {
				continue
			}
			amount, err := scale(tx.Value, decimals)
			if err != nil {
				r.log.Warn("skipping trongrid transfer with bad value",
					zap.String("tx_id", tx.TransactionID),
					zap.String("value", tx.Value),
				)
				continue
			}
			transfers = append(transfers, Transfer{
				TxID:      tx.TransactionID,
				From:      tx.From,
				To:        tx.To,
				Amount:    amount,
				Timestamp: time.UnixMilli(tx.BlockTimestamp).UTC(),
			})
		}

		if body.Meta.Fingerprint == "" || len(body.Data) < tronPageSize {
			return slices.Values(transfers), nil
		}
		fingerprint = body.Meta.Fingerprint
	}

	// A partial history would turn the total into a sliding window and hide
	// new deposits, so the read fails instead.
	r.log.Warn("trongrid history exceeds page cap",
		zap.String("address", address),
		zap.Int("max_transfers", tronMaxPages*tronPageSize),
	)
	return nil, fmt.Errorf("%w: trongrid history of %s exceeds %d transfers", ErrQueryFailed, address, tronMaxPages*tronPageSize)
}

func (r *TronGridReader) fetchPage(ctx context.Context, address, fingerprint string) (*tronGridResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: trongrid rate limit wait: %v", ErrQueryFailed, err)
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(tronPageSize))
	params.Set("contract_address", r.contract)
	params.Set("only_to", "true")
	if fingerprint != "" {
		params.Set("fingerprint", fingerprint)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", r.baseURL, url.PathEscape(address), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("TRON-PRO-API-KEY", r.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: trongrid: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: trongrid returned HTTP %d", ErrQueryFailed, resp.StatusCode)
	}

	var body tronGridResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: trongrid decode: %v", ErrQueryFailed, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: trongrid: %s", ErrQueryFailed, body.Error)
	}
	return &body, nil
}
