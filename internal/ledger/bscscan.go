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
	DefaultBscScanURL    = "https://api.bscscan.com/api"
	BSCUSDTContract      = "0x55d398326f99059fF775485246999027B3197955"
	bscNoTransactionsMsg = "No transactions found"
)

// BscScanReader reads BEP20 token transfers through the BscScan account API.
type BscScanReader struct {
	baseURL    string
	apiKey     string
	contract   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

type BscScanOptions struct {
	BaseURL   string
	APIKey    string
	Contract  string
	Timeout   time.Duration
	RateLimit float64 // requests per second
}

func NewBscScanReader(opts BscScanOptions, log *zap.Logger) *BscScanReader {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBscScanURL
	}
	if opts.Contract == "" {
		opts.Contract = BSCUSDTContract
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	return &BscScanReader{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		contract:   opts.Contract,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		log:        log,
	}
}

func (r *BscScanReader) Network() string { return models.NetworkBSC }

type bscScanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type bscScanTx struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	TimeStamp string `json:"timeStamp"`
}

func (r *BscScanReader) Incoming(ctx context.Context, address string) (iter.Seq[Transfer], error) {
	if r.apiKey == "" {
		return slices.Values([]Transfer(nil)), nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: bscscan rate limit wait: %v", ErrQueryFailed, err)
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("contractaddress", r.contract)
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "999999999")
	params.Set("sort", "desc")
	params.Set("apikey", r.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: bscscan: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bscscan returned HTTP %d", ErrQueryFailed, resp.StatusCode)
	}

	var body bscScanResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: bscscan decode: %v", ErrQueryFailed, err)
	}

	if body.Status != "1" {
		if strings.EqualFold(body.Message, bscNoTransactionsMsg) {
			return slices.Values([]Transfer(nil)), nil
		}
		var reason string
		_ = json.Unmarshal(body.Result, &reason)
		return nil, fmt.Errorf("%w: bscscan status %s: %s %s", ErrQueryFailed, body.Status, body.Message, reason)
	}

	var txs []bscScanTx
	if err := json.Unmarshal(body.Result, &txs); err != nil {
		return nil, fmt.Errorf("%w: bscscan result: %v", ErrQueryFailed, err)
	}

	decimals := models.NetworkDecimals(models.NetworkBSC)
	transfers := make([]Transfer, 0, len(txs))
	for _, tx := range txs {
		if !SameAddress(models.NetworkBSC, tx.To, address) {
			continue
		}
		amount, err := scale(tx.Value, decimals)
		if err != nil {
			r.log.Warn("skipping bscscan transfer with bad value",
				zap.String("hash", tx.Hash),
				zap.String("value", tx.Value),
			)
			continue
		}
		t := Transfer{TxID: tx.Hash, From: tx.From, To: tx.To, Amount: amount}
		if sec, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil {
			t.Timestamp = time.Unix(sec, 0).UTC()
		}
		transfers = append(transfers, t)
	}

	return slices.Values(transfers), nil
}
