package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	bscWallet  = "0xDA4c2a5B876b0c7521e1c752690D8705080000fE"
	tronWallet = "TVsTYwseYdRXUKk2ehcEcTT4UU3b2tqrVm"
)

func newBscReader(t *testing.T, url, apiKey string, timeout time.Duration) *BscScanReader {
	t.Helper()
	return NewBscScanReader(BscScanOptions{
		BaseURL:   url,
		APIKey:    apiKey,
		Timeout:   timeout,
		RateLimit: 1000,
	}, zap.NewNop())
}

func TestBscScanReader_SumsIncomingTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tokentx", q.Get("action"))
		assert.Equal(t, BSCUSDTContract, q.Get("contractaddress"))
		assert.Equal(t, bscWallet, q.Get("address"))
		assert.Equal(t, "key", q.Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"hash":"0x1","from":"0xaaa","to":"0xda4c2a5b876b0c7521e1c752690d8705080000fe","value":"10000000000000000000","timeStamp":"1700000000"},
			{"hash":"0x2","from":"0xbbb","to":"0xDA4c2a5B876b0c7521e1c752690D8705080000fE","value":"5000000000000000000","timeStamp":"1700000100"},
			{"hash":"0x3","from":"0xDA4c2a5B876b0c7521e1c752690D8705080000fE","to":"0x0000000000000000000000000000000000000001","value":"7000000000000000000","timeStamp":"1700000200"}
		]}`))
	}))
	defer srv.Close()

	r := newBscReader(t, srv.URL, "key", time.Second)
	total, err := Total(context.Background(), r, bscWallet)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(15)), "total = %s", total)
}

func TestBscScanReader_NoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	seq, err := newBscReader(t, srv.URL, "key", time.Second).Incoming(context.Background(), bscWallet)
	require.NoError(t, err)
	assert.True(t, Sum(seq).IsZero())
}

func TestBscScanReader_MissingKeyFailsClosed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	seq, err := newBscReader(t, srv.URL, "", time.Second).Incoming(context.Background(), bscWallet)
	require.NoError(t, err)
	assert.True(t, Sum(seq).IsZero())
	assert.Equal(t, int32(0), hits.Load())
}

func TestBscScanReader_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api error", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
		}},
		{"http 500", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newBscReader(t, srv.URL, "key", time.Second).Incoming(context.Background(), bscWallet)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrQueryFailed)
		})
	}
}

func TestBscScanReader_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newBscReader(t, srv.URL, "key", 20*time.Millisecond).Incoming(context.Background(), bscWallet)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestTronGridReader_PaginatesAndScales(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tron-key", r.Header.Get("TRON-PRO-API-KEY"))
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v1/accounts/"+tronWallet+"/transactions/trc20"))
		assert.Equal(t, TRONUSDTContract, r.URL.Query().Get("contract_address"))
		assert.Equal(t, "true", r.URL.Query().Get("only_to"))

		pages.Add(1)
		if r.URL.Query().Get("fingerprint") == "" {
			var b strings.Builder
			b.WriteString(`{"success":true,"meta":{"fingerprint":"next"},"data":[`)
			for i := 0; i < tronPageSize; i++ {
				if i > 0 {
					b.WriteString(",")
				}
				// 100 x 0.01 USDT
				b.WriteString(`{"transaction_id":"a","from":"TX","to":"` + tronWallet + `","value":"10000","block_timestamp":1700000000000}`)
			}
			b.WriteString(`]}`)
			_, _ = w.Write([]byte(b.String()))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"meta":{},"data":[
			{"transaction_id":"b","from":"TX","to":"` + tronWallet + `","value":"2500000","block_timestamp":1700000001000},
			{"transaction_id":"c","from":"` + tronWallet + `","to":"TY","value":"9000000","block_timestamp":1700000002000}
		]}`))
	}))
	defer srv.Close()

	r := NewTronGridReader(TronGridOptions{BaseURL: srv.URL, APIKey: "tron-key", Timeout: time.Second, RateLimit: 1000}, zap.NewNop())
	total, err := Total(context.Background(), r, tronWallet)
	require.NoError(t, err)
	assert.Equal(t, int32(2), pages.Load())
	assert.True(t, total.Equal(decimal.RequireFromString("3.5")), "total = %s", total)
}

// tronHistoryServer serves n one-USDT incoming transfers, a page at a time.
func tronHistoryServer(n int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("fingerprint"))
		end := min(offset+tronPageSize, n)

		var b strings.Builder
		b.WriteString(`{"success":true,"meta":{`)
		if end < n {
			b.WriteString(`"fingerprint":"` + strconv.Itoa(end) + `"`)
		}
		b.WriteString(`},"data":[`)
		for i := offset; i < end; i++ {
			if i > offset {
				b.WriteString(",")
			}
			b.WriteString(`{"transaction_id":"t` + strconv.Itoa(i) + `","from":"TX","to":"` + tronWallet + `","value":"1000000","block_timestamp":1700000000000}`)
		}
		b.WriteString(`]}`)
		_, _ = w.Write([]byte(b.String()))
	}))
}

func TestTronGridReader_HistoryCap(t *testing.T) {
	limit := tronMaxPages * tronPageSize

	srv := tronHistoryServer(limit)
	defer srv.Close()
	r := NewTronGridReader(TronGridOptions{BaseURL: srv.URL, APIKey: "k", RateLimit: 1000}, zap.NewNop())
	total, err := Total(context.Background(), r, tronWallet)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(int64(limit))), "total = %s", total)

	over := tronHistoryServer(limit + 1)
	defer over.Close()
	r = NewTronGridReader(TronGridOptions{BaseURL: over.URL, APIKey: "k", RateLimit: 1000}, zap.NewNop())
	_, err = Total(context.Background(), r, tronWallet)
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestTronGridReader_UnsuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"rate limited"}`))
	}))
	defer srv.Close()

	r := NewTronGridReader(TronGridOptions{BaseURL: srv.URL, APIKey: "k", RateLimit: 1000}, zap.NewNop())
	_, err := r.Incoming(context.Background(), tronWallet)
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestNetworkDecimalsDiffer(t *testing.T) {
	bsc, err := scale("1000000000000000000", models.NetworkDecimals(models.NetworkBSC))
	require.NoError(t, err)
	tron, err := scale("1000000", models.NetworkDecimals(models.NetworkTRON))
	require.NoError(t, err)
	assert.True(t, bsc.Equal(decimal.NewFromInt(1)))
	assert.True(t, tron.Equal(decimal.NewFromInt(1)))
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		network string
		address string
		valid   bool
	}{
		{models.NetworkBSC, bscWallet, true},
		{models.NetworkBSC, "0x87bc2030c418222d7cd9feebe70b38158dd65d9a", true},
		{models.NetworkBSC, "0x87bc2030", false},
		{models.NetworkBSC, tronWallet, false},
		{models.NetworkTRON, TRONUSDTContract, true},
		{models.NetworkTRON, bscWallet, false},
		{models.NetworkTRON, "not-an-address", false},
		{"SOL", bscWallet, false},
	}

	for _, tt := range tests {
		t.Run(tt.network+"/"+tt.address, func(t *testing.T) {
			err := ValidateAddress(tt.network, tt.address)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAddress)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress(models.NetworkBSC, bscWallet, strings.ToLower(bscWallet)))
	assert.False(t, SameAddress(models.NetworkTRON, tronWallet, strings.ToLower(tronWallet)))
	assert.True(t, SameAddress(models.NetworkTRON, tronWallet, tronWallet))
}
