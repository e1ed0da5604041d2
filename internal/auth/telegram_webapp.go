package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL is the maximum age of auth_date when none is configured.
const DefaultInitDataTTL = 5 * time.Minute

var ErrInvalidInitData = errors.New("invalid telegram initData")

// WebAppUser is the "user" object of a WebApp initData payload.
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// ValidateInitData checks the initData signature and freshness and returns
// the user it was issued for.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateInitData(initData, botToken string, maxAge time.Duration) (*WebAppUser, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, fmt.Errorf("%w: hash is missing", ErrInvalidInitData)
	}

	authDateStr := vals.Get("auth_date")
	if authDateStr == "" {
		return nil, fmt.Errorf("%w: auth_date is missing", ErrInvalidInitData)
	}
	authDateUnix, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: auth_date is not a unix timestamp", ErrInvalidInitData)
	}
	authDate := time.Unix(authDateUnix, 0)
	if age := time.Since(authDate); age > maxAge {
		return nil, fmt.Errorf("%w: expired, auth_date is %s old (max %s)", ErrInvalidInitData, age.Round(time.Second), maxAge)
	}
	// one minute of clock skew
	if authDate.After(time.Now().Add(time.Minute)) {
		return nil, fmt.Errorf("%w: auth_date is in the future", ErrInvalidInitData)
	}

	expected, err := hex.DecodeString(receivedHash)
	if err != nil {
		return nil, fmt.Errorf("%w: hash is not hex", ErrInvalidInitData)
	}
	if !hmac.Equal(signInitData(vals, botToken), expected) {
		return nil, fmt.Errorf("%w: data integrity check failed", ErrInvalidInitData)
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(vals.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, fmt.Errorf("%w: user is missing", ErrInvalidInitData)
	}
	return &user, nil
}

// signInitData computes the WebApp hash over every field but "hash".
func signInitData(vals url.Values, botToken string) []byte {
	var pairs []string
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secretKey, []byte(strings.Join(pairs, "\n")))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
