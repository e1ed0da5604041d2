package models

import "github.com/shopspring/decimal"

// FeeTier is the advertised escrow fee. It is derived from the declarations
// and never stored.
type FeeTier struct {
	BPS        int  `json:"bps"`
	Discounted bool `json:"discounted"`
}

func FeeTierFor(buyer, seller *PartyDeclaration, standardBPS, discountBPS int) FeeTier {
	if buyer != nil && seller != nil && buyer.BioFlagPresent && seller.BioFlagPresent {
		return FeeTier{BPS: discountBPS, Discounted: true}
	}
	return FeeTier{BPS: standardBPS}
}

// Percent renders the rate with one decimal, e.g. "0.5%".
func (f FeeTier) Percent() string {
	return decimal.New(int64(f.BPS), -2).StringFixed(1) + "%"
}
