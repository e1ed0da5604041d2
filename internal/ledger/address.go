package ledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

// tronAddressVersion is the base58check version byte of TRON mainnet addresses.
const tronAddressVersion = 0x41

// ValidateAddress checks an address against the format rules of a network.
func ValidateAddress(network, address string) error {
	switch network {
	case models.NetworkBSC:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: %q is not a BEP20 address", ErrInvalidAddress, address)
		}
		return nil
	case models.NetworkTRON:
		payload, version, err := base58.CheckDecode(address)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
		}
		if version != tronAddressVersion || len(payload) != common.AddressLength {
			return fmt.Errorf("%w: %q is not a TRC20 address", ErrInvalidAddress, address)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported network %s", ErrInvalidAddress, network)
	}
}

// NetworksAccepting lists the supported networks on which address is well formed.
func NetworksAccepting(address string) []string {
	var out []string
	for _, n := range []string{models.NetworkBSC, models.NetworkTRON} {
		if ValidateAddress(n, address) == nil {
			out = append(out, n)
		}
	}
	return out
}

// SameAddress compares two addresses the way the network does: BSC addresses
// are case-insensitive hex, TRON addresses are exact base58.
func SameAddress(network, a, b string) bool {
	if network == models.NetworkBSC {
		return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}
