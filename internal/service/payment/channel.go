package payment

import (
	"slices"
	"strings"

	"github.com/kirinyoku/tix-checkout/internal/domain"
)

var (
	vaCodes      = []string{"BCA", "BNI", "BRI", "MANDIRI", "PERMATA"}
	eWalletCodes = []string{"OVO", "DANA", "SHOPEEPAY", "LINKAJA"}
	retailCodes  = []string{"ALFAMART", "INDOMARET"}
	cardCodes    = []string{"CREDIT_CARD", "CARD"}
)

// ClassifyMethod maps a method code chosen by the buyer to its channel.
func ClassifyMethod(method string) domain.PaymentChannel {
	m := strings.ToUpper(strings.TrimSpace(method))

	switch {
	case slices.Contains(vaCodes, m):
		return domain.ChannelVirtualAccount
	case slices.Contains(eWalletCodes, m):
		return domain.ChannelEWallet
	case m == "QRIS":
		return domain.ChannelQRIS
	case slices.Contains(retailCodes, m):
		return domain.ChannelRetailOutlet
	case slices.Contains(cardCodes, m):
		return domain.ChannelCreditCard
	default:
		return domain.ChannelOther
	}
}

// Classify derives the channel and channel code of a settled payment. A bank
// code always means a virtual account; otherwise the payment channel wins
// over the payment method.
func Classify(cb *Callback) (domain.PaymentChannel, string) {
	if code := strings.ToUpper(strings.TrimSpace(cb.BankCode)); code != "" {
		return domain.ChannelVirtualAccount, code
	}

	for _, raw := range []string{cb.PaymentChannel, cb.PaymentMethod} {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if ch := ClassifyMethod(code); ch != domain.ChannelOther {
			return ch, code
		}
	}

	code := strings.ToUpper(strings.TrimSpace(cb.PaymentMethod))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(cb.PaymentChannel))
	}
	if code == "" {
		return "", ""
	}

	return domain.ChannelOther, code
}
