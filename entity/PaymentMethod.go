package entity

import "strings"

type PaymentMethod string

const (
	MethodVNPay   PaymentMethod = "VNPAY"
	MethodMoMo    PaymentMethod = "MOMO"
	MethodZaloPay PaymentMethod = "ZALOPAY"
	MethodCOD     PaymentMethod = "COD"
)

// SupportedMethods ในลำดับที่แสดงใน error message
var SupportedMethods = []PaymentMethod{MethodVNPay, MethodMoMo, MethodZaloPay, MethodCOD}

func (m PaymentMethod) Valid() bool {
	for _, s := range SupportedMethods {
		if m == s {
			return true
		}
	}
	return false
}

// ParsePaymentMethod accepts the loose spellings clients send
// ("momo", "cash on delivery", ...).
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	switch k {
	case "vnpay":
		return MethodVNPay, true
	case "momo":
		return MethodMoMo, true
	case "zalopay":
		return MethodZaloPay, true
	case "cod", "cash_on_delivery", "cash-on-delivery", "cash on delivery":
		return MethodCOD, true
	}
	return PaymentMethod(strings.ToUpper(k)), false
}
