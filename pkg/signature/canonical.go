package signature

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	VNPayPrefix             = "vnp_"
	VNPaySignatureField     = "vnp_SecureHash"
	VNPaySignatureTypeField = "vnp_SecureHashType"
)

// vnpayCanonical: vnp_* keys sorted, values query-escaped, joined with '&'.
// Empty values are skipped, as VNPay does when it builds the hash.
func vnpayCanonical(f Fields, _ Keys) (string, error) {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if !strings.HasPrefix(k, VNPayPrefix) || k == VNPaySignatureField || k == VNPaySignatureTypeField {
			continue
		}
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("signature: no %s fields", VNPayPrefix)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f[k])) // space เป็น "+" แบบตัวอย่างของ VNPay
	}
	return b.String(), nil
}

var (
	momoCreateFields   = []string{"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo", "partnerCode", "redirectUrl", "requestId", "requestType"}
	momoCallbackFields = []string{"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId"}
	momoQueryFields    = []string{"accessKey", "orderId", "partnerCode", "requestId"}
	momoRefundFields   = []string{"accessKey", "amount", "description", "orderId", "partnerCode", "requestId", "transId"}
)

// fields MoMo may legitimately send empty
var momoOptional = map[string]bool{"extraData": true, "message": true, "orderInfo": true, "payType": true, "description": true}

// momoOrdered builds "k1=v1&k2=v2..." in the fixed order. accessKey always
// comes from configuration, never from the payload.
func momoOrdered(order []string) func(Fields, Keys) (string, error) {
	return func(f Fields, k Keys) (string, error) {
		var b strings.Builder
		for i, name := range order {
			var v string
			if name == "accessKey" {
				v = k.AccessKey
			} else {
				val, ok := f[name]
				if !ok || (val == "" && !momoOptional[name]) {
					return "", fmt.Errorf("signature: momo field %q missing", name)
				}
				v = val
			}
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
		}
		return b.String(), nil
	}
}

var (
	zaloCreateFields   = []string{"app_id", "app_trans_id", "app_user", "amount", "app_time", "embed_data", "item"}
	zaloCallbackFields = []string{"app_trans_id", "zp_trans_id", "app_user", "amount", "app_time", "return_code", "return_message"}
	zaloRefundFields   = []string{"app_id", "zp_trans_id", "amount", "description", "timestamp"}
)

// a callback without return_message signs it as empty
var zaloOptional = map[string]bool{"return_message": true}

// zaloPiped joins the fields with "|". withKey appends key1 as the last
// element (refund).
func zaloPiped(order []string, withKey bool) func(Fields, Keys) (string, error) {
	return func(f Fields, k Keys) (string, error) {
		vals := make([]string, 0, len(order)+1)
		for _, name := range order {
			v, ok := f[name]
			if !ok && !zaloOptional[name] {
				return "", fmt.Errorf("signature: zalopay field %q missing", name)
			}
			vals = append(vals, v)
		}
		if withKey {
			vals = append(vals, k.Primary)
		}
		return strings.Join(vals, "|"), nil
	}
}

// zaloQuery is app_id|app_trans_id|key1.
func zaloQuery(f Fields, k Keys) (string, error) {
	id, ok := f["app_trans_id"]
	if !ok || id == "" {
		return "", fmt.Errorf("signature: zalopay field %q missing", "app_trans_id")
	}
	appID := f["app_id"]
	if appID == "" {
		appID = k.AppID
	}
	return appID + "|" + id + "|" + k.Primary, nil
}
