package commerce

import (
	"math"
	"strconv"
	"strings"
)

// EventKind is the normalized meaning of a commerce event.
type EventKind string

const (
	KindApproved  EventKind = "payment_approved"
	KindPending   EventKind = "payment_pending"
	KindAbandoned EventKind = "cart_abandoned"
	KindUnknown   EventKind = "unknown"
)

// Alias tables: commerce platforms disagree on event naming, so kinds are
// normalized through synonym sets rather than a fixed schema.
var approvedKinds = map[string]struct{}{
	"purchase.approved": {}, "purchase_approved": {}, "compra_aprovada": {},
	"payment.approved": {}, "payment_approved": {}, "order.paid": {},
	"sale_approved": {}, "approved": {}, "paid": {},
}

var pendingKinds = map[string]struct{}{
	"purchase.billet_printed": {}, "boleto_gerado": {}, "pix_gerado": {},
	"payment.pending": {}, "payment_pending": {}, "waiting_payment": {},
	"order.pending": {}, "pending": {},
}

var abandonedKinds = map[string]struct{}{
	"cart.abandoned": {}, "checkout_abandonado": {}, "abandoned_cart": {},
	"purchase.expired": {}, "order.expired": {},
}

// NormalizeKind maps a raw platform event name onto an EventKind.
func NormalizeKind(raw string) EventKind {
	key := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := approvedKinds[key]; ok {
		return KindApproved
	}
	if _, ok := pendingKinds[key]; ok {
		return KindPending
	}
	if _, ok := abandonedKinds[key]; ok {
		return KindAbandoned
	}
	return KindUnknown
}

// Candidate paths per field of interest, tried in order; the first present,
// non-empty value wins.
var (
	eventIDPaths = []string{
		"event_id", "id", "data.id", "data.purchase.transaction",
		"purchase.transaction", "transaction", "order_id", "data.order.id",
	}
	kindPaths = []string{
		"event", "event_type", "type", "data.status", "status",
	}
	buyerPhonePaths = []string{
		"buyer.phone", "buyer.checkout_phone", "data.buyer.checkout_phone",
		"data.buyer.phone", "customer.phone_number", "customer.phone",
		"client.phone", "data.customer.phone",
	}
	buyerEmailPaths = []string{
		"buyer.email", "data.buyer.email", "customer.email",
		"client.email", "data.customer.email", "email",
	}
	amountPaths = []string{
		"purchase.price.value", "data.purchase.price.value", "data.amount",
		"amount", "order.total", "value", "price",
	}
	productPaths = []string{
		"product.name", "data.product.name", "prod_name", "data.product.id",
		"product_id", "offer.name",
	}
)

// ExtractString walks the ordered candidate paths and returns the first
// present, non-empty string (numbers are stringified).
func ExtractString(doc map[string]any, paths ...string) string {
	for _, path := range paths {
		value, ok := walk(doc, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// ExtractAmountCents reads a monetary amount under the candidate paths and
// converts it to integer cents. Platforms send floats ("97.0"), strings
// ("97,00") and already-cent integers; values above 10000 are assumed to be
// cents already.
func ExtractAmountCents(doc map[string]any, paths ...string) int64 {
	for _, path := range paths {
		value, ok := walk(doc, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return toCents(v)
		case string:
			cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
			if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return toCents(f)
			}
		}
	}
	return 0
}

func toCents(v float64) int64 {
	if v >= 10000 && v == math.Trunc(v) {
		return int64(v)
	}
	return int64(math.Round(v * 100))
}

func walk(doc map[string]any, path string) (any, bool) {
	current := any(doc)
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
