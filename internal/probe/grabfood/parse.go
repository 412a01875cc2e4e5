package grabfood

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// ErrNoMerchant is wrapped in a ParseError when the payload has no merchant.
var ErrNoMerchant = errors.New("payload has no merchant object")

type object map[string]json.RawMessage

// Parse turns a merchant payload into PlatformData. Unknown fields are ignored
// and fields with unexpected types are treated as absent.
func Parse(body []byte) (*monitor.PlatformData, error) {
	var root object
	if err := json.Unmarshal(bytes.TrimSpace(body), &root); err != nil {
		return nil, &monitor.ParseError{Platform: monitor.PlatformGrabFood, Err: err}
	}
	merchant := root.object("merchant")
	if merchant == nil {
		if _, ok := root["ID"]; !ok {
			return nil, &monitor.ParseError{Platform: monitor.PlatformGrabFood, Err: ErrNoMerchant}
		}
		merchant = root
	}

	data := &monitor.PlatformData{
		Name:  merchant.str("name"),
		State: merchantState(merchant.str("status")),
	}
	if rating, ok := merchant.num("rating"); ok && rating > 0 {
		data.HasRating = true
	}
	if votes, ok := merchant.num("voteCount"); ok && votes > 0 {
		data.HasRating = true
	}
	if closed, ok := merchant.boolean("isClosed"); ok {
		data.Closed = &closed
	} else if hours := merchant.object("openingHours"); hours != nil {
		if open, ok := hours.boolean("open"); ok {
			closed := !open
			data.Closed = &closed
		}
	}
	if available, ok := merchant.boolean("isAvailable"); ok {
		data.Available = &available
	}
	data.Products = products(merchant.object("menu"))
	return data, nil
}

func merchantState(raw string) monitor.MerchantState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE":
		return monitor.MerchantStateActive
	case "INACTIVE", "DISABLED", "SUSPENDED":
		return monitor.MerchantStateInactive
	case "TERMINATED", "DELETED", "CHURNED":
		return monitor.MerchantStateTerminated
	default:
		return monitor.MerchantStateUnknown
	}
}

func products(menu object) []monitor.ProductObservation {
	if menu == nil {
		return nil
	}
	var out []monitor.ProductObservation
	for _, category := range menu.objects("categories") {
		for _, item := range category.objects("items") {
			name := strings.TrimSpace(item.str("name"))
			if name == "" {
				continue
			}
			available := true
			if v, ok := item.boolean("available"); ok {
				available = v
			}
			obs := monitor.ProductObservation{
				ScrapedName:     name,
				Available:       available,
				DetectionMethod: "structured",
				Confidence:      0.95,
			}
			if minor, ok := item.num("priceInMinorUnit"); ok {
				price := minor / 100
				obs.Price = &price
			}
			out = append(out, obs)
		}
	}
	return out
}

func (o object) object(key string) object {
	raw, ok := o[key]
	if !ok {
		return nil
	}
	var v object
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func (o object) objects(key string) []object {
	raw, ok := o[key]
	if !ok {
		return nil
	}
	var v []object
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func (o object) str(key string) string {
	var v string
	if raw, ok := o[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

func (o object) num(key string) (float64, bool) {
	raw, ok := o[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (o object) boolean(key string) (bool, bool) {
	raw, ok := o[key]
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}
