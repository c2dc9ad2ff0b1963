// Package parser turns raw inputs (subtree files, API item payloads, display
// names) into the values the sweep works with.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

// ExtractItem decodes one API item object. Unknown fields are ignored and
// values of unexpected types are stringified.
func ExtractItem(raw json.RawMessage) (models.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return models.Item{}, fmt.Errorf("decode item: %w", err)
	}

	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := fields[k]; ok {
				if s := stringify(v); s != "" {
					return s
				}
			}
		}
		return ""
	}

	item := models.Item{
		ItemID:             get("itemId", "item_id", "id"),
		ParentItemID:       get("parentItemId"),
		Name:               get("name"),
		BrandName:          get("brandName"),
		UPC:                get("upc"),
		MSRP:               NormalizePrice(get("msrp")),
		SalePrice:          NormalizePrice(get("salePrice")),
		ShortDescription:   get("shortDescription"),
		LongDescription:    get("longDescription"),
		ThumbnailImage:     get("thumbnailImage"),
		MediumImage:        get("mediumImage"),
		LargeImage:         get("largeImage"),
		Stock:              NormalizeAvailability(get("stock")),
		AvailableOnline:    get("availableOnline"),
		ProductTrackingURL: get("productTrackingUrl", "productUrl"),
		CategoryNode:       get("categoryNode"),
		CategoryPath:       get("categoryPath"),
		CustomerRating:     get("customerRating"),
		NumReviews:         get("numReviews"),
	}
	return item, nil
}

// ValidateItem ensures the item can be written.
func ValidateItem(item *models.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if strings.TrimSpace(item.ItemID) == "" {
		return fmt.Errorf("item missing id (name %q)", item.Name)
	}
	return nil
}

// NormalizePrice removes a currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.TrimPrefix(price, "$")
	return strings.TrimSpace(price)
}

// NormalizeAvailability trims spacing from the stock text.
func NormalizeAvailability(text string) string {
	return strings.TrimSpace(text)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	}
}
