package parser

import (
	"encoding/json"
	"testing"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name    string
		item    *models.Item
		wantErr bool
	}{
		{
			name:    "valid item",
			item:    &models.Item{ItemID: "123", Name: "Oats"},
			wantErr: false,
		},
		{
			name:    "missing id",
			item:    &models.Item{ItemID: "", Name: "Oats"},
			wantErr: true,
		},
		{
			name:    "whitespace id",
			item:    &models.Item{ItemID: "   ", Name: "Oats"},
			wantErr: true,
		},
		{
			name:    "nil item",
			item:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItem(tt.item)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateItem() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractItem(t *testing.T) {
	raw := json.RawMessage(`{
		"itemId": 10450114,
		"parentItemId": "10450114",
		"name": "Great Value Oats",
		"msrp": 4.5,
		"salePrice": "$3.98 ",
		"brandName": "Great Value",
		"stock": " Available ",
		"availableOnline": true,
		"productTrackingUrl": "https://example.test/track/1",
		"categoryNode": "976759_976796",
		"imageEntities": [{"entityType": "PRIMARY"}],
		"unknownField": {"nested": 1}
	}`)

	item, err := ExtractItem(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if item.ItemID != "10450114" {
		t.Fatalf("item id = %q, want 10450114", item.ItemID)
	}
	if item.MSRP != "4.5" {
		t.Fatalf("msrp = %q, want 4.5", item.MSRP)
	}
	if item.SalePrice != "3.98" {
		t.Fatalf("sale price = %q, want 3.98", item.SalePrice)
	}
	if item.Stock != "Available" {
		t.Fatalf("stock = %q, want Available", item.Stock)
	}
	if item.AvailableOnline != "true" {
		t.Fatalf("available online = %q, want true", item.AvailableOnline)
	}
	if item.CategoryNode != "976759_976796" {
		t.Fatalf("category node = %q", item.CategoryNode)
	}
}

func TestExtractItemLargeIDKeepsPrecision(t *testing.T) {
	item, err := ExtractItem(json.RawMessage(`{"itemId": 123456789012345678}`))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if item.ItemID != "123456789012345678" {
		t.Fatalf("item id = %q", item.ItemID)
	}
}

func TestExtractItemRejectsNonObject(t *testing.T) {
	if _, err := ExtractItem(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected error for array payload")
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"$10.00", "10.00"},
		{"  $25.99  ", "25.99"},
		{"5.00", "5.00"},
		{"", ""},
	}

	for _, tt := range tests {
		if result := NormalizePrice(tt.input); result != tt.expected {
			t.Errorf("NormalizePrice(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
