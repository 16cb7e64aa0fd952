package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

const sampleOrder = "NOUVELLE COMMANDE\n📦 *Produit:* Tapis Yoga\n📏 *Taille:* M\n🔢 *Quantité:* 2\n💰 *Prix:* 150 MAD\n💵 *Total:* 300 MAD"

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestExtractOrderInfoSample(t *testing.T) {
	got := ExtractOrderInfo(sampleOrder)
	if got == nil {
		t.Fatal("expected an order, got nil")
	}

	want := ParsedOrder{
		Product:  "Tapis Yoga",
		Price:    decimal.NewFromInt(150),
		Currency: "MAD",
		Size:     "M",
		Quantity: 2,
		Total:    decimal.NewFromInt(300),
	}
	if diff := cmp.Diff(want, *got, decimalComparer); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestIsValidOrderMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"sample", sampleOrder, true},
		{"no header", strings.Replace(sampleOrder, "NOUVELLE COMMANDE", "Bonjour", 1), false},
		{"no product marker", strings.Replace(sampleOrder, "*Produit:*", "Article", 1), false},
		{"no quantity marker", strings.Replace(sampleOrder, "*Quantité:*", "Nombre", 1), false},
		{"plain markers", "NOUVELLE COMMANDE\nProduit: Tapis\nQuantité: 1", true},
		{"emoji fallback", "NOUVELLE COMMANDE\n📦 Produit - Tapis\n🔢 Quantité - 1", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidOrderMessage(tt.text); got != tt.want {
				t.Errorf("IsValidOrderMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractOrderInfoIncomplete(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		missing []string
	}{
		{
			name:    "zero quantity",
			text:    strings.Replace(sampleOrder, "*Quantité:* 2", "*Quantité:* 0", 1),
			missing: []string{"quantity"},
		},
		{
			name:    "no quantity",
			text:    "NOUVELLE COMMANDE\n📦 *Produit:* Tapis Yoga\n💰 *Prix:* 150 MAD\n💵 *Total:* 300 MAD",
			missing: []string{"quantity"},
		},
		{
			name:    "empty product",
			text:    "NOUVELLE COMMANDE\n📦 *Produit:*\n📏 *Taille:* M\n🔢 *Quantité:* 2\n💰 *Prix:* 150 MAD",
			missing: []string{"product"},
		},
		{
			name:    "no header",
			text:    "📦 *Produit:* Tapis Yoga\n🔢 *Quantité:* 2",
			missing: []string{"header"},
		},
		{
			name:    "negative quantity",
			text:    strings.Replace(sampleOrder, "*Quantité:* 2", "*Quantité:* -3", 1),
			missing: []string{"quantity"},
		},
		{
			name:    "quantity overflows",
			text:    strings.Replace(sampleOrder, "*Quantité:* 2", "*Quantité:* 99999999999999999999999", 1),
			missing: []string{"quantity"},
		},
		{
			name:    "emoji fallback only",
			text:    "NOUVELLE COMMANDE\n📦 Produit - Tapis\n🔢 Quantité - 1",
			missing: []string{"product", "quantity"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractOrderInfo(tt.text); got != nil {
				t.Fatalf("expected nil, got %+v", got)
			}

			_, err := ParseOrder(tt.text)
			var incomplete *IncompleteOrderError
			if !errors.As(err, &incomplete) {
				t.Fatalf("expected *IncompleteOrderError, got %v", err)
			}
			if diff := cmp.Diff(tt.missing, incomplete.Missing); diff != "" {
				t.Errorf("missing fields (-want +got):\n%s", diff)
			}
			if !errors.Is(err, ErrInvalidOrder) {
				t.Error("incomplete order should match ErrInvalidOrder")
			}
		})
	}
}

func TestParseOrderDefaults(t *testing.T) {
	order, err := ParseOrder("NOUVELLE COMMANDE\nProduit: Gourde\nQuantité: 3\nTotal: 45,50 eur")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ParsedOrder{
		Product:  "Gourde",
		Price:    decimal.Zero,
		Currency: "EUR",
		Size:     SizeNotApplicable,
		Quantity: 3,
		Total:    decimal.RequireFromString("45.50"),
	}
	if diff := cmp.Diff(want, order, decimalComparer); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOrderWithoutMarkers(t *testing.T) {
	if _, err := ParseOrder("NOUVELLE COMMANDE\nArticle: Tapis\nNombre: 2"); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestParseOrderGroupedAmounts(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  string
	}{
		{"space", "1 500 MAD", "1500"},
		{"no-break space", "1\u00a0500,50 MAD", "1500.50"},
		{"thin spaces", "1\u202f250\u202f000 MAD", "1250000"},
		{"plain", "150 MAD", "150"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := ParseOrder("NOUVELLE COMMANDE\nProduit: Canapé\nQuantité: 1\nPrix: " + tt.price)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !order.Price.Equal(decimal.RequireFromString(tt.want)) || order.Currency != "MAD" {
				t.Errorf("price = %s %s, want %s MAD", order.Price, order.Currency, tt.want)
			}
		})
	}
}

func TestParseOrderSingleLine(t *testing.T) {
	order, err := ParseOrder("NOUVELLE COMMANDE Produit: Tapis Taille: L Quantité: 1 Prix: 99 MAD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Product != "Tapis" || order.Size != "L" || order.Quantity != 1 || order.Currency != "MAD" {
		t.Errorf("unexpected order %+v", order)
	}
	if !order.Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("price = %s, want 99", order.Price)
	}
}

func TestFormatRejectionDefaultReason(t *testing.T) {
	order := ParsedOrder{Product: "Tapis Yoga", Quantity: 2, Size: "M"}

	text := FormatRejection(order, "  ")
	if !strings.Contains(text, DefaultRejectReason) {
		t.Errorf("expected default reason in %q", text)
	}
	if !strings.Contains(text, "Tapis Yoga") {
		t.Errorf("expected product in %q", text)
	}
}

func TestFormatAcceptanceOmitsMissingSize(t *testing.T) {
	order := ParsedOrder{Product: "Gourde", Quantity: 1, Size: SizeNotApplicable, Total: decimal.NewFromInt(20), Currency: "MAD"}

	text := FormatAcceptance(order)
	if strings.Contains(text, "Taille") {
		t.Errorf("size line should be omitted: %q", text)
	}
	if !strings.Contains(text, "20 MAD") {
		t.Errorf("expected total in %q", text)
	}
}
