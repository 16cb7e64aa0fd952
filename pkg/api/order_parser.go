package api

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	OrderHeader = "NOUVELLE COMMANDE"
	// SizeNotApplicable is used when the order names no size.
	SizeNotApplicable = "N/A"

	fieldHeader   = "header"
	fieldProduct  = "product"
	fieldPrice    = "price"
	fieldSize     = "size"
	fieldQuantity = "quantity"
	fieldTotal    = "total"
)

var (
	// A field marker is a label followed by a colon, optionally wrapped in the
	// bold asterisks the order template uses: "*Produit:*", "Quantité :".
	markerPattern = regexp.MustCompile(`(?i)\*{0,2}[ \t]*(produit|prix|taille|quantit[ée]|total)[ \t]*\*{0,2}[ \t]*:[ \t]*\*{0,2}`)

	productMarker  = regexp.MustCompile(`(?i)produit[ \t]*\*{0,2}[ \t]*:`)
	quantityMarker = regexp.MustCompile(`(?i)quantit[ée][ \t]*\*{0,2}[ \t]*:`)

	amountPattern   = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*([A-Za-z]{3})?`)
	quantityPattern = regexp.MustCompile(`^[+-]?\d+`)

	// Thousands grouped with a space, a no-break space or a thin space: "1 500".
	digitGroupPattern = regexp.MustCompile(`(\d)[ \x{00A0}\x{2009}\x{202F}]+(\d{3})(\D|$)`)
)

var markerFields = map[string]string{
	"produit":  fieldProduct,
	"prix":     fieldPrice,
	"taille":   fieldSize,
	"quantité": fieldQuantity,
	"quantite": fieldQuantity,
	"total":    fieldTotal,
}

// IsValidOrderMessage reports whether text looks like an order produced by the
// storefront template.
func IsValidOrderMessage(text string) bool {
	if !strings.Contains(text, OrderHeader) {
		return false
	}
	if productMarker.MatchString(text) && quantityMarker.MatchString(text) {
		return true
	}
	return strings.Contains(text, "📦") && strings.Contains(text, "Produit") &&
		strings.Contains(text, "🔢") && strings.Contains(text, "Quantité")
}

// ExtractOrderInfo returns nil when product or quantity cannot be extracted.
func ExtractOrderInfo(text string) *ParsedOrder {
	order, err := ParseOrder(text)
	if err != nil {
		return nil
	}
	return &order
}

// ParseOrder extracts the order fields. Text without the order header or
// markers, a missing product, or a quantity that is missing or not a positive
// integer yields an error and no partial order.
func ParseOrder(text string) (ParsedOrder, error) {
	if !strings.Contains(text, OrderHeader) {
		return ParsedOrder{}, &IncompleteOrderError{Missing: []string{fieldHeader}}
	}
	if !IsValidOrderMessage(text) {
		return ParsedOrder{}, ErrInvalidOrder
	}
	fields := tokenizeOrder(text)

	order := ParsedOrder{
		Product: fields[fieldProduct],
		Size:    fields[fieldSize],
		Price:   decimal.Zero,
		Total:   decimal.Zero,
	}
	if order.Size == "" {
		order.Size = SizeNotApplicable
	}

	var missing []string
	if order.Product == "" {
		missing = append(missing, fieldProduct)
	}
	if q := quantityPattern.FindString(fields[fieldQuantity]); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			order.Quantity = n
		}
	}
	if order.Quantity <= 0 {
		order.Quantity = 0
		missing = append(missing, fieldQuantity)
	}
	if len(missing) > 0 {
		return ParsedOrder{}, &IncompleteOrderError{Missing: missing}
	}

	var totalCurrency string
	order.Price, order.Currency = parseAmount(fields[fieldPrice])
	order.Total, totalCurrency = parseAmount(fields[fieldTotal])
	if order.Currency == "" {
		order.Currency = totalCurrency
	}

	return order, nil
}

// tokenizeOrder splits text on field markers. Each value runs from its marker
// to the next marker or the end of the line; the first occurrence of a field wins.
func tokenizeOrder(text string) map[string]string {
	fields := make(map[string]string)
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)

	for i, m := range matches {
		label := strings.ToLower(text[m[2]:m[3]])
		field, ok := markerFields[label]
		if !ok {
			continue
		}
		if _, seen := fields[field]; seen {
			continue
		}

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		value := text[m[1]:end]
		if nl := strings.IndexByte(value, '\n'); nl >= 0 {
			value = value[:nl]
		}
		fields[field] = cleanValue(value)
	}
	return fields
}

func cleanValue(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '*' || r == '_' ||
			unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r) ||
			r == '\uFE0F' || r == '\u200D'
	})
}

func parseAmount(s string) (decimal.Decimal, string) {
	for {
		collapsed := digitGroupPattern.ReplaceAllString(s, "$1$2$3")
		if collapsed == s {
			break
		}
		s = collapsed
	}
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, ""
	}
	amount, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
	if err != nil {
		return decimal.Zero, ""
	}
	return amount, strings.ToUpper(m[2])
}

// FormatAcceptance renders the confirmation posted after an accepted order.
func FormatAcceptance(order ParsedOrder) string {
	var b strings.Builder
	b.WriteString("✅ *COMMANDE ACCEPTÉE*\n\n")
	fmt.Fprintf(&b, "📦 *Produit:* %s\n", order.Product)
	if order.Size != SizeNotApplicable {
		fmt.Fprintf(&b, "📏 *Taille:* %s\n", order.Size)
	}
	fmt.Fprintf(&b, "🔢 *Quantité:* %d\n", order.Quantity)
	if order.Total.IsPositive() {
		fmt.Fprintf(&b, "💵 *Total:* %s %s\n", order.Total.String(), order.Currency)
	}
	b.WriteString("\nMerci pour votre commande ! Nous la préparons.")
	return b.String()
}

// FormatRejection renders the message posted after a rejected order.
func FormatRejection(order ParsedOrder, reason string) string {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRejectReason
	}
	var b strings.Builder
	b.WriteString("❌ *COMMANDE REFUSÉE*\n\n")
	fmt.Fprintf(&b, "📦 *Produit:* %s\n", order.Product)
	fmt.Fprintf(&b, "🔢 *Quantité:* %d\n", order.Quantity)
	fmt.Fprintf(&b, "\n*Raison:* %s\n", reason)
	b.WriteString("\nN'hésitez pas à nous contacter pour plus d'informations.")
	return b.String()
}

const DefaultRejectReason = "Produit non disponible"
