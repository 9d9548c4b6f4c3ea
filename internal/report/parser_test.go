package report

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	testCases := map[string]string{
		"SKU":                        "sku",
		"  Seller SKU ":              "seller-sku",
		"inv_age_91_to_180_days":     "inv-age-91-to-180-days",
		"Units  Shipped \t T7":       "units-shipped-t7",
		"estimated-ltsf-next-charge": "estimated-ltsf-next-charge",
		"Sell__Through":              "sell-through",
	}
	for in, want := range testCases {
		assert.Equal(t, want, NormalizeHeader(in), "input %q", in)
	}
}

func TestParseFieldRules(t *testing.T) {
	text := strings.Join([]string{
		"Seller_SKU\tProduct Name\tAvailable Quantity\tTotal Reserved Quantity\tInbound Working Quantity\tInbound Shipped Quantity\tInbound Receiving Quantity\tUnits Shipped T7\tSales Shipped Last 7 Days\tSell-Through\tinv-age-0-to-90-days\tinv-age-91-to-180-days\tinv-age-181-to-365-days\testimated-ltsf-next-charge\tprojected-ltsf-11-mo\testimated-storage-cost-next-month",
		"A-1\tWidget\t1,200\t4\t1\t2\t3\t0\t9\t12.5%\t5\t7\t3\t1.50\t0.50\t2.00",
		"",
		"B-2\tGadget\t10\t\t\t\t\t6\t99\t0.4",
	}, "\n")

	res := Parse(text)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 0, res.Dropped)

	a := res.Items["A-1"]
	assert.Equal(t, "Widget", a.Title)
	assert.Equal(t, 1200.0, a.Available)
	assert.Equal(t, 4.0, a.Reserved)
	assert.Equal(t, 6.0, a.Inbound)
	assert.Equal(t, 9.0, a.Sales7d, "zero t7 falls back to the secondary column")
	assert.InDelta(t, 0.125, a.SellThroughRate, 1e-9)
	assert.Equal(t, 10.0, a.Age90PlusUnits)
	assert.InDelta(t, 2.0, a.EstimatedLongTermStorageFee, 1e-9)
	assert.InDelta(t, 2.0, a.EstimatedMonthlyStorageCost, 1e-9)

	b := res.Items["B-2"]
	assert.Equal(t, 6.0, b.Sales7d)
	assert.Equal(t, 0.0, b.Reserved, "missing trailing columns default to empty")
	assert.InDelta(t, 0.4, b.SellThroughRate, 1e-9)

	assert.InDelta(t, 4.0, res.AgingRiskTotal, 1e-9)
}

func TestParseSKUFallbackAndDrop(t *testing.T) {
	text := "seller-sku-sku\tsku\tavailable\n" +
		"X-9\t\t3\n" +
		"\t\t4\n" +
		"Y-1\tY-primary\t5\n"

	res := Parse(text)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Dropped)
	require.Contains(t, res.Items, "X-9")
	require.Contains(t, res.Items, "Y-primary")
	assert.Equal(t, 5.0, res.Items["Y-primary"].Available)
}

func TestParseDuplicateSKULastWins(t *testing.T) {
	text := "sku\tavailable\r\nA\t1\r\nA\t2\r\n"

	res := Parse(text)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 2.0, res.Items["A"].Available)
}

func TestParseEmpty(t *testing.T) {
	res := Parse("")
	assert.Empty(t, res.Items)
	assert.Zero(t, res.AgingRiskTotal)

	res = Parse("sku\tavailable\n")
	assert.Empty(t, res.Items)
}

func TestDecodeDocumentGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := fmt.Fprint(zw, "sku\tavailable\nA\t1\n")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	text, err := DecodeDocument(buf.Bytes(), "gzip")
	require.NoError(t, err)
	assert.Equal(t, "sku\tavailable\nA\t1\n", text)
}

func TestDecodeDocumentPlainAndLegacyCharset(t *testing.T) {
	text, err := DecodeDocument([]byte("sku\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "sku\n", text)

	// 0xE9 is "é" in Windows-1252 and invalid on its own in UTF-8.
	text, err = DecodeDocument([]byte{'c', 'a', 'f', 0xE9}, "")
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestDecodeDocumentBadGzip(t *testing.T) {
	_, err := DecodeDocument([]byte("not gzip"), "GZIP")
	assert.Error(t, err)
}
